// Package main provides the entry point for the product feed agent: the HTTP
// API server plus one-shot ingestion and maintenance commands.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/feed-validator/internal/config"
	"github.com/jonathan/feed-validator/internal/logging"
)

var (
	configPath string
	appConfig  *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "feed_agent",
	Short: "Product feed ingestion and validation service",
	Long: "feed_agent downloads the retailer's semicolon-separated product feed, checks every " +
		"record's price, EAN, image and title, and replaces the stored product set with the results.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if _, err := logging.New(cfg.Env, cfg.LogLevel); err != nil {
			return err
		}
		appConfig = cfg
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a JSON or YAML config file")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	err := rootCmd.Execute()
	_ = zap.L().Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
