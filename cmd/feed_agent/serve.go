package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/feed-validator/internal/config"
	"github.com/jonathan/feed-validator/internal/server"
	"github.com/jonathan/feed-validator/internal/server/ratelimit"
)

var (
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long:  `Start an HTTP server that exposes endpoints for triggering ingestion and browsing validated products.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (default from config, 8080)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, appConfig, nil)
	if err != nil {
		return err
	}
	defer a.cleanup()

	port := appConfig.Server.Port
	if servePort != 0 {
		port = servePort
	}
	rl := rateLimitConfig(appConfig.Server.RateLimit)
	srv := server.New(server.Config{Port: port, RateLimit: &rl}, a.orchestrator, a.store)
	return srv.Start(ctx)
}

func rateLimitConfig(c config.RateLimitConfig) ratelimit.Config {
	cfg := ratelimit.DefaultConfig()
	cfg.Enabled = c.Enabled
	cfg.Trigger = ratelimit.Rule{
		Every: time.Duration(c.IngestEverySeconds) * time.Second,
		Burst: c.IngestBurst,
	}
	cfg.Read = ratelimit.Rule{Burst: c.ReadBurst}
	if c.ReadPerSecond > 0 {
		cfg.Read.Every = time.Duration(float64(time.Second) / c.ReadPerSecond)
	}
	cfg.ExemptClients = c.ExemptIPs
	return cfg
}
