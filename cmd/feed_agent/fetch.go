package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var fetchOut string

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download the feed into the local cache file",
	Long: `Download the feed from the override URL or the listing page and write it to
the cache path, so later runs can fall back to it when the remote is unreachable.`,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringVar(&fetchOut, "out", "", "Cache file to write (default from config)")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, _ []string) error {
	cfg := *appConfig
	if fetchOut != "" {
		cfg.Feed.CachePath = fetchOut
	}
	if cfg.Feed.CachePath == "" {
		return fmt.Errorf("no cache path configured, use --out")
	}

	path, n, err := newFetcher(&cfg).SaveCache(cmd.Context())
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Saved %d bytes to %s\n", n, path)
	return nil
}
