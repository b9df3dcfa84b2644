package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/feed-validator/internal/db"
	"github.com/jonathan/feed-validator/internal/observability"
)

var (
	ingestQuiet  bool
	ingestIssues int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run one ingestion and print the summary",
	Long: `Fetch the feed, validate every record and replace the stored products, then
print the run summary. Exits non-zero when the run fails.`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestQuiet, "quiet", false, "Do not print progress")
	ingestCmd.Flags().IntVar(&ingestIssues, "issues", 10, "Number of flagged products to list (0 to skip)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	printer := observability.NewPrinter(cmd.OutOrStdout())

	onProgress := printer.ProgressPrinter()
	if ingestQuiet {
		onProgress = nil
	}
	a, err := newApp(ctx, appConfig, onProgress)
	if err != nil {
		return err
	}
	defer a.cleanup()

	summary, err := a.orchestrator.Run(ctx)
	if summary != nil {
		printer.PrintRunSummary(summary)
	}
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	totals, err := a.store.ProductSummary(ctx)
	if err != nil {
		return fmt.Errorf("failed to load product summary: %w", err)
	}
	printer.PrintProductSummary(totals)

	if ingestIssues > 0 && totals.NumberFlaggedWithIssues > 0 {
		size := min(ingestIssues, db.MaxPageSize)
		page, err := a.store.ListProducts(ctx, db.ProductFilter{HasIssues: true, Page: 1, Size: size})
		if err != nil {
			return fmt.Errorf("failed to list flagged products: %w", err)
		}
		printer.PrintIssues(page.Items)
	}
	return nil
}
