// Package observability provides formatted output utilities for the CLI.
package observability

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jonathan/feed-validator/internal/db"
	"github.com/jonathan/feed-validator/internal/pipeline"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted CLI output
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		if r := []rune(line); len(r) > boxWidth-4 {
			line = string(r[:boxWidth-7]) + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintRunSummary outputs the result of one ingestion run.
func (p *Printer) PrintRunSummary(s *pipeline.Summary) {
	if s == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Run:       %s\n", s.RunID))
	if s.FinishedAt != nil {
		sb.WriteString(fmt.Sprintf("Duration:  %s\n", s.FinishedAt.Sub(s.StartedAt).Round(10*time.Millisecond)))
	}
	if s.Failed() {
		sb.WriteString(fmt.Sprintf("Status:    FAILED\nError:     %s", s.Error))
		p.printBox("INGESTION FAILED", sb.String())
		return
	}

	sb.WriteString(fmt.Sprintf("Ingested:  %d\n", s.Ingested))
	sb.WriteString(fmt.Sprintf("Flagged:   %d\n", s.FlaggedIssues))
	if s.ExampleImprovedTitle != nil {
		sb.WriteString(fmt.Sprintf("Example:   %s\n", *s.ExampleImprovedTitle))
	}
	p.printBox("INGESTION SUMMARY", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintProductSummary outputs the persisted dataset totals.
func (p *Printer) PrintProductSummary(s *db.ProductSummary) {
	if s == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Products:  %d\n", s.NumberOfProducts))
	sb.WriteString(fmt.Sprintf("Flagged:   %d", s.NumberFlaggedWithIssues))
	if s.NumberOfProducts > 0 {
		pct := float64(s.NumberFlaggedWithIssues) / float64(s.NumberOfProducts) * 100
		sb.WriteString(fmt.Sprintf(" (%.1f%%)", pct))
	}
	if s.ExampleImprovedTitle != nil {
		sb.WriteString(fmt.Sprintf("\nExample:   %s", *s.ExampleImprovedTitle))
	}
	p.printBox("DATASET", sb.String())
}

// PrintIssues lists the first flagged products with the dimensions that failed.
func (p *Printer) PrintIssues(products []db.Product) {
	var flagged []db.Product
	for _, prod := range products {
		if prod.ValidationResult == db.ResultIssue {
			flagged = append(flagged, prod)
		}
	}
	if len(flagged) == 0 {
		return
	}

	var sb strings.Builder
	count := min(len(flagged), maxItemsToShow)
	for i := 0; i < count; i++ {
		prod := flagged[i]
		sb.WriteString(fmt.Sprintf("• %s %s\n", prod.ArticleID, prod.Name))
		sb.WriteString(fmt.Sprintf("    %s\n", strings.Join(failedDimensions(prod), ", ")))
	}
	if len(flagged) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("... and %d more\n", len(flagged)-maxItemsToShow))
	}
	p.printBox("FLAGGED PRODUCTS", strings.TrimSuffix(sb.String(), "\n"))
}

func failedDimensions(prod db.Product) []string {
	var out []string
	if prod.PriceStatus != "ok" {
		out = append(out, "price "+prod.PriceStatus)
	}
	if prod.EANStatus != "ok" {
		out = append(out, "ean "+prod.EANStatus)
	}
	if prod.ImageStatus != "ok" {
		out = append(out, "image "+prod.ImageStatus)
	}
	if prod.TitleStatus != "ok" {
		out = append(out, "title "+prod.TitleStatus)
	}
	return out
}

// ProgressPrinter returns a callback that redraws a single progress line.
// Workers call it concurrently.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) ProgressPrinter() pipeline.ProgressCallback {
	var mu sync.Mutex
	return func(ev pipeline.ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		switch ev.Type {
		case pipeline.EventLoaded:
			fmt.Fprintf(p.out, "Validating %d records...\n", ev.Total)
		case pipeline.EventProgress:
			fmt.Fprintf(p.out, "\r  %d/%d", ev.Completed, ev.Total)
		case pipeline.EventCompleted, pipeline.EventFailed:
			if ev.Completed > 0 {
				fmt.Fprintln(p.out)
			}
		}
	}
}
