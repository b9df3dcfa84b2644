// Package pipeline runs feed ingestion: fetch, parse, validate every record on
// a bounded worker pool, then swap the persisted dataset.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/feed-validator/internal/db"
	"github.com/jonathan/feed-validator/internal/feed"
	"github.com/jonathan/feed-validator/internal/validation"
)

// DefaultWorkers bounds concurrent record validations.
const DefaultWorkers = 16

// ErrAlreadyRunning is returned when a run is requested while one is active.
var ErrAlreadyRunning = errors.New("already running")

// FeedSource yields the raw feed bytes.
type FeedSource interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// Validator checks one record. It never fails; problems become statuses.
type Validator interface {
	Validate(ctx context.Context, rec feed.Record) validation.Outcome
}

// Store replaces the persisted dataset in a single transaction.
type Store interface {
	ReplaceProducts(ctx context.Context, products []db.Product) error
}

// RunRecorder is implemented by stores that keep a history of runs.
type RunRecorder interface {
	CreateRun(ctx context.Context, id uuid.UUID, startedAt time.Time) error
	CompleteRun(ctx context.Context, id uuid.UUID, result db.RunResult) error
}

// Options configures an Orchestrator.
type Options struct {
	Workers int
	// Charset is the feed's source encoding; empty means UTF-8.
	Charset    string
	OnProgress ProgressCallback
}

// Orchestrator owns the RunState and enforces single-flight runs.
type Orchestrator struct {
	source    FeedSource
	validator Validator
	store     Store
	opts      Options

	state RunState
	hub   *hub
	now   func() time.Time
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(source FeedSource, validator Validator, store Store, opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	return &Orchestrator{
		source:    source,
		validator: validator,
		store:     store,
		opts:      opts,
		hub:       newHub(),
		now:       time.Now,
	}
}

// Snapshot returns a copy of the current run state.
func (o *Orchestrator) Snapshot() Snapshot {
	return o.state.Snapshot()
}

// LastSummary returns the most recent run summary, or nil before the first run ends.
func (o *Orchestrator) LastSummary() *Summary {
	return o.state.LastSummary()
}

// Subscribe streams progress events until cancel is called.
func (o *Orchestrator) Subscribe() (<-chan ProgressEvent, func()) {
	return o.hub.subscribe()
}

// Start launches a run in the background and returns its id. The run does not
// inherit ctx's cancellation.
func (o *Orchestrator) Start(ctx context.Context) (string, error) {
	id, started, err := o.begin()
	if err != nil {
		return "", err
	}
	go func() {
		_, _ = o.execute(context.WithoutCancel(ctx), id, started)
	}()
	return id.String(), nil
}

// Run performs one run synchronously.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	id, started, err := o.begin()
	if err != nil {
		return nil, err
	}
	return o.execute(ctx, id, started)
}

func (o *Orchestrator) begin() (uuid.UUID, time.Time, error) {
	id := uuid.New()
	started := o.now().UTC()
	if !o.state.tryBegin(id.String(), started) {
		return uuid.Nil, time.Time{}, ErrAlreadyRunning
	}
	return id, started, nil
}

func (o *Orchestrator) execute(ctx context.Context, id uuid.UUID, started time.Time) (*Summary, error) {
	runID := id.String()
	log := zap.L().With(zap.String("run_id", runID))
	log.Info("ingestion started")
	o.emit(ProgressEvent{Type: EventStarted, RunID: runID})
	o.recordStart(ctx, id, started)

	records, err := o.load(ctx)
	if err != nil {
		return o.fail(ctx, id, started, 0, err)
	}
	o.state.setTotal(len(records))
	log.Info("feed loaded", zap.Int("records", len(records)))
	o.emit(ProgressEvent{Type: EventLoaded, RunID: runID, Total: len(records)})

	outcomes, err := o.validateAll(ctx, runID, records)
	if err != nil {
		return o.fail(ctx, id, started, len(records), fmt.Errorf("validation interrupted: %w", err))
	}

	products := make([]db.Product, len(records))
	for i := range records {
		products[i] = ToProduct(records[i], outcomes[i])
	}
	if err := o.store.ReplaceProducts(ctx, products); err != nil {
		return o.fail(ctx, id, started, len(records), fmt.Errorf("failed to store products: %w", err))
	}

	summary := Summarize(products)
	summary.RunID = runID
	summary.StartedAt = started
	finished := o.now().UTC()
	summary.FinishedAt = &finished

	o.state.finish(summary.clone(), finished)
	log.Info("ingestion done",
		zap.Int("ingested", summary.Ingested),
		zap.Int("flagged_issues", summary.FlaggedIssues),
		zap.Duration("elapsed", finished.Sub(started)))
	o.emit(ProgressEvent{
		Type:      EventCompleted,
		RunID:     runID,
		Total:     len(records),
		Completed: len(records),
		Summary:   summary.clone(),
	})
	o.recordComplete(ctx, id, db.RunStatusSucceeded, len(records), summary)
	return summary, nil
}

func (o *Orchestrator) load(ctx context.Context) ([]feed.Record, error) {
	data, err := o.source.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := feed.ParseWithOptions(data, feed.Options{Charset: o.opts.Charset})
	if err != nil {
		return nil, err
	}
	return feed.NormalizeAll(rows), nil
}

// validateAll feeds record indexes to a fixed pool of workers. Outcomes keep
// feed order regardless of completion order.
func (o *Orchestrator) validateAll(ctx context.Context, runID string, records []feed.Record) ([]validation.Outcome, error) {
	outcomes := make([]validation.Outcome, len(records))
	if len(records) == 0 {
		return outcomes, nil
	}

	workers := o.opts.Workers
	if workers > len(records) {
		workers = len(records)
	}

	jobs := make(chan int)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for i := range records {
			select {
			case jobs <- i:
			case <-gCtx.Done():
				return gCtx.Err()
			}
		}
		return nil
	})

	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := range jobs {
				outcomes[i] = o.validator.Validate(gCtx, records[i])
				done := o.state.complete()
				zap.L().Debug("record validated",
					zap.String("run_id", runID),
					zap.String("artnr", records[i].ArticleID),
					zap.String("overall", string(outcomes[i].Overall())))
				o.emit(ProgressEvent{Type: EventProgress, RunID: runID, Total: len(records), Completed: done})
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (o *Orchestrator) fail(ctx context.Context, id uuid.UUID, started time.Time, total int, cause error) (*Summary, error) {
	finished := o.now().UTC()
	summary := &Summary{
		RunID:      id.String(),
		StartedAt:  started,
		FinishedAt: &finished,
		Error:      cause.Error(),
	}
	o.state.finish(summary.clone(), finished)
	zap.L().Error("ingestion failed", zap.String("run_id", id.String()), zap.Error(cause))
	o.emit(ProgressEvent{
		Type:      EventFailed,
		RunID:     id.String(),
		Total:     total,
		Completed: int(o.state.completed.Load()),
		Message:   cause.Error(),
		Summary:   summary.clone(),
	})
	o.recordComplete(ctx, id, db.RunStatusFailed, total, summary)
	return summary, cause
}

func (o *Orchestrator) emit(ev ProgressEvent) {
	if o.opts.OnProgress != nil {
		o.opts.OnProgress(ev)
	}
	o.hub.publish(ev)
}

func (o *Orchestrator) recordStart(ctx context.Context, id uuid.UUID, started time.Time) {
	rec, ok := o.store.(RunRecorder)
	if !ok {
		return
	}
	if err := rec.CreateRun(ctx, id, started); err != nil {
		zap.L().Warn("failed to record run start", zap.String("run_id", id.String()), zap.Error(err))
	}
}

func (o *Orchestrator) recordComplete(ctx context.Context, id uuid.UUID, status string, total int, summary *Summary) {
	rec, ok := o.store.(RunRecorder)
	if !ok {
		return
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		zap.L().Warn("failed to encode run summary", zap.Error(err))
		payload = nil
	}
	result := db.RunResult{
		Status:     status,
		FinishedAt: *summary.FinishedAt,
		Total:      total,
		Ingested:   summary.Ingested,
		Flagged:    summary.FlaggedIssues,
		Error:      summary.Error,
		Summary:    payload,
	}
	// The run's own context may already be done; the record is still written.
	if err := rec.CompleteRun(context.WithoutCancel(ctx), id, result); err != nil {
		zap.L().Warn("failed to record run completion", zap.String("run_id", id.String()), zap.Error(err))
	}
}

// ToProduct builds the persisted row for a validated record.
func ToProduct(rec feed.Record, out validation.Outcome) db.Product {
	result := db.ResultOK
	if out.HasIssues() {
		result = db.ResultIssue
	}
	return db.Product{
		ArticleID:         rec.ArticleID,
		Category:          rec.Category,
		Name:              rec.Name,
		Manufacturer:      rec.Manufacturer,
		Model:             rec.Model,
		EAN:               rec.EAN,
		Stock:             rec.Stock,
		Price:             rec.Price,
		Campaign:          rec.IsCampaign,
		Shipping:          rec.Shipping,
		URL:               rec.URL,
		ImageURL:          rec.ImageURL,
		DescriptionHTML:   rec.DescriptionHTML,
		MissingPrice:      out.Price != validation.PriceOK,
		MissingIdentifier: out.Identifier != validation.IdentifierOK,
		BrokenImage:       out.Image != validation.ImageOK,
		EANStatus:         string(out.Identifier),
		PriceStatus:       string(out.Price),
		ImageStatus:       string(out.Image),
		TitleStatus:       string(out.Title),
		TitleSuggestion:   out.TitleSuggestion,
		ValidationResult:  result,
		ImprovedTitle:     out.ImprovedTitle,
		AIPrompt:          out.AIPrompt,
		Raw:               map[string]string(rec.Raw),
	}
}

// Summarize aggregates persisted rows: the ingested count, the number flagged
// with issues and the first non-empty improved title with its prompt.
func Summarize(products []db.Product) *Summary {
	s := &Summary{Ingested: len(products)}
	for i := range products {
		p := &products[i]
		if p.ValidationResult == db.ResultIssue {
			s.FlaggedIssues++
		}
		if s.ExampleImprovedTitle == nil && p.ImprovedTitle != nil && *p.ImprovedTitle != "" {
			title := *p.ImprovedTitle
			prompt := p.AIPrompt
			s.ExampleImprovedTitle = &title
			s.ExamplePrompt = &prompt
		}
	}
	return s
}
