package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DefaultRunLimit is used by ListRuns when limit is not positive.
const DefaultRunLimit = 20

const selectRunColumns = `id, status, started_at, finished_at, total, ingested, flagged, error_message, summary`

// CreateRun records the start of an ingest run.
func (db *DB) CreateRun(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO ingest_runs (id, status, started_at) VALUES ($1, $2, $3)`,
		id, RunStatusRunning, startedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// CompleteRun stores the outcome of an ingest run.
func (db *DB) CompleteRun(ctx context.Context, id uuid.UUID, result RunResult) error {
	var errMsg *string
	if result.Error != "" {
		errMsg = &result.Error
	}
	var summary []byte
	if len(result.Summary) > 0 {
		summary = result.Summary
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE ingest_runs
		 SET status = $2, finished_at = $3, total = $4, ingested = $5, flagged = $6,
		     error_message = $7, summary = $8
		 WHERE id = $1`,
		id, result.Status, result.FinishedAt, result.Total, result.Ingested, result.Flagged, errMsg, summary,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to complete run: run %s not found", id)
	}
	return nil
}

// GetRun retrieves a run by ID. It returns nil, nil when the run does not exist.
func (db *DB) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	run, err := scanRun(db.pool.QueryRow(ctx,
		`SELECT `+selectRunColumns+` FROM ingest_runs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultRunLimit
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+selectRunColumns+` FROM ingest_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (*Run, error) {
	var r Run
	var summary []byte
	if err := row.Scan(&r.ID, &r.Status, &r.StartedAt, &r.FinishedAt, &r.Total, &r.Ingested,
		&r.Flagged, &r.ErrorMessage, &summary); err != nil {
		return nil, err
	}
	if len(summary) > 0 {
		r.Summary = summary
	}
	return &r, nil
}
