package db

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence contract shared by the PostgreSQL and SQLite backends.
type Store interface {
	// ReplaceProducts deletes every product and inserts products in one transaction.
	ReplaceProducts(ctx context.Context, products []Product) error
	ListProducts(ctx context.Context, filter ProductFilter) (*ProductPage, error)
	ProductSummary(ctx context.Context) (*ProductSummary, error)

	CreateRun(ctx context.Context, id uuid.UUID, startedAt time.Time) error
	CompleteRun(ctx context.Context, id uuid.UUID, result RunResult) error
	GetRun(ctx context.Context, id uuid.UUID) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	Ping(ctx context.Context) error
	Close()
}

var _ Store = (*DB)(nil)
