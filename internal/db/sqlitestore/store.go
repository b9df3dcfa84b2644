// Package sqlitestore implements db.Store on an embedded SQLite database.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/jonathan/feed-validator/internal/db"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Store is a SQLite-backed db.Store.
type Store struct {
	db *sql.DB
}

var _ db.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path != MemoryPath {
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if path == MemoryPath {
		// Every connection to :memory: is a separate database.
		conn.SetMaxOpenConns(1)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s := &Store{db: conn}
	if _, _, err := s.Migrate(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies pending migrations and returns the schema version.
func (s *Store) Migrate() (uint, bool, error) {
	src, err := db.MigrationSource(db.DialectSQLite)
	if err != nil {
		return 0, false, err
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return 0, false, fmt.Errorf("failed to create sqlite migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return 0, false, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// m.Close would close s.db through the driver.
	return db.Up(m)
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("failed to close sqlite database", zap.Error(err))
	}
}

// ReplaceProducts swaps the whole products table for products inside one transaction.
func (s *Store) ReplaceProducts(ctx context.Context, products []db.Product) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rErr := tx.Rollback(); rErr != nil && !errors.Is(rErr, sql.ErrTxDone) {
			zap.L().Warn("products rollback failed", zap.Error(rErr))
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM products`); err != nil {
		return fmt.Errorf("failed to clear products: %w", err)
	}

	cols := db.ProductColumns()
	query, _, err := sq.Insert("products").
		Columns(cols...).
		Values(make([]any, len(cols))...).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, p := range products {
		args, err := productArgs(p)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert product %d (%s): %w", i, p.ArticleID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit products: %w", err)
	}
	return nil
}

// productArgs adapts db.ProductValues to SQLite column types.
func productArgs(p db.Product) ([]any, error) {
	args := db.ProductValues(p)
	raw, err := json.Marshal(p.Raw)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal raw row: %w", err)
	}
	args[len(args)-1] = string(raw)
	return args, nil
}

var productSelectColumns = append([]string{"id"}, append(db.ProductColumns(), "created_at", "updated_at")...)

// ListProducts returns one page of products ordered by id.
func (s *Store) ListProducts(ctx context.Context, filter db.ProductFilter) (*db.ProductPage, error) {
	filter = filter.Normalize()

	count := sq.Select("COUNT(*)").From("products")
	list := sq.Select(productSelectColumns...).From("products").
		OrderBy("id").
		Limit(uint64(filter.Size)).
		Offset(uint64(filter.Offset()))
	if filter.HasIssues {
		count = count.Where(sq.Eq{"validation_result": db.ResultIssue})
		list = list.Where(sq.Eq{"validation_result": db.ResultIssue})
	}

	page := &db.ProductPage{Page: filter.Page, Size: filter.Size, Items: []db.Product{}}

	query, args, err := count.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("failed to count products: %w", err)
	}

	query, args, err = list.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build list: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		page.Items = append(page.Items, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating products: %w", err)
	}
	return page, nil
}

// ProductSummary counts products and flagged products and picks the first
// non-empty improved title.
func (s *Store) ProductSummary(ctx context.Context) (*db.ProductSummary, error) {
	var summary db.ProductSummary

	query, args, err := sq.Select("COUNT(*)").
		Column(sq.Expr("COALESCE(SUM(CASE WHEN validation_result = ? THEN 1 ELSE 0 END), 0)", db.ResultIssue)).
		From("products").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build summary: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, query, args...).
		Scan(&summary.NumberOfProducts, &summary.NumberFlaggedWithIssues); err != nil {
		return nil, fmt.Errorf("failed to summarize products: %w", err)
	}

	query, args, err = sq.Select("improved_title").From("products").
		Where(sq.And{sq.NotEq{"improved_title": nil}, sq.NotEq{"improved_title": ""}}).
		OrderBy("id").Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build example query: %w", err)
	}
	var example string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&example)
	switch {
	case err == nil:
		summary.ExampleImprovedTitle = &example
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, fmt.Errorf("failed to read example title: %w", err)
	}
	return &summary, nil
}

func scanProduct(rows *sql.Rows) (*db.Product, error) {
	var p db.Product
	var raw sql.NullString
	err := rows.Scan(&p.ID, &p.ArticleID, &p.Category, &p.Name, &p.Manufacturer, &p.Model, &p.EAN,
		&p.Stock, &p.Price, &p.Campaign, &p.Shipping, &p.URL, &p.ImageURL, &p.DescriptionHTML,
		&p.MissingPrice, &p.MissingIdentifier, &p.BrokenImage,
		&p.EANStatus, &p.PriceStatus, &p.ImageStatus, &p.TitleStatus, &p.TitleSuggestion,
		&p.ValidationResult, &p.ImprovedTitle, &p.AIPrompt, &raw, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if raw.Valid && raw.String != "" && raw.String != "null" {
		if err := json.Unmarshal([]byte(raw.String), &p.Raw); err != nil {
			return nil, fmt.Errorf("failed to decode raw row: %w", err)
		}
	}
	return &p, nil
}

// CreateRun records the start of an ingest run.
func (s *Store) CreateRun(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	query, args, err := sq.Insert("ingest_runs").
		Columns("id", "status", "started_at").
		Values(id.String(), db.RunStatusRunning, startedAt.UTC()).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build run insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// CompleteRun stores the outcome of an ingest run.
func (s *Store) CompleteRun(ctx context.Context, id uuid.UUID, result db.RunResult) error {
	update := sq.Update("ingest_runs").
		Set("status", result.Status).
		Set("finished_at", result.FinishedAt.UTC()).
		Set("total", result.Total).
		Set("ingested", result.Ingested).
		Set("flagged", result.Flagged).
		Where(sq.Eq{"id": id.String()})
	if result.Error != "" {
		update = update.Set("error_message", result.Error)
	}
	if len(result.Summary) > 0 {
		update = update.Set("summary", string(result.Summary))
	}

	query, args, err := update.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build run update: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to complete run: run %s not found", id)
	}
	return nil
}

var runSelectColumns = []string{"id", "status", "started_at", "finished_at", "total", "ingested", "flagged", "error_message", "summary"}

// GetRun retrieves a run by ID. It returns nil, nil when the run does not exist.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*db.Run, error) {
	query, args, err := sq.Select(runSelectColumns...).From("ingest_runs").
		Where(sq.Eq{"id": id.String()}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build run query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanRun(rows)
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]db.Run, error) {
	if limit <= 0 {
		limit = db.DefaultRunLimit
	}
	query, args, err := sq.Select(runSelectColumns...).From("ingest_runs").
		OrderBy("started_at DESC").Limit(uint64(limit)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build runs query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	runs := []db.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

func scanRun(rows *sql.Rows) (*db.Run, error) {
	var r db.Run
	var id string
	var finished sql.NullTime
	var errMsg, summary sql.NullString
	if err := rows.Scan(&id, &r.Status, &r.StartedAt, &finished, &r.Total, &r.Ingested, &r.Flagged, &errMsg, &summary); err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return nil, fmt.Errorf("invalid run id %q: %w", id, err)
	}
	r.ID = parsed
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	if errMsg.Valid {
		r.ErrorMessage = &errMsg.String
	}
	if summary.Valid && summary.String != "" {
		r.Summary = json.RawMessage(summary.String)
	}
	return &r, nil
}
