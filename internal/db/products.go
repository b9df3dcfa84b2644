package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// productColumns are the columns written by ReplaceProducts, in CopyFrom order.
var productColumns = []string{
	"artnr", "category", "name", "manufacturer", "model", "ean",
	"stock", "price", "campaign", "shipping", "url", "image_url", "description_html",
	"missing_price", "missing_identifier", "broken_image",
	"ean_status", "price_status", "image_status", "title_status", "title_suggestion",
	"validation_result", "improved_title", "ai_prompt", "raw",
}

const selectProductColumns = `id, artnr, category, name, manufacturer, model, ean,
	stock, price, campaign, shipping, url, image_url, description_html,
	missing_price, missing_identifier, broken_image,
	ean_status, price_status, image_status, title_status, title_suggestion,
	validation_result, improved_title, ai_prompt, raw, created_at, updated_at`

// ProductValues returns p's values in productColumns order.
func ProductValues(p Product) []any {
	return []any{
		p.ArticleID, p.Category, p.Name, p.Manufacturer, p.Model, p.EAN,
		p.Stock, p.Price, p.Campaign, p.Shipping, p.URL, p.ImageURL, p.DescriptionHTML,
		p.MissingPrice, p.MissingIdentifier, p.BrokenImage,
		p.EANStatus, p.PriceStatus, p.ImageStatus, p.TitleStatus, p.TitleSuggestion,
		p.ValidationResult, p.ImprovedTitle, p.AIPrompt, p.Raw,
	}
}

// ProductColumns returns the insert column list.
func ProductColumns() []string {
	return append([]string(nil), productColumns...)
}

// ReplaceProducts swaps the whole products table for products inside one
// transaction. On any error the previous rows stay in place.
func (db *DB) ReplaceProducts(ctx context.Context, products []Product) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rErr := tx.Rollback(ctx); rErr != nil && !errors.Is(rErr, pgx.ErrTxClosed) {
			zap.L().Warn("products rollback failed", zap.Error(rErr))
		}
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM products`); err != nil {
		return fmt.Errorf("failed to clear products: %w", err)
	}

	if len(products) > 0 {
		n, err := tx.CopyFrom(ctx,
			pgx.Identifier{"products"},
			productColumns,
			pgx.CopyFromSlice(len(products), func(i int) ([]any, error) {
				return ProductValues(products[i]), nil
			}),
		)
		if err != nil {
			return fmt.Errorf("failed to insert products: %w", err)
		}
		if int(n) != len(products) {
			return fmt.Errorf("inserted %d of %d products", n, len(products))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit products: %w", err)
	}
	return nil
}

// ListProducts returns one page of products ordered by id.
func (db *DB) ListProducts(ctx context.Context, filter ProductFilter) (*ProductPage, error) {
	filter = filter.Normalize()

	where := ""
	args := []any{}
	if filter.HasIssues {
		where = ` WHERE validation_result = $1`
		args = append(args, ResultIssue)
	}

	var total int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count products: %w", err)
	}

	args = append(args, filter.Size, filter.Offset())
	query := fmt.Sprintf(`SELECT %s FROM products%s ORDER BY id LIMIT $%d OFFSET $%d`,
		selectProductColumns, where, len(args)-1, len(args))

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	page := &ProductPage{Page: filter.Page, Size: filter.Size, Total: total, Items: []Product{}}
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
func (db *DB) ProductSummary(ctx context.Context) (*ProductSummary, error) {
	var s ProductSummary
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE validation_result = $1) FROM products`,
		ResultIssue,
	).Scan(&s.NumberOfProducts, &s.NumberFlaggedWithIssues)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize products: %w", err)
	}

	var example string
	err = db.pool.QueryRow(ctx,
		`SELECT improved_title FROM products
		 WHERE improved_title IS NOT NULL AND improved_title <> ''
		 ORDER BY id LIMIT 1`,
	).Scan(&example)
	switch {
	case err == nil:
		s.ExampleImprovedTitle = &example
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return nil, fmt.Errorf("failed to read example title: %w", err)
	}
	return &s, nil
}

func scanProduct(row pgx.Row) (*Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.ArticleID, &p.Category, &p.Name, &p.Manufacturer, &p.Model, &p.EAN,
		&p.Stock, &p.Price, &p.Campaign, &p.Shipping, &p.URL, &p.ImageURL, &p.DescriptionHTML,
		&p.MissingPrice, &p.MissingIdentifier, &p.BrokenImage,
		&p.EANStatus, &p.PriceStatus, &p.ImageStatus, &p.TitleStatus, &p.TitleSuggestion,
		&p.ValidationResult, &p.ImprovedTitle, &p.AIPrompt, &p.Raw, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
