package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Validation result values stored on products.
const (
	ResultOK    = "OK"
	ResultIssue = "ISSUE"
)

// Run statuses stored on ingest_runs.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// Page size bounds for ListProducts.
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Product is one persisted, validated feed record.
type Product struct {
	ID              int64    `json:"id"`
	ArticleID       string   `json:"artnr"`
	Category        string   `json:"category"`
	Name            string   `json:"name"`
	Manufacturer    string   `json:"manufacturer"`
	Model           string   `json:"model"`
	EAN             string   `json:"ean"`
	Stock           *int     `json:"stock"`
	Price           *float64 `json:"price"`
	Campaign        *int     `json:"campaign"`
	Shipping        *float64 `json:"shipping"`
	URL             string   `json:"url"`
	ImageURL        string   `json:"image_url"`
	DescriptionHTML string   `json:"description_html"`

	MissingPrice      bool `json:"missing_price"`
	MissingIdentifier bool `json:"missing_identifier"`
	BrokenImage       bool `json:"broken_image"`

	EANStatus        string  `json:"ean_status"`
	PriceStatus      string  `json:"price_status"`
	ImageStatus      string  `json:"image_status"`
	TitleStatus      string  `json:"title_status"`
	TitleSuggestion  *string `json:"title_suggestion"`
	ValidationResult string  `json:"validation_result"`
	ImprovedTitle    *string `json:"improved_title"`
	AIPrompt         string  `json:"ai_prompt"`

	Raw map[string]string `json:"raw"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProductFilter selects a page of products.
type ProductFilter struct {
	// HasIssues restricts the listing to products whose validation result is ISSUE.
	HasIssues bool
	Page      int
	Size      int
}

// Normalize clamps the page to >= 1 and the size to 1..MaxPageSize.
func (f ProductFilter) Normalize() ProductFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Size < 1 {
		f.Size = DefaultPageSize
	}
	if f.Size > MaxPageSize {
		f.Size = MaxPageSize
	}
	return f
}

// Offset returns the row offset of the page.
func (f ProductFilter) Offset() int {
	return (f.Page - 1) * f.Size
}

// ProductPage is one page of a product listing.
type ProductPage struct {
	Page  int       `json:"page"`
	Size  int       `json:"size"`
	Total int       `json:"total"`
	Items []Product `json:"items"`
}

// ProductSummary describes the persisted dataset.
type ProductSummary struct {
	NumberOfProducts        int     `json:"number_of_products"`
	NumberFlaggedWithIssues int     `json:"number_flagged_with_issues"`
	ExampleImprovedTitle    *string `json:"example_improved_title"`
}

// Run is one recorded ingestion run.
type Run struct {
	ID           uuid.UUID       `json:"id"`
	Status       string          `json:"status"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	Total        int             `json:"total"`
	Ingested     int             `json:"ingested"`
	Flagged      int             `json:"flagged"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	Summary      json.RawMessage `json:"summary,omitempty"`
}

// RunResult completes a run record.
type RunResult struct {
	Status     string
	FinishedAt time.Time
	Total      int
	Ingested   int
	Flagged    int
	Error      string
	Summary    json.RawMessage
}
