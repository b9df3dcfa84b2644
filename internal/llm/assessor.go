package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jonathan/feed-validator/internal/feed"
	"github.com/jonathan/feed-validator/internal/fetch"
	"github.com/jonathan/feed-validator/internal/schemas"
	"go.uber.org/zap"
)

// SystemPrompt is sent with every title assessment.
const SystemPrompt = "You are a precise product title editor. Respond ONLY with valid JSON."

// Name quality values returned by the assessment service.
const (
	QualityOK           = "ok"
	QualityWeak         = "weak"
	QualityEmpty        = "empty"
	QualityCantGenerate = "cant_generate"
)

// Excerpt defaults.
const (
	DefaultExcerptTimeout  = fetch.ExcerptTimeout
	DefaultExcerptMaxChars = 2000
)

// Assessment is the decoded service verdict for one title.
type Assessment struct {
	Quality        string  `json:"name_quality"`
	SuggestedTitle *string `json:"suggested_title"`
}

// AssessmentError is returned when no usable verdict could be obtained.
type AssessmentError struct {
	ArticleID string
	Message   string
	Cause     error
}

func (e *AssessmentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("title assessment failed for %q: %s: %v", e.ArticleID, e.Message, e.Cause)
	}
	return fmt.Sprintf("title assessment failed for %q: %s", e.ArticleID, e.Message)
}

func (e *AssessmentError) Unwrap() error {
	return e.Cause
}

// ExcerptFunc returns a short text excerpt of a product page, or "".
type ExcerptFunc func(ctx context.Context, pageURL string) string

// AssessorOptions tunes page excerpt collection.
type AssessorOptions struct {
	ExcerptTimeout  time.Duration
	ExcerptMaxChars int
	HTTPClient      *http.Client
	// Excerpt replaces the HTTP excerpt fetcher.
	Excerpt ExcerptFunc
}

// Assessor asks the configured model to judge product titles.
type Assessor struct {
	client  Client
	excerpt ExcerptFunc
}

// NewAssessor creates an Assessor. A nil client makes every assessment fail
// fast with a missing-credential AssessmentError.
func NewAssessor(client Client, opts AssessorOptions) *Assessor {
	excerpt := opts.Excerpt
	if excerpt == nil {
		timeout := opts.ExcerptTimeout
		if timeout <= 0 {
			timeout = DefaultExcerptTimeout
		}
		maxChars := opts.ExcerptMaxChars
		if maxChars <= 0 {
			maxChars = DefaultExcerptMaxChars
		}
		fetchOpts := &fetch.Options{
			Timeout:   timeout,
			UserAgent: fetch.DefaultUserAgent,
			Client:    opts.HTTPClient,
		}
		excerpt = func(ctx context.Context, pageURL string) string {
			return fetch.Excerpt(ctx, pageURL, fetchOpts, maxChars)
		}
	}
	return &Assessor{client: client, excerpt: excerpt}
}

// Enabled reports whether a model client is configured.
func (a *Assessor) Enabled() bool {
	return a != nil && a.client != nil
}

// Assess fetches the product page excerpt, sends the assessment prompt and
// returns the schema-checked verdict.
func (a *Assessor) Assess(ctx context.Context, rec feed.Record) (*Assessment, error) {
	if !a.Enabled() {
		return nil, &AssessmentError{ArticleID: rec.ArticleID, Message: "no credential configured", Cause: ErrMissingAPIKey}
	}

	excerpt := a.excerpt(ctx, rec.URL)
	prompt := BuildAssessmentPrompt(rec, excerpt)

	text, err := a.client.GenerateJSON(ctx, SystemPrompt, prompt)
	if err != nil {
		zap.L().Debug("title assessment call failed", zap.String("artnr", rec.ArticleID), zap.Error(err))
		return nil, &AssessmentError{ArticleID: rec.ArticleID, Message: "request failed", Cause: err}
	}

	if err := schemas.Validate(schemas.TitleAssessment, text); err != nil {
		zap.L().Debug("title assessment response rejected", zap.String("artnr", rec.ArticleID), zap.Error(err))
		return nil, &AssessmentError{ArticleID: rec.ArticleID, Message: "response does not match contract", Cause: err}
	}

	var out Assessment
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, &AssessmentError{ArticleID: rec.ArticleID, Message: "failed to decode response", Cause: err}
	}
	return &out, nil
}

// BuildAssessmentPrompt renders the user prompt for one record. Source values
// are preferred over normalized ones; absent values render as None.
func BuildAssessmentPrompt(rec feed.Record, excerpt string) string {
	var sb strings.Builder
	sb.WriteString("Task: Evaluate the current product title and, if needed, propose a better one.\n")
	sb.WriteString(`Return STRICT JSON: {"name_quality":"ok|weak|empty|cant_generate","suggested_title":null|string}.` + "\n")
	sb.WriteString("Rules:\n")
	sb.WriteString("- Keep original language (Swedish stays Swedish).\n")
	sb.WriteString("- empty => generate suggestion; weak => generate suggestion; ok => no suggestion.\n")
	sb.WriteString("- Concise, <= 90 characters, no clickbait.\n\n")

	field := func(label, header, normalized string) {
		v := rec.Raw[header]
		if v == "" {
			v = normalized
		}
		if v == "" {
			v = "None"
		}
		fmt.Fprintf(&sb, "%s: %s\n", label, v)
	}
	field("URL", feed.HeaderURL, rec.URL)
	field("Artnr", feed.HeaderArticleID, rec.ArticleID)
	field("Category", feed.HeaderCategory, rec.Category)
	field("Title", feed.HeaderName, rec.Name)
	field("Manufacturer", feed.HeaderManufacturer, rec.Manufacturer)
	field("Model", feed.HeaderModel, rec.Model)
	field("EAN", feed.HeaderEAN, rec.EAN)
	field("Price", feed.HeaderPrice, formatFloat(rec.Price))
	field("Shipping", feed.HeaderShipping, formatFloat(rec.Shipping))
	field("Description (feed)", feed.HeaderDescription, rec.DescriptionHTML)
	fmt.Fprintf(&sb, "Page excerpt: %s\n", excerpt)
	return sb.String()
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%g", *v)
}
