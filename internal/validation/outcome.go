// Package validation runs the per-record product checks: price, identifier,
// image reachability and title quality.
package validation

// PriceStatus is the price dimension verdict.
type PriceStatus string

// IdentifierStatus is the EAN dimension verdict.
type IdentifierStatus string

// ImageStatus is the image reachability verdict.
type ImageStatus string

// TitleStatus is the title quality verdict.
type TitleStatus string

// OverallStatus summarizes all four dimensions.
type OverallStatus string

// Dimension status values.
const (
	PriceOK      PriceStatus = "ok"
	PriceMissing PriceStatus = "missing"

	IdentifierOK        IdentifierStatus = "ok"
	IdentifierMissing   IdentifierStatus = "missing"
	IdentifierMalformed IdentifierStatus = "malformed"

	ImageOK     ImageStatus = "ok"
	ImageBroken ImageStatus = "broken"

	TitleOK           TitleStatus = "ok"
	TitleWeak         TitleStatus = "weak"
	TitleEmpty        TitleStatus = "empty"
	TitleUnassessable TitleStatus = "unassessable"

	OverallOK    OverallStatus = "ok"
	OverallIssue OverallStatus = "issue"
)

// MaxSuggestionRunes caps a stored title suggestion.
const MaxSuggestionRunes = 1024

// Outcome is the result of validating one record.
type Outcome struct {
	Price      PriceStatus      `json:"price_status"`
	Identifier IdentifierStatus `json:"identifier_status"`
	Image      ImageStatus      `json:"image_status"`
	Title      TitleStatus      `json:"title_status"`
	// TitleSuggestion is set only when Title is weak or empty.
	TitleSuggestion *string `json:"title_suggestion"`

	// ImprovedTitle is the heuristic clean-up of the source name. It never
	// affects any status.
	ImprovedTitle *string `json:"improved_title"`
	// AIPrompt is the assessment prompt kept for audit.
	AIPrompt string `json:"ai_prompt"`
}

// Overall is ok only when every dimension is ok.
func (o Outcome) Overall() OverallStatus {
	if o.Price == PriceOK && o.Identifier == IdentifierOK && o.Image == ImageOK && o.Title == TitleOK {
		return OverallOK
	}
	return OverallIssue
}

// HasIssues reports whether any dimension is not ok.
func (o Outcome) HasIssues() bool {
	return o.Overall() == OverallIssue
}
