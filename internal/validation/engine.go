package validation

import (
	"context"

	"github.com/jonathan/feed-validator/internal/feed"
	"github.com/jonathan/feed-validator/internal/llm"
)

// TitleAssessor judges a record's title.
type TitleAssessor interface {
	Assess(ctx context.Context, rec feed.Record) (*llm.Assessment, error)
}

// ImageProber checks one image URL.
type ImageProber interface {
	Check(ctx context.Context, imageURL string) ImageStatus
}

// Engine runs all checks for a record.
type Engine struct {
	identifiers IdentifierRules
	images      ImageProber
	titles      TitleAssessor
}

// NewEngine creates an Engine. A nil titles assessor leaves every title to
// the presence fallback.
func NewEngine(rules IdentifierRules, images ImageProber, titles TitleAssessor) *Engine {
	if len(rules.Lengths) == 0 {
		rules.Lengths = DefaultIdentifierLengths
	}
	if rules.Placeholders == nil {
		rules.Placeholders = DefaultIdentifierPlaceholders
	}
	if images == nil {
		images = NewImageChecker(ImageOptions{})
	}
	return &Engine{identifiers: rules, images: images, titles: titles}
}

// Validate checks rec. Network and service failures resolve to statuses and
// are never returned.
func (e *Engine) Validate(ctx context.Context, rec feed.Record) Outcome {
	out := Outcome{
		Price:         CheckPrice(rec.Price),
		Identifier:    e.identifiers.Check(rec.EAN),
		Image:         e.images.Check(ctx, rec.ImageURL),
		ImprovedTitle: HeuristicTitle(rec.Name),
		AIPrompt:      llm.BuildAssessmentPrompt(rec, ""),
	}

	var (
		assessment *llm.Assessment
		err        error = errNoAssessor
	)
	if e.titles != nil {
		assessment, err = e.titles.Assess(ctx, rec)
	}
	out.Title, out.TitleSuggestion = ResolveTitle(rec.Name, assessment, err)
	return out
}
