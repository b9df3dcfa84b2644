package validation

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jonathan/feed-validator/internal/llm"
)

var stockNotePattern = regexp.MustCompile(`(?i)\((OBS:.*?kvar)\)`)

// HeuristicTitle returns a cosmetically cleaned name, or nil when nothing is left.
func HeuristicTitle(name string) *string {
	t := strings.Join(strings.Fields(name), " ")
	if t == "" {
		return nil
	}
	t = strings.TrimSpace(stockNotePattern.ReplaceAllString(t, ""))
	t = strings.ReplaceAll(t, "Hefitness", "HEfitness")
	t = strings.ReplaceAll(t, " ;", ";")
	if t == "" {
		return nil
	}
	r, size := utf8.DecodeRuneInString(t)
	t = string(unicode.ToUpper(r)) + t[size:]
	return &t
}

// ResolveTitle turns an assessment result into a title status and suggestion.
// Errors and unrecognized verdicts fall back to a presence check on name.
func ResolveTitle(name string, a *llm.Assessment, err error) (TitleStatus, *string) {
	if err == nil && a != nil {
		switch a.Quality {
		case llm.QualityOK:
			return TitleOK, nil
		case llm.QualityWeak, llm.QualityEmpty:
			return TitleStatus(a.Quality), suggestion(a.SuggestedTitle)
		}
	}
	if strings.TrimSpace(name) == "" {
		return TitleEmpty, nil
	}
	return TitleOK, nil
}

func suggestion(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	if r := []rune(t); len(r) > MaxSuggestionRunes {
		t = string(r[:MaxSuggestionRunes])
	}
	return &t
}
