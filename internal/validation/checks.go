package validation

import (
	"regexp"
	"strings"
	"unicode"
)

// Default identifier rules.
var (
	DefaultIdentifierLengths      = []int{8, 12, 13, 14}
	DefaultIdentifierPlaceholders = []string{"-", "0", "None", ""}
)

var identifierAbsentMarker = regexp.MustCompile(`(?i)identifier_exists\s*=\s*no`)

// CheckPrice reports a missing price when it is absent or not positive.
func CheckPrice(price *float64) PriceStatus {
	if price == nil || *price <= 0 {
		return PriceMissing
	}
	return PriceOK
}

// IdentifierRules configures CheckIdentifier.
type IdentifierRules struct {
	Lengths      []int
	Placeholders []string
}

// DefaultIdentifierRules returns the standard EAN/GTIN lengths and placeholders.
func DefaultIdentifierRules() IdentifierRules {
	return IdentifierRules{
		Lengths:      append([]int(nil), DefaultIdentifierLengths...),
		Placeholders: append([]string(nil), DefaultIdentifierPlaceholders...),
	}
}

// Check classifies an identifier. Only digits count toward its length.
func (r IdentifierRules) Check(ean string) IdentifierStatus {
	trimmed := strings.TrimSpace(ean)
	if trimmed == "" {
		return IdentifierMissing
	}
	for _, p := range r.Placeholders {
		if trimmed == p {
			return IdentifierMissing
		}
	}
	if identifierAbsentMarker.MatchString(ean) {
		return IdentifierMissing
	}

	digits := 0
	for _, c := range ean {
		if unicode.IsDigit(c) {
			digits++
		}
	}
	for _, n := range r.Lengths {
		if digits == n {
			return IdentifierOK
		}
	}
	return IdentifierMalformed
}

// CheckIdentifier applies the default rules.
func CheckIdentifier(ean string) IdentifierStatus {
	return DefaultIdentifierRules().Check(ean)
}
