// Package textnorm holds the text normalization and similarity helpers shared
// by column identification, row scanning and matching.
package textnorm

import (
	"strings"
	"unicode"

	"github.com/agext/levenshtein"
	"github.com/shopspring/decimal"
	"golang.org/x/text/width"
)

// Normalize folds full-width characters to their narrow forms, lowercases,
// and drops whitespace and parentheses (ASCII and full-width). It is
// idempotent.
func Normalize(s string) string {
	s = strings.ToLower(width.Fold.String(s))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
		case r == '(' || r == ')' || r == '（' || r == '）':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ItemKey is the numeric-folded form of an item number used for item-level
// lookup. Decimal-looking items fold through their decimal value, so "6" and
// "6.0" collide, as do "1.90" and "1.9". Multi-level items such as "3.6.1"
// fold segment by segment.
func ItemKey(item string) string {
	n := Normalize(item)
	n = strings.TrimSuffix(n, ".")
	if n == "" {
		return ""
	}
	if isPlainNumber(n) {
		if d, err := decimal.NewFromString(n); err == nil {
			return d.String()
		}
	}

	segs := strings.Split(n, ".")
	for i, seg := range segs {
		if !isPlainNumber(seg) {
			continue
		}
		if d, err := decimal.NewFromString(seg); err == nil {
			segs[i] = d.String()
		}
	}
	for len(segs) > 1 && segs[len(segs)-1] == "0" {
		segs = segs[:len(segs)-1]
	}
	return strings.Join(segs, ".")
}

// isPlainNumber accepts digits with at most one dot, no sign or exponent.
func isPlainNumber(s string) bool {
	if s == "" {
		return false
	}
	dots := 0
	for _, r := range s {
		switch {
		case r == '.':
			dots++
		case r < '0' || r > '9':
			return false
		}
	}
	return dots <= 1 && s != "."
}

// CompositeKey joins the normalized item and description.
func CompositeKey(item, description string) string {
	return Normalize(item) + "|" + Normalize(description)
}

// Similarity returns a Levenshtein similarity in [0, 1]; 1 means identical.
// Inputs are compared as given, so callers normalize first when needed.
func Similarity(a, b string) float64 {
	return levenshtein.Similarity(a, b, nil)
}

// ContainsFold reports whether the normalized form of s contains the
// normalized form of sub.
func ContainsFold(s, sub string) bool {
	return strings.Contains(Normalize(s), Normalize(sub))
}
