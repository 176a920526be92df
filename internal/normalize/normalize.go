// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package normalize turns raw release titles into grouping keys.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/autobrr/iptbrowser/internal/models"
)

// maxPasses bounds the fixed-point loop in Normalize. Real titles settle in
// two passes; the bound only guards against a pathological rule interaction.
const maxPasses = 6

// Apply runs rules over s in order.
func Apply(s string, rules []Rule) string {
	for _, r := range rules {
		s = r.Pattern.ReplaceAllString(s, r.Replace)
	}
	return s
}

// RulesFor returns the rule list for a domain.
func RulesFor(d models.Domain) []Rule {
	switch d {
	case models.DomainMovie:
		return MovieRules
	case models.DomainGame:
		return GameRules
	default:
		return BasicRules
	}
}

// Normalize returns the grouping key for raw. The rule list is reapplied until
// the key stops changing, so Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string, d models.Domain) string {
	key := strings.ToLower(Fold(raw))
	rules := RulesFor(d)

	for i := 0; i < maxPasses; i++ {
		next := Apply(key, rules)
		if next == key {
			break
		}
		key = next
	}

	return key
}

// Fold strips diacritics so accented and plain spellings share a key.
func Fold(s string) string {
	// transformers and casers carry state and are built per call
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// DisplayName title-cases a grouping key for presentation.
func DisplayName(key string) string {
	return cases.Title(language.English).String(key)
}
