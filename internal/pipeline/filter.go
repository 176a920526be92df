// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package pipeline holds the pure filter and sort passes applied to listing
// items before and after grouping.
package pipeline

import (
	"strings"
	"time"

	"github.com/autobrr/iptbrowser/internal/models"
)

// Filters selects which items survive. Zero values disable a pass.
type Filters struct {
	Categories  []string
	Days        int
	MinSnatched int
	// Exclude is a comma separated keyword list.
	Exclude string
	Search  string
	// Expr is an optional boolean expression over ExprEnv.
	Expr string
	// Now anchors the window; zero means time.Now().
	Now time.Time
}

// Filter runs the passes in their fixed order: categories, window, minimum
// snatched, exclude keywords, search, expression. The input is not modified.
func Filter(items []models.Item, f Filters) ([]models.Item, error) {
	out := ByCategories(items, f.Categories)

	if f.Days > 0 {
		now := f.Now
		if now.IsZero() {
			now = time.Now()
		}
		out = ByWindow(out, now.Add(-time.Duration(f.Days)*24*time.Hour))
	}

	out = ByMinSnatched(out, f.MinSnatched)
	out = ExcludeKeywords(out, f.Exclude)
	out = BySearch(out, f.Search)

	if strings.TrimSpace(f.Expr) != "" {
		var err error
		out, err = ByExpr(out, f.Expr, f.Now)
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}

// ByCategories keeps items whose category is selected. An empty selection keeps all.
func ByCategories(items []models.Item, categories []string) []models.Item {
	if len(categories) == 0 {
		return items
	}
	selected := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		selected[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
	}
	return keep(items, func(it models.Item) bool {
		_, ok := selected[strings.ToLower(it.Category)]
		return ok
	})
}

// ByWindow keeps items uploaded at or after cutoff.
func ByWindow(items []models.Item, cutoff time.Time) []models.Item {
	return keep(items, func(it models.Item) bool {
		return !it.Timestamp.Before(cutoff)
	})
}

func ByMinSnatched(items []models.Item, min int) []models.Item {
	if min <= 0 {
		return items
	}
	return keep(items, func(it models.Item) bool {
		return it.Snatched >= min
	})
}

// ExcludeKeywords drops items whose name contains any of the comma separated keywords.
func ExcludeKeywords(items []models.Item, exclude string) []models.Item {
	keywords := SplitKeywords(exclude)
	if len(keywords) == 0 {
		return items
	}
	return keep(items, func(it models.Item) bool {
		name := strings.ToLower(it.Name)
		for _, kw := range keywords {
			if strings.Contains(name, kw) {
				return false
			}
		}
		return true
	})
}

func BySearch(items []models.Item, search string) []models.Item {
	term := strings.ToLower(strings.TrimSpace(search))
	if term == "" {
		return items
	}
	return keep(items, func(it models.Item) bool {
		return strings.Contains(strings.ToLower(it.Name), term)
	})
}

// SplitKeywords lower-cases and trims a comma separated list, dropping blanks.
func SplitKeywords(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if kw := strings.ToLower(strings.TrimSpace(part)); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

func keep(items []models.Item, pred func(models.Item) bool) []models.Item {
	out := make([]models.Item, 0, len(items))
	for _, it := range items {
		if pred(it) {
			out = append(out, it)
		}
	}
	return out
}
