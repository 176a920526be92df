// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package pipeline

import (
	"cmp"
	"regexp"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/autobrr/iptbrowser/internal/dedup"
	"github.com/autobrr/iptbrowser/internal/models"
)

type SortField string

const (
	SortSnatched SortField = "snatched"
	SortSeeders  SortField = "seeders"
	SortLeechers SortField = "leechers"
	SortDate     SortField = "date"
	SortSize     SortField = "size"
	SortName     SortField = "name"
)

type SortOrder string

const (
	OrderDesc SortOrder = "desc"
	OrderAsc  SortOrder = "asc"
)

// SortSpec selects a single sort key. Unknown fields sort by date.
type SortSpec struct {
	Field SortField
	Order SortOrder
}

// ParseSortField maps a query value to a field, defaulting to date.
func ParseSortField(s string) SortField {
	switch f := SortField(strings.ToLower(strings.TrimSpace(s))); f {
	case SortSnatched, SortSeeders, SortLeechers, SortDate, SortSize, SortName:
		return f
	default:
		return SortDate
	}
}

// ParseSortOrder maps a query value to an order, defaulting to descending.
func ParseSortOrder(s string) SortOrder {
	if strings.EqualFold(strings.TrimSpace(s), string(OrderAsc)) {
		return OrderAsc
	}
	return OrderDesc
}

// Sort returns a sorted copy of items. Comparators are descending; ascending
// order is the reversal of the descending sequence.
func Sort(items []models.Item, spec SortSpec) []models.Item {
	return sortSlice(items, spec, func(it models.Item) *models.Item { return &it })
}

// SortEntries sorts grouped entries by their representative item.
func SortEntries(entries []dedup.Entry, spec SortSpec) []dedup.Entry {
	return sortSlice(entries, spec, func(e dedup.Entry) *models.Item { return &e.Item })
}

func sortSlice[T any](in []T, spec SortSpec, item func(T) *models.Item) []T {
	out := slices.Clone(in)
	less := comparator(spec.Field)
	slices.SortStableFunc(out, func(a, b T) int {
		return less(item(a), item(b))
	})
	if spec.Order == OrderAsc {
		slices.Reverse(out)
	}
	return out
}

func comparator(field SortField) func(a, b *models.Item) int {
	switch field {
	case SortSnatched:
		return func(a, b *models.Item) int { return cmp.Compare(b.Snatched, a.Snatched) }
	case SortSeeders:
		return func(a, b *models.Item) int { return cmp.Compare(b.Seeders, a.Seeders) }
	case SortLeechers:
		return func(a, b *models.Item) int { return cmp.Compare(b.Leechers, a.Leechers) }
	case SortSize:
		return func(a, b *models.Item) int { return cmp.Compare(itemSize(b), itemSize(a)) }
	case SortName:
		return func(a, b *models.Item) int {
			return strings.Compare(strings.ToLower(b.Name), strings.ToLower(a.Name))
		}
	default:
		return func(a, b *models.Item) int { return b.Timestamp.Compare(a.Timestamp) }
	}
}

func itemSize(it *models.Item) int64 {
	if it.SizeBytes > 0 {
		return it.SizeBytes
	}
	return ParseSize(it.Size)
}

var sizeRe = regexp.MustCompile(`(?i)^\s*([\d.,]+)\s*([kmgtp]?)(i?b)\s*$`)

// ParseSize converts a formatted size such as "1.5 GB" to bytes. Units are
// read as binary multiples, matching how the site reports them. Unparseable
// strings yield 0.
func ParseSize(s string) int64 {
	m := sizeRe.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	num := strings.ReplaceAll(m[1], ",", "")
	unit := strings.ToUpper(m[2])
	if unit != "" {
		unit += "iB"
	} else {
		unit = "B"
	}

	n, err := humanize.ParseBytes(num + " " + unit)
	if err != nil {
		return 0
	}
	return int64(n)
}

// FormatSize renders bytes the way the site formats sizes.
func FormatSize(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	return strings.Replace(humanize.IBytes(uint64(n)), "iB", "B", 1)
}
