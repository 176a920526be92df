// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dedup

import (
	"regexp"
	"strings"

	"github.com/autobrr/iptbrowser/internal/models"
)

var qualityPatterns = []struct {
	re    *regexp.Regexp
	score int
}{
	{regexp.MustCompile(`(?i)\b(?:2160p|4k|uhd)\b`), 4},
	{regexp.MustCompile(`(?i)\b1080[pi]\b`), 3},
	{regexp.MustCompile(`(?i)\b720p\b`), 2},
	{regexp.MustCompile(`(?i)\b480p\b`), 1},
}

// QualityScore ranks a movie release by resolution: 4K/2160p/UHD=4,
// 1080p=3, 720p=2, 480p=1, unknown=0. The raw title is checked first, then
// the scrape-time metadata block.
func QualityScore(item models.Item) int {
	if s := qualityFromString(item.Name); s > 0 {
		return s
	}
	if item.Metadata != nil {
		return qualityFromString(item.Metadata.Quality)
	}
	return 0
}

func qualityFromString(s string) int {
	if s == "" {
		return 0
	}
	for _, p := range qualityPatterns {
		if p.re.MatchString(s) {
			return p.score
		}
	}
	return 0
}

// ReleaseTypeScore ranks a game release by its category: full image=3,
// mixed=2, console=2, rip=1, unknown=0.
func ReleaseTypeScore(category string) int {
	return int(models.CategoryReleaseType(category))
}

// compareMovies orders a before b when it ranks higher.
func compareMovies(a, b models.Item) int {
	if c := cmpDesc(a.Snatched, b.Snatched); c != 0 {
		return c
	}
	if c := cmpDesc(QualityScore(a), QualityScore(b)); c != 0 {
		return c
	}
	return compareNewest(a, b)
}

func compareGames(a, b models.Item) int {
	if c := cmpDesc(a.Snatched, b.Snatched); c != 0 {
		return c
	}
	if c := cmpDesc(ReleaseTypeScore(a.Category), ReleaseTypeScore(b.Category)); c != 0 {
		return c
	}
	if c := cmpDesc(a.Seeders, b.Seeders); c != 0 {
		return c
	}
	return compareNewest(a, b)
}

func cmpDesc(a, b int) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	default:
		return 0
	}
}

func compareNewest(a, b models.Item) int {
	switch {
	case a.Timestamp.After(b.Timestamp):
		return -1
	case a.Timestamp.Before(b.Timestamp):
		return 1
	default:
		return 0
	}
}

// compareIDs gives members a canonical order before ranking so equal-ranked
// members land in the same place for any input permutation.
func compareIDs(a, b models.Item) int {
	if len(a.ID) != len(b.ID) && isDigits(a.ID) && isDigits(b.ID) {
		return len(a.ID) - len(b.ID)
	}
	return strings.Compare(a.ID, b.ID)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
