// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package scraper

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var relativeTimeRe = regexp.MustCompile(`(?i)([\d.]+)\s*(second|sec|minute|min|hour|day|week|month|year)s?\s*ago`)

// ParseRelativeTime turns "10.9 hours ago" into an absolute instant relative
// to now. It returns the matched text and false when nothing matched, in
// which case the returned time is now.
func ParseRelativeTime(text string, now time.Time) (time.Time, string, bool) {
	m := relativeTimeRe.FindStringSubmatch(text)
	if m == nil {
		return now, "", false
	}

	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return now, "", false
	}

	var unit time.Duration
	switch strings.ToLower(m[2]) {
	case "second", "sec":
		unit = time.Second
	case "minute", "min":
		unit = time.Minute
	case "hour":
		unit = time.Hour
	case "day":
		unit = 24 * time.Hour
	case "week":
		unit = 7 * 24 * time.Hour
	case "month":
		unit = 30 * 24 * time.Hour
	case "year":
		unit = 365 * 24 * time.Hour
	}

	return now.Add(-time.Duration(value * float64(unit))), strings.TrimSpace(m[0]), true
}
