// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package dedup collapses version variants of the same movie or game into a
// single representative entry.
package dedup

import (
	"slices"
	"sort"
	"strings"

	"github.com/autobrr/iptbrowser/internal/models"
	"github.com/autobrr/iptbrowser/internal/normalize"
	"github.com/autobrr/iptbrowser/internal/pattern"
)

// Entry is a listing item as presented after grouping. It is built fresh on
// every query and never persisted; the embedded Item is a copy.
type Entry struct {
	models.Item

	Domain       models.Domain    `json:"domain"`
	Key          string           `json:"groupKey,omitempty"`
	DisplayName  string           `json:"displayName"`
	Signals      *pattern.Signals `json:"signals,omitempty"`
	Grouped      bool             `json:"grouped"`
	Versions     []models.Item    `json:"versions,omitempty"`
	VersionCount int              `json:"versionCount"`
	LatestUpdate string           `json:"latestUpdate,omitempty"`
}

// Classifier maps a category name to its domain.
type Classifier func(category string) models.Domain

type member struct {
	item    models.Item
	signals *pattern.Signals
}

// Group partitions items by domain, groups movie and game items by their
// normalized key and returns passthrough items followed by movie groups and
// game groups. A nil classifier uses the fixed category catalog.
func Group(items []models.Item, classify Classifier) []Entry {
	if classify == nil {
		classify = models.CategoryDomain
	}

	var passthrough []Entry
	movies := make(map[string][]member)
	games := make(map[string][]member)

	for _, it := range items {
		d := classify(it.Category)
		switch d {
		case models.DomainMovie:
			key := keyFor(it, d)
			movies[key] = append(movies[key], member{item: it})
		case models.DomainGame:
			sig := pattern.Detect(it.Name)
			key := keyFor(it, d)
			games[key] = append(games[key], member{item: it, signals: &sig})
		default:
			passthrough = append(passthrough, Entry{
				Item:         it,
				Domain:       models.DomainOther,
				DisplayName:  it.Name,
				VersionCount: 1,
			})
		}
	}

	out := make([]Entry, 0, len(items))
	out = append(out, passthrough...)
	out = append(out, collapse(movies, models.DomainMovie, compareMovies)...)
	out = append(out, collapse(games, models.DomainGame, compareGames)...)
	return out
}

// keyFor falls back to the folded raw title when every token was noise, so
// unrelated all-noise titles are not merged under an empty key.
func keyFor(it models.Item, d models.Domain) string {
	if key := normalize.Normalize(it.Name, d); key != "" {
		return key
	}
	return "\x00" + strings.ToLower(normalize.Fold(strings.TrimSpace(it.Name))) + "\x00" + it.ID
}

func collapse(groups map[string][]member, d models.Domain, cmp func(a, b models.Item) int) []Entry {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Entry, 0, len(keys))
	for _, key := range keys {
		members := groups[key]

		slices.SortStableFunc(members, func(a, b member) int { return compareIDs(a.item, b.item) })
		slices.SortStableFunc(members, func(a, b member) int { return cmp(a.item, b.item) })

		rep := members[0]
		e := Entry{
			Item:         rep.item,
			Domain:       d,
			Key:          key,
			DisplayName:  rep.item.Name,
			Signals:      rep.signals,
			VersionCount: len(members),
		}
		if strings.HasPrefix(key, "\x00") {
			e.Key = ""
		}
		if d == models.DomainGame && e.Key != "" {
			e.DisplayName = normalize.DisplayName(key)
		}

		if len(members) > 1 {
			e.Grouped = true
			e.Versions = make([]models.Item, len(members))
			for i, m := range members {
				e.Versions[i] = m.item
			}
		}
		e.LatestUpdate = latestUpdate(members)

		out = append(out, e)
	}
	return out
}

func latestUpdate(members []member) string {
	var latest string
	for _, m := range members {
		if m.signals == nil {
			continue
		}
		for _, v := range []string{m.signals.UpdateVersion, m.signals.PatchVersion} {
			if v == "" {
				continue
			}
			if latest == "" || pattern.CompareVersions(v, latest) > 0 {
				latest = v
			}
		}
	}
	return latest
}
