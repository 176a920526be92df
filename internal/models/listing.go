// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// ErrCacheCorrupt is returned by record stores when persisted data cannot be
// decoded. Callers treat it as a cache miss.
var ErrCacheCorrupt = errors.New("listing cache record is corrupt")

// Domain selects which normalization and ranking rules apply to an item.
type Domain string

const (
	DomainMovie Domain = "movie"
	DomainGame  Domain = "game"
	DomainOther Domain = "other"
)

// ReleaseType ranks game categories by how complete the release usually is.
type ReleaseType int

const (
	ReleaseUnknown ReleaseType = 0
	ReleaseRip     ReleaseType = 1
	ReleaseMixed   ReleaseType = 2
	ReleaseConsole ReleaseType = 2
	ReleaseFull    ReleaseType = 3
)

// Category is one entry of the site's fixed category catalog.
type Category struct {
	Name    string      `json:"name"`
	ID      string      `json:"id"`
	Domain  Domain      `json:"domain"`
	Release ReleaseType `json:"-"`
}

// Categories is the known catalog. IDs are site specific.
var Categories = []Category{
	{Name: "PC-ISO", ID: "43", Domain: DomainGame, Release: ReleaseFull},
	{Name: "PC-Rip", ID: "45", Domain: DomainGame, Release: ReleaseRip},
	{Name: "PC-Mixed", ID: "2", Domain: DomainGame, Release: ReleaseMixed},
	{Name: "Nintendo", ID: "47", Domain: DomainGame, Release: ReleaseConsole},
	{Name: "Playstation", ID: "71", Domain: DomainGame, Release: ReleaseConsole},
	{Name: "Xbox", ID: "44", Domain: DomainGame, Release: ReleaseConsole},
	{Name: "Wii", ID: "50", Domain: DomainGame, Release: ReleaseConsole},
	{Name: "Movie/4K", ID: "101", Domain: DomainMovie},
	{Name: "Movie/BD-Rip", ID: "90", Domain: DomainMovie},
	{Name: "Movie/HD-Bluray", ID: "48", Domain: DomainMovie},
	{Name: "Movie/Web-DL", ID: "20", Domain: DomainMovie},
	{Name: "Movie/x265", ID: "100", Domain: DomainMovie},
}

var categoryIndex = func() map[string]Category {
	idx := make(map[string]Category, len(Categories))
	for _, c := range Categories {
		idx[strings.ToLower(c.Name)] = c
	}
	return idx
}()

// LookupCategory finds a catalog entry by name, case-insensitively.
func LookupCategory(name string) (Category, bool) {
	c, ok := categoryIndex[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

// CategoryDomain maps a category name to its domain. Unknown names are DomainOther.
func CategoryDomain(name string) Domain {
	if c, ok := LookupCategory(name); ok {
		return c.Domain
	}
	return DomainOther
}

// CategoryReleaseType returns the game release rank for a category.
func CategoryReleaseType(name string) ReleaseType {
	if c, ok := LookupCategory(name); ok {
		return c.Release
	}
	return ReleaseUnknown
}

// ReleaseMetadata is the optional block filled at scrape time for movie rows.
type ReleaseMetadata struct {
	Quality string   `json:"quality,omitempty"`
	Year    int      `json:"year,omitempty"`
	Genres  []string `json:"genres,omitempty"`
}

// Item is one parsed listing row.
type Item struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Category    string           `json:"category"`
	Size        string           `json:"size"`
	SizeBytes   int64            `json:"sizeBytes"`
	Seeders     int              `json:"seeders"`
	Leechers    int              `json:"leechers"`
	Snatched    int              `json:"snatched"`
	UploadTime  string           `json:"uploadTime"`
	Timestamp   time.Time        `json:"timestamp"`
	Freeleech   bool             `json:"freeleech"`
	DownloadURL string           `json:"downloadUrl,omitempty"`
	DetailsURL  string           `json:"detailsUrl,omitempty"`
	ExternalID  string           `json:"externalId,omitempty"`
	Metadata    *ReleaseMetadata `json:"metadata,omitempty"`
}

// CacheRecord is the persisted snapshot for one category.
type CacheRecord struct {
	Category        string    `json:"category"`
	Items           []Item    `json:"items"`
	NewestTimestamp time.Time `json:"newestTimestamp"`
	OldestTimestamp time.Time `json:"oldestTimestamp"`
	Count           int       `json:"count"`
	LastUpdated     time.Time `json:"lastUpdated"`
	CreatedAt       time.Time `json:"createdAt"`
	WindowDays      int       `json:"windowDays"`
	Fingerprint     uint64    `json:"fingerprint"`
}

// SortItemsNewestFirst orders items by timestamp descending, breaking ties by ID.
func SortItemsNewestFirst(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].Timestamp.Equal(items[j].Timestamp) {
			return items[i].Timestamp.After(items[j].Timestamp)
		}
		return items[i].ID < items[j].ID
	})
}

// Summarize recomputes the derived fields from Items.
func (r *CacheRecord) Summarize() {
	r.Count = len(r.Items)
	r.NewestTimestamp = time.Time{}
	r.OldestTimestamp = time.Time{}
	for i, it := range r.Items {
		if i == 0 || it.Timestamp.After(r.NewestTimestamp) {
			r.NewestTimestamp = it.Timestamp
		}
		if i == 0 || it.Timestamp.Before(r.OldestTimestamp) {
			r.OldestTimestamp = it.Timestamp
		}
	}
}
