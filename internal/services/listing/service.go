// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package listing

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/iptbrowser/internal/dedup"
	"github.com/autobrr/iptbrowser/internal/domain"
	"github.com/autobrr/iptbrowser/internal/models"
	"github.com/autobrr/iptbrowser/internal/pipeline"
)

const DefaultWindowDays = 30

// Mode controls how a list query treats the cache.
type Mode string

const (
	// ModeCacheOnly answers from the cache and never contacts the site.
	ModeCacheOnly Mode = "cache-only"
	// ModeIncremental fetches items newer than the cached newest item first.
	ModeIncremental Mode = "incremental"
	// ModeFull serves a valid cache, otherwise fetches the default window.
	ModeFull Mode = "full"
)

// ParseMode maps a query value to a mode, defaulting to full.
func ParseMode(s string) Mode {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeCacheOnly, ModeIncremental:
		return m
	default:
		return ModeFull
	}
}

// Defaults apply when a query leaves categories or the refresh window unset.
type Defaults struct {
	Categories []string
	WindowDays int
}

func DefaultsFrom(cfg *domain.Config) Defaults {
	return Defaults{Categories: cfg.DefaultCategories, WindowDays: cfg.DefaultWindowDays}
}

// Query is one list request. A nil or non-positive Days means no window.
type Query struct {
	Mode        Mode
	Categories  []string
	Days        *int
	MinSnatched int
	Exclude     string
	Search      string
	Expr        string
	SortBy      string
	Order       string
	Dedup       bool
}

type CacheMetadata struct {
	CacheAge    string            `json:"cacheAge,omitempty"`
	LastUpdated *time.Time        `json:"lastUpdated,omitempty"`
	Categories  map[string]int    `json:"categories"`
	FetchedNew  int               `json:"fetchedNew"`
	Total       int               `json:"total"`
	Valid       bool              `json:"cacheValid"`
	Errors      map[string]string `json:"errors,omitempty"`
}

type ListResult struct {
	Items    []dedup.Entry `json:"items"`
	Metadata CacheMetadata `json:"metadata"`
}

type RefreshRequest struct {
	Mode       Mode
	Categories []string
	Days       *int
}

type RefreshResult struct {
	Mode       Mode              `json:"mode"`
	Added      int               `json:"added"`
	Total      int               `json:"total"`
	Categories map[string]int    `json:"categories"`
	Errors     map[string]string `json:"errors,omitempty"`
}

type Stats struct {
	Total             int            `json:"total"`
	CacheAge          string         `json:"cacheAge,omitempty"`
	LastUpdated       *time.Time     `json:"lastUpdated,omitempty"`
	Categories        map[string]int `json:"categories"`
	CacheValid        bool           `json:"cacheValid"`
	DefaultWindowDays int            `json:"defaultWindowDays"`
}

// Service answers list and refresh requests on top of the fetcher and cache.
type Service struct {
	fetcher  *Fetcher
	cache    *Cache
	defaults Defaults
	now      func() time.Time
	metrics  *Metrics
	log      zerolog.Logger
}

type ServiceOption func(*Service)

func WithCache(c *Cache) ServiceOption {
	return func(s *Service) { s.cache = c }
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func WithDefaults(d Defaults) ServiceOption {
	return func(s *Service) { s.defaults = d }
}

func WithMetrics(m *Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// NewService builds a service. Without WithCache records are kept in memory.
func NewService(fetcher *Fetcher, opts ...ServiceOption) *Service {
	s := &Service{
		fetcher: fetcher,
		now:     time.Now,
		log:     log.Logger.With().Str("module", "listing").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	if s.cache == nil {
		s.cache = NewCache(NewMemoryStore(), DefaultCacheTTL, WithCacheClock(s.now), WithCacheMetrics(s.metrics))
	}
	if len(s.defaults.Categories) == 0 {
		s.defaults.Categories = slices.Clone(models.DefaultViewCategories)
	}
	if s.defaults.WindowDays <= 0 {
		s.defaults.WindowDays = DefaultWindowDays
	}
	return s
}

func (s *Service) Defaults() Defaults {
	return s.defaults
}

// Categories returns the category catalog.
func (s *Service) Categories() []models.Category {
	return slices.Clone(models.Categories)
}

// List answers a query. Windowed queries always fetch the window, merge it
// into the cache and return the fresh items. Other queries are served from
// the cache according to the mode. Categories whose fetch failed fall back to
// cached items and are listed in Metadata.Errors; the error is only returned
// when every category failed and nothing was cached.
func (s *Service) List(ctx context.Context, q Query) (*ListResult, error) {
	start := time.Now()
	defer func() { s.metrics.QueryDuration.Observe(time.Since(start).Seconds()) }()

	categories, err := s.resolveCategories(q.Categories)
	if err != nil {
		return nil, err
	}

	var (
		items []models.Item
		meta  CacheMetadata
	)

	days := windowDays(q.Days)
	switch {
	case q.Mode == ModeCacheOnly:
		items, meta = s.fromCache(ctx, categories, days)
	case days > 0:
		items, meta, err = s.listWindow(ctx, categories, days)
	case q.Mode == ModeIncremental:
		items, meta, err = s.listRefreshed(ctx, RefreshRequest{Mode: ModeIncremental, Categories: categories}, categories)
	default:
		items, meta, err = s.listDefault(ctx, categories)
	}
	if err != nil {
		return nil, err
	}

	entries, err := pipeline.Run(items, pipeline.Filters{
		Days:        days,
		MinSnatched: q.MinSnatched,
		Exclude:     q.Exclude,
		Search:      q.Search,
		Expr:        q.Expr,
		Now:         s.now(),
	}, pipeline.SortSpec{
		Field: pipeline.ParseSortField(q.SortBy),
		Order: pipeline.ParseSortOrder(q.Order),
	}, q.Dedup, nil)
	if err != nil {
		return nil, err
	}

	return &ListResult{Items: entries, Metadata: meta}, nil
}

func (s *Service) listWindow(ctx context.Context, categories []string, days int) ([]models.Item, CacheMetadata, error) {
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	results := s.fetcher.FetchMany(ctx, categories, &days, nil)

	var (
		items  []models.Item
		errs   []error
		failed map[string]string
		usable bool
		added  int
	)

	for _, res := range results {
		if res.Err != nil {
			errs = append(errs, res.Err)
			if failed == nil {
				failed = make(map[string]string)
			}
			failed[res.Category] = res.Err.Error()
			if rec, ok := s.cache.Get(ctx, res.Category); ok {
				usable = true
				items = append(items, pipeline.ByWindow(rec.Items, cutoff)...)
			}
			continue
		}

		usable = true
		items = append(items, res.Items...)
		if _, n, err := s.cache.Merge(ctx, res.Category, res.Items, MergeMode{Kind: Incremental}); err != nil {
			s.log.Error().Err(err).Str("category", res.Category).Msg("Failed to store fetched window")
		} else {
			added += n
		}
	}

	if !usable {
		return nil, CacheMetadata{}, fmt.Errorf("fetch failed for all categories: %w", errors.Join(errs...))
	}

	meta := s.metadata(ctx, categories)
	meta.FetchedNew = added
	meta.Total = len(items)
	meta.Errors = failed
	return items, meta, nil
}

// listDefault serves valid records as they are and refreshes the default
// window of the others first.
func (s *Service) listDefault(ctx context.Context, categories []string) ([]models.Item, CacheMetadata, error) {
	var stale []string
	for _, cat := range categories {
		rec, ok := s.cache.Get(ctx, cat)
		if !ok || !s.cache.IsValidForDefaultQuery(rec) {
			stale = append(stale, cat)
		}
	}

	if len(stale) == 0 {
		items, meta := s.fromCache(ctx, categories, 0)
		return items, meta, nil
	}

	days := s.defaults.WindowDays
	return s.listRefreshed(ctx, RefreshRequest{Mode: ModeFull, Categories: stale, Days: &days}, categories)
}

func (s *Service) listRefreshed(ctx context.Context, req RefreshRequest, categories []string) ([]models.Item, CacheMetadata, error) {
	res, err := s.Refresh(ctx, req)
	items, meta := s.fromCache(ctx, categories, 0)

	if res != nil {
		meta.FetchedNew = res.Added
		meta.Errors = res.Errors
	}
	if err != nil {
		if res == nil || len(items) == 0 {
			return nil, meta, err
		}
		s.log.Warn().Err(err).Msg("Serving cached listings after failed refresh")
	}
	return items, meta, nil
}

func (s *Service) fromCache(ctx context.Context, categories []string, days int) ([]models.Item, CacheMetadata) {
	var items []models.Item
	for _, cat := range categories {
		if rec, ok := s.cache.Get(ctx, cat); ok {
			items = append(items, rec.Items...)
		}
	}
	if days > 0 {
		items = pipeline.ByWindow(items, s.now().Add(-time.Duration(days)*24*time.Hour))
	}

	meta := s.metadata(ctx, categories)
	meta.Total = len(items)
	return items, meta
}

// metadata summarizes the stored records of the given categories.
func (s *Service) metadata(ctx context.Context, categories []string) CacheMetadata {
	meta := CacheMetadata{Categories: make(map[string]int, len(categories)), Valid: len(categories) > 0}

	var oldest time.Time
	for _, cat := range categories {
		rec, ok := s.cache.Get(ctx, cat)
		if !ok {
			meta.Valid = false
			continue
		}
		meta.Categories[cat] = rec.Count
		if !s.cache.IsValidForDefaultQuery(rec) {
			meta.Valid = false
		}
		if oldest.IsZero() || rec.LastUpdated.Before(oldest) {
			oldest = rec.LastUpdated
		}
	}

	if !oldest.IsZero() {
		meta.LastUpdated = &oldest
		meta.CacheAge = humanize.RelTime(oldest, s.now(), "ago", "from now")
	}
	return meta
}

// Refresh fetches categories and merges them into the cache. Incremental
// refreshes only fetch items newer than each category's newest cached item.
// Full refreshes fetch the window and replace the cached window.
func (s *Service) Refresh(ctx context.Context, req RefreshRequest) (*RefreshResult, error) {
	categories, err := s.resolveCategories(req.Categories)
	if err != nil {
		return nil, err
	}

	mode := req.Mode
	if mode != ModeFull {
		mode = ModeIncremental
	}

	days := windowDays(req.Days)
	if days <= 0 {
		days = s.defaults.WindowDays
	}

	var results []CategoryResult
	switch mode {
	case ModeFull:
		results = s.fetcher.FetchMany(ctx, categories, &days, nil)
	default:
		results = s.fetcher.forEach(ctx, categories, func(ctx context.Context, category string) ([]models.Item, error) {
			var since time.Time
			if rec, ok := s.cache.Get(ctx, category); ok {
				since = rec.NewestTimestamp
			}
			return s.fetcher.FetchSince(ctx, category, since)
		})
	}

	out := &RefreshResult{Mode: mode, Categories: make(map[string]int, len(categories))}
	var errs []error

	for _, res := range results {
		if res.Err != nil {
			errs = append(errs, res.Err)
			if out.Errors == nil {
				out.Errors = make(map[string]string)
			}
			out.Errors[res.Category] = res.Err.Error()
			continue
		}

		merge := MergeMode{Kind: Incremental}
		if mode == ModeFull {
			merge = MergeMode{Kind: FullWindow, Days: days}
		}

		rec, added, err := s.cache.Merge(ctx, res.Category, res.Items, merge)
		if err != nil {
			errs = append(errs, err)
			if out.Errors == nil {
				out.Errors = make(map[string]string)
			}
			out.Errors[res.Category] = err.Error()
			continue
		}
		out.Added += added
		out.Categories[res.Category] = rec.Count
		out.Total += rec.Count
	}

	s.log.Info().Str("mode", string(mode)).Strs("categories", categories).Int("added", out.Added).Int("failed", len(errs)).Msg("Refreshed listings")

	if len(errs) == len(categories) && len(errs) > 0 {
		return out, fmt.Errorf("refresh failed for all categories: %w", errors.Join(errs...))
	}
	return out, nil
}

// Stats summarizes every stored record.
func (s *Service) Stats(ctx context.Context) Stats {
	records := s.cache.List(ctx)
	st := Stats{
		Categories:        make(map[string]int, len(records)),
		CacheValid:        len(records) > 0,
		DefaultWindowDays: s.defaults.WindowDays,
	}

	var oldest time.Time
	for i := range records {
		rec := &records[i]
		st.Total += rec.Count
		st.Categories[rec.Category] = rec.Count
		if !s.cache.IsValidForDefaultQuery(rec) {
			st.CacheValid = false
		}
		if oldest.IsZero() || rec.LastUpdated.Before(oldest) {
			oldest = rec.LastUpdated
		}
	}
	if !oldest.IsZero() {
		st.LastUpdated = &oldest
		st.CacheAge = humanize.RelTime(oldest, s.now(), "ago", "from now")
	}
	return st
}

// Clear drops one category from the cache, or all of them when category is empty.
func (s *Service) Clear(ctx context.Context, category string) error {
	if category == "" {
		return s.cache.Clear(ctx, "")
	}
	cat, ok := models.LookupCategory(category)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}
	return s.cache.Clear(ctx, cat.Name)
}

// resolveCategories canonicalizes names against the catalog. An empty
// selection falls back to the configured defaults.
func (s *Service) resolveCategories(names []string) ([]string, error) {
	if len(names) == 0 {
		names = s.defaults.Categories
	}

	out := make([]string, 0, len(names))
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			continue
		}
		cat, ok := models.LookupCategory(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, name)
		}
		if !slices.Contains(out, cat.Name) {
			out = append(out, cat.Name)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no categories selected", ErrUnknownCategory)
	}
	return out, nil
}

func windowDays(days *int) int {
	if days == nil || *days <= 0 {
		return 0
	}
	return *days
}
