// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package listing fetches category listings page by page, keeps them in a
// freshness cache and answers list queries over the cached items.
package listing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/iptbrowser/internal/domain"
	"github.com/autobrr/iptbrowser/internal/models"
	"github.com/autobrr/iptbrowser/internal/scraper"
)

const (
	DefaultPageSize         = 75
	DefaultMaxPages         = 50
	DefaultPageTimeout      = 30 * time.Second
	DefaultFetchConcurrency = 3
)

// ErrUnknownCategory is returned for category names outside the catalog.
var ErrUnknownCategory = errors.New("unknown category")

// PageSource returns one parsed listing page, newest first.
type PageSource interface {
	FetchPage(ctx context.Context, category models.Category, offset int) ([]models.Item, error)
}

type FetcherConfig struct {
	PageSize    int
	MaxPages    int
	PageTimeout time.Duration
	Concurrency int
}

// FetcherConfigFrom reads the paging settings from the application config.
func FetcherConfigFrom(cfg *domain.Config) FetcherConfig {
	return FetcherConfig{
		PageSize:    cfg.PageSize,
		MaxPages:    cfg.MaxPages,
		PageTimeout: cfg.PageTimeout,
		Concurrency: cfg.FetchConcurrency,
	}
}

func (c FetcherConfig) withDefaults() FetcherConfig {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.MaxPages <= 0 {
		c.MaxPages = DefaultMaxPages
	}
	if c.PageTimeout <= 0 {
		c.PageTimeout = DefaultPageTimeout
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultFetchConcurrency
	}
	return c
}

// Fetcher walks listing pages of one category at a time. Pages of a category
// are always requested sequentially since each stop decision depends on the
// previous page.
type Fetcher struct {
	source  PageSource
	cfg     FetcherConfig
	now     func() time.Time
	metrics *Metrics
	log     zerolog.Logger
}

type FetcherOption func(*Fetcher)

func WithFetcherClock(now func() time.Time) FetcherOption {
	return func(f *Fetcher) { f.now = now }
}

func WithFetcherMetrics(m *Metrics) FetcherOption {
	return func(f *Fetcher) { f.metrics = m }
}

func NewFetcher(source PageSource, cfg FetcherConfig, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		source: source,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
		log:    log.Logger.With().Str("module", "fetcher").Logger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.metrics == nil {
		f.metrics = NewMetrics(nil)
	}
	return f
}

func (f *Fetcher) Config() FetcherConfig {
	return f.cfg
}

// Fetch returns the newest items of a category. Without a lookback window it
// fetches exactly one page. With a window it pages until the oldest item of a
// page predates the cutoff, a page is empty, or the page limit is reached,
// then drops items older than the cutoff. A nil or non-positive itemCap
// means no cap.
func (f *Fetcher) Fetch(ctx context.Context, category string, lookbackDays *int, itemCap *int) ([]models.Item, error) {
	cat, ok := models.LookupCategory(category)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}

	start := time.Now()
	defer func() {
		f.metrics.FetchDuration.WithLabelValues(cat.Name).Observe(time.Since(start).Seconds())
	}()

	capN := 0
	if itemCap != nil && *itemCap > 0 {
		capN = *itemCap
	}

	if lookbackDays == nil {
		items, err := f.page(ctx, cat, 0)
		if err != nil {
			return nil, f.fail(cat, 1, err)
		}
		return applyCap(uniqueByID(items), capN), nil
	}

	cutoff := f.now().Add(-time.Duration(*lookbackDays) * 24 * time.Hour)
	collected := make([]models.Item, 0, f.cfg.PageSize)
	seen := make(map[string]struct{})
	inWindow := 0

	page := 1
	for ; page <= f.cfg.MaxPages; page++ {
		offset := (page - 1) * f.cfg.PageSize
		items, err := f.page(ctx, cat, offset)
		if err != nil {
			return nil, f.fail(cat, page, err)
		}
		if len(items) == 0 {
			break
		}

		for _, it := range items {
			if _, dup := seen[it.ID]; dup {
				continue
			}
			seen[it.ID] = struct{}{}
			collected = append(collected, it)
			if !it.Timestamp.Before(cutoff) {
				inWindow++
			}
		}

		if items[len(items)-1].Timestamp.Before(cutoff) {
			break
		}
		if capN > 0 && inWindow >= capN {
			break
		}
	}

	if page > f.cfg.MaxPages {
		f.metrics.SafetyBoundHit.WithLabelValues(cat.Name).Inc()
		f.log.Warn().Str("category", cat.Name).Int("pages", f.cfg.MaxPages).Int("days", *lookbackDays).
			Msg("Stopped paging at page limit before reaching the cutoff")
	}

	out := make([]models.Item, 0, inWindow)
	for _, it := range collected {
		if !it.Timestamp.Before(cutoff) {
			out = append(out, it)
		}
	}

	f.log.Debug().Str("category", cat.Name).Int("pages", min(page, f.cfg.MaxPages)).Int("items", len(out)).
		Int("days", *lookbackDays).Msg("Fetched category window")

	return applyCap(out, capN), nil
}

// FetchSince pages until it reaches an item at or before since and returns
// only the strictly newer items. A zero since fetches a single page.
func (f *Fetcher) FetchSince(ctx context.Context, category string, since time.Time) ([]models.Item, error) {
	if since.IsZero() {
		return f.Fetch(ctx, category, nil, nil)
	}

	cat, ok := models.LookupCategory(category)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}

	var out []models.Item
	seen := make(map[string]struct{})

	for page := 1; page <= f.cfg.MaxPages; page++ {
		items, err := f.page(ctx, cat, (page-1)*f.cfg.PageSize)
		if err != nil {
			return nil, f.fail(cat, page, err)
		}
		if len(items) == 0 {
			break
		}

		reached := false
		for _, it := range items {
			if !it.Timestamp.After(since) {
				reached = true
				continue
			}
			if _, dup := seen[it.ID]; dup {
				continue
			}
			seen[it.ID] = struct{}{}
			out = append(out, it)
		}
		if reached {
			break
		}
	}

	f.log.Debug().Str("category", cat.Name).Time("since", since).Int("items", len(out)).Msg("Fetched new items")
	return out, nil
}

// CategoryResult is the outcome of fetching one category in a batch.
type CategoryResult struct {
	Category string
	Items    []models.Item
	Err      error
}

// FetchMany fetches categories in parallel, bounded by the configured
// concurrency. A failing category does not cancel the others.
func (f *Fetcher) FetchMany(ctx context.Context, categories []string, lookbackDays *int, itemCap *int) []CategoryResult {
	return f.forEach(ctx, categories, func(ctx context.Context, category string) ([]models.Item, error) {
		return f.Fetch(ctx, category, lookbackDays, itemCap)
	})
}

func (f *Fetcher) forEach(ctx context.Context, categories []string, fn func(context.Context, string) ([]models.Item, error)) []CategoryResult {
	results := make([]CategoryResult, len(categories))

	var g errgroup.Group
	g.SetLimit(f.cfg.Concurrency)
	for i, category := range categories {
		g.Go(func() error {
			items, err := fn(ctx, category)
			results[i] = CategoryResult{Category: category, Items: items, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (f *Fetcher) page(ctx context.Context, cat models.Category, offset int) ([]models.Item, error) {
	pageCtx, cancel := context.WithTimeout(ctx, f.cfg.PageTimeout)
	defer cancel()

	items, err := f.source.FetchPage(pageCtx, cat, offset)
	if err != nil {
		return nil, err
	}
	f.metrics.PagesFetched.WithLabelValues(cat.Name).Inc()
	return items, nil
}

func (f *Fetcher) fail(cat models.Category, page int, err error) error {
	f.metrics.FetchErrors.WithLabelValues(cat.Name, errorKind(err)).Inc()
	f.log.Error().Err(err).Str("category", cat.Name).Int("page", page).Msg("Category fetch aborted")
	return fmt.Errorf("fetch %s page %d: %w", cat.Name, page, err)
}

func errorKind(err error) string {
	switch {
	case scraper.IsAuthError(err):
		return "auth"
	case scraper.IsTransportError(err):
		return "transport"
	case errors.Is(err, &domain.ConfigurationError{}):
		return "config"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "other"
	}
}

func uniqueByID(items []models.Item) []models.Item {
	seen := make(map[string]struct{}, len(items))
	out := items[:0:0]
	for _, it := range items {
		if _, dup := seen[it.ID]; dup {
			continue
		}
		seen[it.ID] = struct{}{}
		out = append(out, it)
	}
	return out
}

func applyCap(items []models.Item, n int) []models.Item {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}
