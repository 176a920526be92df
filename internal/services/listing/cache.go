// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package listing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/iptbrowser/internal/models"
)

const DefaultCacheTTL = 15 * time.Minute

// RecordStore persists cache records. Save must be atomic: a concurrent
// Load never observes a partially written record.
type RecordStore interface {
	Load(ctx context.Context, category string) (*models.CacheRecord, error)
	Save(ctx context.Context, rec *models.CacheRecord) error
	List(ctx context.Context) ([]models.CacheRecord, error)
	Delete(ctx context.Context, category string) error
}

type MergeKind int

const (
	// Incremental keeps every cached item and adds unseen IDs. Counts of
	// already cached IDs are not refreshed.
	Incremental MergeKind = iota
	// FullWindow keeps the fresh batch plus cached items still inside the
	// window. Fresh copies replace cached ones.
	FullWindow
)

func (k MergeKind) String() string {
	if k == FullWindow {
		return "full_window"
	}
	return "incremental"
}

type MergeMode struct {
	Kind MergeKind
	Days int
}

// Cache is the freshness cache over a RecordStore. Merges for one category
// are serialized; different categories merge independently.
type Cache struct {
	store   RecordStore
	ttl     time.Duration
	now     func() time.Time
	metrics *Metrics
	log     zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type CacheOption func(*Cache)

func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

func WithCacheMetrics(m *Metrics) CacheOption {
	return func(c *Cache) { c.metrics = m }
}

func NewCache(store RecordStore, ttl time.Duration, opts ...CacheOption) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c := &Cache{
		store: store,
		ttl:   ttl,
		now:   time.Now,
		log:   log.Logger.With().Str("module", "cache").Logger(),
		locks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	return c
}

func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get loads a category record. Read failures and corrupt records are logged
// and reported as absent so a broken cache never blocks a fresh fetch.
func (c *Cache) Get(ctx context.Context, category string) (*models.CacheRecord, bool) {
	rec, err := c.store.Load(ctx, category)
	if err != nil {
		if errors.Is(err, models.ErrCacheCorrupt) {
			c.metrics.CacheReads.WithLabelValues("corrupt").Inc()
			c.log.Warn().Err(err).Str("category", category).Msg("Ignoring corrupt cache record")
		} else {
			c.metrics.CacheReads.WithLabelValues("miss").Inc()
			c.log.Error().Err(err).Str("category", category).Msg("Failed to read cache record")
		}
		return nil, false
	}
	if rec == nil {
		c.metrics.CacheReads.WithLabelValues("miss").Inc()
		return nil, false
	}

	if c.IsValidForDefaultQuery(rec) {
		c.metrics.CacheReads.WithLabelValues("hit").Inc()
	} else {
		c.metrics.CacheReads.WithLabelValues("stale").Inc()
	}
	return rec, true
}

// List returns every readable record. Failures degrade to an empty list.
func (c *Cache) List(ctx context.Context) []models.CacheRecord {
	records, err := c.store.List(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to list cache records")
		return nil
	}
	return records
}

// IsValidForDefaultQuery reports whether rec may answer a query without a
// lookback window.
func (c *Cache) IsValidForDefaultQuery(rec *models.CacheRecord) bool {
	if rec == nil || rec.LastUpdated.IsZero() {
		return false
	}
	return c.now().Sub(rec.LastUpdated) < c.ttl
}

// Merge folds fresh items into the category record and persists it. It
// returns the stored record and how many IDs were new to the cache.
func (c *Cache) Merge(ctx context.Context, category string, fresh []models.Item, mode MergeMode) (*models.CacheRecord, int, error) {
	unlock := c.lock(category)
	defer unlock()

	prev, _ := c.Get(ctx, category)
	now := c.now()

	var cached []models.Item
	if prev != nil {
		cached = prev.Items
	}
	merged, added := MergeItems(cached, fresh, mode, now)

	rec := &models.CacheRecord{
		Category:    category,
		Items:       merged,
		LastUpdated: now,
		CreatedAt:   now,
		WindowDays:  mode.Days,
	}
	if prev != nil {
		if !prev.CreatedAt.IsZero() {
			rec.CreatedAt = prev.CreatedAt
		}
		if mode.Kind == Incremental {
			rec.WindowDays = prev.WindowDays
		}
	}
	rec.Summarize()

	if err := c.store.Save(ctx, rec); err != nil {
		return nil, 0, fmt.Errorf("save cache record %s: %w", category, err)
	}

	c.metrics.CacheMerges.WithLabelValues(mode.Kind.String()).Inc()
	c.metrics.CacheItems.WithLabelValues(category).Set(float64(rec.Count))
	c.log.Debug().Str("category", category).Str("mode", mode.Kind.String()).Int("added", added).Int("count", rec.Count).Msg("Merged cache record")

	return rec, added, nil
}

// Clear drops one category, or every category when category is empty.
func (c *Cache) Clear(ctx context.Context, category string) error {
	if category != "" {
		unlock := c.lock(category)
		defer unlock()
	}
	return c.store.Delete(ctx, category)
}

func (c *Cache) lock(category string) func() {
	c.mu.Lock()
	m, ok := c.locks[category]
	if !ok {
		m = &sync.Mutex{}
		c.locks[category] = m
	}
	c.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// MergeItems merges fresh into cached without modifying either slice. The
// result is unique by ID and sorted newest first. Merging the same batch
// twice yields the same items as merging it once.
func MergeItems(cached, fresh []models.Item, mode MergeMode, now time.Time) ([]models.Item, int) {
	cachedIDs := make(map[string]struct{}, len(cached))
	for _, it := range cached {
		cachedIDs[it.ID] = struct{}{}
	}

	out := make([]models.Item, 0, len(cached)+len(fresh))
	seen := make(map[string]struct{}, len(cached)+len(fresh))
	added := 0

	switch mode.Kind {
	case FullWindow:
		for _, it := range fresh {
			if _, dup := seen[it.ID]; dup {
				continue
			}
			seen[it.ID] = struct{}{}
			if _, ok := cachedIDs[it.ID]; !ok {
				added++
			}
			out = append(out, it)
		}
		if mode.Days > 0 {
			cutoff := now.Add(-time.Duration(mode.Days) * 24 * time.Hour)
			for _, it := range cached {
				if _, dup := seen[it.ID]; dup || it.Timestamp.Before(cutoff) {
					continue
				}
				seen[it.ID] = struct{}{}
				out = append(out, it)
			}
		}

	default:
		for _, it := range cached {
			if _, dup := seen[it.ID]; dup {
				continue
			}
			seen[it.ID] = struct{}{}
			out = append(out, it)
		}
		for _, it := range fresh {
			if _, dup := seen[it.ID]; dup {
				continue
			}
			seen[it.ID] = struct{}{}
			added++
			out = append(out, it)
		}
	}

	models.SortItemsNewestFirst(out)
	return out, added
}
