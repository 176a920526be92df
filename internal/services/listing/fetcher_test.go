// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package listing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/iptbrowser/internal/models"
	"github.com/autobrr/iptbrowser/internal/scraper"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

// fakeSource serves generated pages and records every requested offset.
type fakeSource struct {
	mu    sync.Mutex
	pages map[string]func(offset int) ([]models.Item, error)
	calls map[string][]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		pages: make(map[string]func(int) ([]models.Item, error)),
		calls: make(map[string][]int),
	}
}

func (f *fakeSource) FetchPage(ctx context.Context, category models.Category, offset int) ([]models.Item, error) {
	f.mu.Lock()
	f.calls[category.Name] = append(f.calls[category.Name], offset)
	gen := f.pages[category.Name]
	f.mu.Unlock()

	if gen == nil {
		return nil, nil
	}
	return gen(offset)
}

func (f *fakeSource) offsets(category string) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.calls[category]...)
}

func (f *fakeSource) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += len(c)
	}
	return n
}

// hourly serves total items of category, item i uploaded i+1 hours before
// testNow, split into pages of pageSize.
func hourly(category string, total, pageSize int) func(int) ([]models.Item, error) {
	return func(offset int) ([]models.Item, error) {
		var out []models.Item
		for i := offset; i < offset+pageSize && i < total; i++ {
			out = append(out, item(category, i, testNow.Add(-time.Duration(i+1)*time.Hour)))
		}
		return out, nil
	}
}

func item(category string, i int, ts time.Time) models.Item {
	return models.Item{
		ID:        fmt.Sprintf("%s-%d", category, i),
		Name:      fmt.Sprintf("Release %d", i),
		Category:  category,
		Timestamp: ts,
		Snatched:  i,
	}
}

func intPtr(v int) *int { return &v }

func newTestFetcher(src PageSource, cfg FetcherConfig) *Fetcher {
	return NewFetcher(src, cfg, WithFetcherClock(fixedClock))
}

func TestFetchWithoutWindowFetchesOnePage(t *testing.T) {
	src := newFakeSource()
	src.pages["PC-ISO"] = hourly("PC-ISO", 1000, 10)

	items, err := newTestFetcher(src, FetcherConfig{PageSize: 10}).Fetch(context.Background(), "pc-iso", nil, nil)
	require.NoError(t, err)

	assert.Len(t, items, 10)
	assert.Equal(t, []int{0}, src.offsets("PC-ISO"))
}

func TestFetchStopsAtCutoffPage(t *testing.T) {
	tests := []struct {
		name        string
		days        int
		wantOffsets []int
		wantItems   int
	}{
		// item 47 is exactly 48h old; page 5 holds items 40-49
		{name: "cutoff inside page 5", days: 2, wantOffsets: []int{0, 10, 20, 30, 40}, wantItems: 48},
		// item 23 is exactly 24h old; page 3 holds items 20-29
		{name: "cutoff inside page 3", days: 1, wantOffsets: []int{0, 10, 20}, wantItems: 24},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFakeSource()
			src.pages["PC-ISO"] = hourly("PC-ISO", 1000, 10)

			items, err := newTestFetcher(src, FetcherConfig{PageSize: 10}).Fetch(context.Background(), "PC-ISO", intPtr(tt.days), nil)
			require.NoError(t, err)

			assert.Equal(t, tt.wantOffsets, src.offsets("PC-ISO"))
			assert.Len(t, items, tt.wantItems)

			cutoff := testNow.Add(-time.Duration(tt.days) * 24 * time.Hour)
			for _, it := range items {
				assert.False(t, it.Timestamp.Before(cutoff), "item %s older than cutoff", it.ID)
			}
		})
	}
}

func TestFetchStopsAtPageLimit(t *testing.T) {
	src := newFakeSource()
	// every item is one second older than the previous; 50 pages never leave a 1 day window
	src.pages["PC-Rip"] = func(offset int) ([]models.Item, error) {
		out := make([]models.Item, 0, DefaultPageSize)
		for i := offset; i < offset+DefaultPageSize; i++ {
			out = append(out, item("PC-Rip", i, testNow.Add(-time.Duration(i)*time.Second)))
		}
		return out, nil
	}

	items, err := newTestFetcher(src, FetcherConfig{}).Fetch(context.Background(), "PC-Rip", intPtr(1), nil)
	require.NoError(t, err)

	offsets := src.offsets("PC-Rip")
	require.Len(t, offsets, DefaultMaxPages)
	assert.Equal(t, (DefaultMaxPages-1)*DefaultPageSize, offsets[len(offsets)-1])
	assert.Len(t, items, DefaultMaxPages*DefaultPageSize)
}

func TestFetchNeverReturnsItemsBeforeCutoff(t *testing.T) {
	src := newFakeSource()
	src.pages["PC-ISO"] = func(offset int) ([]models.Item, error) {
		if offset > 0 {
			return nil, errors.New("unexpected second page")
		}
		return []models.Item{
			item("PC-ISO", 1, testNow.Add(-1*time.Hour)),
			item("PC-ISO", 2, testNow.Add(-47*time.Hour)),
			item("PC-ISO", 3, testNow.Add(-49*time.Hour)),
			item("PC-ISO", 4, testNow.Add(-300*time.Hour)),
		}, nil
	}

	items, err := newTestFetcher(src, FetcherConfig{PageSize: 4}).Fetch(context.Background(), "PC-ISO", intPtr(2), nil)
	require.NoError(t, err)

	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	assert.Equal(t, []string{"PC-ISO-1", "PC-ISO-2"}, ids)
}

func TestFetchStopsOnEmptyPage(t *testing.T) {
	src := newFakeSource()
	src.pages["PC-ISO"] = hourly("PC-ISO", 15, 10)

	items, err := newTestFetcher(src, FetcherConfig{PageSize: 10}).Fetch(context.Background(), "PC-ISO", intPtr(30), nil)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 10, 20}, src.offsets("PC-ISO"))
	assert.Len(t, items, 15)
}

func TestFetchAppliesItemCap(t *testing.T) {
	src := newFakeSource()
	src.pages["PC-ISO"] = hourly("PC-ISO", 1000, 10)
	f := newTestFetcher(src, FetcherConfig{PageSize: 10})

	items, err := f.Fetch(context.Background(), "PC-ISO", intPtr(30), intPtr(15))
	require.NoError(t, err)
	assert.Len(t, items, 15)
	assert.Equal(t, []int{0, 10}, src.offsets("PC-ISO"))

	items, err = f.Fetch(context.Background(), "PC-ISO", nil, intPtr(3))
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestFetchPageErrorAbortsCategory(t *testing.T) {
	src := newFakeSource()
	pages := hourly("PC-ISO", 1000, 10)
	src.pages["PC-ISO"] = func(offset int) ([]models.Item, error) {
		if offset == 10 {
			return nil, &scraper.UpstreamTransportError{StatusCode: 503, URL: "https://example.test/t?43;o=10"}
		}
		return pages(offset)
	}

	items, err := newTestFetcher(src, FetcherConfig{PageSize: 10}).Fetch(context.Background(), "PC-ISO", intPtr(30), nil)
	require.Error(t, err)
	assert.Nil(t, items)
	assert.True(t, scraper.IsTransportError(err))
	assert.Contains(t, err.Error(), "page 2")
	assert.Equal(t, []int{0, 10}, src.offsets("PC-ISO"))
}

func TestFetchPageTimeout(t *testing.T) {
	_, err := newTestFetcher(blockingSource{}, FetcherConfig{PageTimeout: 20 * time.Millisecond}).Fetch(context.Background(), "PC-ISO", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "timeout", errorKind(err))
}

type blockingSource struct{}

func (blockingSource) FetchPage(ctx context.Context, _ models.Category, _ int) ([]models.Item, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestFetchUnknownCategory(t *testing.T) {
	_, err := newTestFetcher(newFakeSource(), FetcherConfig{}).Fetch(context.Background(), "Books", nil, nil)
	assert.ErrorIs(t, err, ErrUnknownCategory)
}

func TestFetchSince(t *testing.T) {
	src := newFakeSource()
	src.pages["PC-ISO"] = hourly("PC-ISO", 1000, 10)
	f := newTestFetcher(src, FetcherConfig{PageSize: 10})

	// item 14 is 15h old; only items 0-13 are strictly newer
	items, err := f.FetchSince(context.Background(), "PC-ISO", testNow.Add(-15*time.Hour))
	require.NoError(t, err)

	assert.Len(t, items, 14)
	assert.Equal(t, "PC-ISO-0", items[0].ID)
	assert.Equal(t, "PC-ISO-13", items[13].ID)
	assert.Equal(t, []int{0, 10}, src.offsets("PC-ISO"))
}

func TestFetchSinceZeroFetchesOnePage(t *testing.T) {
	src := newFakeSource()
	src.pages["PC-ISO"] = hourly("PC-ISO", 1000, 10)

	items, err := newTestFetcher(src, FetcherConfig{PageSize: 10}).FetchSince(context.Background(), "PC-ISO", time.Time{})
	require.NoError(t, err)
	assert.Len(t, items, 10)
	assert.Equal(t, []int{0}, src.offsets("PC-ISO"))
}

func TestFetchManyReportsCategoriesSeparately(t *testing.T) {
	src := newFakeSource()
	src.pages["PC-ISO"] = hourly("PC-ISO", 100, 10)
	src.pages["PC-Rip"] = func(int) ([]models.Item, error) {
		return nil, &scraper.UpstreamAuthError{Reason: "session expired"}
	}
	src.pages["Movie/4K"] = hourly("Movie/4K", 5, 10)

	results := newTestFetcher(src, FetcherConfig{PageSize: 10}).FetchMany(context.Background(), []string{"PC-ISO", "PC-Rip", "Movie/4K"}, intPtr(1), nil)
	require.Len(t, results, 3)

	assert.Equal(t, "PC-ISO", results[0].Category)
	assert.NoError(t, results[0].Err)
	assert.Len(t, results[0].Items, 24)

	assert.Equal(t, "PC-Rip", results[1].Category)
	assert.True(t, scraper.IsAuthError(results[1].Err))
	assert.Nil(t, results[1].Items)

	assert.NoError(t, results[2].Err)
	assert.Len(t, results[2].Items, 5)
}

func TestFetcherConfigDefaults(t *testing.T) {
	cfg := NewFetcher(newFakeSource(), FetcherConfig{PageSize: -1}).Config()
	assert.Equal(t, FetcherConfig{
		PageSize:    DefaultPageSize,
		MaxPages:    DefaultMaxPages,
		PageTimeout: DefaultPageTimeout,
		Concurrency: DefaultFetchConcurrency,
	}, cfg)
}
