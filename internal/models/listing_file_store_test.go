// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListingFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache", "cache.json")
	store := NewListingFileStore(path)

	rec, err := store.Load(ctx, "PC-ISO")
	require.NoError(t, err)
	assert.Nil(t, rec)

	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, &CacheRecord{
		Category:    "PC-ISO",
		Items:       []Item{{ID: "1", Name: "a", Category: "PC-ISO", Timestamp: now}},
		LastUpdated: now,
	}))
	require.NoError(t, store.Save(ctx, &CacheRecord{
		Category:    "Movie/4K",
		Items:       []Item{{ID: "2", Name: "b", Category: "Movie/4K", Timestamp: now}},
		LastUpdated: now,
	}))

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Movie/4K", records[0].Category)
	assert.Equal(t, "PC-ISO", records[1].Category)
	assert.True(t, records[1].CreatedAt.Equal(now))

	_, err = os.Stat(path + ".backup")
	assert.NoError(t, err, "second write keeps a backup of the previous file")

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)

	require.NoError(t, store.Delete(ctx, "PC-ISO"))
	rec, err = store.Load(ctx, "PC-ISO")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestListingFileStoreCorruptFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"records": {"PC-ISO": `), 0o644))

	store := NewListingFileStore(path)
	_, err := store.Load(ctx, "PC-ISO")
	assert.ErrorIs(t, err, ErrCacheCorrupt)

	require.NoError(t, os.WriteFile(path, []byte(`{"something": "else"}`), 0o644))
	_, err = store.Load(ctx, "PC-ISO")
	assert.ErrorIs(t, err, ErrCacheCorrupt)

	// a save replaces the corrupt file and moves it aside
	require.NoError(t, store.Save(ctx, &CacheRecord{Category: "PC-ISO", LastUpdated: time.Now()}))
	_, err = os.Stat(path + ".corrupt")
	assert.NoError(t, err)

	rec, err := store.Load(ctx, "PC-ISO")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Zero(t, rec.Count)
}

func TestListingFileStoreMigratesLegacyLayouts(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		windowDays int
	}{
		{
			name: "timestamp layout",
			body: `{
				"timestamp": "2024-11-02T10:00:00",
				"data": [
					{"id": "7", "name": "Older", "category": "PC-ISO", "size": "1 GB", "seeders": 3, "leechers": -1, "snatched": 9,
					 "upload_time": "2 days ago", "timestamp": "2024-10-31T10:00:00", "download_link": "/download.php/7/x.torrent", "is_freeleech": true, "url": "/t/7"},
					{"id": "8", "name": "Newer", "category": "PC-ISO", "timestamp": "2024-11-01T10:00:00.123456"},
					{"id": "8", "name": "Newer duplicate", "category": "PC-ISO", "timestamp": "2024-11-01T10:00:00"},
					{"id": "9", "name": "Rip", "category": "PC-Rip", "timestamp": "2024-11-01T09:00:00"},
					{"id": "", "name": "No id", "category": "PC-Rip"}
				]
			}`,
		},
		{
			name: "metadata layout",
			body: `{
				"metadata": {"created_at": "2024-10-01T00:00:00", "updated_at": "2024-11-02T10:00:00", "default_window_days": 14},
				"data": [
					{"id": "7", "name": "Older", "category": "PC-ISO", "seeders": 3, "leechers": -1, "snatched": 9, "timestamp": "2024-10-31T10:00:00", "is_freeleech": true},
					{"id": "8", "name": "Newer", "category": "PC-ISO", "timestamp": "2024-11-01T10:00:00"},
					{"id": "9", "name": "Rip", "category": "PC-Rip", "timestamp": "2024-11-01T09:00:00"}
				]
			}`,
			windowDays: 14,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cache.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o644))
			store := NewListingFileStore(path)

			rec, err := store.Load(context.Background(), "PC-ISO")
			require.NoError(t, err)
			require.NotNil(t, rec)

			require.Len(t, rec.Items, 2)
			assert.Equal(t, "8", rec.Items[0].ID)
			assert.Equal(t, "Newer", rec.Items[0].Name)
			assert.Equal(t, "7", rec.Items[1].ID)
			assert.Zero(t, rec.Items[1].Leechers)
			assert.True(t, rec.Items[1].Freeleech)
			assert.Equal(t, 2, rec.Count)
			assert.Equal(t, tt.windowDays, rec.WindowDays)
			assert.False(t, rec.LastUpdated.IsZero())

			records, err := store.List(context.Background())
			require.NoError(t, err)
			assert.Len(t, records, 2)
		})
	}
}
