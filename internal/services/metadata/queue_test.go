// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metadata

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/iptbrowser/internal/dedup"
	"github.com/autobrr/iptbrowser/internal/domain"
	"github.com/autobrr/iptbrowser/internal/models"
)

type fakeMovies struct {
	mu    sync.Mutex
	calls []Job
	err   error
}

func (f *fakeMovies) Lookup(_ context.Context, imdbID, title string, year int) (*MovieMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Job{IMDbID: imdbID, Title: title, Year: year})
	if f.err != nil {
		return nil, f.err
	}
	return &MovieMetadata{Title: title, Year: year}, nil
}

func (f *fakeMovies) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeGames struct {
	mu    sync.Mutex
	calls []Job
	block chan struct{}
}

func (f *fakeGames) SearchGame(ctx context.Context, name, platform string) (*GameMetadata, error) {
	f.mu.Lock()
	f.calls = append(f.calls, Job{Title: name, Platform: platform})
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if name == "Missing" {
		return nil, ErrNotFound
	}
	return &GameMetadata{Name: name}, nil
}

func (f *fakeGames) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func movieEntry(key, externalID string, year int) dedup.Entry {
	e := dedup.Entry{
		Item:   models.Item{ID: key, Category: "Movie/4K", ExternalID: externalID},
		Domain: models.DomainMovie,
		Key:    key,
	}
	if year > 0 {
		e.Metadata = &models.ReleaseMetadata{Year: year}
	}
	return e
}

func gameEntry(key, display, category string) dedup.Entry {
	return dedup.Entry{
		Item:        models.Item{ID: key, Category: category},
		Domain:      models.DomainGame,
		Key:         key,
		DisplayName: display,
	}
}

func TestJobFromEntry(t *testing.T) {
	tests := []struct {
		name   string
		entry  dedup.Entry
		want   Job
		wantOK bool
	}{
		{
			name:   "movie with imdb id and year",
			entry:  movieEntry("dark knight", "tt0468569", 2008),
			want:   Job{Domain: models.DomainMovie, Key: "dark knight", Title: "dark knight", Year: 2008, IMDbID: "tt0468569"},
			wantOK: true,
		},
		{
			name:   "movie ignores non imdb external ids",
			entry:  movieEntry("heat", "12345", 0),
			want:   Job{Domain: models.DomainMovie, Key: "heat", Title: "heat"},
			wantOK: true,
		},
		{
			name:   "pc game",
			entry:  gameEntry("hades ii", "Hades Ii", "PC-Rip"),
			want:   Job{Domain: models.DomainGame, Key: "hades ii", Title: "Hades Ii", Platform: "PC"},
			wantOK: true,
		},
		{
			name:   "multi platform category",
			entry:  gameEntry("halo", "Halo", "Xbox"),
			want:   Job{Domain: models.DomainGame, Key: "halo", Title: "Halo"},
			wantOK: true,
		},
		{name: "passthrough", entry: dedup.Entry{Domain: models.DomainOther, Key: "x"}},
		{name: "ungroupable", entry: gameEntry("", "Odd", "PC-ISO")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := JobFromEntry(tt.entry)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPlatformForCategory(t *testing.T) {
	assert.Equal(t, "PC", PlatformForCategory("pc-iso"))
	assert.Equal(t, "PC", PlatformForCategory("PC-Mixed"))
	assert.Equal(t, "Nintendo Switch", PlatformForCategory("Nintendo"))
	assert.Equal(t, "Wii", PlatformForCategory("Wii"))
	assert.Empty(t, PlatformForCategory("Playstation"))
	assert.Empty(t, PlatformForCategory("Books"))
}

func TestQueueProcessesEntries(t *testing.T) {
	movies := &fakeMovies{}
	games := &fakeGames{}
	q := NewQueue(movies, games, WithQueueDelay(0))

	entries := []dedup.Entry{
		movieEntry("dark knight", "tt0468569", 2008),
		gameEntry("hades ii", "Hades Ii", "PC-Rip"),
		gameEntry("missing", "Missing", "PC-ISO"),
		{Domain: models.DomainOther, Key: "other"},
	}
	assert.Equal(t, 3, q.Enqueue(entries))
	assert.Zero(t, q.Enqueue(entries), "pending jobs are not queued twice")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	require.Eventually(t, func() bool { return q.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)

	res, ok := q.Lookup(models.DomainMovie, "dark knight")
	require.True(t, ok)
	assert.True(t, res.Found)
	assert.Equal(t, 2008, res.Movie.Year)
	assert.False(t, res.UpdatedAt.IsZero())

	res, ok = q.Lookup(models.DomainGame, "hades ii")
	require.True(t, ok)
	assert.Equal(t, "Hades Ii", res.Game.Name)

	res, ok = q.Lookup(models.DomainGame, "missing")
	require.True(t, ok, "misses are published")
	assert.False(t, res.Found)
	assert.Empty(t, res.Error)

	_, ok = q.Lookup(models.DomainMovie, "hades ii")
	assert.False(t, ok, "keys are scoped by domain")

	assert.Zero(t, q.Enqueue(entries), "published results are not looked up again")
	assert.Equal(t, 1, movies.callCount())
	assert.Equal(t, 2, games.callCount())
}

func TestQueueRecordsProviderErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		published bool
	}{
		{name: "provider failure", err: errors.New("upstream exploded"), published: true},
		{name: "not configured", err: &domain.ConfigurationError{Field: "tmdbApiKey"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewQueue(&fakeMovies{err: tt.err}, nil, WithQueueDelay(0))
			require.Equal(t, 1, q.Enqueue([]dedup.Entry{movieEntry("heat", "", 1995)}))

			q.Start(context.Background())
			defer q.Stop()
			require.Eventually(t, func() bool { return q.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)

			res, ok := q.Lookup(models.DomainMovie, "heat")
			assert.Equal(t, tt.published, ok)
			if ok {
				assert.Equal(t, "upstream exploded", res.Error)
				assert.False(t, res.Found)
			}
		})
	}
}

func TestQueueSkipsDomainsWithoutSource(t *testing.T) {
	q := NewQueue(nil, &fakeGames{})
	assert.Zero(t, q.Enqueue([]dedup.Entry{movieEntry("heat", "", 0)}))
	assert.Equal(t, 1, q.Enqueue([]dedup.Entry{gameEntry("halo", "Halo", "Xbox")}))
}

func TestQueueDropsWhenFull(t *testing.T) {
	q := NewQueue(nil, &fakeGames{}, WithQueueSize(2))
	entries := []dedup.Entry{
		gameEntry("a", "A", "PC-ISO"),
		gameEntry("b", "B", "PC-ISO"),
		gameEntry("c", "C", "PC-ISO"),
	}
	assert.Equal(t, 2, q.Enqueue(entries))
	assert.Equal(t, 2, q.Pending())
}

func TestQueueStopCancelsInFlightLookup(t *testing.T) {
	games := &fakeGames{block: make(chan struct{})}
	q := NewQueue(nil, games, WithQueueDelay(time.Hour))
	q.Enqueue([]dedup.Entry{gameEntry("a", "A", "PC-ISO"), gameEntry("b", "B", "PC-ISO")})

	q.Start(context.Background())
	require.Eventually(t, func() bool { return games.callCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		q.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	_, ok := q.Lookup(models.DomainGame, "a")
	assert.False(t, ok, "cancelled lookups are not published")
	assert.Equal(t, 1, games.callCount(), "no job is dequeued after cancellation")
	assert.Equal(t, 2, q.Pending(), "the cancelled job is requeued next to the untouched one")
	assert.Len(t, q.jobs, 2)

	// the requeued lookup runs on the next start, behind "b"
	q.delay = 0
	close(games.block)
	q.Start(context.Background())
	defer q.Stop()
	require.Eventually(t, func() bool {
		_, ok := q.Lookup(models.DomainGame, "a")
		return ok
	}, 2*time.Second, 5*time.Millisecond)
}

func TestQueueNextKeepsJobReceivedAfterCancel(t *testing.T) {
	q := NewQueue(nil, &fakeGames{})
	require.Equal(t, 1, q.Enqueue([]dedup.Entry{gameEntry("a", "A", "PC-ISO")}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// a closed Done channel and a ready job race in the select; either way the
	// job must survive
	for i := 0; i < 50; i++ {
		_, ok := q.next(ctx)
		require.False(t, ok)
		require.Len(t, q.jobs, 1)
	}
	assert.Equal(t, 1, q.Pending())
}
