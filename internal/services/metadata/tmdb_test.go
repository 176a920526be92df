// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metadata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/iptbrowser/internal/domain"
)

func newTestTMDB(t *testing.T, handler http.HandlerFunc) (*TMDBClient, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c := NewTMDBClient("secret-key",
		WithTMDBBaseURL(srv.URL+"/3"),
		WithTMDBHTTPClient(srv.Client()),
		WithTMDBRetry(3, time.Millisecond),
	)
	return c, &hits
}

func TestTMDBFindByIMDb(t *testing.T) {
	c, hits := newTestTMDB(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/3/find/tt0468569", r.URL.Path)
		assert.Equal(t, "imdb_id", r.URL.Query().Get("external_source"))
		assert.Equal(t, "secret-key", r.URL.Query().Get("api_key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"movie_results": [{
			"id": 155, "title": "The Dark Knight", "release_date": "2008-07-16",
			"overview": "Batman raises the stakes.", "poster_path": "/qJ2tW6WMUDux911r6m7haRef0WH.jpg",
			"vote_average": 8.516, "vote_count": 33000, "genre_ids": [18, 28, 80, 53, 99999]
		}]}`))
	})

	m, err := c.FindByIMDb(context.Background(), "tt0468569")
	require.NoError(t, err)
	assert.Equal(t, &MovieMetadata{
		TMDBID:      155,
		IMDbID:      "tt0468569",
		Title:       "The Dark Knight",
		Year:        2008,
		ReleaseDate: "2008-07-16",
		Overview:    "Batman raises the stakes.",
		PosterURL:   "https://image.tmdb.org/t/p/w500/qJ2tW6WMUDux911r6m7haRef0WH.jpg",
		Rating:      8.5,
		VoteCount:   33000,
		Genres:      []string{"Drama", "Action", "Crime", "Thriller"},
	}, m)

	_, err = c.FindByIMDb(context.Background(), "tt0468569")
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(hits), "second lookup is served from cache")
}

func TestTMDBFindByIMDbMissIsCached(t *testing.T) {
	c, hits := newTestTMDB(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"movie_results": []}`))
	})

	for range 2 {
		_, err := c.FindByIMDb(context.Background(), "tt0000001")
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(hits))

	_, err := c.FindByIMDb(context.Background(), "12345")
	assert.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(hits), "malformed ids never reach the API")
}

func TestTMDBSearchMoviePrefersYear(t *testing.T) {
	c, _ := newTestTMDB(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/3/search/movie", r.URL.Path)
		assert.Equal(t, "dune", r.URL.Query().Get("query"))
		assert.Equal(t, "2021", r.URL.Query().Get("year"))
		_, _ = w.Write([]byte(`{"results": [
			{"id": 841, "title": "Dune", "release_date": "1984-12-14"},
			{"id": 438631, "title": "Dune", "release_date": "2021-09-15"}
		]}`))
	})

	m, err := c.SearchMovie(context.Background(), "dune", 2021)
	require.NoError(t, err)
	assert.Equal(t, 438631, m.TMDBID)
	assert.Equal(t, 2021, m.Year)
	assert.Empty(t, m.PosterURL)
}

func TestTMDBLookupFallsBackToSearch(t *testing.T) {
	c, _ := newTestTMDB(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/3/find/tt9999999":
			w.WriteHeader(http.StatusNotFound)
		case "/3/search/movie":
			_, _ = w.Write([]byte(`{"results": [{"id": 7, "title": "Heat", "release_date": "1995-12-15"}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	m, err := c.Lookup(context.Background(), "tt9999999", "heat", 1995)
	require.NoError(t, err)
	assert.Equal(t, 7, m.TMDBID)
}

func TestTMDBStatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		want     error
		wantHits int32
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, want: ErrInvalidCredentials, wantHits: 1},
		{name: "not found", status: http.StatusNotFound, want: ErrNotFound, wantHits: 1},
		{name: "rate limited is retried", status: http.StatusTooManyRequests, want: ErrRateLimited, wantHits: 3},
		{name: "server error is retried", status: http.StatusBadGateway, want: &APIError{}, wantHits: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, hits := newTestTMDB(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})

			_, err := c.SearchMovie(context.Background(), "heat", 0)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.NotContains(t, err.Error(), "secret-key")
			assert.Equal(t, tt.wantHits, atomic.LoadInt32(hits))
		})
	}
}

func TestTMDBRetrySucceedsAfterRateLimit(t *testing.T) {
	var calls int32
	c, _ := newTestTMDB(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"results": [{"id": 1, "title": "Alien", "release_date": "1979-05-25"}]}`))
	})

	m, err := c.SearchMovie(context.Background(), "alien", 1979)
	require.NoError(t, err)
	assert.Equal(t, "Alien", m.Title)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestTMDBRequiresAPIKey(t *testing.T) {
	c := NewTMDBClient("  ")
	assert.False(t, c.Configured())

	_, err := c.SearchMovie(context.Background(), "heat", 0)
	assert.ErrorIs(t, err, &domain.ConfigurationError{})

	c.SetAPIKey("key")
	assert.True(t, c.Configured())
}
