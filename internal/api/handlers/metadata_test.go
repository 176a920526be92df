// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/iptbrowser/internal/dedup"
	"github.com/autobrr/iptbrowser/internal/models"
	"github.com/autobrr/iptbrowser/internal/services/listing"
	"github.com/autobrr/iptbrowser/internal/services/metadata"
)

type fakeMovies struct {
	configured bool
	err        error
}

func (f *fakeMovies) Configured() bool { return f.configured }

func (f *fakeMovies) Lookup(_ context.Context, imdbID, title string, year int) (*metadata.MovieMetadata, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &metadata.MovieMetadata{Title: title}, nil
}

func (f *fakeMovies) TestConnection(context.Context) error { return f.err }

type fakeGames struct {
	configured bool
	err        error
	token      metadata.TokenStatus
	searched   []string
}

func (f *fakeGames) Configured() bool { return f.configured }

func (f *fakeGames) SearchGame(_ context.Context, name, platform string) (*metadata.GameMetadata, error) {
	f.searched = append(f.searched, name+"|"+platform)
	if f.err != nil {
		return nil, f.err
	}
	return &metadata.GameMetadata{IGDBID: 7, Name: name}, nil
}

func (f *fakeGames) TestConnection(ctx context.Context) (*metadata.GameMetadata, error) {
	return f.SearchGame(ctx, "Half-Life", "PC")
}

func (f *fakeGames) TokenStatus() metadata.TokenStatus { return f.token }

type fakeQueue struct {
	enqueued []dedup.Entry
	results  map[string]*metadata.Result
}

func (f *fakeQueue) Enqueue(entries []dedup.Entry) int {
	f.enqueued = append(f.enqueued, entries...)
	return len(entries)
}

func (f *fakeQueue) Lookup(d models.Domain, key string) (*metadata.Result, bool) {
	r, ok := f.results[string(d)+"/"+key]
	return r, ok
}

func (f *fakeQueue) Pending() int { return len(f.enqueued) }

func TestSearchGame(t *testing.T) {
	tests := []struct {
		name        string
		configured  bool
		err         error
		body        string
		wantStatus  int
		wantSuccess bool
		wantError   string
	}{
		{name: "found", configured: true, body: `{"game_name":"Doom","platform":"PC"}`, wantStatus: http.StatusOK, wantSuccess: true},
		{name: "missing name", configured: true, body: `{}`, wantStatus: http.StatusBadRequest},
		{name: "not configured", body: `{"game_name":"Doom"}`, wantStatus: http.StatusBadRequest, wantError: "not configured"},
		{name: "not found", configured: true, err: metadata.ErrNotFound, body: `{"game_name":"Doom"}`, wantStatus: http.StatusOK, wantError: "Game not found in IGDB database"},
		{name: "rate limited", configured: true, err: &metadata.APIError{Provider: "igdb", StatusCode: http.StatusTooManyRequests}, body: `{"game_name":"Doom"}`, wantStatus: http.StatusTooManyRequests},
		{name: "bad credentials", configured: true, err: fmt.Errorf("token: %w", metadata.ErrInvalidCredentials), body: `{"game_name":"Doom"}`, wantStatus: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewMetadataHandler(&fakeMovies{}, &fakeGames{configured: tt.configured, err: tt.err}, &fakeQueue{}, &fakeListings{})

			rec := httptest.NewRecorder()
			h.SearchGame(rec, httptest.NewRequest(http.MethodPost, "/api/igdb/search", strings.NewReader(tt.body)))
			assert.Equal(t, tt.wantStatus, rec.Code)

			var body metadataResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.wantSuccess, body.Success)
			if tt.wantError != "" {
				assert.Contains(t, body.Error, tt.wantError)
			}
		})
	}
}

func TestGameStatusAndTest(t *testing.T) {
	expiry := time.Now().Add(48 * time.Hour)
	games := &fakeGames{configured: true, token: metadata.TokenStatus{HasToken: true, Valid: true, Expiry: &expiry, ExpiresInDays: 2}}
	h := NewMetadataHandler(&fakeMovies{}, games, &fakeQueue{}, &fakeListings{})

	rec := httptest.NewRecorder()
	h.GameStatus(rec, httptest.NewRequest(http.MethodGet, "/api/igdb/status?enabled=true", nil))
	var status igdbStatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.True(t, status.Configured)
	assert.True(t, status.Enabled)
	assert.True(t, status.TokenValid)

	rec = httptest.NewRecorder()
	h.TestGames(rec, httptest.NewRequest(http.MethodPost, "/api/igdb/test", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var res igdbTestResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.True(t, res.Success)
	assert.Equal(t, "Half-Life", res.TestGame)
	assert.NotNil(t, res.TokenExpiry)
	assert.Equal(t, []string{"Half-Life|PC"}, games.searched)
}

func TestSearchMovie(t *testing.T) {
	h := NewMetadataHandler(&fakeMovies{configured: true}, &fakeGames{}, &fakeQueue{}, &fakeListings{})

	rec := httptest.NewRecorder()
	h.SearchMovie(rec, httptest.NewRequest(http.MethodPost, "/api/tmdb/search", strings.NewReader(`{"title":"Dune","year":2021}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Dune")

	rec = httptest.NewRecorder()
	h.SearchMovie(rec, httptest.NewRequest(http.MethodPost, "/api/tmdb/search", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	h = NewMetadataHandler(&fakeMovies{configured: true, err: metadata.ErrNotFound}, &fakeGames{}, &fakeQueue{}, &fakeListings{})
	rec = httptest.NewRecorder()
	h.SearchMovie(rec, httptest.NewRequest(http.MethodPost, "/api/tmdb/search", strings.NewReader(`{"title":"Nope"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":false`)
}

func TestMovieStatus(t *testing.T) {
	h := NewMetadataHandler(&fakeMovies{}, &fakeGames{}, &fakeQueue{}, &fakeListings{})
	rec := httptest.NewRecorder()
	h.MovieStatus(rec, httptest.NewRequest(http.MethodGet, "/api/tmdb/status", nil))
	assert.Contains(t, rec.Body.String(), `"configured":false`)

	h = NewMetadataHandler(&fakeMovies{configured: true}, &fakeGames{}, &fakeQueue{}, &fakeListings{})
	rec = httptest.NewRecorder()
	h.MovieStatus(rec, httptest.NewRequest(http.MethodGet, "/api/tmdb/status", nil))
	assert.JSONEq(t, `{"configured":true,"reachable":true}`, rec.Body.String())
}

func TestEnrichQueuesCachedEntries(t *testing.T) {
	svc := &fakeListings{listResult: &listing.ListResult{Items: []dedup.Entry{
		{Item: models.Item{ID: "1", Name: "Doom"}, Domain: models.DomainGame, Key: "doom"},
		{Item: models.Item{ID: "2", Name: "Dune"}, Domain: models.DomainMovie, Key: "dune"},
	}}}
	queue := &fakeQueue{}
	h := NewMetadataHandler(&fakeMovies{}, &fakeGames{}, queue, svc)

	rec := httptest.NewRecorder()
	h.Enrich(rec, httptest.NewRequest(http.MethodPost, "/api/metadata/enrich", strings.NewReader(`{"categories":["PC-ISO"]}`)))

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"queued":2,"pending":2}`, rec.Body.String())
	assert.Equal(t, listing.ModeCacheOnly, svc.lastQuery.Mode)
	assert.True(t, svc.lastQuery.Dedup)
	assert.Equal(t, []string{"PC-ISO"}, svc.lastQuery.Categories)
	assert.Len(t, queue.enqueued, 2)
}

func TestMetadataResult(t *testing.T) {
	queue := &fakeQueue{results: map[string]*metadata.Result{
		"game/half life 2": {Domain: models.DomainGame, Key: "half life 2", Found: true},
	}}
	h := NewMetadataHandler(&fakeMovies{}, &fakeGames{}, queue, &fakeListings{})

	r := chi.NewRouter()
	r.Get("/api/metadata/{domain}/{key}", h.Result)

	tests := []struct {
		path       string
		wantStatus int
	}{
		{path: "/api/metadata/game/half%20life%202", wantStatus: http.StatusOK},
		{path: "/api/metadata/game/unknown", wantStatus: http.StatusNotFound},
		{path: "/api/metadata/music/x", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}
