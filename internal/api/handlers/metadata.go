// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/iptbrowser/internal/dedup"
	"github.com/autobrr/iptbrowser/internal/models"
	"github.com/autobrr/iptbrowser/internal/services/listing"
	"github.com/autobrr/iptbrowser/internal/services/metadata"
)

type MovieProvider interface {
	Configured() bool
	Lookup(ctx context.Context, imdbID, title string, year int) (*metadata.MovieMetadata, error)
	TestConnection(ctx context.Context) error
}

type GameProvider interface {
	Configured() bool
	SearchGame(ctx context.Context, name, platform string) (*metadata.GameMetadata, error)
	TestConnection(ctx context.Context) (*metadata.GameMetadata, error)
	TokenStatus() metadata.TokenStatus
}

type EnrichmentQueue interface {
	Enqueue(entries []dedup.Entry) int
	Lookup(d models.Domain, key string) (*metadata.Result, bool)
	Pending() int
}

type MetadataHandler struct {
	movies   MovieProvider
	games    GameProvider
	queue    EnrichmentQueue
	listings ListingService
}

func NewMetadataHandler(movies MovieProvider, games GameProvider, queue EnrichmentQueue, listings ListingService) *MetadataHandler {
	return &MetadataHandler{movies: movies, games: games, queue: queue, listings: listings}
}

type metadataResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type igdbSearchRequest struct {
	GameName string `json:"game_name"`
	Platform string `json:"platform"`
}

type tmdbSearchRequest struct {
	Title  string `json:"title"`
	Year   int    `json:"year"`
	IMDbID string `json:"imdb_id"`
}

type enrichRequest struct {
	Categories []string `json:"categories"`
	Days       *int     `json:"days"`
}

func (h *MetadataHandler) SearchGame(w http.ResponseWriter, r *http.Request) {
	var req igdbSearchRequest
	if err := decodeJSON(r, &req, false); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.GameName) == "" {
		RespondError(w, http.StatusBadRequest, "game_name is required")
		return
	}
	if !h.games.Configured() {
		RespondJSON(w, http.StatusBadRequest, metadataResponse{Error: "IGDB credentials are not configured"})
		return
	}

	game, err := h.games.SearchGame(r.Context(), req.GameName, req.Platform)
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			RespondJSON(w, http.StatusOK, metadataResponse{Error: "Game not found in IGDB database"})
			return
		}
		respondProviderError(w, "IGDB", err)
		return
	}

	RespondJSON(w, http.StatusOK, metadataResponse{Success: true, Data: game})
}

type igdbStatusResponse struct {
	Configured     bool                 `json:"configured"`
	Enabled        bool                 `json:"enabled"`
	HasCredentials bool                 `json:"has_credentials"`
	TokenValid     bool                 `json:"token_valid"`
	Token          metadata.TokenStatus `json:"token"`
}

// GameStatus reports credential and token state. The enabled flag is a
// client-side preference echoed back from the query string.
func (h *MetadataHandler) GameStatus(w http.ResponseWriter, r *http.Request) {
	token := h.games.TokenStatus()
	configured := h.games.Configured()
	RespondJSON(w, http.StatusOK, igdbStatusResponse{
		Configured:     configured,
		Enabled:        queryBool(r, "enabled"),
		HasCredentials: configured,
		TokenValid:     token.Valid,
		Token:          token,
	})
}

type igdbTestResponse struct {
	Success     bool       `json:"success"`
	Message     string     `json:"message"`
	TokenExpiry *time.Time `json:"token_expiry,omitempty"`
	TestGame    string     `json:"test_game,omitempty"`
}

func (h *MetadataHandler) TestGames(w http.ResponseWriter, r *http.Request) {
	if !h.games.Configured() {
		RespondJSON(w, http.StatusBadRequest, igdbTestResponse{Message: "IGDB credentials are not configured"})
		return
	}

	game, err := h.games.TestConnection(r.Context())
	if err != nil {
		RespondJSON(w, providerStatus(err), igdbTestResponse{Message: "IGDB connection failed: " + err.Error()})
		return
	}

	RespondJSON(w, http.StatusOK, igdbTestResponse{
		Success:     true,
		Message:     "IGDB connection successful",
		TokenExpiry: h.games.TokenStatus().Expiry,
		TestGame:    game.Name,
	})
}

func (h *MetadataHandler) SearchMovie(w http.ResponseWriter, r *http.Request) {
	var req tmdbSearchRequest
	if err := decodeJSON(r, &req, false); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" && strings.TrimSpace(req.IMDbID) == "" {
		RespondError(w, http.StatusBadRequest, "title or imdb_id is required")
		return
	}
	if !h.movies.Configured() {
		RespondJSON(w, http.StatusBadRequest, metadataResponse{Error: "TMDB API key is not configured"})
		return
	}

	movie, err := h.movies.Lookup(r.Context(), req.IMDbID, req.Title, req.Year)
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			RespondJSON(w, http.StatusOK, metadataResponse{Error: "Movie not found in TMDB database"})
			return
		}
		respondProviderError(w, "TMDB", err)
		return
	}

	RespondJSON(w, http.StatusOK, metadataResponse{Success: true, Data: movie})
}

type tmdbStatusResponse struct {
	Configured bool   `json:"configured"`
	Reachable  bool   `json:"reachable"`
	Message    string `json:"message,omitempty"`
}

func (h *MetadataHandler) MovieStatus(w http.ResponseWriter, r *http.Request) {
	if !h.movies.Configured() {
		RespondJSON(w, http.StatusOK, tmdbStatusResponse{Message: "TMDB API key is not configured"})
		return
	}

	if err := h.movies.TestConnection(r.Context()); err != nil {
		RespondJSON(w, http.StatusOK, tmdbStatusResponse{Configured: true, Message: err.Error()})
		return
	}
	RespondJSON(w, http.StatusOK, tmdbStatusResponse{Configured: true, Reachable: true})
}

// Enrich queues lookups for the grouped entries currently in the cache.
func (h *MetadataHandler) Enrich(w http.ResponseWriter, r *http.Request) {
	var req enrichRequest
	if err := decodeJSON(r, &req, true); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.listings.List(r.Context(), listing.Query{
		Mode:       listing.ModeCacheOnly,
		Categories: req.Categories,
		Days:       req.Days,
		Dedup:      true,
	})
	if err != nil {
		respondListingError(w, err)
		return
	}

	queued := h.queue.Enqueue(res.Items)
	RespondJSON(w, http.StatusAccepted, map[string]int{"queued": queued, "pending": h.queue.Pending()})
}

func (h *MetadataHandler) Result(w http.ResponseWriter, r *http.Request) {
	d := models.Domain(chi.URLParam(r, "domain"))
	if d != models.DomainMovie && d != models.DomainGame {
		RespondError(w, http.StatusBadRequest, "domain must be movie or game")
		return
	}

	key, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil || key == "" {
		RespondError(w, http.StatusBadRequest, "Invalid key")
		return
	}

	res, ok := h.queue.Lookup(d, key)
	if !ok {
		RespondError(w, http.StatusNotFound, "No metadata for this entry yet")
		return
	}
	RespondJSON(w, http.StatusOK, res)
}

func respondProviderError(w http.ResponseWriter, provider string, err error) {
	log.Warn().Err(err).Str("provider", provider).Msg("Metadata lookup failed")
	RespondJSON(w, providerStatus(err), metadataResponse{Error: provider + " lookup failed: " + err.Error()})
}

func providerStatus(err error) int {
	if errors.Is(err, metadata.ErrRateLimited) {
		return http.StatusTooManyRequests
	}
	return http.StatusBadGateway
}
