// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metadata looks up movie details on TMDB and game details on IGDB
// and enriches grouped listing entries in the background.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/iptbrowser/internal/buildinfo"
	"github.com/autobrr/iptbrowser/internal/domain"
)

const (
	DefaultTMDBBaseURL = "https://api.themoviedb.org/3"
	tmdbImageBaseURL   = "https://image.tmdb.org/t/p/w500"
)

var tmdbGenres = map[int]string{
	28:    "Action",
	12:    "Adventure",
	16:    "Animation",
	35:    "Comedy",
	80:    "Crime",
	99:    "Documentary",
	18:    "Drama",
	10751: "Family",
	14:    "Fantasy",
	36:    "History",
	27:    "Horror",
	10402: "Music",
	9648:  "Mystery",
	10749: "Romance",
	878:   "Science Fiction",
	10770: "TV Movie",
	53:    "Thriller",
	10752: "War",
	37:    "Western",
}

// MovieMetadata is the subset of a TMDB movie shown next to a listing group.
type MovieMetadata struct {
	TMDBID      int      `json:"tmdbId"`
	IMDbID      string   `json:"imdbId,omitempty"`
	Title       string   `json:"title"`
	Year        int      `json:"year,omitempty"`
	ReleaseDate string   `json:"releaseDate,omitempty"`
	Overview    string   `json:"overview,omitempty"`
	PosterURL   string   `json:"posterUrl,omitempty"`
	BackdropURL string   `json:"backdropUrl,omitempty"`
	Rating      float64  `json:"rating"`
	VoteCount   int      `json:"voteCount"`
	Genres      []string `json:"genres,omitempty"`
}

type tmdbMovie struct {
	ID           int     `json:"id"`
	Title        string  `json:"title"`
	ReleaseDate  string  `json:"release_date"`
	Overview     string  `json:"overview"`
	PosterPath   string  `json:"poster_path"`
	BackdropPath string  `json:"backdrop_path"`
	VoteAverage  float64 `json:"vote_average"`
	VoteCount    int     `json:"vote_count"`
	GenreIDs     []int   `json:"genre_ids"`
}

type tmdbFindResponse struct {
	MovieResults []tmdbMovie `json:"movie_results"`
}

type tmdbSearchResponse struct {
	Results []tmdbMovie `json:"results"`
}

// TMDBClient queries the TMDB v3 API. Results, including misses, are cached
// for the configured TTL.
type TMDBClient struct {
	baseURL    string
	httpClient *http.Client
	retry      retryPolicy
	cache      *ttlcache.Cache[string, *MovieMetadata]
	log        zerolog.Logger

	mu     sync.RWMutex
	apiKey string
}

type TMDBOption func(*TMDBClient)

func WithTMDBBaseURL(u string) TMDBOption {
	return func(c *TMDBClient) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithTMDBHTTPClient(hc *http.Client) TMDBOption {
	return func(c *TMDBClient) { c.httpClient = hc }
}

func WithTMDBRetry(attempts uint, delay time.Duration) TMDBOption {
	return func(c *TMDBClient) { c.retry = retryPolicy{attempts: attempts, delay: delay} }
}

func WithTMDBCacheTTL(ttl time.Duration) TMDBOption {
	return func(c *TMDBClient) {
		if ttl > 0 {
			c.cache = ttlcache.New(ttlcache.Options[string, *MovieMetadata]{}.SetDefaultTTL(ttl))
		}
	}
}

func NewTMDBClient(apiKey string, opts ...TMDBOption) *TMDBClient {
	c := &TMDBClient{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    DefaultTMDBBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		retry:      retryPolicy{attempts: defaultAttempts, delay: defaultRetryDelay},
		cache:      ttlcache.New(ttlcache.Options[string, *MovieMetadata]{}.SetDefaultTTL(defaultCacheTTL)),
		log:        log.Logger.With().Str("module", "tmdb").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetAPIKey swaps the key used for subsequent requests.
func (c *TMDBClient) SetAPIKey(key string) {
	c.mu.Lock()
	c.apiKey = strings.TrimSpace(key)
	c.mu.Unlock()
}

func (c *TMDBClient) Configured() bool {
	return c.key() != ""
}

func (c *TMDBClient) key() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey
}

// FindByIMDb resolves an IMDb id (tt1234567) to a movie.
func (c *TMDBClient) FindByIMDb(ctx context.Context, imdbID string) (*MovieMetadata, error) {
	imdbID = strings.TrimSpace(imdbID)
	if !strings.HasPrefix(imdbID, "tt") || len(imdbID) < 4 {
		return nil, fmt.Errorf("invalid IMDb id %q", imdbID)
	}

	cacheKey := "imdb:" + imdbID
	if m, ok := c.cache.Get(cacheKey); ok {
		return cachedMovie(m)
	}

	var resp tmdbFindResponse
	params := url.Values{"external_source": {"imdb_id"}}
	if err := c.get(ctx, "/find/"+url.PathEscape(imdbID), params, &resp); err != nil {
		return nil, c.remember(cacheKey, err)
	}
	if len(resp.MovieResults) == 0 {
		c.cache.Set(cacheKey, nil, ttlcache.DefaultTTL)
		return nil, ErrNotFound
	}

	m := convertMovie(resp.MovieResults[0])
	m.IMDbID = imdbID
	c.cache.Set(cacheKey, m, ttlcache.DefaultTTL)
	return m, nil
}

// SearchMovie searches by title. When year is set, the first result released
// that year wins over the provider's top hit.
func (c *TMDBClient) SearchMovie(ctx context.Context, title string, year int) (*MovieMetadata, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errors.New("search title is empty")
	}

	cacheKey := "search:" + strings.ToLower(title) + ":" + strconv.Itoa(year)
	if m, ok := c.cache.Get(cacheKey); ok {
		return cachedMovie(m)
	}

	params := url.Values{"query": {title}, "include_adult": {"false"}}
	if year > 0 {
		params.Set("year", strconv.Itoa(year))
	}

	var resp tmdbSearchResponse
	if err := c.get(ctx, "/search/movie", params, &resp); err != nil {
		return nil, c.remember(cacheKey, err)
	}
	if len(resp.Results) == 0 {
		c.cache.Set(cacheKey, nil, ttlcache.DefaultTTL)
		return nil, ErrNotFound
	}

	best := resp.Results[0]
	if year > 0 {
		for _, r := range resp.Results {
			if releaseYear(r.ReleaseDate) == year {
				best = r
				break
			}
		}
	}

	m := convertMovie(best)
	c.cache.Set(cacheKey, m, ttlcache.DefaultTTL)
	return m, nil
}

// Lookup prefers the IMDb id and falls back to a title search when the id is
// missing or unknown to TMDB.
func (c *TMDBClient) Lookup(ctx context.Context, imdbID, title string, year int) (*MovieMetadata, error) {
	if imdbID != "" {
		m, err := c.FindByIMDb(ctx, imdbID)
		if err == nil || title == "" || !errors.Is(err, ErrNotFound) {
			return m, err
		}
	}
	return c.SearchMovie(ctx, title, year)
}

// TestConnection checks the API key against the configuration endpoint.
func (c *TMDBClient) TestConnection(ctx context.Context) error {
	var out map[string]any
	return c.get(ctx, "/configuration", nil, &out)
}

func (c *TMDBClient) get(ctx context.Context, path string, params url.Values, out any) error {
	key := c.key()
	if key == "" {
		return &domain.ConfigurationError{Field: "tmdbApiKey"}
	}

	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("api_key", key)
	q.Set("language", "en-US")
	target := c.baseURL + path + "?" + q.Encode()

	return doJSON(ctx, c.httpClient, "tmdb", c.retry, c.log, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", buildinfo.UserAgent)
		return req, nil
	}, out)
}

// remember caches a 404 as a miss and passes every other error through.
func (c *TMDBClient) remember(cacheKey string, err error) error {
	if errors.Is(err, ErrNotFound) {
		c.cache.Set(cacheKey, nil, ttlcache.DefaultTTL)
	}
	return err
}

func cachedMovie(m *MovieMetadata) (*MovieMetadata, error) {
	if m == nil {
		return nil, ErrNotFound
	}
	out := *m
	return &out, nil
}

func convertMovie(r tmdbMovie) *MovieMetadata {
	m := &MovieMetadata{
		TMDBID:      r.ID,
		Title:       r.Title,
		Year:        releaseYear(r.ReleaseDate),
		ReleaseDate: r.ReleaseDate,
		Overview:    r.Overview,
		Rating:      math.Round(r.VoteAverage*10) / 10,
		VoteCount:   r.VoteCount,
	}
	if r.PosterPath != "" {
		m.PosterURL = tmdbImageBaseURL + r.PosterPath
	}
	if r.BackdropPath != "" {
		m.BackdropURL = tmdbImageBaseURL + r.BackdropPath
	}
	for _, id := range r.GenreIDs {
		if name, ok := tmdbGenres[id]; ok {
			m.Genres = append(m.Genres, name)
		}
	}
	return m
}

func releaseYear(date string) int {
	if len(date) < 4 {
		return 0
	}
	y, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return y
}
