// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metadata

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/autobrr/iptbrowser/internal/buildinfo"
	"github.com/autobrr/iptbrowser/internal/domain"
	"github.com/autobrr/iptbrowser/internal/normalize"
)

const (
	DefaultIGDBBaseURL    = "https://api.igdb.com/v4"
	DefaultTwitchTokenURL = "https://id.twitch.tv/oauth2/token"

	igdbImageBaseURL = "https://images.igdb.com/igdb/image/upload"
	youtubeWatchURL  = "https://www.youtube.com/watch?v="

	tokenExpiryBuffer = 5 * time.Minute
	maxScreenshots    = 4
	searchLimit       = 5
)

// Platforms maps platform names to IGDB platform ids.
var Platforms = map[string]int{
	"PC":              6,
	"Nintendo Switch": 130,
	"Nintendo 3DS":    37,
	"Wii":             5,
	"Wii U":           41,
	"PlayStation 3":   9,
	"PlayStation 4":   48,
	"PlayStation 5":   167,
	"Xbox 360":        12,
	"Xbox One":        49,
	"Xbox Series X|S": 169,
}

// PlatformID resolves a platform name (case-insensitive) or a numeric IGDB id.
func PlatformID(platform string) (int, bool) {
	platform = strings.TrimSpace(platform)
	if platform == "" {
		return 0, false
	}
	if id, err := strconv.Atoi(platform); err == nil && id > 0 {
		return id, true
	}
	for name, id := range Platforms {
		if strings.EqualFold(name, platform) {
			return id, true
		}
	}
	return 0, false
}

// GameMetadata is the formatted subset of an IGDB game.
type GameMetadata struct {
	IGDBID                int      `json:"igdbId"`
	Name                  string   `json:"name"`
	Summary               string   `json:"summary"`
	CoverURL              string   `json:"coverUrl,omitempty"`
	Screenshots           []string `json:"screenshots"`
	Rating                *float64 `json:"rating"`
	RatingCount           int      `json:"ratingCount"`
	AggregatedRating      *float64 `json:"aggregatedRating"`
	AggregatedRatingCount int      `json:"aggregatedRatingCount"`
	ReleaseDate           int64    `json:"releaseDate,omitempty"`
	ReleaseYear           int      `json:"releaseYear,omitempty"`
	Genres                []string `json:"genres"`
	Platforms             []string `json:"platforms"`
	Developer             string   `json:"developer"`
	TrailerURL            string   `json:"trailerUrl,omitempty"`
}

// TokenStatus describes the cached Twitch app token.
type TokenStatus struct {
	HasToken      bool       `json:"hasToken"`
	Valid         bool       `json:"isValid"`
	Expiry        *time.Time `json:"expiry,omitempty"`
	ExpiresInDays int        `json:"expiresInDays"`
}

type igdbNamed struct {
	Name string `json:"name"`
}

type igdbImage struct {
	ImageID string `json:"image_id"`
}

type igdbVideo struct {
	VideoID string `json:"video_id"`
}

type igdbInvolvedCompany struct {
	Company   igdbNamed `json:"company"`
	Developer bool      `json:"developer"`
}

type igdbGame struct {
	ID                    int                   `json:"id"`
	Name                  string                `json:"name"`
	Summary               string                `json:"summary"`
	Cover                 *igdbImage            `json:"cover"`
	Screenshots           []igdbImage           `json:"screenshots"`
	Videos                []igdbVideo           `json:"videos"`
	Rating                float64               `json:"rating"`
	RatingCount           int                   `json:"rating_count"`
	AggregatedRating      float64               `json:"aggregated_rating"`
	AggregatedRatingCount int                   `json:"aggregated_rating_count"`
	FirstReleaseDate      int64                 `json:"first_release_date"`
	Genres                []igdbNamed           `json:"genres"`
	Platforms             []igdbNamed           `json:"platforms"`
	InvolvedCompanies     []igdbInvolvedCompany `json:"involved_companies"`
}

// IGDBClient searches IGDB with a Twitch client-credentials token. The token
// is reused until five minutes before it expires.
type IGDBClient struct {
	baseURL    string
	tokenURL   string
	httpClient *http.Client
	retry      retryPolicy
	cache      *ttlcache.Cache[string, *GameMetadata]
	now        func() time.Time
	log        zerolog.Logger

	mu           sync.Mutex
	clientID     string
	clientSecret string
	tokens       oauth2.TokenSource
	lastToken    *oauth2.Token
}

type IGDBOption func(*IGDBClient)

func WithIGDBBaseURL(u string) IGDBOption {
	return func(c *IGDBClient) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithIGDBTokenURL(u string) IGDBOption {
	return func(c *IGDBClient) { c.tokenURL = u }
}

func WithIGDBHTTPClient(hc *http.Client) IGDBOption {
	return func(c *IGDBClient) { c.httpClient = hc }
}

func WithIGDBRetry(attempts uint, delay time.Duration) IGDBOption {
	return func(c *IGDBClient) { c.retry = retryPolicy{attempts: attempts, delay: delay} }
}

func WithIGDBCacheTTL(ttl time.Duration) IGDBOption {
	return func(c *IGDBClient) {
		if ttl > 0 {
			c.cache = ttlcache.New(ttlcache.Options[string, *GameMetadata]{}.SetDefaultTTL(ttl))
		}
	}
}

func WithIGDBClock(now func() time.Time) IGDBOption {
	return func(c *IGDBClient) { c.now = now }
}

func NewIGDBClient(clientID, clientSecret string, opts ...IGDBOption) *IGDBClient {
	c := &IGDBClient{
		clientID:     strings.TrimSpace(clientID),
		clientSecret: strings.TrimSpace(clientSecret),
		baseURL:      DefaultIGDBBaseURL,
		tokenURL:     DefaultTwitchTokenURL,
		httpClient:   &http.Client{Timeout: defaultTimeout},
		retry:        retryPolicy{attempts: defaultAttempts, delay: defaultRetryDelay},
		cache:        ttlcache.New(ttlcache.Options[string, *GameMetadata]{}.SetDefaultTTL(defaultCacheTTL)),
		now:          time.Now,
		log:          log.Logger.With().Str("module", "igdb").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetCredentials replaces the app credentials and drops the cached token.
func (c *IGDBClient) SetCredentials(clientID, clientSecret string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	clientID, clientSecret = strings.TrimSpace(clientID), strings.TrimSpace(clientSecret)
	if clientID == c.clientID && clientSecret == c.clientSecret {
		return
	}
	c.clientID, c.clientSecret = clientID, clientSecret
	c.tokens = nil
	c.lastToken = nil
}

func (c *IGDBClient) Configured() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID != "" && c.clientSecret != ""
}

func (c *IGDBClient) TokenStatus() TokenStatus {
	c.mu.Lock()
	tok := c.lastToken
	c.mu.Unlock()

	if tok == nil || tok.Expiry.IsZero() {
		return TokenStatus{}
	}
	expiry := tok.Expiry
	st := TokenStatus{HasToken: true, Expiry: &expiry}
	if remaining := expiry.Sub(c.now()); remaining > 0 {
		st.Valid = true
		st.ExpiresInDays = int(remaining / (24 * time.Hour))
	}
	return st
}

// SearchGame returns the closest match for name, optionally restricted to a
// platform given by name or IGDB id. Unknown platforms search all platforms.
func (c *IGDBClient) SearchGame(ctx context.Context, name, platform string) (*GameMetadata, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("search name is empty")
	}
	platformID, hasPlatform := PlatformID(platform)

	cacheKey := strings.ToLower(name) + ":" + strconv.Itoa(platformID)
	if g, ok := c.cache.Get(cacheKey); ok {
		if g == nil {
			return nil, ErrNotFound
		}
		out := *g
		return &out, nil
	}

	clientID, tok, err := c.token()
	if err != nil {
		return nil, err
	}

	query := buildGameQuery(name, platformID, hasPlatform)
	c.log.Debug().Str("query", query).Msg("Searching IGDB")

	var games []igdbGame
	err = doJSON(ctx, c.httpClient, "igdb", c.retry, c.log, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/games", strings.NewReader(query))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Client-ID", clientID)
		req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Content-Type", "text/plain")
		req.Header.Set("User-Agent", buildinfo.UserAgent)
		return req, nil
	}, &games)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			c.dropToken()
		}
		return nil, err
	}

	if len(games) == 0 {
		c.log.Debug().Str("name", name).Int("platform", platformID).Msg("No IGDB match")
		c.cache.Set(cacheKey, nil, ttlcache.DefaultTTL)
		return nil, ErrNotFound
	}

	g := formatGame(bestGame(name, games))
	c.cache.Set(cacheKey, g, ttlcache.DefaultTTL)
	return g, nil
}

// TestConnection fetches a token and searches a well-known PC title.
func (c *IGDBClient) TestConnection(ctx context.Context) (*GameMetadata, error) {
	return c.SearchGame(ctx, "Half-Life", "PC")
}

func (c *IGDBClient) token() (string, *oauth2.Token, error) {
	c.mu.Lock()
	if c.clientID == "" || c.clientSecret == "" {
		c.mu.Unlock()
		return "", nil, &domain.ConfigurationError{Field: "igdbClientId/igdbClientSecret"}
	}
	if c.tokens == nil {
		cfg := clientcredentials.Config{
			ClientID:     c.clientID,
			ClientSecret: c.clientSecret,
			TokenURL:     c.tokenURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		}
		// token refreshes outlive any single request
		tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, c.httpClient)
		c.tokens = oauth2.ReuseTokenSourceWithExpiry(nil, cfg.TokenSource(tokenCtx), tokenExpiryBuffer)
	}
	ts, clientID := c.tokens, c.clientID
	c.mu.Unlock()

	tok, err := ts.Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			switch re.Response.StatusCode {
			case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
				return "", nil, fmt.Errorf("igdb token: %w: %w", ErrInvalidCredentials, err)
			}
		}
		return "", nil, fmt.Errorf("igdb token: %w", err)
	}

	c.mu.Lock()
	if c.tokens == ts {
		if c.lastToken == nil || c.lastToken.AccessToken != tok.AccessToken {
			c.log.Info().Time("expiry", tok.Expiry).Msg("Obtained IGDB access token")
		}
		c.lastToken = tok
	}
	c.mu.Unlock()
	return clientID, tok, nil
}

func (c *IGDBClient) dropToken() {
	c.mu.Lock()
	c.tokens = nil
	c.lastToken = nil
	c.mu.Unlock()
}

func buildGameQuery(name string, platformID int, hasPlatform bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "search %q; ", strings.ReplaceAll(name, `"`, ""))
	b.WriteString("fields name, cover.image_id, screenshots.image_id, videos.video_id, ")
	b.WriteString("rating, rating_count, aggregated_rating, aggregated_rating_count, ")
	b.WriteString("genres.name, platforms.name, involved_companies.company.name, ")
	b.WriteString("involved_companies.developer, first_release_date, summary; ")
	if hasPlatform {
		fmt.Fprintf(&b, "where platforms = (%d); ", platformID)
	}
	fmt.Fprintf(&b, "limit %d;", searchLimit)
	return b.String()
}

// bestGame picks the candidate closest to name by edit distance, keeping
// IGDB's relevance order for ties and when nothing matches.
func bestGame(name string, games []igdbGame) igdbGame {
	query := matchKey(name)
	best, bestRank := 0, -1
	for i, g := range games {
		candidate := matchKey(g.Name)
		rank := fuzzy.RankMatchNormalizedFold(query, candidate)
		if rank < 0 {
			rank = fuzzy.RankMatchNormalizedFold(candidate, query)
		}
		if rank < 0 {
			continue
		}
		if bestRank < 0 || rank < bestRank {
			best, bestRank = i, rank
		}
	}
	return games[best]
}

func matchKey(s string) string {
	words := strings.FieldsFunc(strings.ToLower(normalize.Fold(s)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(words, " ")
}

func formatGame(g igdbGame) *GameMetadata {
	out := &GameMetadata{
		IGDBID:                g.ID,
		Name:                  g.Name,
		Summary:               g.Summary,
		RatingCount:           g.RatingCount,
		AggregatedRatingCount: g.AggregatedRatingCount,
		ReleaseDate:           g.FirstReleaseDate,
		Screenshots:           []string{},
		Genres:                []string{},
		Platforms:             []string{},
		Developer:             "Unknown",
	}
	if out.Name == "" {
		out.Name = "Unknown"
	}
	if out.Summary == "" {
		out.Summary = "No description available."
	}
	if g.Cover != nil && g.Cover.ImageID != "" {
		out.CoverURL = igdbImageURL("t_cover_big", g.Cover.ImageID)
	}
	for _, s := range g.Screenshots {
		if len(out.Screenshots) == maxScreenshots {
			break
		}
		if s.ImageID != "" {
			out.Screenshots = append(out.Screenshots, igdbImageURL("t_screenshot_med", s.ImageID))
		}
	}
	for _, ic := range g.InvolvedCompanies {
		if ic.Developer && ic.Company.Name != "" {
			out.Developer = ic.Company.Name
			break
		}
	}
	for _, v := range g.Videos {
		if v.VideoID != "" {
			out.TrailerURL = youtubeWatchURL + v.VideoID
			break
		}
	}
	if g.Rating > 0 {
		r := tenScale(g.Rating)
		out.Rating = &r
	}
	if g.AggregatedRating > 0 {
		r := tenScale(g.AggregatedRating)
		out.AggregatedRating = &r
	}
	if g.FirstReleaseDate != 0 {
		out.ReleaseYear = time.Unix(g.FirstReleaseDate, 0).UTC().Year()
	}
	for _, genre := range g.Genres {
		out.Genres = append(out.Genres, genre.Name)
	}
	for _, p := range g.Platforms {
		out.Platforms = append(out.Platforms, p.Name)
	}
	return out
}

func igdbImageURL(size, imageID string) string {
	return igdbImageBaseURL + "/" + size + "/" + imageID + ".jpg"
}

// tenScale converts IGDB's 0-100 ratings to 0-10 with one decimal.
func tenScale(v float64) float64 {
	return math.Round(v) / 10
}
