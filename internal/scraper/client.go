// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package scraper fetches and parses IPTorrents browse pages.
package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/publicsuffix"

	"github.com/autobrr/iptbrowser/internal/domain"
	"github.com/autobrr/iptbrowser/internal/models"
)

const (
	DefaultBaseURL = "https://iptorrents.com"
	// The site serves a reduced page to unknown agents.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

	maxPageBytes            int64 = 8 << 20
	maxTorrentDownloadBytes int64 = 16 << 20 // 16 MiB safety limit for torrent blobs
)

// HTTPClient is the subset of *http.Client the scraper needs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client fetches listing pages with the configured session cookie. The cookie
// can be swapped at runtime when the config file changes.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient HTTPClient
	now        func() time.Time
	log        zerolog.Logger

	mu     sync.RWMutex
	cookie string
}

type Option func(*Client)

func WithHTTPClient(hc HTTPClient) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient builds a scraper client. An empty baseURL uses DefaultBaseURL.
func NewClient(baseURL, cookie string, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}

	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: DefaultUserAgent,
		now:       time.Now,
		cookie:    NormalizeCookie(cookie),
		log:       log.Logger.With().Str("module", "scraper").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		c.httpClient = &http.Client{Jar: jar, Timeout: 2 * time.Minute}
	}

	return c
}

// NewClientFromConfig builds a client from the application config.
func NewClientFromConfig(cfg *domain.Config, opts ...Option) *Client {
	return NewClient(cfg.SiteBaseURL, cfg.Cookie, opts...)
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetCookie replaces the session cookie used for subsequent requests.
func (c *Client) SetCookie(cookie string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cookie = NormalizeCookie(cookie)
}

func (c *Client) Cookie() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cookie
}

func (c *Client) HasCookie() bool {
	return c.Cookie() != ""
}

// ListingURL returns the browse URL for a category page.
func (c *Client) ListingURL(categoryID string, offset int) string {
	u := c.baseURL + "/t?" + categoryID
	if offset > 0 {
		u += ";o=" + strconv.Itoa(offset)
	}
	return u
}

// FetchPage requests one listing page and parses it. A missing cookie is a
// configuration error; a page without the listing table is an
// UpstreamAuthError; network and status failures are UpstreamTransportErrors.
func (c *Client) FetchPage(ctx context.Context, category models.Category, offset int) ([]models.Item, error) {
	cookie := c.Cookie()
	if cookie == "" {
		return nil, &domain.ConfigurationError{Field: "cookie", Reason: "no IPTorrents cookie configured"}
	}

	pageURL := c.ListingURL(category.ID, offset)
	body, finalURL, err := c.get(ctx, pageURL, cookie, "text/html,application/xhtml+xml", maxPageBytes)
	if err != nil {
		return nil, err
	}

	if strings.Contains(strings.ToLower(finalURL), "login") {
		return nil, &UpstreamAuthError{URL: pageURL, Reason: "redirected to login page"}
	}

	items, err := ParsePage(bytes.NewReader(body), category, c.baseURL, c.now())
	if err != nil {
		var authErr *UpstreamAuthError
		if errors.As(err, &authErr) {
			authErr.URL = pageURL
			if DetectExpiration(body) {
				authErr.Reason = "session expired"
			}
			return nil, authErr
		}
		return nil, fmt.Errorf("parse listing page: %w", err)
	}

	c.log.Trace().Str("category", category.Name).Int("offset", offset).Int("items", len(items)).Msg("Fetched listing page")
	return items, nil
}

// DownloadTorrent retrieves the raw .torrent for a download URL using the
// session cookie.
func (c *Client) DownloadTorrent(ctx context.Context, downloadURL string) ([]byte, error) {
	if strings.TrimSpace(downloadURL) == "" {
		return nil, fmt.Errorf("download URL is required")
	}
	if !strings.HasPrefix(downloadURL, "http://") && !strings.HasPrefix(downloadURL, "https://") {
		downloadURL = absoluteURL(c.baseURL, downloadURL)
	}

	data, _, err := c.get(ctx, downloadURL, c.Cookie(), "application/x-bittorrent, application/octet-stream", maxTorrentDownloadBytes)
	return data, err
}

func (c *Client) get(ctx context.Context, target, cookie, accept string, limit int64) ([]byte, string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", c.userAgent)
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", &UpstreamTransportError{URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, "", &UpstreamTransportError{StatusCode: resp.StatusCode, URL: target}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", &UpstreamTransportError{URL: target, Err: err}
	}
	if int64(len(data)) > limit {
		return nil, "", &UpstreamTransportError{URL: target, Err: fmt.Errorf("response exceeded %d bytes limit", limit)}
	}

	finalURL := target
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return data, finalURL, nil
}
