// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package qbittorrent forwards listing downloads to a qBittorrent WebUI.
package qbittorrent

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/anacrolix/torrent/metainfo"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/iptbrowser/internal/domain"
)

// MaskedPassword replaces the stored password in anything sent to a browser.
// Submitting it back leaves the stored password unchanged.
const MaskedPassword = "***"

var (
	ErrNotConfigured  = errors.New("qBittorrent integration is not configured")
	ErrAuthentication = errors.New("qBittorrent authentication failed")
	ErrConnection     = errors.New("qBittorrent is unreachable")
	ErrTorrentAdd     = errors.New("qBittorrent rejected the torrent")
)

// WebAPI 2.11.0 (qBittorrent 5.0) renamed the paused add option to stopped.
var stoppedMinVersion = semver.MustParse("2.11.0")

const defaultTimeout = 30 * time.Second

// TorrentSource downloads .torrent files with the site session cookie.
type TorrentSource interface {
	DownloadTorrent(ctx context.Context, downloadURL string) ([]byte, error)
}

// AddRequest names a listing item to send to qBittorrent.
type AddRequest struct {
	URL  string `json:"torrent_url"`
	Name string `json:"torrent_name"`
}

// AddResult reports what was sent. InfoHash is only known when the .torrent
// was fetched locally.
type AddResult struct {
	Name     string `json:"name"`
	InfoHash string `json:"infoHash,omitempty"`
	Category string `json:"category,omitempty"`
	Method   string `json:"method"`
	Message  string `json:"message"`
}

// Status is the integration state shown in settings.
type Status struct {
	Enabled       bool   `json:"enabled"`
	Host          string `json:"host"`
	Connected     bool   `json:"connected"`
	WebAPIVersion string `json:"webApiVersion,omitempty"`
}

// ConnectionInfo is returned by a successful connection test.
type ConnectionInfo struct {
	AppVersion    string `json:"appVersion"`
	WebAPIVersion string `json:"webApiVersion"`
}

// Client holds one lazily authenticated session against the configured
// qBittorrent instance. Config changes drop the session.
type Client struct {
	source       TorrentSource
	timeout      time.Duration
	loginRetries uint
	retryDelay   time.Duration
	log          zerolog.Logger

	mu              sync.Mutex
	cfg             domain.QBittorrentConfig
	api             *qbt.Client
	loggedIn        bool
	webAPIVersion   string
	supportsStopped bool
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLoginRetry(attempts uint, delay time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.loginRetries = attempts
		}
		c.retryDelay = delay
	}
}

func NewClient(cfg domain.QBittorrentConfig, source TorrentSource, opts ...Option) *Client {
	c := &Client{
		source:       source,
		timeout:      defaultTimeout,
		loginRetries: 3,
		retryDelay:   time.Second,
		cfg:          cfg,
		log:          log.Logger.With().Str("module", "qbittorrent").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NormalizeHost validates a WebUI address. It must carry an explicit http or
// https scheme; a trailing slash is dropped.
func NormalizeHost(rawHost string) (string, error) {
	rawHost = strings.TrimSpace(rawHost)
	if rawHost == "" {
		return "", errors.New("host cannot be empty")
	}

	u, err := url.Parse(rawHost)
	if err != nil {
		return "", fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errors.New("host must start with http:// or https://")
	}
	if u.Host == "" {
		return "", errors.New("URL must include a host")
	}

	return strings.TrimRight(u.String(), "/"), nil
}

// Config returns the current settings with the password masked.
func (c *Client) Config() domain.QBittorrentConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maskConfig(c.cfg)
}

// SetConfig validates and applies new settings and returns the effective,
// unmasked config for persisting. A masked or empty password keeps the
// stored one.
func (c *Client) SetConfig(in domain.QBittorrentConfig) (domain.QBittorrentConfig, error) {
	in.Host = strings.TrimSpace(in.Host)
	in.Username = strings.TrimSpace(in.Username)
	in.Category = strings.TrimSpace(in.Category)

	if in.Host != "" {
		host, err := NormalizeHost(in.Host)
		if err != nil {
			return domain.QBittorrentConfig{}, err
		}
		in.Host = host
	} else if in.Enabled {
		return domain.QBittorrentConfig{}, errors.New("host is required when the integration is enabled")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if in.Password == MaskedPassword || in.Password == "" {
		in.Password = c.cfg.Password
	}
	c.cfg = in
	c.resetLocked()

	c.log.Info().Bool("enabled", in.Enabled).Str("host", in.Host).Msg("qBittorrent settings updated")
	return in, nil
}

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Enabled:       c.cfg.Enabled,
		Host:          c.cfg.Host,
		Connected:     c.loggedIn,
		WebAPIVersion: c.webAPIVersion,
	}
}

// TestConnection logs in from scratch and reads the application versions.
func (c *Client) TestConnection(ctx context.Context) (*ConnectionInfo, error) {
	c.mu.Lock()
	c.resetLocked()
	c.mu.Unlock()

	api, err := c.session(ctx)
	if err != nil {
		return nil, err
	}

	appVersion, err := api.GetAppVersionCtx(ctx)
	if err != nil {
		c.dropSession()
		return nil, classify(err, ErrConnection)
	}

	c.mu.Lock()
	info := &ConnectionInfo{AppVersion: strings.TrimSpace(appVersion), WebAPIVersion: c.webAPIVersion}
	c.mu.Unlock()
	return info, nil
}

// AddTorrent sends a listing item to qBittorrent. With fetchTorrentFile the
// .torrent is downloaded using the site cookie, validated and uploaded;
// otherwise qBittorrent is given the URL.
func (c *Client) AddTorrent(ctx context.Context, req AddRequest) (*AddResult, error) {
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		return nil, errors.New("torrent URL is required")
	}

	api, err := c.session(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	cfg := c.cfg
	supportsStopped := c.supportsStopped
	c.mu.Unlock()

	options := map[string]string{}
	if supportsStopped {
		options["stopped"] = "false"
	} else {
		options["paused"] = "false"
	}

	res := &AddResult{Name: req.Name}
	if cfg.UseCategory && cfg.Category != "" {
		options["category"] = cfg.Category
		res.Category = cfg.Category
	}

	if cfg.FetchTorrentFile {
		if c.source == nil {
			return nil, errors.Wrap(ErrTorrentAdd, "no torrent source configured")
		}
		data, err := c.source.DownloadTorrent(ctx, req.URL)
		if err != nil {
			return nil, fmt.Errorf("download torrent file: %w", err)
		}

		mi, err := metainfo.Load(bytes.NewReader(data))
		if err != nil {
			return nil, errors.Wrapf(ErrTorrentAdd, "downloaded file is not a valid torrent: %v", err)
		}
		info, err := mi.UnmarshalInfo()
		if err != nil {
			return nil, errors.Wrapf(ErrTorrentAdd, "downloaded file has an invalid info dictionary: %v", err)
		}
		res.InfoHash = mi.HashInfoBytes().HexString()
		if res.Name == "" {
			res.Name = info.BestName()
		}
		res.Method = "file"

		if err := api.AddTorrentFromMemoryCtx(ctx, data, options); err != nil {
			c.dropSession()
			return nil, classify(err, ErrTorrentAdd)
		}
	} else {
		res.Method = "url"
		if err := api.AddTorrentFromUrlCtx(ctx, req.URL, options); err != nil {
			c.dropSession()
			return nil, classify(err, ErrTorrentAdd)
		}
	}

	if res.Name == "" {
		res.Name = "Unknown"
	}
	res.Message = fmt.Sprintf("Added %q to qBittorrent", res.Name)

	c.log.Info().
		Str("name", res.Name).
		Str("method", res.Method).
		Str("category", res.Category).
		Str("infoHash", res.InfoHash).
		Msg("Torrent sent to qBittorrent")
	return res, nil
}

// session returns an authenticated API client, logging in on first use.
func (c *Client) session(ctx context.Context) (*qbt.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.cfg.Enabled || c.cfg.Host == "" {
		return nil, ErrNotConfigured
	}
	if c.api != nil && c.loggedIn {
		return c.api, nil
	}

	if c.api == nil {
		c.api = qbt.NewClient(qbt.Config{
			Host:          c.cfg.Host,
			Username:      c.cfg.Username,
			Password:      c.cfg.Password,
			Timeout:       int(c.timeout.Seconds()),
			TLSSkipVerify: c.cfg.TLSSkipVerify,
		})
	}
	api := c.api

	err := retry.Do(
		func() error { return api.LoginCtx(ctx) },
		retry.Context(ctx),
		retry.Attempts(c.loginRetries),
		retry.Delay(c.retryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isConnectionError),
		retry.OnRetry(func(n uint, err error) {
			c.log.Debug().Err(err).Uint("attempt", n+1).Msg("Retrying qBittorrent login")
		}),
	)
	if err != nil {
		c.log.Warn().Err(err).Str("host", c.cfg.Host).Msg("qBittorrent login failed")
		return nil, classify(err, ErrAuthentication)
	}
	c.loggedIn = true

	if version, err := api.GetWebAPIVersionCtx(ctx); err != nil {
		c.log.Warn().Err(err).Msg("Failed to read qBittorrent WebAPI version, assuming paused option")
	} else {
		c.applyVersionLocked(strings.TrimSpace(version))
	}

	return api, nil
}

func (c *Client) applyVersionLocked(version string) {
	c.webAPIVersion = version
	v, err := semver.NewVersion(version)
	if err != nil {
		c.log.Warn().Err(err).Str("webAPIVersion", version).Msg("Failed to parse qBittorrent WebAPI version")
		c.supportsStopped = false
		return
	}
	c.supportsStopped = !v.LessThan(stoppedMinVersion)
}

func (c *Client) resetLocked() {
	c.api = nil
	c.loggedIn = false
	c.webAPIVersion = ""
	c.supportsStopped = false
}

// dropSession forces a fresh login on the next call.
func (c *Client) dropSession() {
	c.mu.Lock()
	c.loggedIn = false
	c.mu.Unlock()
}

// classify maps transport failures to ErrConnection and everything else to
// fallback.
func classify(err error, fallback error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if isConnectionError(err) {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	return fmt.Errorf("%w: %w", fallback, err)
}

func isConnectionError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

func maskConfig(cfg domain.QBittorrentConfig) domain.QBittorrentConfig {
	if cfg.Password != "" {
		cfg.Password = MaskedPassword
	}
	return cfg
}
