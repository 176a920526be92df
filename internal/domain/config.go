// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"fmt"
	"time"
)

type Config struct {
	Version       string
	Host          string `toml:"host" mapstructure:"host"`
	Port          int    `toml:"port" mapstructure:"port"`
	BaseURL       string `toml:"baseUrl" mapstructure:"baseUrl"`
	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`
	DataDir       string `toml:"dataDir" mapstructure:"dataDir"`

	PprofEnabled          bool   `toml:"pprofEnabled" mapstructure:"pprofEnabled"`
	MetricsEnabled        bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	MetricsHost           string `toml:"metricsHost" mapstructure:"metricsHost"`
	MetricsPort           int    `toml:"metricsPort" mapstructure:"metricsPort"`
	MetricsBasicAuthUsers string `toml:"metricsBasicAuthUsers" mapstructure:"metricsBasicAuthUsers"`

	// Site access
	Cookie      string        `toml:"cookie" mapstructure:"cookie"`
	SiteBaseURL string        `toml:"siteBaseUrl" mapstructure:"siteBaseUrl"`
	PageSize    int           `toml:"pageSize" mapstructure:"pageSize"`
	MaxPages    int           `toml:"maxPages" mapstructure:"maxPages"`
	PageTimeout time.Duration `toml:"pageTimeout" mapstructure:"pageTimeout"`

	// Listing cache
	CacheTTL          time.Duration `toml:"cacheTtl" mapstructure:"cacheTtl"`
	CacheBackend      string        `toml:"cacheBackend" mapstructure:"cacheBackend"`
	DefaultWindowDays int           `toml:"defaultWindowDays" mapstructure:"defaultWindowDays"`
	DefaultCategories []string      `toml:"defaultCategories" mapstructure:"defaultCategories"`
	FetchConcurrency  int           `toml:"fetchConcurrency" mapstructure:"fetchConcurrency"`

	// Metadata providers
	TMDBAPIKey       string        `toml:"tmdbApiKey" mapstructure:"tmdbApiKey"`
	IGDBClientID     string        `toml:"igdbClientId" mapstructure:"igdbClientId"`
	IGDBClientSecret string        `toml:"igdbClientSecret" mapstructure:"igdbClientSecret"`
	MetadataCacheTTL time.Duration `toml:"metadataCacheTtl" mapstructure:"metadataCacheTtl"`
	EnrichmentDelay  time.Duration `toml:"enrichmentDelay" mapstructure:"enrichmentDelay"`

	QBittorrent QBittorrentConfig `toml:"qbittorrent" mapstructure:"qbittorrent"`
}

type QBittorrentConfig struct {
	Enabled          bool   `toml:"enabled" mapstructure:"enabled" json:"enabled"`
	Host             string `toml:"host" mapstructure:"host" json:"host"`
	Username         string `toml:"username" mapstructure:"username" json:"username"`
	Password         string `toml:"password" mapstructure:"password" json:"password"`
	Category         string `toml:"category" mapstructure:"category" json:"category"`
	UseCategory      bool   `toml:"useCategory" mapstructure:"useCategory" json:"useCategory"`
	FetchTorrentFile bool   `toml:"fetchTorrentFile" mapstructure:"fetchTorrentFile" json:"fetchTorrentFile"`
	TLSSkipVerify    bool   `toml:"tlsSkipVerify" mapstructure:"tlsSkipVerify" json:"tlsSkipVerify"`
}

// ConfigurationError reports a required setting that is missing or invalid.
// It is never retried.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("configuration: %s is not set", e.Field)
	}
	return fmt.Sprintf("configuration: %s %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool {
	_, ok := target.(*ConfigurationError)
	return ok
}
