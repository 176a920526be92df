// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/autobrr/iptbrowser/internal/domain"
)

var envPrefix = "IPTB__"

const (
	databaseFileName  = "iptbrowser.db"
	cacheFileName     = "cache.json"
	legacyEnvFileName = ".env"
)

// legacyEnvKeys maps variables from a pre-existing .env file to config keys.
var legacyEnvKeys = map[string]string{
	"IPTORRENTS_COOKIE":  "cookie",
	"TMDB_API_KEY":       "tmdbApiKey",
	"IGDB_CLIENT_ID":     "igdbClientId",
	"IGDB_CLIENT_SECRET": "igdbClientSecret",
}

type AppConfig struct {
	Config  *domain.Config
	viper   *viper.Viper
	dataDir string
	version string

	// mu guards Config against reloads from the file watcher and UI writes.
	mu sync.RWMutex

	listenersMu sync.RWMutex
	listeners   []func(*domain.Config)
}

func New(configDirOrPath string, versions ...string) (*AppConfig, error) {
	version := "dev"
	if len(versions) > 0 && strings.TrimSpace(versions[0]) != "" {
		version = versions[0]
	}

	c := &AppConfig{
		viper:   viper.New(),
		Config:  &domain.Config{},
		version: version,
	}

	c.defaults()

	if err := c.load(configDirOrPath); err != nil {
		return nil, err
	}

	c.loadFromEnv()

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	c.Config.Version = c.version

	c.resolveDataDir()

	c.watchConfig()

	return c, nil
}

func (c *AppConfig) defaults() {
	host := "localhost"
	if detectContainer() {
		host = "0.0.0.0"
	}

	c.viper.SetDefault("host", host)
	c.viper.SetDefault("port", 5000)
	c.viper.SetDefault("baseUrl", "/")
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logPath", "")
	c.viper.SetDefault("logMaxSize", 50)
	c.viper.SetDefault("logMaxBackups", 3)
	c.viper.SetDefault("dataDir", "") // Empty means auto-detect (next to config file)
	c.viper.SetDefault("pprofEnabled", false)
	c.viper.SetDefault("metricsEnabled", false)
	c.viper.SetDefault("metricsHost", "127.0.0.1")
	c.viper.SetDefault("metricsPort", 9075)
	c.viper.SetDefault("metricsBasicAuthUsers", "")

	// Site access
	c.viper.SetDefault("cookie", "")
	c.viper.SetDefault("siteBaseUrl", "https://iptorrents.com")
	c.viper.SetDefault("pageSize", 75)
	c.viper.SetDefault("maxPages", 50)
	c.viper.SetDefault("pageTimeout", "30s")

	// Listing cache
	c.viper.SetDefault("cacheTtl", "15m")
	c.viper.SetDefault("cacheBackend", "sqlite")
	c.viper.SetDefault("defaultWindowDays", 30)
	c.viper.SetDefault("defaultCategories", []string{"PC-ISO", "PC-Rip"})
	c.viper.SetDefault("fetchConcurrency", 3)

	// Metadata providers
	c.viper.SetDefault("tmdbApiKey", "")
	c.viper.SetDefault("igdbClientId", "")
	c.viper.SetDefault("igdbClientSecret", "")
	c.viper.SetDefault("metadataCacheTtl", "24h")
	c.viper.SetDefault("enrichmentDelay", "250ms")

	c.viper.SetDefault("qbittorrent.enabled", false)
	c.viper.SetDefault("qbittorrent.host", "")
	c.viper.SetDefault("qbittorrent.username", "")
	c.viper.SetDefault("qbittorrent.password", "")
	c.viper.SetDefault("qbittorrent.category", "games")
	c.viper.SetDefault("qbittorrent.useCategory", true)
	c.viper.SetDefault("qbittorrent.fetchTorrentFile", true)
	c.viper.SetDefault("qbittorrent.tlsSkipVerify", false)
}

func (c *AppConfig) load(configDirOrPath string) error {
	c.viper.SetConfigType("toml")

	if configDirOrPath != "" {
		configPath := c.resolveConfigPath(configDirOrPath)
		c.viper.SetConfigFile(configPath)

		if err := c.viper.ReadInConfig(); err != nil {
			// viper reports a missing explicit file as a plain os error
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
				if err := c.writeDefaultConfig(configPath); err != nil {
					return err
				}
				if err := c.viper.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read newly created config: %w", err)
				}
				return nil
			}
			return fmt.Errorf("failed to read config: %w", err)
		}
		return nil
	}

	c.viper.SetConfigName("config")
	c.viper.AddConfigPath(".")
	c.viper.AddConfigPath(GetDefaultConfigDir())

	if err := c.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}

		defaultConfigPath := filepath.Join(GetDefaultConfigDir(), "config.toml")
		if err := c.writeDefaultConfig(defaultConfigPath); err != nil {
			return err
		}
		c.viper.SetConfigFile(defaultConfigPath)
		if err := c.viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read newly created config: %w", err)
		}
		c.dataDir = filepath.Dir(defaultConfigPath)
	}

	return nil
}

func (c *AppConfig) loadFromEnv() {
	// DO NOT use AutomaticEnv() - bind only the variables we own.
	// Double underscore avoids clashes with orchestrator-injected *_PORT variables.
	c.viper.BindEnv("host", envPrefix+"HOST")
	c.viper.BindEnv("port", envPrefix+"PORT")
	c.viper.BindEnv("baseUrl", envPrefix+"BASE_URL")
	c.viper.BindEnv("logLevel", envPrefix+"LOG_LEVEL")
	c.viper.BindEnv("logPath", envPrefix+"LOG_PATH")
	c.viper.BindEnv("logMaxSize", envPrefix+"LOG_MAX_SIZE")
	c.viper.BindEnv("logMaxBackups", envPrefix+"LOG_MAX_BACKUPS")
	c.viper.BindEnv("dataDir", envPrefix+"DATA_DIR")
	c.viper.BindEnv("pprofEnabled", envPrefix+"PPROF_ENABLED")
	c.viper.BindEnv("metricsEnabled", envPrefix+"METRICS_ENABLED")
	c.viper.BindEnv("metricsHost", envPrefix+"METRICS_HOST")
	c.viper.BindEnv("metricsPort", envPrefix+"METRICS_PORT")
	c.bindOrReadFromFile("metricsBasicAuthUsers", envPrefix+"METRICS_BASIC_AUTH_USERS")

	c.bindOrReadFromFile("cookie", envPrefix+"COOKIE")
	c.viper.BindEnv("siteBaseUrl", envPrefix+"SITE_BASE_URL")
	c.viper.BindEnv("pageSize", envPrefix+"PAGE_SIZE")
	c.viper.BindEnv("maxPages", envPrefix+"MAX_PAGES")
	c.viper.BindEnv("pageTimeout", envPrefix+"PAGE_TIMEOUT")

	c.viper.BindEnv("cacheTtl", envPrefix+"CACHE_TTL")
	c.viper.BindEnv("cacheBackend", envPrefix+"CACHE_BACKEND")
	c.viper.BindEnv("defaultWindowDays", envPrefix+"DEFAULT_WINDOW_DAYS")
	c.viper.BindEnv("defaultCategories", envPrefix+"DEFAULT_CATEGORIES")
	c.viper.BindEnv("fetchConcurrency", envPrefix+"FETCH_CONCURRENCY")

	c.bindOrReadFromFile("tmdbApiKey", envPrefix+"TMDB_API_KEY")
	c.viper.BindEnv("igdbClientId", envPrefix+"IGDB_CLIENT_ID")
	c.bindOrReadFromFile("igdbClientSecret", envPrefix+"IGDB_CLIENT_SECRET")
	c.viper.BindEnv("metadataCacheTtl", envPrefix+"METADATA_CACHE_TTL")
	c.viper.BindEnv("enrichmentDelay", envPrefix+"ENRICHMENT_DELAY")

	c.viper.BindEnv("qbittorrent.enabled", envPrefix+"QBITTORRENT__ENABLED")
	c.viper.BindEnv("qbittorrent.host", envPrefix+"QBITTORRENT__HOST")
	c.viper.BindEnv("qbittorrent.username", envPrefix+"QBITTORRENT__USERNAME")
	c.bindOrReadFromFile("qbittorrent.password", envPrefix+"QBITTORRENT__PASSWORD")
	c.viper.BindEnv("qbittorrent.category", envPrefix+"QBITTORRENT__CATEGORY")
	c.viper.BindEnv("qbittorrent.useCategory", envPrefix+"QBITTORRENT__USE_CATEGORY")
	c.viper.BindEnv("qbittorrent.fetchTorrentFile", envPrefix+"QBITTORRENT__FETCH_TORRENT_FILE")
	c.viper.BindEnv("qbittorrent.tlsSkipVerify", envPrefix+"QBITTORRENT__TLS_SKIP_VERIFY")
}

func (c *AppConfig) watchConfig() {
	c.viper.WatchConfig()
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Msgf("Config file changed: %s", e.Name)

		c.mu.Lock()
		err := c.viper.Unmarshal(c.Config)
		if err == nil {
			c.Config.Version = c.version
		}
		c.mu.Unlock()

		if err != nil {
			log.Error().Err(err).Msg("Failed to reload configuration")
			return
		}

		c.applyDynamicChanges()
	})
}

func (c *AppConfig) applyDynamicChanges() {
	c.ApplyLogConfig()
	c.notifyListeners()
}

// Reload re-reads the config file and applies it like a file change would.
func (c *AppConfig) Reload() error {
	c.mu.Lock()
	err := c.viper.ReadInConfig()
	if err == nil {
		err = c.viper.Unmarshal(c.Config)
		c.Config.Version = c.version
	}
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}

	c.applyDynamicChanges()
	return nil
}

// CookieSource reports where the active cookie came from.
func (c *AppConfig) CookieSource() string {
	switch {
	case os.Getenv(envPrefix+"COOKIE_FILE") != "":
		return "file"
	case os.Getenv(envPrefix+"COOKIE") != "":
		return "environment"
	case c.Current().Cookie != "":
		return "config"
	default:
		return "none"
	}
}

// Current returns a copy of the active configuration.
func (c *AppConfig) Current() domain.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return *c.Config
}

// RegisterReloadListener registers a callback that's invoked when the configuration file is reloaded
// or changed through SetCookie / SetQBittorrent.
func (c *AppConfig) RegisterReloadListener(fn func(*domain.Config)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *AppConfig) notifyListeners() {
	c.listenersMu.RLock()
	listeners := append([]func(*domain.Config){}, c.listeners...)
	c.listenersMu.RUnlock()

	if len(listeners) == 0 {
		return
	}

	copied := c.Current()
	for _, listener := range listeners {
		listener(&copied)
	}
}

// SetCookie stores the site cookie in the config file.
func (c *AppConfig) SetCookie(cookie string) error {
	cookie = strings.TrimSpace(cookie)
	if err := c.persist(func(doc map[string]any) {
		doc["cookie"] = cookie
	}); err != nil {
		return err
	}

	c.mu.Lock()
	c.Config.Cookie = cookie
	c.mu.Unlock()

	c.notifyListeners()
	return nil
}

// SetQBittorrent stores the qBittorrent connection settings in the config file.
func (c *AppConfig) SetQBittorrent(qb domain.QBittorrentConfig) error {
	if err := c.persist(func(doc map[string]any) {
		doc["qbittorrent"] = map[string]any{
			"enabled":          qb.Enabled,
			"host":             qb.Host,
			"username":         qb.Username,
			"password":         qb.Password,
			"category":         qb.Category,
			"useCategory":      qb.UseCategory,
			"fetchTorrentFile": qb.FetchTorrentFile,
			"tlsSkipVerify":    qb.TLSSkipVerify,
		}
	}); err != nil {
		return err
	}

	c.mu.Lock()
	c.Config.QBittorrent = qb
	c.mu.Unlock()

	c.notifyListeners()
	return nil
}

// persist rewrites the config file with mutate applied. The previous file is
// kept as <name>.backup and the new one replaces it with a rename.
func (c *AppConfig) persist(mutate func(doc map[string]any)) error {
	path := c.ConfigPath()
	if path == "" {
		return errors.New("no config file in use")
	}

	doc := map[string]any{}
	original, err := os.ReadFile(path)
	switch {
	case err == nil:
		if _, err := toml.Decode(string(original), &doc); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("failed to read config file: %w", err)
	}

	mutate(doc)

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".config-*.toml")
	if err != nil {
		return fmt.Errorf("failed to create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := toml.NewEncoder(tmp).Encode(doc); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp config: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("failed to set config permissions: %w", err)
	}

	if original != nil {
		if err := os.WriteFile(path+".backup", original, 0o600); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to write config backup")
		}
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace config file: %w", err)
	}

	log.Debug().Str("path", path).Msg("Config file updated")
	return nil
}

const configTemplate = `# config.toml - Auto-generated on first run

# Hostname / IP
# Default: "localhost" (or "0.0.0.0" in containers)
host = "{{ .host }}"

# Port
# Default: 5000
port = {{ .port }}

# Base URL
# Set custom baseUrl eg /iptbrowser/ to serve in subdirectory.
# Optional
#baseUrl = "/iptbrowser/"

# Log file path
# If not defined, logs to stdout
# Optional
#logPath = "log/iptbrowser.log"

# Log rotation
# Maximum log file size in megabytes before rotation
# Default: {{ .logMaxSize }}
#logMaxSize = {{ .logMaxSize }}

# Number of rotated log files to retain (0 keeps all)
# Default: {{ .logMaxBackups }}
#logMaxBackups = {{ .logMaxBackups }}

# Data directory (default: next to config file)
# Database ({{ .databaseFile }}) and JSON cache ({{ .cacheFile }}) are created inside this directory
#dataDir = "/var/db/iptbrowser"

# Log level
# Default: "INFO"
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "{{ .logLevel }}"

# Site session cookie, copied from a logged-in browser session.
# Must contain uid= and pass=. Can also be set with "iptbrowser set-cookie".
{{ if .cookie }}cookie = {{ printf "%q" .cookie }}{{ else }}#cookie = "uid=...; pass=..."{{ end }}

# Site base URL
# Default: "https://iptorrents.com"
#siteBaseUrl = "https://iptorrents.com"

# Items per listing page and the safety bound on pages per category
# Default: 75 / 50
#pageSize = 75
#maxPages = 50

# Timeout for a single listing page request
# Default: "30s"
#pageTimeout = "30s"

# How long cached listings answer default queries without refetching
# Default: "15m"
#cacheTtl = "15m"

# Cache backend: "sqlite" or "json"
# Default: "sqlite"
cacheBackend = "{{ .cacheBackend }}"

# Window used by refreshes that don't specify one, in days
# Default: 30
defaultWindowDays = {{ .defaultWindowDays }}

# Categories queried when a request names none
defaultCategories = {{ .defaultCategories }}

# Categories fetched in parallel
# Default: 3
#fetchConcurrency = 3

# TMDB API key (movie metadata)
{{ if .tmdbApiKey }}tmdbApiKey = {{ printf "%q" .tmdbApiKey }}{{ else }}#tmdbApiKey = ""{{ end }}

# IGDB credentials (game metadata), from a Twitch developer application
{{ if .igdbClientId }}igdbClientId = {{ printf "%q" .igdbClientId }}{{ else }}#igdbClientId = ""{{ end }}
{{ if .igdbClientSecret }}igdbClientSecret = {{ printf "%q" .igdbClientSecret }}{{ else }}#igdbClientSecret = ""{{ end }}

# How long metadata lookups are cached
# Default: "24h"
#metadataCacheTtl = "24h"

# Delay between background enrichment lookups
# Default: "250ms"
#enrichmentDelay = "250ms"

# Prometheus Metrics
# Enable Prometheus metrics on separate port
# Default: false
#metricsEnabled = false

# Metrics server host (bind address for metrics endpoint)
# Default: "127.0.0.1"
#metricsHost = "127.0.0.1"

# Metrics server port (separate from main web interface)
# Default: 9075
#metricsPort = 9075

# Basic authentication for metrics endpoint (optional)
# Format: "username:bcrypt_hash" or "user1:hash1,user2:hash2" for multiple users
# Leave empty to disable authentication (default)
#metricsBasicAuthUsers = ""

[qbittorrent]
# Forward torrents to a qBittorrent WebUI
enabled = false
# WebUI URL, e.g. "http://localhost:8080"
host = ""
username = ""
password = ""
# Category assigned to added torrents when useCategory is true
category = "{{ .qbCategory }}"
useCategory = true
# Download the .torrent with the site cookie and upload it, instead of passing the URL
fetchTorrentFile = true
tlsSkipVerify = false
`

func (c *AppConfig) writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		log.Debug().Msgf("Config file already exists at: %s", path)
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	log.Debug().Msgf("Created config directory: %s", dir)

	quoted := make([]string, 0, len(c.viper.GetStringSlice("defaultCategories")))
	for _, cat := range c.viper.GetStringSlice("defaultCategories") {
		quoted = append(quoted, fmt.Sprintf("%q", cat))
	}

	data := map[string]any{
		"host":              c.viper.GetString("host"),
		"port":              c.viper.GetInt("port"),
		"logLevel":          c.viper.GetString("logLevel"),
		"logMaxSize":        c.viper.GetInt("logMaxSize"),
		"logMaxBackups":     c.viper.GetInt("logMaxBackups"),
		"databaseFile":      databaseFileName,
		"cacheFile":         cacheFileName,
		"cacheBackend":      c.viper.GetString("cacheBackend"),
		"defaultWindowDays": c.viper.GetInt("defaultWindowDays"),
		"defaultCategories": "[" + strings.Join(quoted, ", ") + "]",
		"qbCategory":        c.viper.GetString("qbittorrent.category"),
		"cookie":            "",
		"tmdbApiKey":        "",
		"igdbClientId":      "",
		"igdbClientSecret":  "",
	}

	for key, value := range readLegacyEnv(dir) {
		data[key] = value
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse config template: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Info().Msgf("Created default config file: %s", path)
	return nil
}

// readLegacyEnv picks up settings from a .env file next to the config, as
// written by earlier versions of the app.
func readLegacyEnv(dir string) map[string]string {
	path := filepath.Join(dir, legacyEnvFileName)
	env, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", path).Msg("Failed to read legacy env file")
		}
		return nil
	}

	out := make(map[string]string)
	for envKey, configKey := range legacyEnvKeys {
		if value := strings.TrimSpace(env[envKey]); value != "" {
			out[configKey] = value
		}
	}
	if len(out) > 0 {
		log.Info().Str("path", path).Int("settings", len(out)).Msg("Imported settings from legacy env file")
	}
	return out
}

// Helper functions

// GetDefaultConfigDir returns the OS-specific config directory
func GetDefaultConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		// Containers mount the config volume at /config
		if xdgConfig == "/config" {
			return xdgConfig
		}
		return filepath.Join(xdgConfig, "iptbrowser")
	}

	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "iptbrowser")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Roaming", "iptbrowser")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "iptbrowser")
	}
}

func detectContainer() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	if _, err := os.Stat("/dev/.lxc-boot-id"); err == nil {
		return true
	}
	if os.Getpid() == 1 {
		return true
	}
	return false
}

func (c *AppConfig) ApplyLogConfig() {
	zerolog.TimeFieldFormat = time.RFC3339

	cfg := c.Current()
	setLogLevel(cfg.LogLevel)

	writer := c.baseLogWriter()

	if cfg.LogPath != "" {
		multiWriter, err := setupLogFile(cfg.LogPath, writer, cfg.LogMaxSize, cfg.LogMaxBackups)
		if err != nil {
			log.Error().Err(err).Msg("Failed to setup log file")
		} else {
			writer = multiWriter
		}
	}

	log.Logger = log.Logger.Output(writer)
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Logger.Level(lvl)
}

func setupLogFile(path string, base io.Writer, maxSize, maxBackups int) (io.Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	if maxSize <= 0 {
		maxSize = 50
	}

	if maxBackups < 0 {
		maxBackups = 0
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}

	return io.MultiWriter(base, rotator), nil
}

func baseLogWriter(version string) io.Writer {
	if isDevBuild(version) {
		writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		writer.PartsOrder = []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName}
		return writer
	}
	return os.Stderr
}

func (c *AppConfig) baseLogWriter() io.Writer {
	return baseLogWriter(c.version)
}

// DefaultLogWriter returns the base log writer for the provided version.
func DefaultLogWriter(version string) io.Writer {
	return baseLogWriter(version)
}

// InitDefaultLogger configures zerolog with the default writer for this version.
// This is used by CLI entry points before a configuration file is loaded.
func InitDefaultLogger(version string) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Logger.Output(DefaultLogWriter(version))
}

func isDevBuild(version string) bool {
	v := strings.ToLower(strings.TrimSpace(version))
	return v == "" || v == "dev" || strings.HasSuffix(v, "-dev")
}

// resolveConfigPath determines the actual config file path from the provided directory or file path
func (c *AppConfig) resolveConfigPath(configDirOrPath string) string {
	if strings.HasSuffix(strings.ToLower(configDirOrPath), ".toml") {
		return configDirOrPath
	}

	if info, err := os.Stat(configDirOrPath); err == nil && !info.IsDir() {
		return configDirOrPath
	}

	return filepath.Join(configDirOrPath, "config.toml")
}

// resolveDataDir sets the data directory based on configuration
func (c *AppConfig) resolveDataDir() {
	switch {
	case c.Config.DataDir != "":
		c.dataDir = c.Config.DataDir
	case c.viper.ConfigFileUsed() != "":
		c.dataDir = filepath.Dir(c.viper.ConfigFileUsed())
	default:
		c.dataDir = "."
	}
}

// GetDatabasePath returns the path to the sqlite database.
func (c *AppConfig) GetDatabasePath() string {
	return filepath.Join(c.dataDir, databaseFileName)
}

// GetCacheFilePath returns the path of the JSON listing cache.
func (c *AppConfig) GetCacheFilePath() string {
	return filepath.Join(c.dataDir, cacheFileName)
}

func (c *AppConfig) GetDataDir() string {
	return c.dataDir
}

// SetDataDir sets the data directory (used by CLI flags)
func (c *AppConfig) SetDataDir(dir string) {
	c.dataDir = dir
}

// ConfigPath returns the config file in use.
func (c *AppConfig) ConfigPath() string {
	return c.viper.ConfigFileUsed()
}

// GetConfigDir returns the directory containing the config file
func (c *AppConfig) GetConfigDir() string {
	if c.viper.ConfigFileUsed() != "" {
		return filepath.Dir(c.viper.ConfigFileUsed())
	}
	return GetDefaultConfigDir()
}

// WriteDefaultConfig renders the default config template to path unless a file exists there.
func WriteDefaultConfig(path string) error {
	c := &AppConfig{
		viper: viper.New(),
	}

	c.defaults()

	return c.writeDefaultConfig(path)
}

// bindOrReadFromFile reads the value from the file named by <envVar>_FILE when
// that variable is set, and binds envVar otherwise.
func (c *AppConfig) bindOrReadFromFile(viperVar string, envVar string) {
	if filePath := os.Getenv(envVar + "_FILE"); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", filePath).Msg("Could not read " + envVar + "_FILE")
		}
		c.viper.Set(viperVar, strings.TrimSpace(string(content)))
		return
	}
	c.viper.BindEnv(viperVar, envVar)
}
