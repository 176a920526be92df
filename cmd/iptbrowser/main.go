// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/autobrr/iptbrowser/internal/api"
	"github.com/autobrr/iptbrowser/internal/api/handlers"
	"github.com/autobrr/iptbrowser/internal/buildinfo"
	"github.com/autobrr/iptbrowser/internal/config"
	"github.com/autobrr/iptbrowser/internal/database"
	"github.com/autobrr/iptbrowser/internal/domain"
	"github.com/autobrr/iptbrowser/internal/metrics"
	"github.com/autobrr/iptbrowser/internal/models"
	"github.com/autobrr/iptbrowser/internal/qbittorrent"
	"github.com/autobrr/iptbrowser/internal/scraper"
	"github.com/autobrr/iptbrowser/internal/services/listing"
	"github.com/autobrr/iptbrowser/internal/services/metadata"
)

func main() {
	config.InitDefaultLogger(buildinfo.Version)

	var rootCmd = &cobra.Command{
		Use:   "iptbrowser",
		Short: "Browse recent IPTorrents listings",
		Long: `iptbrowser - A personal web app that scrapes IPTorrents category listings,
caches them, groups releases of the same title and sends picks to qBittorrent.`,
	}

	rootCmd.Version = buildinfo.Version

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunRefreshCommand())
	rootCmd.AddCommand(RunSetCookieCommand())
	rootCmd.AddCommand(RunVersionCommand(buildinfo.Version))
	rootCmd.AddCommand(RunGenerateConfigCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RunServeCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		logPath   string
		pprofFlag bool
	)

	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the server",
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory path (default is OS-specific: ~/.config/iptbrowser/ or %APPDATA%\\iptbrowser\\). Can also be a direct path to a .toml file")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for database and cache files (default is next to config file)")
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stdout)")
	command.Flags().BoolVar(&pprofFlag, "pprof", false, "enable pprof server on :6060")

	command.Run = func(cmd *cobra.Command, args []string) {
		app := NewApplication(configDir, dataDir, logPath, pprofFlag)
		app.runServer()
	}

	return command
}

func RunRefreshCommand() *cobra.Command {
	var (
		configDir  string
		dataDir    string
		mode       string
		categories []string
		days       int
	)

	command := &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the listing cache once and exit",
		Long: `Refresh the listing cache without starting the server.

Incremental mode fetches items newer than the newest cached item per category.
Full mode re-fetches the whole window (--days, default from config).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New(configDir, buildinfo.Version)
			if err != nil {
				return errors.Wrap(err, "failed to initialize configuration")
			}
			if dataDir != "" {
				cfg.SetDataDir(dataDir)
			}

			req := listing.RefreshRequest{Mode: listing.ModeIncremental, Categories: categories}
			switch strings.ToLower(mode) {
			case "", "incremental":
			case "full":
				req.Mode = listing.ModeFull
			default:
				return errors.Errorf("unknown mode %q, expected incremental or full", mode)
			}
			if days > 0 {
				req.Days = &days
			}

			current := cfg.Current()
			db, err := database.New(cfg.GetDatabasePath())
			if err != nil {
				return errors.Wrap(err, "failed to initialize database")
			}
			defer db.Close()

			client := scraper.NewClientFromConfig(&current, scraper.WithUserAgent(buildinfo.UserAgent))
			svc := newListingService(&current, client, cacheStore(cfg, current.CacheBackend, db), nil)

			res, err := svc.Refresh(cmd.Context(), req)
			if res != nil {
				printRefresh(cmd, res)
			}
			if err != nil {
				return errors.Wrap(err, "refresh failed")
			}
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory or file path (defaults to OS-specific location)")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for database and cache files")
	command.Flags().StringVar(&mode, "mode", "incremental", "refresh mode: incremental or full")
	command.Flags().StringSliceVar(&categories, "categories", nil, "categories to refresh (defaults from config)")
	command.Flags().IntVar(&days, "days", 0, "window in days for a full refresh")

	return command
}

func printRefresh(cmd *cobra.Command, res *listing.RefreshResult) {
	names := make([]string, 0, len(res.Categories)+len(res.Errors))
	for name := range res.Categories {
		names = append(names, name)
	}
	for name := range res.Errors {
		if _, ok := res.Categories[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if msg, failed := res.Errors[name]; failed {
			cmd.Printf("  %-16s failed: %s\n", name, msg)
			continue
		}
		cmd.Printf("  %-16s %s cached\n", name, humanize.Comma(int64(res.Categories[name])))
	}
	cmd.Printf("%s refresh: %s new, %s total\n", res.Mode, humanize.Comma(int64(res.Added)), humanize.Comma(int64(res.Total)))
}

func RunSetCookieCommand() *cobra.Command {
	var (
		configDir string
		test      bool
	)

	command := &cobra.Command{
		Use:   "set-cookie",
		Short: "Store the IPTorrents session cookie",
		Long: `Store the IPTorrents session cookie in the config file.

The cookie is read from a hidden prompt, or from stdin when not attached to a
terminal, and must contain uid= and pass= values.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New(configDir, buildinfo.Version)
			if err != nil {
				return errors.Wrap(err, "failed to initialize configuration")
			}

			raw, err := readSecret("Cookie: ")
			if err != nil {
				return err
			}

			cookie := scraper.NormalizeCookie(strings.TrimSpace(raw))
			if err := scraper.ValidateCookieFormat(cookie); err != nil {
				return errors.Wrap(err, "invalid cookie")
			}

			if test {
				res := scraper.NewValidator(cfg.Current().SiteBaseURL).Test(cmd.Context(), cookie)
				if !res.Valid {
					return errors.Errorf("cookie rejected: %s", res.Message)
				}
				if res.UserInfo != nil {
					cmd.Printf("Logged in as %s\n", res.UserInfo.Username)
				}
			}

			if err := cfg.SetCookie(cookie); err != nil {
				return errors.Wrap(err, "failed to save cookie")
			}

			cmd.Printf("Cookie %s saved to %s\n", scraper.MaskCookie(cookie), cfg.ConfigPath())
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory or file path (defaults to OS-specific location)")
	command.Flags().BoolVar(&test, "test", false, "validate the cookie against the site before saving")

	return command
}

func RunVersionCommand(version string) *cobra.Command {
	var command = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of iptbrowser",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	return command
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without starting the server.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/iptbrowser/config.toml
- Windows: %APPDATA%\iptbrowser\config.toml

You can specify either a directory path or a direct file path:
- Directory: iptbrowser generate-config --config-dir /path/to/config/
- File: iptbrowser generate-config --config-dir /path/to/myconfig.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var configPath string
			if configDir != "" {
				if strings.HasSuffix(strings.ToLower(configDir), ".toml") {
					configPath = configDir
				} else if info, err := os.Stat(configDir); err == nil && !info.IsDir() {
					configPath = configDir
				} else {
					configPath = filepath.Join(configDir, "config.toml")
				}
			} else {
				configPath = filepath.Join(config.GetDefaultConfigDir(), "config.toml")
			}

			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Configuration file already exists at: %s\n", configPath)
				cmd.Println("Skipping generation to avoid overwriting existing configuration.")
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return fmt.Errorf("failed to create configuration file: %w", err)
			}

			cmd.Printf("Configuration file created successfully at: %s\n", configPath)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")

	return command
}

func readSecret(prompt string) (string, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Print(prompt)
		secret, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		return string(secret), nil
	}

	// cookies contain spaces, so read the whole line
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", fmt.Errorf("failed to read input from stdin: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// cacheStore picks the record store named by cacheBackend.
func cacheStore(cfg *config.AppConfig, backend string, db *database.DB) listing.RecordStore {
	switch strings.ToLower(backend) {
	case "json", "file":
		log.Info().Str("path", cfg.GetCacheFilePath()).Msg("Using JSON listing cache")
		return models.NewListingFileStore(cfg.GetCacheFilePath())
	case "memory":
		log.Warn().Msg("Using in-memory listing cache, cached listings are lost on restart")
		return listing.NewMemoryStore()
	default:
		return models.NewListingCacheStore(db)
	}
}

func newListingService(cfg *domain.Config, source listing.PageSource, store listing.RecordStore, m *listing.Metrics) *listing.Service {
	fetcher := listing.NewFetcher(source, listing.FetcherConfigFrom(cfg), listing.WithFetcherMetrics(m))
	cache := listing.NewCache(store, cfg.CacheTTL, listing.WithCacheMetrics(m))
	return listing.NewService(fetcher,
		listing.WithCache(cache),
		listing.WithDefaults(listing.DefaultsFrom(cfg)),
		listing.WithMetrics(m),
	)
}

type Application struct {
	configDir string
	dataDir   string
	logPath   string
	pprofFlag bool
}

func NewApplication(configDir, dataDir, logPath string, pprofFlag bool) *Application {
	return &Application{
		configDir: configDir,
		dataDir:   dataDir,
		logPath:   logPath,
		pprofFlag: pprofFlag,
	}
}

func (app *Application) runServer() {
	cfg, err := config.New(app.configDir, buildinfo.Version)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize configuration")
	}

	if app.dataDir != "" {
		os.Setenv("IPTB__DATA_DIR", app.dataDir)
		cfg.SetDataDir(app.dataDir)
	}
	if app.logPath != "" {
		os.Setenv("IPTB__LOG_PATH", app.logPath)
		cfg.Config.LogPath = app.logPath
	}

	if app.pprofFlag {
		cfg.Config.PprofEnabled = true
	}

	cfg.ApplyLogConfig()

	log.Info().Str("version", buildinfo.Version).Msg("Starting iptbrowser")

	current := cfg.Current()

	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	store := cacheStore(cfg, current.CacheBackend, db)

	metricsManager := metrics.NewMetricsManager()
	listingMetrics := listing.NewMetrics(metricsManager.Registry())

	siteClient := scraper.NewClientFromConfig(&current, scraper.WithUserAgent(buildinfo.UserAgent))
	if !siteClient.HasCookie() {
		log.Warn().Msg("No IPTorrents cookie configured - set one in Settings or with `iptbrowser set-cookie`")
	}
	validator := scraper.NewValidator(current.SiteBaseURL)
	listingService := newListingService(&current, siteClient, store, listingMetrics)

	tmdbClient := metadata.NewTMDBClient(current.TMDBAPIKey, metadata.WithTMDBCacheTTL(current.MetadataCacheTTL))
	igdbClient := metadata.NewIGDBClient(current.IGDBClientID, current.IGDBClientSecret, metadata.WithIGDBCacheTTL(current.MetadataCacheTTL))
	enrichment := metadata.NewQueue(tmdbClient, igdbClient, metadata.WithQueueDelay(current.EnrichmentDelay))

	queueCtx, cancelQueue := context.WithCancel(context.Background())
	defer cancelQueue()
	enrichment.Start(queueCtx)
	defer enrichment.Stop()

	metricsManager.RegisterGauge("iptbrowser_enrichment_pending", "Metadata lookups waiting in the enrichment queue", func() float64 {
		return float64(enrichment.Pending())
	})

	qbitClient := qbittorrent.NewClient(current.QBittorrent, siteClient)

	cfg.RegisterReloadListener(func(conf *domain.Config) {
		siteClient.SetCookie(conf.Cookie)
		tmdbClient.SetAPIKey(conf.TMDBAPIKey)
		igdbClient.SetCredentials(conf.IGDBClientID, conf.IGDBClientSecret)
		if _, err := qbitClient.SetConfig(conf.QBittorrent); err != nil {
			log.Error().Err(err).Msg("Ignoring invalid qBittorrent settings from config")
		}
	})

	sessionStore := database.NewSessionStore(db, 5*time.Minute)
	defer sessionStore.StopCleanup()

	sessionManager := scs.New()
	sessionManager.Store = sessionStore
	sessionManager.Lifetime = 24 * time.Hour * 30 // 30 days
	sessionManager.Cookie.Name = "iptbrowser_session"
	sessionManager.Cookie.HttpOnly = true
	sessionManager.Cookie.SameSite = http.SameSiteLaxMode
	sessionManager.Cookie.Secure = false
	sessionManager.Cookie.Persist = true

	httpServer := api.NewServer(&api.Dependencies{
		Config:         cfg,
		Version:        buildinfo.Version,
		SessionManager: sessionManager,
		Listings:       listingService,
		ViewDefaults:   models.NewViewDefaultsStore(db),
		Validator:      validator,
		QBittorrent:    qbitClient,
		TMDB:           tmdbClient,
		IGDB:           igdbClient,
		Queue:          enrichment,
		Readiness: map[string]handlers.ReadinessCheck{
			"database": func(ctx context.Context) error { return db.PingContext(ctx) },
		},
	})

	errorChannel := make(chan error, 2)
	serverReady := make(chan struct{}, 1)
	go func() {
		if err := httpServer.ListenAndServeReady(serverReady); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorChannel <- err
		}
	}()

	select {
	case <-serverReady:
	case err := <-errorChannel:
		log.Fatal().Err(err).Msg("failed to start HTTP server")
	}

	var metricsServer *metrics.Server
	if current.MetricsEnabled {
		metricsServer = metrics.NewMetricsServer(
			metricsManager,
			current.MetricsHost,
			current.MetricsPort,
			current.MetricsBasicAuthUsers,
		)

		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errorChannel <- err
			}
		}()
	}

	if cfg.Config.PprofEnabled {
		go func() {
			log.Info().Msg("Starting pprof server on :6060")
			log.Info().Msg("Access profiling at: http://localhost:6060/debug/pprof/")
			if err := http.ListenAndServe(":6060", nil); err != nil {
				log.Error().Err(err).Msg("Profiling server failed")
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Msgf("got signal %v, shutting down server", sig.String())
	case err := <-errorChannel:
		log.Error().Err(err).Msg("got unexpected error from server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	enrichment.Stop()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("got error during metrics server shutdown")
		}
	}

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("got error during graceful http shutdown")

		os.Exit(1)
	}

	log.Info().Msg("Server stopped")
}
