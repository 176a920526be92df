// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/CAFxX/httpcompression"
	"github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/iptbrowser/internal/api/handlers"
	"github.com/autobrr/iptbrowser/internal/api/middleware"
	"github.com/autobrr/iptbrowser/internal/config"
)

//go:embed openapi.yaml
var openAPISpec []byte

type Server struct {
	server  *http.Server
	logger  zerolog.Logger
	config  *config.AppConfig
	version string

	sessionManager *scs.SessionManager
	listings       handlers.ListingService
	viewDefaults   handlers.ViewDefaultsStore
	validator      handlers.CookieValidator
	qbittorrent    handlers.QBittorrentClient
	movies         handlers.MovieProvider
	games          handlers.GameProvider
	queue          handlers.EnrichmentQueue
	readiness      map[string]handlers.ReadinessCheck
}

type Dependencies struct {
	Config         *config.AppConfig
	Version        string
	SessionManager *scs.SessionManager
	Listings       handlers.ListingService
	ViewDefaults   handlers.ViewDefaultsStore
	Validator      handlers.CookieValidator
	QBittorrent    handlers.QBittorrentClient
	TMDB           handlers.MovieProvider
	IGDB           handlers.GameProvider
	Queue          handlers.EnrichmentQueue
	Readiness      map[string]handlers.ReadinessCheck
}

func NewServer(deps *Dependencies) *Server {
	s := Server{
		server: &http.Server{
			ReadHeaderTimeout: time.Second * 15,
			ReadTimeout:       60 * time.Second,
			// a full-window refresh walks up to 50 pages per category
			WriteTimeout: 10 * time.Minute,
			IdleTimeout:  180 * time.Second,
		},
		logger:         log.Logger.With().Str("module", "api").Logger(),
		config:         deps.Config,
		version:        deps.Version,
		sessionManager: deps.SessionManager,
		listings:       deps.Listings,
		viewDefaults:   deps.ViewDefaults,
		validator:      deps.Validator,
		qbittorrent:    deps.QBittorrent,
		movies:         deps.TMDB,
		games:          deps.IGDB,
		queue:          deps.Queue,
		readiness:      deps.Readiness,
	}

	return &s
}

func (s *Server) ListenAndServe() error {
	return s.open(nil)
}

// ListenAndServeReady behaves like ListenAndServe but signals once the listener is active.
func (s *Server) ListenAndServeReady(ready chan<- struct{}) error {
	return s.open(ready)
}

func (s *Server) open(ready chan<- struct{}) error {
	cfg := s.config.Current()
	addr := net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port))

	var lastErr error
	for _, proto := range []string{"tcp", "tcp4", "tcp6"} {
		err := s.tryToServe(addr, proto, ready)
		if err == nil {
			return nil
		}

		if errors.Is(err, http.ErrServerClosed) {
			return err
		}

		s.logger.Error().Err(err).Str("addr", addr).Str("proto", proto).Msgf("Failed to start server")
		lastErr = err
	}

	return lastErr
}

func (s *Server) tryToServe(addr, protocol string, ready chan<- struct{}) error {
	listener, err := net.Listen(protocol, addr)
	if err != nil {
		return err
	}

	baseURL := s.config.Current().BaseURL
	host := listener.Addr().String()
	// Replace 0.0.0.0 or :: with localhost for clickable links
	if strings.HasPrefix(host, "0.0.0.0:") || strings.HasPrefix(host, "[::]:") {
		host = strings.Replace(host, "0.0.0.0:", "localhost:", 1)
		host = strings.Replace(host, "[::]:", "localhost:", 1)
	}
	clickableURL := fmt.Sprintf("http://%s%s", host, baseURL)

	s.logger.Info().
		Str("protocol", protocol).
		Str("addr", listener.Addr().String()).
		Str("base_url", baseURL).
		Msgf("Starting API server - Open: %s", clickableURL)

	handler, err := s.Handler()
	if err != nil {
		listener.Close()
		return fmt.Errorf("build API router: %w", err)
	}

	s.server.Handler = handler

	if ready != nil {
		select {
		case ready <- struct{}{}:
		default:
		}
	}

	return s.server.Serve(listener)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) Handler() (*chi.Mux, error) {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID) // Must be before logger to capture request ID
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	// HTTP compression - handles gzip, brotli, zstd, deflate automatically.
	// Listing responses are large JSON documents.
	compressor, err := httpcompression.DefaultAdapter(
		httpcompression.MinSize(1024),                        // Only compress responses >= 1KB
		httpcompression.GzipCompressionLevel(2),              // Use gzip level 2 (fast) instead of 6 (default)
		httpcompression.Prefer(httpcompression.PreferServer), // Let server choose best compression
	)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create HTTP compression adapter")
	} else {
		r.Use(compressor)
	}

	corsMiddleware := cors.New(cors.Options{
		AllowCredentials: true,
		AllowedMethods:   []string{"HEAD", "OPTIONS", "GET", "POST", "PUT"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowOriginFunc:  func(origin string) bool { return true },
		MaxAge:           300,
		Debug:            false,
	})
	r.Use(corsMiddleware.Handler)

	// Session middleware - holds the per-browser view state
	r.Use(s.sessionManager.LoadAndSave)

	healthHandler := handlers.NewHealthHandler(s.version, s.readiness)
	listingsHandler := handlers.NewListingsHandler(s.listings)
	stateHandler := handlers.NewStateHandler(s.sessionManager, s.viewDefaults)
	cookieHandler := handlers.NewCookieHandler(s.config, s.validator)
	qbittorrentHandler := handlers.NewQBittorrentHandler(s.qbittorrent, s.config)
	metadataHandler := handlers.NewMetadataHandler(s.movies, s.games, s.queue, s.listings)

	apiRouter := chi.NewRouter()

	apiRouter.Group(func(r chi.Router) {
		r.Use(middleware.Logger(s.logger))

		r.Get("/torrents", listingsHandler.ListTorrents)
		r.Get("/refresh", listingsHandler.Refresh)
		r.Get("/stats", listingsHandler.Stats)
		r.Get("/categories", listingsHandler.Categories)

		r.Route("/state", func(r chi.Router) {
			r.Get("/", stateHandler.GetState)
			r.Put("/", stateHandler.PutState)
			r.Put("/defaults", stateHandler.PutDefaults)
		})

		r.Route("/cookie", func(r chi.Router) {
			r.Get("/status", cookieHandler.Status)
			r.Get("/get", cookieHandler.Get)
			r.Post("/set", cookieHandler.Set)
			r.Post("/test", cookieHandler.Test)
			r.Post("/reload", cookieHandler.Reload)
		})
		r.Get("/user/info", cookieHandler.UserInfo)

		r.Route("/qbittorrent", func(r chi.Router) {
			r.Get("/status", qbittorrentHandler.Status)
			r.Get("/config", qbittorrentHandler.GetConfig)
			r.Post("/config", qbittorrentHandler.UpdateConfig)
			r.Post("/test", qbittorrentHandler.Test)
			r.Post("/add", qbittorrentHandler.Add)
		})

		r.Route("/igdb", func(r chi.Router) {
			r.Post("/search", metadataHandler.SearchGame)
			r.Get("/status", metadataHandler.GameStatus)
			r.Post("/test", metadataHandler.TestGames)
		})

		r.Route("/tmdb", func(r chi.Router) {
			r.Post("/search", metadataHandler.SearchMovie)
			r.Get("/status", metadataHandler.MovieStatus)
		})

		r.Route("/metadata", func(r chi.Router) {
			r.Post("/enrich", metadataHandler.Enrich)
			r.Get("/{domain}/{key}", metadataHandler.Result)
		})
	})

	apiRouter.Get("/openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(openAPISpec)
	})

	baseURL := s.config.Current().BaseURL
	if baseURL == "" {
		baseURL = "/"
	}

	r.Get("/health", healthHandler.HandleHealth)
	r.Get("/healthz/readiness", healthHandler.HandleReady)
	r.Get("/healthz/liveness", healthHandler.HandleLiveness)

	r.Mount(baseURL+"api", apiRouter)

	if baseURL != "/" {
		r.Get("/", func(w http.ResponseWriter, request *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("Must use baseUrl: " + baseURL + " instead of /"))
		})
	}

	return r, nil
}
