// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// Server serves /metrics on its own listener, optionally behind basic auth.
type Server struct {
	server *http.Server
	log    zerolog.Logger
}

// NewMetricsServer builds the metrics server. basicAuthUsers is a comma
// separated list of user:bcrypt_hash pairs; empty disables authentication.
func NewMetricsServer(manager *Manager, host string, port int, basicAuthUsers string) *Server {
	logger := log.Logger.With().Str("module", "metrics").Logger()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	users := ParseBasicAuthUsers(basicAuthUsers)
	if len(users) > 0 {
		r.Use(basicAuth(users))
		logger.Info().Int("users", len(users)).Msg("Metrics basic auth enabled")
	}

	r.Get("/metrics", promhttp.HandlerFor(manager.Registry(), promhttp.HandlerOpts{}).ServeHTTP)

	return &Server{
		server: &http.Server{
			Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: logger,
	}
}

func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ParseBasicAuthUsers parses "user:hash,user2:hash2". Malformed pairs are
// skipped with a warning.
func ParseBasicAuthUsers(raw string) map[string][]byte {
	users := make(map[string][]byte)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		user, hash, ok := strings.Cut(pair, ":")
		user, hash = strings.TrimSpace(user), strings.TrimSpace(hash)
		if !ok || user == "" || hash == "" {
			log.Warn().Str("entry", user).Msg("Ignoring malformed metrics basic auth entry")
			continue
		}
		users[user] = []byte(hash)
	}
	return users
}

func basicAuth(users map[string][]byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if ok {
				if hash, found := users[user]; found && bcrypt.CompareHashAndPassword(hash, []byte(pass)) == nil {
					next.ServeHTTP(w, r)
					return
				}
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="metrics"`)
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		})
	}
}
