// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/autobrr/iptbrowser/internal/config"
	"github.com/autobrr/iptbrowser/internal/domain"
	"github.com/autobrr/iptbrowser/internal/models"
	"github.com/autobrr/iptbrowser/internal/services/listing"
)

type routeKey struct {
	Method string
	Path   string
}

var undocumentedRoutes = map[routeKey]struct{}{}

func TestAllEndpointsDocumented(t *testing.T) {
	server := NewServer(newTestDependencies(t, "/"))
	router, err := server.Handler()
	require.NoError(t, err)

	actualRoutes := collectRouterRoutes(t, router)
	documentedRoutes := loadDocumentedRoutes(t)

	undocumented := diffRoutes(actualRoutes, documentedRoutes)
	if len(undocumented) > 0 {
		t.Fatalf("found %d undocumented API endpoints:\n%s", len(undocumented), formatRoutes(undocumented))
	}

	missingHandlers := diffRoutes(documentedRoutes, actualRoutes)
	if len(missingHandlers) > 0 {
		t.Fatalf("found %d documented endpoints without handlers:\n%s", len(missingHandlers), formatRoutes(missingHandlers))
	}

	t.Logf("checked %d API routes registered in chi", len(actualRoutes))
	t.Logf("OpenAPI spec documents %d API routes", len(documentedRoutes))
}

func TestHandlerServesAPIUnderBaseURL(t *testing.T) {
	tests := []struct {
		name       string
		baseURL    string
		path       string
		wantStatus int
	}{
		{name: "root categories", baseURL: "/", path: "/api/categories", wantStatus: http.StatusOK},
		{name: "root health", baseURL: "/", path: "/health", wantStatus: http.StatusOK},
		{name: "sub categories", baseURL: "/iptb/", path: "/iptb/api/categories", wantStatus: http.StatusOK},
		{name: "sub openapi", baseURL: "/iptb/", path: "/iptb/api/openapi.yaml", wantStatus: http.StatusOK},
		{name: "sub root rejected", baseURL: "/iptb/", path: "/", wantStatus: http.StatusNotFound},
		{name: "sub health stays at root", baseURL: "/iptb/", path: "/healthz/liveness", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, err := NewServer(newTestDependencies(t, tt.baseURL)).Handler()
			require.NoError(t, err)

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

type stubListings struct{}

func (stubListings) List(context.Context, listing.Query) (*listing.ListResult, error) {
	return &listing.ListResult{}, nil
}

func (stubListings) Refresh(context.Context, listing.RefreshRequest) (*listing.RefreshResult, error) {
	return &listing.RefreshResult{Mode: listing.ModeIncremental}, nil
}

func (stubListings) Stats(context.Context) listing.Stats {
	return listing.Stats{}
}

func (stubListings) Categories() []models.Category {
	return models.Categories
}

func newTestDependencies(t *testing.T, baseURL string) *Dependencies {
	t.Helper()

	return &Dependencies{
		Config: &config.AppConfig{
			Config: &domain.Config{
				BaseURL: baseURL,
			},
		},
		Version:        "test",
		SessionManager: scs.New(),
		Listings:       stubListings{},
	}
}

func collectRouterRoutes(t *testing.T, r chi.Routes) map[routeKey]struct{} {
	t.Helper()

	routes := make(map[routeKey]struct{})
	err := chi.Walk(r, func(method string, path string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		method = strings.ToUpper(method)
		if !isComparableMethod(method) {
			return nil
		}

		normalizedPath, ok := normalizeRoutePath(path)
		if !ok {
			return nil
		}

		route := routeKey{Method: method, Path: normalizedPath}
		if _, skip := undocumentedRoutes[route]; skip {
			return nil
		}

		routes[route] = struct{}{}
		return nil
	})
	require.NoError(t, err)

	return routes
}

func loadDocumentedRoutes(t *testing.T) map[routeKey]struct{} {
	t.Helper()

	specBytes := openAPISpec
	require.NotEmpty(t, specBytes, "OpenAPI spec should be embedded")

	var spec map[string]any
	require.NoError(t, yaml.Unmarshal(specBytes, &spec))

	pathsNode, ok := spec["paths"].(map[string]any)
	require.True(t, ok, "OpenAPI spec missing paths section")

	routes := make(map[routeKey]struct{})

	for path, pathItem := range pathsNode {
		normalizedPath, ok := normalizeRoutePath(path)
		if !ok {
			continue
		}

		methods, ok := pathItem.(map[string]any)
		if !ok {
			continue
		}

		for method := range methods {
			upperMethod := strings.ToUpper(method)
			if !isComparableMethod(upperMethod) {
				continue
			}

			routes[routeKey{Method: upperMethod, Path: normalizedPath}] = struct{}{}
		}
	}

	return routes
}

func normalizeRoutePath(path string) (string, bool) {
	if path == "" {
		return "", false
	}

	if strings.Contains(path, "/*") {
		return "", false
	}

	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}

	if !strings.HasPrefix(path, "/api") && !strings.HasPrefix(path, "/health") {
		return "", false
	}

	return path, true
}

func isComparableMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

func diffRoutes(left, right map[routeKey]struct{}) []routeKey {
	diff := make([]routeKey, 0)
	for route := range left {
		if _, exists := right[route]; !exists {
			diff = append(diff, route)
		}
	}

	sort.Slice(diff, func(i, j int) bool {
		if diff[i].Path == diff[j].Path {
			return diff[i].Method < diff[j].Method
		}
		return diff[i].Path < diff[j].Path
	})

	return diff
}

func formatRoutes(routes []routeKey) string {
	lines := make([]string, len(routes))
	for i, route := range routes {
		lines[i] = fmt.Sprintf("%s %s", route.Method, route.Path)
	}
	return strings.Join(lines, "\n")
}
