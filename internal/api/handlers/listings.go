// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/iptbrowser/internal/dedup"
	"github.com/autobrr/iptbrowser/internal/domain"
	"github.com/autobrr/iptbrowser/internal/models"
	"github.com/autobrr/iptbrowser/internal/pipeline"
	"github.com/autobrr/iptbrowser/internal/scraper"
	"github.com/autobrr/iptbrowser/internal/services/listing"
)

// ListingService answers list, refresh and stats queries.
type ListingService interface {
	List(ctx context.Context, q listing.Query) (*listing.ListResult, error)
	Refresh(ctx context.Context, req listing.RefreshRequest) (*listing.RefreshResult, error)
	Stats(ctx context.Context) listing.Stats
	Categories() []models.Category
}

type ListingsHandler struct {
	service ListingService
}

func NewListingsHandler(service ListingService) *ListingsHandler {
	return &ListingsHandler{service: service}
}

type TorrentsResponse struct {
	Torrents []dedup.Entry         `json:"torrents"`
	Metadata listing.CacheMetadata `json:"metadata"`
	Count    int                   `json:"count"`
}

type RefreshResponse struct {
	Success     bool              `json:"success"`
	Count       int               `json:"count"`
	NewTorrents int               `json:"new_torrents"`
	ModeUsed    listing.Mode      `json:"mode_used"`
	Message     string            `json:"message"`
	Categories  map[string]int    `json:"categories,omitempty"`
	Errors      map[string]string `json:"errors,omitempty"`
}

// ParseQuery reads list parameters from the query string.
func ParseQuery(r *http.Request) listing.Query {
	q := r.URL.Query()
	return listing.Query{
		Mode:        listing.ParseMode(q.Get("mode")),
		Categories:  queryList(r, "categories"),
		Days:        queryInt(r, "days"),
		MinSnatched: intOrZero(queryInt(r, "min_snatched")),
		Exclude:     q.Get("exclude"),
		Search:      q.Get("search"),
		Expr:        q.Get("expr"),
		SortBy:      q.Get("sort_by"),
		Order:       q.Get("order"),
		Dedup:       queryBool(r, "dedup"),
	}
}

func (h *ListingsHandler) ListTorrents(w http.ResponseWriter, r *http.Request) {
	// fetches keep running if the client goes away so the cache still gets updated
	ctx := context.WithoutCancel(r.Context())

	res, err := h.service.List(ctx, ParseQuery(r))
	if err != nil {
		respondListingError(w, err)
		return
	}

	items := res.Items
	if items == nil {
		items = []dedup.Entry{}
	}
	RespondJSON(w, http.StatusOK, TorrentsResponse{Torrents: items, Metadata: res.Metadata, Count: len(items)})
}

func (h *ListingsHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	req := listing.RefreshRequest{
		Mode:       listing.ModeIncremental,
		Categories: queryList(r, "categories"),
		Days:       queryInt(r, "days"),
	}
	if queryBool(r, "force") {
		req.Mode = listing.ModeFull
	}

	res, err := h.service.Refresh(context.WithoutCancel(r.Context()), req)
	if err != nil && res == nil {
		respondListingError(w, err)
		return
	}

	label := "Incremental refresh"
	if res.Mode == listing.ModeFull {
		label = "Full refresh"
	}

	out := RefreshResponse{
		Success:     err == nil,
		Count:       res.Total,
		NewTorrents: res.Added,
		ModeUsed:    res.Mode,
		Message:     fmt.Sprintf("%s: %d new torrents", label, res.Added),
		Categories:  res.Categories,
		Errors:      res.Errors,
	}
	if err != nil {
		log.Warn().Err(err).Msg("Refresh failed for every category")
		out.Message = fmt.Sprintf("%s failed: %v", label, err)
		RespondJSON(w, upstreamStatus(err), out)
		return
	}

	RespondJSON(w, http.StatusOK, out)
}

func (h *ListingsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, h.service.Stats(r.Context()))
}

func (h *ListingsHandler) Categories(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, h.service.Categories())
}

func respondListingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, listing.ErrUnknownCategory), errors.Is(err, pipeline.ErrInvalidExpr):
		RespondError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Msg("Listing request failed")
		RespondError(w, upstreamStatus(err), err.Error())
	}
}

// upstreamStatus maps fetch failures to a response status.
func upstreamStatus(err error) int {
	var transport *scraper.UpstreamTransportError
	switch {
	case errors.Is(err, &domain.ConfigurationError{}):
		return http.StatusPreconditionFailed
	case errors.Is(err, &scraper.UpstreamAuthError{}):
		return http.StatusUnauthorized
	case errors.As(err, &transport) && transport.IsRateLimited():
		return http.StatusTooManyRequests
	case errors.Is(err, &scraper.UpstreamTransportError{}):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func intOrZero(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
