// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/iptbrowser/internal/domain"
	"github.com/autobrr/iptbrowser/internal/scraper"
)

// SettingsStore reads and persists user-editable settings.
type SettingsStore interface {
	Current() domain.Config
	SetCookie(cookie string) error
	SetQBittorrent(qb domain.QBittorrentConfig) error
	CookieSource() string
	Reload() error
}

type CookieValidator interface {
	Test(ctx context.Context, cookie string) scraper.ValidationResult
}

type CookieHandler struct {
	settings  SettingsStore
	validator CookieValidator

	mu   sync.Mutex
	last *scraper.ValidationResult
}

func NewCookieHandler(settings SettingsStore, validator CookieValidator) *CookieHandler {
	return &CookieHandler{settings: settings, validator: validator}
}

type CookieStatusResponse struct {
	HasCookie        bool       `json:"has_cookie"`
	MaskedCookie     string     `json:"masked_cookie,omitempty"`
	LastValidated    *time.Time `json:"last_validated"`
	ValidationStatus string     `json:"validation_status"`
	ExpiryDetected   bool       `json:"expiry_detected"`
	Source           string     `json:"source"`
}

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type cookieRequest struct {
	Cookie string `json:"cookie"`
}

func (h *CookieHandler) Status(w http.ResponseWriter, r *http.Request) {
	cookie := h.settings.Current().Cookie

	resp := CookieStatusResponse{
		HasCookie:        cookie != "",
		ValidationStatus: "unknown",
		Source:           h.settings.CookieSource(),
	}
	if cookie != "" {
		resp.MaskedCookie = scraper.MaskCookie(cookie)
	}

	h.mu.Lock()
	if h.last != nil {
		tested := h.last.TestedAt
		resp.LastValidated = &tested
		resp.ExpiryDetected = h.last.ExpiryDetected
		resp.ValidationStatus = "invalid"
		if h.last.Valid {
			resp.ValidationStatus = "valid"
		}
	}
	h.mu.Unlock()

	RespondJSON(w, http.StatusOK, resp)
}

// Get returns the stored cookie, masked unless unmask=true.
func (h *CookieHandler) Get(w http.ResponseWriter, r *http.Request) {
	cookie := h.settings.Current().Cookie
	if cookie == "" {
		RespondError(w, http.StatusNotFound, "No cookie configured")
		return
	}

	unmask := queryBool(r, "unmask")
	out := cookie
	if !unmask {
		out = scraper.MaskCookie(cookie)
	}
	RespondJSON(w, http.StatusOK, map[string]any{"cookie": out, "masked": !unmask})
}

func (h *CookieHandler) Set(w http.ResponseWriter, r *http.Request) {
	var req cookieRequest
	if err := decodeJSON(r, &req, false); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	cookie := scraper.NormalizeCookie(strings.TrimSpace(req.Cookie))
	if err := scraper.ValidateCookieFormat(cookie); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid cookie format. Must contain uid= and pass= values")
		return
	}

	if err := h.settings.SetCookie(cookie); err != nil {
		log.Error().Err(err).Msg("Failed to save cookie")
		RespondError(w, http.StatusInternalServerError, "Failed to save cookie")
		return
	}

	h.mu.Lock()
	h.last = nil
	h.mu.Unlock()

	log.Info().Str("cookie", scraper.MaskCookie(cookie)).Msg("Cookie updated")
	RespondJSON(w, http.StatusOK, successResponse{Success: true, Message: "Cookie saved successfully"})
}

// Test validates the cookie in the body, or the stored one when the body has none.
func (h *CookieHandler) Test(w http.ResponseWriter, r *http.Request) {
	var req cookieRequest
	if err := decodeJSON(r, &req, true); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	cookie := strings.TrimSpace(req.Cookie)
	stored := cookie == ""
	if stored {
		cookie = h.settings.Current().Cookie
	}
	if cookie == "" {
		RespondError(w, http.StatusBadRequest, "No cookie provided")
		return
	}

	result := h.validator.Test(r.Context(), cookie)
	if stored {
		h.mu.Lock()
		h.last = &result
		h.mu.Unlock()
	}

	RespondJSON(w, http.StatusOK, result)
}

func (h *CookieHandler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.settings.Reload(); err != nil {
		log.Error().Err(err).Msg("Failed to reload configuration")
		RespondJSON(w, http.StatusInternalServerError, successResponse{Success: false, Message: err.Error()})
		return
	}

	h.mu.Lock()
	h.last = nil
	h.mu.Unlock()

	RespondJSON(w, http.StatusOK, successResponse{Success: true, Message: "Configuration reloaded"})
}

type UserInfoResponse struct {
	LoggedIn bool              `json:"logged_in"`
	UserInfo *scraper.UserInfo `json:"user_info"`
	Message  string            `json:"message"`
}

func (h *CookieHandler) UserInfo(w http.ResponseWriter, r *http.Request) {
	cookie := h.settings.Current().Cookie
	if cookie == "" {
		RespondJSON(w, http.StatusOK, UserInfoResponse{Message: "No cookie configured"})
		return
	}

	result := h.validator.Test(r.Context(), cookie)
	h.mu.Lock()
	h.last = &result
	h.mu.Unlock()

	RespondJSON(w, http.StatusOK, UserInfoResponse{
		LoggedIn: result.Valid,
		UserInfo: result.UserInfo,
		Message:  result.Message,
	})
}
