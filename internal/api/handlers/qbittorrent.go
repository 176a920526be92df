// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/iptbrowser/internal/domain"
	"github.com/autobrr/iptbrowser/internal/qbittorrent"
)

type QBittorrentClient interface {
	Config() domain.QBittorrentConfig
	SetConfig(in domain.QBittorrentConfig) (domain.QBittorrentConfig, error)
	Status() qbittorrent.Status
	TestConnection(ctx context.Context) (*qbittorrent.ConnectionInfo, error)
	AddTorrent(ctx context.Context, req qbittorrent.AddRequest) (*qbittorrent.AddResult, error)
}

type QBittorrentHandler struct {
	client   QBittorrentClient
	settings SettingsStore
}

func NewQBittorrentHandler(client QBittorrentClient, settings SettingsStore) *QBittorrentHandler {
	return &QBittorrentHandler{client: client, settings: settings}
}

type qbitTestResponse struct {
	Success bool                        `json:"success"`
	Message string                      `json:"message"`
	Info    *qbittorrent.ConnectionInfo `json:"info,omitempty"`
}

type qbitAddResponse struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Result  *qbittorrent.AddResult `json:"result,omitempty"`
}

func (h *QBittorrentHandler) Status(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, h.client.Status())
}

func (h *QBittorrentHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, h.client.Config())
}

func (h *QBittorrentHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var in domain.QBittorrentConfig
	if err := decodeJSON(r, &in, false); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	effective, err := h.client.SetConfig(in)
	if err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.settings.SetQBittorrent(effective); err != nil {
		log.Error().Err(err).Msg("Failed to persist qBittorrent settings")
		RespondError(w, http.StatusInternalServerError, "Failed to save qBittorrent settings")
		return
	}

	RespondJSON(w, http.StatusOK, successResponse{Success: true, Message: "qBittorrent settings saved"})
}

func (h *QBittorrentHandler) Test(w http.ResponseWriter, r *http.Request) {
	info, err := h.client.TestConnection(r.Context())
	if err != nil {
		RespondJSON(w, http.StatusBadRequest, qbitTestResponse{Message: h.errorMessage(err)})
		return
	}

	RespondJSON(w, http.StatusOK, qbitTestResponse{
		Success: true,
		Message: fmt.Sprintf("Connected to qBittorrent %s (WebAPI %s)", info.AppVersion, info.WebAPIVersion),
		Info:    info,
	})
}

func (h *QBittorrentHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req qbittorrent.AddRequest
	if err := decodeJSON(r, &req, false); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		RespondError(w, http.StatusBadRequest, "torrent_url is required")
		return
	}

	res, err := h.client.AddTorrent(context.WithoutCancel(r.Context()), req)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, qbittorrent.ErrNotConfigured) {
			status = http.StatusBadRequest
		}
		log.Warn().Err(err).Str("torrent", req.Name).Msg("Failed to add torrent")
		RespondJSON(w, status, qbitAddResponse{Message: h.errorMessage(err)})
		return
	}

	RespondJSON(w, http.StatusOK, qbitAddResponse{Success: true, Message: res.Message, Result: res})
}

func (h *QBittorrentHandler) errorMessage(err error) string {
	switch {
	case errors.Is(err, qbittorrent.ErrNotConfigured):
		return "qBittorrent integration is not enabled. Configure it in Settings."
	case errors.Is(err, qbittorrent.ErrConnection):
		return fmt.Sprintf("qBittorrent is unreachable at %s. Check that it is running and the host is correct.", h.client.Status().Host)
	case errors.Is(err, qbittorrent.ErrAuthentication):
		return "Authentication failed. Please check your username and password in Settings."
	default:
		return fmt.Sprintf("Failed to add torrent: %v", err)
	}
}
