// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/alexedwards/scs/v2"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/iptbrowser/internal/models"
)

const viewStateKey = "view_state"

type ViewDefaultsStore interface {
	Get(ctx context.Context) (*models.ViewDefaults, error)
	Update(ctx context.Context, input *models.ViewDefaultsInput) (*models.ViewDefaults, error)
}

// ViewState is what the browser remembers between page loads.
type ViewState struct {
	Categories  []string `json:"categories"`
	SortBy      string   `json:"sortBy"`
	SortOrder   string   `json:"sortOrder"`
	Days        int      `json:"days"`
	MinSnatched int      `json:"minSnatched"`
	Exclude     string   `json:"exclude"`
	Search      string   `json:"search"`
	Dedup       bool     `json:"dedup"`
}

type StateResponse struct {
	State  ViewState `json:"state"`
	Source string    `json:"source"`
}

type StateHandler struct {
	sessions *scs.SessionManager
	defaults ViewDefaultsStore
}

func NewStateHandler(sessions *scs.SessionManager, defaults ViewDefaultsStore) *StateHandler {
	return &StateHandler{sessions: sessions, defaults: defaults}
}

// GetState returns the session state, or the stored defaults for a new session.
func (h *StateHandler) GetState(w http.ResponseWriter, r *http.Request) {
	if raw := h.sessions.GetString(r.Context(), viewStateKey); raw != "" {
		var state ViewState
		if err := json.Unmarshal([]byte(raw), &state); err == nil {
			RespondJSON(w, http.StatusOK, StateResponse{State: state, Source: "session"})
			return
		}
		log.Warn().Msg("Discarding unreadable session view state")
		h.sessions.Remove(r.Context(), viewStateKey)
	}

	vd, err := h.defaults.Get(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to load view defaults")
		RespondError(w, http.StatusInternalServerError, "Failed to load view defaults")
		return
	}

	RespondJSON(w, http.StatusOK, StateResponse{State: stateFromDefaults(vd), Source: "defaults"})
}

func (h *StateHandler) PutState(w http.ResponseWriter, r *http.Request) {
	var state ViewState
	if err := decodeJSON(r, &state, false); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if state.Categories == nil {
		state.Categories = []string{}
	}

	raw, err := json.Marshal(state)
	if err != nil {
		RespondError(w, http.StatusInternalServerError, "Failed to encode view state")
		return
	}
	h.sessions.Put(r.Context(), viewStateKey, string(raw))

	RespondJSON(w, http.StatusOK, StateResponse{State: state, Source: "session"})
}

func (h *StateHandler) PutDefaults(w http.ResponseWriter, r *http.Request) {
	var input models.ViewDefaultsInput
	if err := decodeJSON(r, &input, false); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	vd, err := h.defaults.Update(r.Context(), &input)
	if err != nil {
		log.Error().Err(err).Msg("Failed to update view defaults")
		RespondError(w, http.StatusInternalServerError, "Failed to update view defaults")
		return
	}

	RespondJSON(w, http.StatusOK, vd)
}

func stateFromDefaults(vd *models.ViewDefaults) ViewState {
	categories := vd.Categories
	if categories == nil {
		categories = []string{}
	}
	return ViewState{
		Categories:  categories,
		SortBy:      vd.SortBy,
		SortOrder:   vd.SortOrder,
		Days:        vd.Days,
		MinSnatched: vd.MinSnatched,
		Exclude:     vd.Exclude,
		Dedup:       vd.Dedup,
	}
}
