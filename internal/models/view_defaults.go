// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/autobrr/iptbrowser/internal/dbinterface"
)

// DefaultViewCategories is used when no defaults have been saved yet.
var DefaultViewCategories = []string{"PC-ISO", "PC-Rip"}

// ViewDefaults are the persisted query settings a new browser session starts from.
type ViewDefaults struct {
	Categories  []string  `json:"categories"`
	SortBy      string    `json:"sortBy"`
	SortOrder   string    `json:"sortOrder"`
	Days        int       `json:"days"`
	MinSnatched int       `json:"minSnatched"`
	Exclude     string    `json:"exclude"`
	Dedup       bool      `json:"dedup"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ViewDefaultsInput is a partial update; nil fields keep the stored value.
type ViewDefaultsInput struct {
	Categories  []string `json:"categories,omitempty"`
	SortBy      string   `json:"sortBy,omitempty"`
	SortOrder   string   `json:"sortOrder,omitempty"`
	Days        *int     `json:"days,omitempty"`
	MinSnatched *int     `json:"minSnatched,omitempty"`
	Exclude     *string  `json:"exclude,omitempty"`
	Dedup       *bool    `json:"dedup,omitempty"`
}

type ViewDefaultsStore struct {
	db dbinterface.Querier
}

func NewViewDefaultsStore(db dbinterface.Querier) *ViewDefaultsStore {
	return &ViewDefaultsStore{db: db}
}

// Get returns the stored defaults, creating them on first use.
func (s *ViewDefaultsStore) Get(ctx context.Context) (*ViewDefaults, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT categories, sort_by, sort_order, days, min_snatched, exclude, dedup, created_at, updated_at
		FROM view_defaults
		WHERE id = 1
	`)

	var (
		vd             ViewDefaults
		categoriesJSON string
	)

	err := row.Scan(&categoriesJSON, &vd.SortBy, &vd.SortOrder, &vd.Days, &vd.MinSnatched, &vd.Exclude, &vd.Dedup, &vd.CreatedAt, &vd.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s.createDefault(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("get view defaults: %w", err)
	}

	if categoriesJSON != "" && categoriesJSON != "[]" {
		if err := json.Unmarshal([]byte(categoriesJSON), &vd.Categories); err != nil {
			vd.Categories = copyStringSlice(DefaultViewCategories)
		}
	} else {
		vd.Categories = []string{}
	}

	return &vd, nil
}

// Update merges input into the stored defaults.
func (s *ViewDefaultsStore) Update(ctx context.Context, input *ViewDefaultsInput) (*ViewDefaults, error) {
	if input == nil {
		return nil, errors.New("input is nil")
	}

	existing, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}

	if input.Categories != nil {
		existing.Categories = input.Categories
	}
	if input.SortBy != "" {
		existing.SortBy = input.SortBy
	}
	if input.SortOrder != "" {
		existing.SortOrder = input.SortOrder
	}
	if input.Days != nil && *input.Days >= 0 {
		existing.Days = *input.Days
	}
	if input.MinSnatched != nil && *input.MinSnatched >= 0 {
		existing.MinSnatched = *input.MinSnatched
	}
	if input.Exclude != nil {
		existing.Exclude = *input.Exclude
	}
	if input.Dedup != nil {
		existing.Dedup = *input.Dedup
	}

	categoriesJSON, err := json.Marshal(existing.Categories)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE view_defaults
		SET categories = ?,
		    sort_by = ?,
		    sort_order = ?,
		    days = ?,
		    min_snatched = ?,
		    exclude = ?,
		    dedup = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = 1
	`,
		string(categoriesJSON),
		existing.SortBy,
		existing.SortOrder,
		existing.Days,
		existing.MinSnatched,
		existing.Exclude,
		existing.Dedup,
	)
	if err != nil {
		return nil, fmt.Errorf("update view defaults: %w", err)
	}

	return s.Get(ctx)
}

func (s *ViewDefaultsStore) createDefault(ctx context.Context) (*ViewDefaults, error) {
	categoriesJSON, err := json.Marshal(DefaultViewCategories)
	if err != nil {
		return nil, fmt.Errorf("marshal default categories: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO view_defaults (id, categories, sort_by, sort_order, days, min_snatched, exclude, dedup)
		VALUES (1, ?, 'date', 'desc', 0, 0, '', 1)
	`, string(categoriesJSON))
	if err != nil {
		return nil, fmt.Errorf("create view defaults: %w", err)
	}

	now := time.Now()
	return &ViewDefaults{
		Categories: copyStringSlice(DefaultViewCategories),
		SortBy:     "date",
		SortOrder:  "desc",
		Dedup:      true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func copyStringSlice(src []string) []string {
	dst := make([]string, len(src))
	copy(dst, src)
	return dst
}
