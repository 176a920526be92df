// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package listing

import (
	"context"
	"slices"
	"sync"

	"github.com/autobrr/iptbrowser/internal/models"
)

// MemoryStore keeps records in process memory. Records are copied on the way
// in and out so callers never share item slices with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]models.CacheRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]models.CacheRecord)}
}

func (s *MemoryStore) Load(_ context.Context, category string) (*models.CacheRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[category]
	if !ok {
		return nil, nil
	}
	rec.Items = slices.Clone(rec.Items)
	return &rec, nil
}

func (s *MemoryStore) Save(_ context.Context, rec *models.CacheRecord) error {
	cp := *rec
	cp.Items = slices.Clone(rec.Items)
	cp.Summarize()

	s.mu.Lock()
	s.records[rec.Category] = cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]models.CacheRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.CacheRecord, 0, len(s.records))
	for _, rec := range s.records {
		rec.Items = slices.Clone(rec.Items)
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b models.CacheRecord) int {
		switch {
		case a.Category < b.Category:
			return -1
		case a.Category > b.Category:
			return 1
		}
		return 0
	})
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if category == "" {
		clear(s.records)
		return nil
	}
	delete(s.records, category)
	return nil
}
