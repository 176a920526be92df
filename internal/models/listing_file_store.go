// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const fileSnapshotVersion = 2

type fileSnapshot struct {
	Version int                    `json:"version"`
	Records map[string]CacheRecord `json:"records"`
}

// legacy layouts written by earlier releases
type legacySnapshot struct {
	Timestamp string          `json:"timestamp"`
	Metadata  *legacyMetadata `json:"metadata"`
	Data      []legacyItem    `json:"data"`
}

type legacyMetadata struct {
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
	DefaultWindowDays int    `json:"default_window_days"`
}

type legacyItem struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Category     string `json:"category"`
	Size         string `json:"size"`
	Seeders      int    `json:"seeders"`
	Leechers     int    `json:"leechers"`
	Snatched     int    `json:"snatched"`
	UploadTime   string `json:"upload_time"`
	Timestamp    string `json:"timestamp"`
	DownloadLink string `json:"download_link"`
	IsFreeleech  bool   `json:"is_freeleech"`
	URL          string `json:"url"`
}

// ListingFileStore keeps all category records in one JSON document.
// Writes go through a temp file and rename so readers never observe a
// partially written file.
type ListingFileStore struct {
	path string
	mu   sync.Mutex
}

func NewListingFileStore(path string) *ListingFileStore {
	return &ListingFileStore{path: path}
}

func (s *ListingFileStore) Path() string {
	return s.path
}

func (s *ListingFileStore) Load(_ context.Context, category string) (*CacheRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.read()
	if err != nil {
		return nil, err
	}

	rec, ok := snap.Records[category]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *ListingFileStore) List(_ context.Context) ([]CacheRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.read()
	if err != nil {
		return nil, err
	}

	records := make([]CacheRecord, 0, len(snap.Records))
	for _, rec := range snap.Records {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Category < records[j].Category })
	return records, nil
}

func (s *ListingFileStore) Save(_ context.Context, rec *CacheRecord) error {
	if rec == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if strings.TrimSpace(rec.Category) == "" {
		return fmt.Errorf("category cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.read()
	if err != nil {
		if !errors.Is(err, ErrCacheCorrupt) {
			return err
		}
		log.Warn().Err(err).Str("path", s.path).Msg("Replacing corrupt listing cache file")
		_ = os.Rename(s.path, s.path+".corrupt")
		snap = &fileSnapshot{Records: map[string]CacheRecord{}}
	}

	rec.Summarize()
	rec.Fingerprint = ItemsFingerprint(rec.Items)
	if prev, ok := snap.Records[rec.Category]; ok && !prev.CreatedAt.IsZero() {
		rec.CreatedAt = prev.CreatedAt
	} else if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.LastUpdated
	}
	snap.Records[rec.Category] = *rec

	return s.write(snap)
}

func (s *ListingFileStore) Delete(_ context.Context, category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.read()
	if err != nil && !errors.Is(err, ErrCacheCorrupt) {
		return err
	}
	if snap == nil || strings.TrimSpace(category) == "" {
		snap = &fileSnapshot{Records: map[string]CacheRecord{}}
	} else {
		delete(snap.Records, category)
	}
	return s.write(snap)
}

func (s *ListingFileStore) read() (*fileSnapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &fileSnapshot{Version: fileSnapshotVersion, Records: map[string]CacheRecord{}}, nil
		}
		return nil, fmt.Errorf("read listing cache file: %w", err)
	}

	var shape map[string]json.RawMessage
	if err := json.Unmarshal(data, &shape); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheCorrupt, err)
	}

	if _, ok := shape["records"]; ok {
		var snap fileSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCacheCorrupt, err)
		}
		if snap.Records == nil {
			snap.Records = map[string]CacheRecord{}
		}
		return &snap, nil
	}

	if _, ok := shape["data"]; ok {
		snap, err := migrateLegacySnapshot(data)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", s.path).Int("categories", len(snap.Records)).Msg("Migrated legacy listing cache file")
		return snap, nil
	}

	return nil, fmt.Errorf("%w: unrecognised layout", ErrCacheCorrupt)
}

func (s *ListingFileStore) write(snap *fileSnapshot) error {
	snap.Version = fileSnapshotVersion

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode listing cache file: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp cache file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp cache file: %w", err)
	}

	if prev, err := os.ReadFile(s.path); err == nil {
		if err := os.WriteFile(s.path+".backup", prev, 0o644); err != nil {
			log.Debug().Err(err).Msg("Could not write listing cache backup")
		}
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace cache file: %w", err)
	}

	return nil
}

func migrateLegacySnapshot(data []byte) (*fileSnapshot, error) {
	var legacy legacySnapshot
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, fmt.Errorf("%w: legacy layout: %v", ErrCacheCorrupt, err)
	}

	updated := parseLegacyTime(legacy.Timestamp)
	created := updated
	windowDays := 0
	if legacy.Metadata != nil {
		if t := parseLegacyTime(legacy.Metadata.UpdatedAt); !t.IsZero() {
			updated = t
		}
		if t := parseLegacyTime(legacy.Metadata.CreatedAt); !t.IsZero() {
			created = t
		}
		windowDays = legacy.Metadata.DefaultWindowDays
	}

	snap := &fileSnapshot{Version: fileSnapshotVersion, Records: map[string]CacheRecord{}}
	seen := make(map[string]struct{}, len(legacy.Data))
	for _, li := range legacy.Data {
		if li.ID == "" || li.Category == "" {
			continue
		}
		key := li.Category + "/" + li.ID
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		rec := snap.Records[li.Category]
		rec.Category = li.Category
		rec.LastUpdated = updated
		rec.CreatedAt = created
		rec.WindowDays = windowDays
		rec.Items = append(rec.Items, Item{
			ID:          li.ID,
			Name:        li.Name,
			Category:    li.Category,
			Size:        li.Size,
			Seeders:     max(li.Seeders, 0),
			Leechers:    max(li.Leechers, 0),
			Snatched:    max(li.Snatched, 0),
			UploadTime:  li.UploadTime,
			Timestamp:   parseLegacyTime(li.Timestamp),
			Freeleech:   li.IsFreeleech,
			DownloadURL: li.DownloadLink,
			DetailsURL:  li.URL,
		})
		snap.Records[li.Category] = rec
	}

	for cat, rec := range snap.Records {
		SortItemsNewestFirst(rec.Items)
		rec.Summarize()
		rec.Fingerprint = ItemsFingerprint(rec.Items)
		snap.Records[cat] = rec
	}

	return snap, nil
}

var legacyTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

func parseLegacyTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	for _, layout := range legacyTimeLayouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t
		}
	}
	return time.Time{}
}
