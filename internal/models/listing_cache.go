// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/iptbrowser/internal/dbinterface"
)

var (
	blobEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	blobDecoder, _ = zstd.NewReader(nil)
)

// ItemsFingerprint hashes the encoded items, so a change to any stored field
// changes the fingerprint. It returns 0 if the items cannot be encoded.
func ItemsFingerprint(items []Item) uint64 {
	payload, err := json.Marshal(items)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(payload)
}

// ListingCacheStore persists per-category listing snapshots in sqlite.
type ListingCacheStore struct {
	db dbinterface.Querier
}

func NewListingCacheStore(db dbinterface.Querier) *ListingCacheStore {
	return &ListingCacheStore{db: db}
}

// Load returns the record for a category, or nil when none is stored.
func (s *ListingCacheStore) Load(ctx context.Context, category string) (*CacheRecord, error) {
	if strings.TrimSpace(category) == "" {
		return nil, fmt.Errorf("category cannot be empty")
	}

	const query = `
		SELECT category, items_blob, window_days, fingerprint, created_at, updated_at
		FROM listing_cache
		WHERE category = ?
	`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, category))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return rec, nil
}

// List returns every stored record ordered by category.
func (s *ListingCacheStore) List(ctx context.Context) ([]CacheRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category, items_blob, window_days, fingerprint, created_at, updated_at
		FROM listing_cache
		ORDER BY category
	`)
	if err != nil {
		return nil, fmt.Errorf("list listing cache: %w", err)
	}
	defer rows.Close()

	var records []CacheRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			if errors.Is(err, ErrCacheCorrupt) {
				log.Warn().Err(err).Msg("Skipping corrupt listing cache row")
				continue
			}
			return nil, err
		}
		records = append(records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listing cache: %w", err)
	}

	return records, nil
}

// Save upserts a record. When the item fingerprint is unchanged only the
// timestamps are touched.
func (s *ListingCacheStore) Save(ctx context.Context, rec *CacheRecord) error {
	if rec == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if strings.TrimSpace(rec.Category) == "" {
		return fmt.Errorf("category cannot be empty")
	}

	rec.Summarize()

	payload, err := json.Marshal(rec.Items)
	if err != nil {
		return fmt.Errorf("encode listing items: %w", err)
	}
	rec.Fingerprint = xxhash.Sum64(payload)
	fingerprint := strconv.FormatUint(rec.Fingerprint, 16)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin listing cache tx: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT fingerprint FROM listing_cache WHERE category = ?`, rec.Category).Scan(&existing)
	switch {
	case err == nil && existing == fingerprint:
		if _, err := tx.ExecContext(ctx, `
			UPDATE listing_cache SET updated_at = ?, window_days = ? WHERE category = ?
		`, rec.LastUpdated.UTC(), rec.WindowDays, rec.Category); err != nil {
			return fmt.Errorf("touch listing cache: %w", err)
		}
		return tx.Commit()
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("read listing cache fingerprint: %w", err)
	}

	blob := blobEncoder.EncodeAll(payload, make([]byte, 0, len(payload)/4))

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = rec.LastUpdated
	}

	const upsert = `
		INSERT INTO listing_cache (
			category, items_blob, item_count, newest_at, oldest_at, window_days, fingerprint, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(category) DO UPDATE SET
			items_blob = excluded.items_blob,
			item_count = excluded.item_count,
			newest_at = excluded.newest_at,
			oldest_at = excluded.oldest_at,
			window_days = excluded.window_days,
			fingerprint = excluded.fingerprint,
			updated_at = excluded.updated_at
	`

	if _, err := tx.ExecContext(ctx, upsert,
		rec.Category,
		blob,
		rec.Count,
		nullTime(rec.NewestTimestamp),
		nullTime(rec.OldestTimestamp),
		rec.WindowDays,
		fingerprint,
		createdAt.UTC(),
		rec.LastUpdated.UTC(),
	); err != nil {
		return fmt.Errorf("store listing cache: %w", err)
	}

	return tx.Commit()
}

// Delete removes the record for a category. Empty category removes all.
func (s *ListingCacheStore) Delete(ctx context.Context, category string) error {
	var err error
	if strings.TrimSpace(category) == "" {
		_, err = s.db.ExecContext(ctx, `DELETE FROM listing_cache`)
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM listing_cache WHERE category = ?`, category)
	}
	if err != nil {
		return fmt.Errorf("delete listing cache: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*CacheRecord, error) {
	var (
		rec         CacheRecord
		blob        []byte
		fingerprint string
	)

	if err := row.Scan(&rec.Category, &blob, &rec.WindowDays, &fingerprint, &rec.CreatedAt, &rec.LastUpdated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan listing cache: %w", err)
	}

	payload, err := blobDecoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: category %s: %v", ErrCacheCorrupt, rec.Category, err)
	}
	if err := json.Unmarshal(payload, &rec.Items); err != nil {
		return nil, fmt.Errorf("%w: category %s: %v", ErrCacheCorrupt, rec.Category, err)
	}

	if fp, err := strconv.ParseUint(fingerprint, 16, 64); err == nil {
		rec.Fingerprint = fp
	}
	rec.Summarize()

	return &rec, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
