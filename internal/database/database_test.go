// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(filepath.Join(t.TempDir(), "nested", "iptbrowser.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	return db
}

func TestNewAppliesMigrations(t *testing.T) {
	db := openTestDB(t)

	for _, table := range []string{"listing_cache", "view_defaults", "sessions"} {
		var name string
		err := db.QueryRowContext(context.Background(),
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}

	// reopening must not fail on already-applied migrations
	path := db.Path()
	require.NoError(t, db.Close())
	again, err := New(path)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestBeginTx(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, `INSERT INTO sessions (token, data, expiry) VALUES ('t', x'00', 1)`)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n))
	assert.Zero(t, n)
}

func TestSessionStore(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewSessionStore(db, 0)
	store.now = func() time.Time { return now }

	require.NoError(t, store.CommitCtx(ctx, "live", []byte("state-1"), now.Add(time.Hour)))
	require.NoError(t, store.CommitCtx(ctx, "old", []byte("state-2"), now.Add(-time.Minute)))

	data, found, err := store.FindCtx(ctx, "live")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("state-1"), data)

	_, found, err = store.FindCtx(ctx, "old")
	require.NoError(t, err)
	assert.False(t, found, "expired sessions are not returned")

	require.NoError(t, store.Commit("live", []byte("state-3"), now.Add(2*time.Hour)))
	data, found, err = store.Find("live")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("state-3"), data)

	deleted, err := store.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	require.NoError(t, store.Delete("live"))
	_, found, err = store.Find("live")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSessionStoreCleanupStops(t *testing.T) {
	db := openTestDB(t)
	store := NewSessionStore(db, 10*time.Millisecond)
	store.StopCleanup()
	store.StopCleanup()
}
