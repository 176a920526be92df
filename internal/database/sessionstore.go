// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/rs/zerolog/log"
)

var _ scs.CtxStore = (*SessionStore)(nil)

// SessionStore keeps scs sessions in the sessions table. Expired rows are
// ignored on read and removed by a background sweep.
type SessionStore struct {
	db          *DB
	now         func() time.Time
	stopCleanup chan struct{}
}

// NewSessionStore starts a sweep every cleanupInterval; zero disables it.
func NewSessionStore(db *DB, cleanupInterval time.Duration) *SessionStore {
	s := &SessionStore{db: db, now: time.Now}
	if cleanupInterval > 0 {
		s.stopCleanup = make(chan struct{})
		go s.startCleanup(cleanupInterval, s.stopCleanup)
	}
	return s
}

func (s *SessionStore) Find(token string) ([]byte, bool, error) {
	return s.FindCtx(context.Background(), token)
}

func (s *SessionStore) FindCtx(ctx context.Context, token string) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM sessions WHERE token = ? AND expiry > ?`,
		token, s.now().UnixNano(),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *SessionStore) Commit(token string, b []byte, expiry time.Time) error {
	return s.CommitCtx(context.Background(), token, b, expiry)
}

func (s *SessionStore) CommitCtx(ctx context.Context, token string, b []byte, expiry time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (token, data, expiry) VALUES (?, ?, ?)
		ON CONFLICT(token) DO UPDATE SET data = excluded.data, expiry = excluded.expiry
	`, token, b, expiry.UnixNano())
	return err
}

func (s *SessionStore) Delete(token string) error {
	return s.DeleteCtx(context.Background(), token)
}

func (s *SessionStore) DeleteCtx(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	return err
}

// DeleteExpired removes expired sessions and returns how many were dropped.
func (s *SessionStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expiry <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// StopCleanup ends the background sweep.
func (s *SessionStore) StopCleanup() {
	if s.stopCleanup != nil {
		close(s.stopCleanup)
		s.stopCleanup = nil
	}
}

func (s *SessionStore) startCleanup(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n, err := s.DeleteExpired(context.Background()); err != nil {
				log.Error().Err(err).Msg("Failed to delete expired sessions")
			} else if n > 0 {
				log.Debug().Int64("deleted", n).Msg("Deleted expired sessions")
			}
		case <-stop:
			return
		}
	}
}
