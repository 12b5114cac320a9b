package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateSession mints an opaque bearer session for an authenticated UI user.
func (s *Store) CreateSession(ctx context.Context, userID string, ttl time.Duration) (Session, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Session{}, fmt.Errorf("store: generate session id: %w", err)
	}
	sess := Session{
		ID:        "sess_" + id.String(),
		UserID:    userID,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}
	err = s.withWriteLock(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sessions (id, user_id, expires_at) VALUES (?, ?, ?)`,
			sess.ID, sess.UserID, sess.ExpiresAt)
		return err
	})
	if err != nil {
		return Session{}, fmt.Errorf("store: create session: %w", err)
	}
	return sess, nil
}

// GetSession returns a session, rejecting it with ErrNotFound once expired
// rather than trusting the caller to check ExpiresAt.
func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx, `SELECT id, user_id, expires_at FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.UserID, &sess.ExpiresAt)
	if err == sql.ErrNoRows {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("store: get session: %w", err)
	}
	if sess.ExpiresAt.Before(time.Now().UTC()) {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

// DeleteSession logs a user out. Idempotent.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.withWriteLock(func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("store: delete session: %w", err)
		}
		return nil
	})
}

// EvictExpiredSessions purges sessions past their expiry, for the sweep
// scheduler.
func (s *Store) EvictExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := s.withWriteLock(func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, now)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("store: evict expired sessions: %w", err)
	}
	return n, nil
}
