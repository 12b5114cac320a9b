package store

import (
	"context"
	"fmt"
	"time"
)

// AppendEvent inserts a new event under the write lock, satisfying the
// monotonic, gap-free id allocation invariant (§4.2, §8 invariant 1 & 2):
// the lock is held across allocate-id/insert/return-id so that any reader
// using `WHERE id > after ORDER BY id ASC` afterward observes a consistent
// suffix. data must already be redacted by the caller.
func (s *Store) AppendEvent(ctx context.Context, runID string, typ EventType, data string, sequence int) (int64, error) {
	var id int64
	err := s.withWriteLock(func() error {
		now := time.Now().UTC()
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO events (run_id, type, data, sequence, timestamp)
			VALUES (?, ?, ?, ?, ?)`,
			runID, typ, data, sequence, now)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("store: append event: %w", err)
	}
	return id, nil
}

// ListEvents returns events for runID with id > after, ordered ascending,
// up to limit+1 rows so the caller can compute hasMore without a second
// query.
func (s *Store) ListEvents(ctx context.Context, runID string, after int64, limit int) ([]Event, bool, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, type, data, sequence, timestamp
		FROM events WHERE run_id = ? AND id > ?
		ORDER BY id ASC LIMIT ?`,
		runID, after, limit+1)
	if err != nil {
		return nil, false, fmt.Errorf("store: list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.RunID, &e.Type, &e.Data, &e.Sequence, &e.Timestamp); err != nil {
			return nil, false, fmt.Errorf("store: scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	hasMore := len(events) > limit
	if hasMore {
		events = events[:limit]
	}
	return events, hasMore, nil
}

// LastEvents returns the most recent n events for a run, ascending by id —
// used by get_run_state's "last <=50 events" contract.
func (s *Store) LastEvents(ctx context.Context, runID string, n int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, type, data, sequence, timestamp
		FROM (
			SELECT id, run_id, type, data, sequence, timestamp
			FROM events WHERE run_id = ?
			ORDER BY id DESC LIMIT ?
		) sub ORDER BY id ASC`, runID, n)
	if err != nil {
		return nil, fmt.Errorf("store: last events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.RunID, &e.Type, &e.Data, &e.Sequence, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
