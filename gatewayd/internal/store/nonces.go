package store

import (
	"context"
	"fmt"
	"time"
)

// InsertIfAbsent implements signing.NonceStore against the nonces table: the
// primary key on nonce itself makes the insert atomic, and INSERT OR IGNORE
// turns a second caller racing on the same nonce into a zero-row insert: it
// gets false with no error rather than a second successful insert.
func (s *Store) InsertIfAbsent(nonce string, seenAt time.Time) (bool, error) {
	var inserted bool
	err := s.withWriteLock(func() error {
		res, err := s.db.Exec(`INSERT OR IGNORE INTO nonces (nonce, seen_at) VALUES (?, ?)`, nonce, seenAt.UTC())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = n > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("store: insert nonce: %w", err)
	}
	return inserted, nil
}

// EvictNoncesOlderThan deletes nonce records older than cutoff, bounding the
// table's growth (§4.1: the replay window only needs to cover ClockSkew).
func (s *Store) EvictNoncesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := s.withWriteLock(func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM nonces WHERE seen_at < ?`, cutoff)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("store: evict nonces: %w", err)
	}
	return n, nil
}
