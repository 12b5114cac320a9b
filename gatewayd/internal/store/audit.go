package store

import (
	"context"
	"fmt"
	"time"
)

// WriteAudit appends an immutable record of a state-changing action. There
// is no update or delete path for audit rows.
func (s *Store) WriteAudit(ctx context.Context, a Audit) error {
	return s.withWriteLock(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO audit (user_id, action, object_type, object_id, detail, remote_addr, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			a.UserID, a.Action, a.ObjectType, a.ObjectID, a.Detail, a.RemoteAddr, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("store: write audit: %w", err)
		}
		return nil
	})
}

// ListAudit returns the most recent audit entries, newest first, for the
// admin activity view.
func (s *Store) ListAudit(ctx context.Context, limit int) ([]Audit, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, action, object_type, object_id, detail, remote_addr, timestamp
		FROM audit ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list audit: %w", err)
	}
	defer rows.Close()

	var out []Audit
	for rows.Next() {
		var a Audit
		if err := rows.Scan(&a.ID, &a.UserID, &a.Action, &a.ObjectType, &a.ObjectID, &a.Detail, &a.RemoteAddr, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("store: scan audit: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
