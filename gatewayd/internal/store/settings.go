package store

import (
	"context"
	"database/sql"
	"fmt"
)

// GetSetting returns a stored value, or ErrNotFound if the key was never set.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: get setting: %w", err)
	}
	return value, nil
}

// SetSetting upserts a key/value pair backing operator-configurable
// behavior (the notification channels' smtp.* and webhook.* keys).
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	return s.withWriteLock(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO settings (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			key, value)
		if err != nil {
			return fmt.Errorf("store: set setting: %w", err)
		}
		return nil
	})
}

// ListSettings returns every configured setting, for the admin settings
// view.
func (s *Store) ListSettings(ctx context.Context) ([]Setting, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings ORDER BY key ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: list settings: %w", err)
	}
	defer rows.Close()

	var out []Setting
	for rows.Next() {
		var st Setting
		if err := rows.Scan(&st.Key, &st.Value); err != nil {
			return nil, fmt.Errorf("store: scan setting: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
