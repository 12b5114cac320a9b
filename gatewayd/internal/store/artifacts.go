package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateArtifact inserts an artifact row after the file has been written to
// disk (caller already knows the final size and path).
func (s *Store) CreateArtifact(ctx context.Context, a Artifact) (Artifact, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Artifact{}, fmt.Errorf("store: generate artifact id: %w", err)
	}
	a.ID = "art_" + id.String()
	a.CreatedAt = time.Now().UTC()

	err = s.withWriteLock(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO artifacts (id, run_id, name, type, size, path, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.RunID, a.Name, a.Type, a.Size, a.Path, a.CreatedAt)
		return err
	})
	if err != nil {
		return Artifact{}, fmt.Errorf("store: create artifact: %w", err)
	}
	return a, nil
}

// GetArtifact returns an artifact by id, or ErrNotFound.
func (s *Store) GetArtifact(ctx context.Context, id string) (Artifact, error) {
	var a Artifact
	err := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, name, type, size, path, created_at
		FROM artifacts WHERE id = ?`, id).
		Scan(&a.ID, &a.RunID, &a.Name, &a.Type, &a.Size, &a.Path, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return Artifact{}, ErrNotFound
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("store: get artifact: %w", err)
	}
	return a, nil
}

// ListArtifacts returns every artifact for a run, most recent first.
func (s *Store) ListArtifacts(ctx context.Context, runID string) ([]Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, name, type, size, path, created_at
		FROM artifacts WHERE run_id = ? ORDER BY created_at DESC`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: list artifacts: %w", err)
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.ID, &a.RunID, &a.Name, &a.Type, &a.Size, &a.Path, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan artifact: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteArtifact removes the row. Idempotent on a missing row — the caller
// (artifact store) is responsible for deleting the file first per §4.6.
func (s *Store) DeleteArtifact(ctx context.Context, id string) error {
	return s.withWriteLock(func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("store: delete artifact: %w", err)
		}
		return nil
	})
}
