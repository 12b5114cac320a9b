package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateRun inserts a new run in pending status and returns it with a fresh
// id and capability token already populated by the caller.
func (s *Store) CreateRun(ctx context.Context, r Run) (Run, error) {
	if r.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return Run{}, fmt.Errorf("store: generate run id: %w", err)
		}
		r.ID = "run_" + id.String()
	}
	r.CreatedAt = time.Now().UTC()
	r.Status = RunPending

	meta, err := json.Marshal(r.Metadata)
	if err != nil {
		return Run{}, fmt.Errorf("store: marshal metadata: %w", err)
	}

	err = s.withWriteLock(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO runs (id, status, command, capability_token, worker_type, metadata, client_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?)`,
			r.ID, r.Status, r.Command, r.CapabilityToken, r.WorkerType, string(meta), r.ClientID, r.CreatedAt)
		return err
	})
	if err != nil {
		return Run{}, fmt.Errorf("store: create run: %w", err)
	}
	return r, nil
}

func scanRun(row interface{ Scan(...any) error }) (Run, error) {
	var r Run
	var command, clientID sql.NullString
	var metaJSON string
	var startedAt, finishedAt sql.NullTime
	var exitCode sql.NullInt64

	err := row.Scan(&r.ID, &r.Status, &command, &r.CapabilityToken, &r.WorkerType,
		&metaJSON, &clientID, &r.CreatedAt, &startedAt, &finishedAt, &exitCode)
	if err != nil {
		return Run{}, err
	}
	r.Command = command.String
	r.ClientID = clientID.String
	if metaJSON != "" {
		_ = json.Unmarshal([]byte(metaJSON), &r.Metadata)
	}
	if startedAt.Valid {
		t := startedAt.Time
		r.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		r.FinishedAt = &t
	}
	if exitCode.Valid {
		v := int(exitCode.Int64)
		r.ExitCode = &v
	}
	return r, nil
}

const runColumns = `id, status, command, capability_token, worker_type, metadata, client_id, created_at, started_at, finished_at, exit_code`

// GetRun returns a run by id, or ErrNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("store: get run: %w", err)
	}
	return r, nil
}

// ListRunsFilter narrows ListRuns results.
type ListRunsFilter struct {
	Status string
	Search string
}

// ListRuns returns runs ordered by created_at DESC, paginated, along with
// the total matching count. limit is clamped to [1, 1000], default 100.
func (s *Store) ListRuns(ctx context.Context, filter ListRunsFilter, limit, offset int) ([]Run, int, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}

	where := "WHERE 1=1"
	args := []any{}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		where += " AND command LIKE ?"
		args = append(args, "%"+filter.Search+"%")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM runs " + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count runs: %w", err)
	}

	query := "SELECT " + runColumns + " FROM runs " + where + " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("store: scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, total, rows.Err()
}

// DeleteRun cascade-deletes a run and everything owned by it (events,
// commands, artifacts, run_state — enforced by ON DELETE CASCADE).
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	return s.withWriteLock(func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("store: delete run: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// TransitionRunStatus moves a run to a new status, stamping started_at or
// finished_at/exit_code as appropriate. It refuses to move a run out of a
// terminal state (done/failed/stopped never transition back, §8 invariant 9).
func (s *Store) TransitionRunStatus(ctx context.Context, id string, newStatus RunStatus, exitCode *int) error {
	return s.withWriteLock(func() error {
		var current RunStatus
		if err := s.db.QueryRowContext(ctx, `SELECT status FROM runs WHERE id = ?`, id).Scan(&current); err != nil {
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			return fmt.Errorf("store: read run status: %w", err)
		}
		if isTerminal(current) {
			return nil // terminal states are permanent; silently no-op
		}

		now := time.Now().UTC()
		switch newStatus {
		case RunRunning:
			_, err := s.db.ExecContext(ctx, `UPDATE runs SET status = ?, started_at = COALESCE(started_at, ?) WHERE id = ?`,
				newStatus, now, id)
			return err
		case RunDone, RunFailed, RunStopped:
			_, err := s.db.ExecContext(ctx, `UPDATE runs SET status = ?, finished_at = ?, exit_code = ? WHERE id = ?`,
				newStatus, now, exitCode, id)
			return err
		default:
			_, err := s.db.ExecContext(ctx, `UPDATE runs SET status = ? WHERE id = ?`, newStatus, id)
			return err
		}
	})
}

func isTerminal(s RunStatus) bool {
	return s == RunDone || s == RunFailed || s == RunStopped
}

// SetRunClient records which client claimed a run.
func (s *Store) SetRunClient(ctx context.Context, runID, clientID string) error {
	return s.withWriteLock(func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE runs SET client_id = ? WHERE id = ?`, clientID, runID)
		return err
	})
}
