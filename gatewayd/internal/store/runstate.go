package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// UpsertRunState stores or refreshes the wrapper's crash-resume checkpoint
// for a run. A field left zero-valued on a subsequent call does not clobber
// a previously recorded value — callers pass only the fields that changed,
// and COALESCE preserves the rest (§4.4 upsert_run_state contract).
func (s *Store) UpsertRunState(ctx context.Context, st RunState) error {
	env, err := json.Marshal(st.Environment)
	if err != nil {
		return fmt.Errorf("store: marshal environment: %w", err)
	}
	return s.withWriteLock(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO run_state (run_id, working_dir, original_command, last_sequence, stdin_buffer, environment, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id) DO UPDATE SET
				working_dir      = COALESCE(NULLIF(excluded.working_dir, ''), run_state.working_dir),
				original_command = COALESCE(NULLIF(excluded.original_command, ''), run_state.original_command),
				last_sequence    = MAX(excluded.last_sequence, run_state.last_sequence),
				stdin_buffer     = COALESCE(NULLIF(excluded.stdin_buffer, ''), run_state.stdin_buffer),
				environment      = CASE WHEN excluded.environment = '{}' OR excluded.environment = 'null' THEN run_state.environment ELSE excluded.environment END,
				updated_at       = excluded.updated_at`,
			st.RunID, st.WorkingDir, st.OriginalCommand, st.LastSequence, st.StdinBuffer, string(env), time.Now().UTC())
		if err != nil {
			return fmt.Errorf("store: upsert run state: %w", err)
		}
		return nil
	})
}

// GetRunState returns the checkpoint for a run, or ErrNotFound if none was
// ever recorded.
func (s *Store) GetRunState(ctx context.Context, runID string) (RunState, error) {
	var st RunState
	var envJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, working_dir, original_command, last_sequence, stdin_buffer, environment, updated_at
		FROM run_state WHERE run_id = ?`, runID).
		Scan(&st.RunID, &st.WorkingDir, &st.OriginalCommand, &st.LastSequence, &st.StdinBuffer, &envJSON, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return RunState{}, ErrNotFound
	}
	if err != nil {
		return RunState{}, fmt.Errorf("store: get run state: %w", err)
	}
	_ = json.Unmarshal([]byte(envJSON), &st.Environment)
	return st, nil
}
