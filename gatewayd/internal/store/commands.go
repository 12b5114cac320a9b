package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnqueueCommand inserts a pending command for a run.
func (s *Store) EnqueueCommand(ctx context.Context, runID, command string) (Command, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Command{}, fmt.Errorf("store: generate command id: %w", err)
	}
	c := Command{
		ID:        "cmd_" + id.String(),
		RunID:     runID,
		Command:   command,
		Status:    CommandPending,
		CreatedAt: time.Now().UTC(),
	}
	err = s.withWriteLock(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO commands (id, run_id, command, status, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			c.ID, c.RunID, c.Command, c.Status, c.CreatedAt)
		return err
	})
	if err != nil {
		return Command{}, fmt.Errorf("store: enqueue command: %w", err)
	}
	return c, nil
}

// PendingCommands returns all pending commands for a run, ordered by
// created_at ASC.
func (s *Store) PendingCommands(ctx context.Context, runID string) ([]Command, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, command, status, created_at, acked_at, result, error
		FROM commands WHERE run_id = ? AND status = ?
		ORDER BY created_at ASC`, runID, CommandPending)
	if err != nil {
		return nil, fmt.Errorf("store: pending commands: %w", err)
	}
	defer rows.Close()

	var out []Command
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan command: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCommand(row interface{ Scan(...any) error }) (Command, error) {
	var c Command
	var ackedAt sql.NullTime
	var result, errText sql.NullString
	err := row.Scan(&c.ID, &c.RunID, &c.Command, &c.Status, &c.CreatedAt, &ackedAt, &result, &errText)
	if err != nil {
		return Command{}, err
	}
	if ackedAt.Valid {
		t := ackedAt.Time
		c.AckedAt = &t
	}
	c.Result = result.String
	c.Error = errText.String
	return c, nil
}

// GetCommand returns a command scoped to runID, so a wrapper can never
// observe or ack a command belonging to a different run.
func (s *Store) GetCommand(ctx context.Context, runID, commandID string) (Command, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, command, status, created_at, acked_at, result, error
		FROM commands WHERE id = ? AND run_id = ?`, commandID, runID)
	c, err := scanCommand(row)
	if err == sql.ErrNoRows {
		return Command{}, ErrNotFound
	}
	if err != nil {
		return Command{}, fmt.Errorf("store: get command: %w", err)
	}
	return c, nil
}

// AckCommand marks a command completed, idempotently: a second ack returns
// ErrAlreadyAcked without any state change — the broker maps this to success
// (§8 invariant 3, §4.4 ack_command contract).
func (s *Store) AckCommand(ctx context.Context, runID, commandID, result, errText string) error {
	return s.withWriteLock(func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE commands SET status = ?, acked_at = ?, result = ?, error = ?
			WHERE id = ? AND run_id = ? AND status = ?`,
			CommandCompleted, time.Now().UTC(), result, errText, commandID, runID, CommandPending)
		if err != nil {
			return fmt.Errorf("store: ack command: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			// Either it doesn't exist, or it's already acked — disambiguate.
			var exists bool
			_ = s.db.QueryRowContext(ctx, `SELECT 1 FROM commands WHERE id = ? AND run_id = ?`, commandID, runID).Scan(&exists)
			if !exists {
				return ErrNotFound
			}
			return ErrAlreadyAcked
		}
		return nil
	})
}

// HasEverEnqueued reports whether command was ever enqueued for runID,
// regardless of its current status — used to decide whether a finished run
// ends in done or failed when a stop/halt sentinel was in play.
func (s *Store) HasEverEnqueued(ctx context.Context, runID, command string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM commands WHERE run_id = ? AND command = ? LIMIT 1`,
		runID, command).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: has ever enqueued: %w", err)
	}
	return true, nil
}

// HasPendingStop reports whether a __STOP__ command is already pending for
// runID — used to debounce duplicate stop requests at enqueue time.
func (s *Store) HasPendingStop(ctx context.Context, runID, sentinel string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM commands WHERE run_id = ? AND command = ? AND status = ? LIMIT 1`,
		runID, sentinel, CommandPending).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: has pending stop: %w", err)
	}
	return true, nil
}

// GetPendingCommandByText returns the pending command matching runID and
// command text, or ErrNotFound. Used to hand the caller the already-queued
// command instead of inserting a duplicate.
func (s *Store) GetPendingCommandByText(ctx context.Context, runID, command string) (Command, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, command, status, created_at, acked_at, result, error
		FROM commands WHERE run_id = ? AND command = ? AND status = ?
		ORDER BY created_at ASC LIMIT 1`, runID, command, CommandPending)
	c, err := scanCommand(row)
	if err == sql.ErrNoRows {
		return Command{}, ErrNotFound
	}
	if err != nil {
		return Command{}, fmt.Errorf("store: get pending command by text: %w", err)
	}
	return c, nil
}
