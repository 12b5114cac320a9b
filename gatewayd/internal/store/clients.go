package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateClient registers a new worker-host peer with a pre-hashed token.
func (s *Store) CreateClient(ctx context.Context, displayName, tokenHash string) (Client, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Client{}, fmt.Errorf("store: generate client id: %w", err)
	}
	c := Client{
		ID:          "client_" + id.String(),
		DisplayName: displayName,
		TokenHash:   tokenHash,
		Status:      ClientOffline,
	}
	err = s.withWriteLock(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO clients (id, display_name, agent_id, token_hash, status, capabilities)
			VALUES (?, ?, NULL, ?, ?, '[]')`,
			c.ID, c.DisplayName, c.TokenHash, c.Status)
		return err
	})
	if err != nil {
		return Client{}, fmt.Errorf("store: create client: %w", err)
	}
	return c, nil
}

// RotateClientToken replaces a client's token hash, returned once by the
// caller via the plaintext it minted before hashing.
func (s *Store) RotateClientToken(ctx context.Context, id, tokenHash string) error {
	return s.withWriteLock(func() error {
		res, err := s.db.ExecContext(ctx, `UPDATE clients SET token_hash = ? WHERE id = ?`, tokenHash, id)
		if err != nil {
			return fmt.Errorf("store: rotate client token: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func scanClient(row interface{ Scan(...any) error }) (Client, error) {
	var c Client
	var agentID, version sql.NullString
	var lastSeenAt sql.NullTime
	var capsJSON string
	err := row.Scan(&c.ID, &c.DisplayName, &agentID, &c.TokenHash, &c.Status, &lastSeenAt, &version, &capsJSON,
		&c.CPUPercent, &c.MemPercent, &c.DiskPercent)
	if err != nil {
		return Client{}, err
	}
	c.AgentID = agentID.String
	c.Version = version.String
	if lastSeenAt.Valid {
		t := lastSeenAt.Time
		c.LastSeenAt = &t
	}
	_ = json.Unmarshal([]byte(capsJSON), &c.Capabilities)
	return c, nil
}

const clientColumns = `id, display_name, agent_id, token_hash, status, last_seen_at, version, capabilities, cpu_percent, mem_percent, disk_percent`

// GetClientByTokenHash finds a client by its hashed token, for client-auth
// verification (§4.3).
func (s *Store) GetClientByTokenHash(ctx context.Context, tokenHash string) (Client, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE token_hash = ?`, tokenHash)
	c, err := scanClient(row)
	if err == sql.ErrNoRows {
		return Client{}, ErrNotFound
	}
	if err != nil {
		return Client{}, fmt.Errorf("store: get client by token: %w", err)
	}
	return c, nil
}

// GetClient returns a client by id.
func (s *Store) GetClient(ctx context.Context, id string) (Client, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = ?`, id)
	c, err := scanClient(row)
	if err == sql.ErrNoRows {
		return Client{}, ErrNotFound
	}
	if err != nil {
		return Client{}, fmt.Errorf("store: get client: %w", err)
	}
	return c, nil
}

// UpsertClientRegistration records (or updates) the agent id, version, and
// capabilities a wrapper presents when it self-registers or heartbeats, and
// advances last_seen_at. Status transitions to online.
func (s *Store) UpsertClientRegistration(ctx context.Context, id, agentID, version string, capabilities []string) error {
	capsJSON, err := json.Marshal(capabilities)
	if err != nil {
		return fmt.Errorf("store: marshal capabilities: %w", err)
	}
	return s.withWriteLock(func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE clients SET agent_id = ?, version = ?, capabilities = ?, status = ?, last_seen_at = ?
			WHERE id = ?`,
			agentID, version, string(capsJSON), ClientOnline, time.Now().UTC(), id)
		return err
	})
}

// TouchClientHeartbeat advances last_seen_at and marks the client online.
func (s *Store) TouchClientHeartbeat(ctx context.Context, id string) error {
	return s.withWriteLock(func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE clients SET last_seen_at = ?, status = ? WHERE id = ?`,
			time.Now().UTC(), ClientOnline, id)
		return err
	})
}

// TouchClientHeartbeatWithMetrics is TouchClientHeartbeat plus the host
// resource snapshot a runner reports on each state checkpoint while it owns
// a run (§4.7 heartbeat). id is the client that owns the run, looked up by
// the caller from the run's client_id.
func (s *Store) TouchClientHeartbeatWithMetrics(ctx context.Context, id string, cpuPercent, memPercent, diskPercent float64) error {
	return s.withWriteLock(func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE clients SET last_seen_at = ?, status = ?, cpu_percent = ?, mem_percent = ?, disk_percent = ?
			WHERE id = ?`,
			time.Now().UTC(), ClientOnline, cpuPercent, memPercent, diskPercent, id)
		return err
	})
}

// SweepClientStatus transitions clients whose last_seen_at has aged past the
// degraded/offline thresholds given by the caller; it returns only an
// error, not how many rows changed. Grounded on the open question in §9:
// thresholds are not pinned down upstream, so the sweep package passes
// degraded at 30s and offline at 120s since last heartbeat (default
// heartbeat interval is 10s, so about three and twelve missed beats
// signal degraded/offline respectively).
func (s *Store) SweepClientStatus(ctx context.Context, now time.Time, degradedAfter, offlineAfter time.Duration) error {
	return s.withWriteLock(func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE clients SET status = ?
			WHERE status = ? AND last_seen_at IS NOT NULL AND last_seen_at < ?`,
			ClientDegraded, ClientOnline, now.Add(-degradedAfter))
		if err != nil {
			return err
		}
		_, err = s.db.ExecContext(ctx, `
			UPDATE clients SET status = ?
			WHERE status IN (?, ?) AND last_seen_at IS NOT NULL AND last_seen_at < ?`,
			ClientOffline, ClientOnline, ClientDegraded, now.Add(-offlineAfter))
		return err
	})
}

// ListClientsGoingOffline returns clients currently online or degraded whose
// last heartbeat is old enough that the next SweepClientStatus call will
// mark them offline. The scheduler calls this immediately before sweeping so
// it can notify on the transition the sweep itself doesn't report.
func (s *Store) ListClientsGoingOffline(ctx context.Context, now time.Time, offlineAfter time.Duration) ([]Client, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+clientColumns+` FROM clients
		WHERE status IN (?, ?) AND last_seen_at IS NOT NULL AND last_seen_at < ?`,
		ClientOnline, ClientDegraded, now.Add(-offlineAfter))
	if err != nil {
		return nil, fmt.Errorf("store: list clients going offline: %w", err)
	}
	defer rows.Close()

	var out []Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountOnlineClients returns how many clients are currently online or
// degraded, for the gateway's connected-clients gauge.
func (s *Store) CountOnlineClients(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM clients WHERE status IN (?, ?)`,
		ClientOnline, ClientDegraded).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count online clients: %w", err)
	}
	return n, nil
}

// ClaimNextPendingRun assigns the oldest pending run not yet claimed by a
// client to clientID and returns it, for POST /api/runs/claim. It returns
// ErrNotFound when no such run is waiting.
func (s *Store) ClaimNextPendingRun(ctx context.Context, clientID string) (Run, error) {
	var run Run
	err := s.withWriteLock(func() error {
		row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE status = ? AND client_id IS NULL ORDER BY created_at ASC LIMIT 1`, RunPending)
		r, err := scanRun(row)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, `UPDATE runs SET client_id = ? WHERE id = ?`, clientID, r.ID); err != nil {
			return err
		}
		r.ClientID = clientID
		run = r
		return nil
	})
	if err != nil {
		return Run{}, err
	}
	return run, nil
}
