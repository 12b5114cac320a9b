package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/orcabay/control-plane/gatewayd/internal/store"
)

func TestCreateClientStartsOffline(t *testing.T) {
	st := newTestStore(t)
	c, err := st.CreateClient(context.Background(), "worker-host-1", "hash")
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	if c.Status != store.ClientOffline {
		t.Fatalf("expected new client to start offline, got %q", c.Status)
	}
}

func TestGetClientByTokenHashNotFound(t *testing.T) {
	st := newTestStore(t)
	if _, err := st.GetClientByTokenHash(context.Background(), "no-such-hash"); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertClientRegistrationMarksOnline(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	c, err := st.CreateClient(ctx, "worker-host-1", "hash")
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	if err := st.UpsertClientRegistration(ctx, c.ID, "agent-123", "1.2.3", []string{"claude", "codex"}); err != nil {
		t.Fatalf("UpsertClientRegistration: %v", err)
	}
	got, err := st.GetClient(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	if got.Status != store.ClientOnline || got.AgentID != "agent-123" || len(got.Capabilities) != 2 {
		t.Fatalf("unexpected client after registration: %+v", got)
	}
}

func TestRotateClientTokenUpdatesHash(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	c, err := st.CreateClient(ctx, "worker-host-1", "old-hash")
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	if err := st.RotateClientToken(ctx, c.ID, "new-hash"); err != nil {
		t.Fatalf("RotateClientToken: %v", err)
	}
	if _, err := st.GetClientByTokenHash(ctx, "old-hash"); err != store.ErrNotFound {
		t.Fatalf("expected old hash to no longer resolve, got %v", err)
	}
	got, err := st.GetClientByTokenHash(ctx, "new-hash")
	if err != nil {
		t.Fatalf("GetClientByTokenHash: %v", err)
	}
	if got.ID != c.ID {
		t.Fatalf("expected rotated token to resolve to the same client")
	}
}

func TestRotateClientTokenUnknownClient(t *testing.T) {
	st := newTestStore(t)
	if err := st.RotateClientToken(context.Background(), "client_missing", "hash"); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSweepClientStatusTransitionsDegradedThenOffline(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	c, err := st.CreateClient(ctx, "worker-host-1", "hash")
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	if err := st.TouchClientHeartbeat(ctx, c.ID); err != nil {
		t.Fatalf("TouchClientHeartbeat: %v", err)
	}

	future := time.Now().Add(time.Minute)
	if err := st.SweepClientStatus(ctx, future, 30*time.Second, 2*time.Minute); err != nil {
		t.Fatalf("SweepClientStatus: %v", err)
	}
	got, err := st.GetClient(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	if got.Status != store.ClientDegraded {
		t.Fatalf("expected client to become degraded, got %q", got.Status)
	}

	farFuture := time.Now().Add(10 * time.Minute)
	if err := st.SweepClientStatus(ctx, farFuture, 30*time.Second, 2*time.Minute); err != nil {
		t.Fatalf("SweepClientStatus: %v", err)
	}
	got, err = st.GetClient(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	if got.Status != store.ClientOffline {
		t.Fatalf("expected client to become offline, got %q", got.Status)
	}
}

func TestClaimNextPendingRunAssignsClientAndExcludesClaimed(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	run := mustRun(t, st)

	claimed, err := st.ClaimNextPendingRun(ctx, "client_1")
	if err != nil {
		t.Fatalf("ClaimNextPendingRun: %v", err)
	}
	if claimed.ID != run.ID || claimed.ClientID != "client_1" {
		t.Fatalf("unexpected claimed run: %+v", claimed)
	}

	if _, err := st.ClaimNextPendingRun(ctx, "client_2"); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound once the only pending run is claimed, got %v", err)
	}
}

func TestCountOnlineClientsIncludesDegraded(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	a, err := st.CreateClient(ctx, "a", "hash-a")
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	b, err := st.CreateClient(ctx, "b", "hash-b")
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	if err := st.TouchClientHeartbeat(ctx, a.ID); err != nil {
		t.Fatalf("TouchClientHeartbeat: %v", err)
	}
	if err := st.TouchClientHeartbeat(ctx, b.ID); err != nil {
		t.Fatalf("TouchClientHeartbeat: %v", err)
	}
	if err := st.SweepClientStatus(ctx, time.Now().Add(time.Minute), 30*time.Second, time.Hour); err != nil {
		t.Fatalf("SweepClientStatus: %v", err)
	}

	n, err := st.CountOnlineClients(ctx)
	if err != nil {
		t.Fatalf("CountOnlineClients: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected both online and degraded clients counted, got %d", n)
	}
}
