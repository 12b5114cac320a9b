package sweep

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/orcabay/control-plane/gatewayd/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(store.Config{DSN: "file:" + t.Name() + "?mode=memory&cache=shared", Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

type fakeNotifier struct {
	offlineIDs []string
}

func (f *fakeNotifier) ClientOffline(clientID, displayName string) {
	f.offlineIDs = append(f.offlineIDs, clientID)
}

func TestSweepNoncesEvictsOnlyExpired(t *testing.T) {
	st := newTestStore(t)
	s, err := New(st, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := st.InsertIfAbsent("old-nonce", time.Now().Add(-48*time.Hour)); err != nil {
		t.Fatalf("insert old nonce: %v", err)
	}
	if _, err := st.InsertIfAbsent("fresh-nonce", time.Now()); err != nil {
		t.Fatalf("insert fresh nonce: %v", err)
	}

	if err := s.sweepNonces(context.Background()); err != nil {
		t.Fatalf("sweepNonces: %v", err)
	}

	// A nonce inserted again after eviction should succeed (first sighting);
	// one still tracked should report as a duplicate.
	firstAgain, err := st.InsertIfAbsent("old-nonce", time.Now())
	if err != nil {
		t.Fatalf("reinsert evicted nonce: %v", err)
	}
	if !firstAgain {
		t.Fatal("expected evicted nonce to be insertable again")
	}
	stillFresh, err := st.InsertIfAbsent("fresh-nonce", time.Now())
	if err != nil {
		t.Fatalf("reinsert fresh nonce: %v", err)
	}
	if stillFresh {
		t.Fatal("expected fresh nonce to still be tracked as seen")
	}
}

func TestSweepClientsSkipsNotificationForFreshClient(t *testing.T) {
	st := newTestStore(t)
	notifier := &fakeNotifier{}
	s, err := New(st, notifier, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c, err := st.CreateClient(context.Background(), "test-host", "hash")
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	if err := st.TouchClientHeartbeat(context.Background(), c.ID); err != nil {
		t.Fatalf("touch heartbeat: %v", err)
	}

	// Run once immediately: too fresh to be offline, no notification.
	if err := s.sweepClients(context.Background()); err != nil {
		t.Fatalf("sweepClients: %v", err)
	}
	if len(notifier.offlineIDs) != 0 {
		t.Fatalf("expected no offline notifications yet, got %v", notifier.offlineIDs)
	}
}

func TestSweepSessionsOnEmptyTableSucceeds(t *testing.T) {
	st := newTestStore(t)
	s, err := New(st, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// No sessions exist; sweeping an empty table must not error.
	if err := s.sweepSessions(context.Background()); err != nil {
		t.Fatalf("sweepSessions: %v", err)
	}
}
