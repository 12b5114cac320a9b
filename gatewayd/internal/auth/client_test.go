package auth

import (
	"context"
	"testing"

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

func TestMintClientTokenHashMatchesHashClientToken(t *testing.T) {
	raw, hash, err := MintClientToken()
	if err != nil {
		t.Fatalf("MintClientToken: %v", err)
	}
	if HashClientToken(raw) != hash {
		t.Fatal("expected HashClientToken(raw) to match minted hash")
	}
}

func TestMintClientTokenProducesUniqueTokens(t *testing.T) {
	rawA, _, err := MintClientToken()
	if err != nil {
		t.Fatalf("MintClientToken: %v", err)
	}
	rawB, _, err := MintClientToken()
	if err != nil {
		t.Fatalf("MintClientToken: %v", err)
	}
	if rawA == rawB {
		t.Fatal("expected two minted tokens to differ")
	}
}

func TestAuthenticateClientSucceedsForRegisteredToken(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	raw, hash, err := MintClientToken()
	if err != nil {
		t.Fatalf("MintClientToken: %v", err)
	}
	created, err := st.CreateClient(ctx, "worker-host-1", hash)
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}

	got, err := AuthenticateClient(ctx, st, raw)
	if err != nil {
		t.Fatalf("AuthenticateClient: %v", err)
	}
	if got.ID != created.ID {
		t.Fatalf("expected client %s, got %s", created.ID, got.ID)
	}
}

func TestAuthenticateClientRejectsUnknownToken(t *testing.T) {
	st := newTestStore(t)
	if _, err := AuthenticateClient(context.Background(), st, "never-registered"); err != ErrClientTokenInvalid {
		t.Fatalf("expected ErrClientTokenInvalid, got %v", err)
	}
}
