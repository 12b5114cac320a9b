package store_test

import (
	"context"
	"testing"

	"github.com/orcabay/control-plane/gatewayd/internal/store"
)

func mustRun(t *testing.T, st *store.Store) store.Run {
	t.Helper()
	r, err := st.CreateRun(context.Background(), store.Run{Command: "claude", WorkerType: "claude"})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	return r
}

func TestEnqueueAndGetCommand(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	run := mustRun(t, st)

	c, err := st.EnqueueCommand(ctx, run.ID, "__STOP__")
	if err != nil {
		t.Fatalf("EnqueueCommand: %v", err)
	}
	if c.Status != store.CommandPending {
		t.Fatalf("expected pending status, got %q", c.Status)
	}

	got, err := st.GetCommand(ctx, run.ID, c.ID)
	if err != nil {
		t.Fatalf("GetCommand: %v", err)
	}
	if got.Command != "__STOP__" {
		t.Fatalf("unexpected command text: %q", got.Command)
	}
}

func TestGetCommandScopedToRun(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	runA := mustRun(t, st)
	runB := mustRun(t, st)

	c, err := st.EnqueueCommand(ctx, runA.ID, "git diff")
	if err != nil {
		t.Fatalf("EnqueueCommand: %v", err)
	}
	if _, err := st.GetCommand(ctx, runB.ID, c.ID); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound for a command scoped to a different run, got %v", err)
	}
}

func TestPendingCommandsOrderedByCreatedAt(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	run := mustRun(t, st)

	first, err := st.EnqueueCommand(ctx, run.ID, "cd /tmp")
	if err != nil {
		t.Fatalf("EnqueueCommand: %v", err)
	}
	second, err := st.EnqueueCommand(ctx, run.ID, "git diff")
	if err != nil {
		t.Fatalf("EnqueueCommand: %v", err)
	}

	pending, err := st.PendingCommands(ctx, run.ID)
	if err != nil {
		t.Fatalf("PendingCommands: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != first.ID || pending[1].ID != second.ID {
		t.Fatalf("unexpected pending order: %+v", pending)
	}
}

func TestAckCommandMarksCompleted(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	run := mustRun(t, st)
	c, err := st.EnqueueCommand(ctx, run.ID, "git diff")
	if err != nil {
		t.Fatalf("EnqueueCommand: %v", err)
	}

	if err := st.AckCommand(ctx, run.ID, c.ID, "diff output", ""); err != nil {
		t.Fatalf("AckCommand: %v", err)
	}
	got, err := st.GetCommand(ctx, run.ID, c.ID)
	if err != nil {
		t.Fatalf("GetCommand: %v", err)
	}
	if got.Status != store.CommandCompleted || got.Result != "diff output" || got.AckedAt == nil {
		t.Fatalf("unexpected command after ack: %+v", got)
	}
}

func TestAckCommandIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	run := mustRun(t, st)
	c, err := st.EnqueueCommand(ctx, run.ID, "git diff")
	if err != nil {
		t.Fatalf("EnqueueCommand: %v", err)
	}
	if err := st.AckCommand(ctx, run.ID, c.ID, "out", ""); err != nil {
		t.Fatalf("first AckCommand: %v", err)
	}
	if err := st.AckCommand(ctx, run.ID, c.ID, "out", ""); err != store.ErrAlreadyAcked {
		t.Fatalf("expected ErrAlreadyAcked on second ack, got %v", err)
	}
}

func TestAckCommandUnknownReturnsNotFound(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	run := mustRun(t, st)
	if err := st.AckCommand(ctx, run.ID, "cmd_missing", "out", ""); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHasPendingStopDebouncesDuplicates(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	run := mustRun(t, st)

	has, err := st.HasPendingStop(ctx, run.ID, "__STOP__")
	if err != nil {
		t.Fatalf("HasPendingStop: %v", err)
	}
	if has {
		t.Fatal("expected no pending stop before enqueue")
	}

	if _, err := st.EnqueueCommand(ctx, run.ID, "__STOP__"); err != nil {
		t.Fatalf("EnqueueCommand: %v", err)
	}
	has, err = st.HasPendingStop(ctx, run.ID, "__STOP__")
	if err != nil {
		t.Fatalf("HasPendingStop: %v", err)
	}
	if !has {
		t.Fatal("expected a pending stop after enqueue")
	}
}

func TestHasEverEnqueuedIgnoresCurrentStatus(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	run := mustRun(t, st)
	c, err := st.EnqueueCommand(ctx, run.ID, "__STOP__")
	if err != nil {
		t.Fatalf("EnqueueCommand: %v", err)
	}
	if err := st.AckCommand(ctx, run.ID, c.ID, "", ""); err != nil {
		t.Fatalf("AckCommand: %v", err)
	}

	seen, err := st.HasEverEnqueued(ctx, run.ID, "__STOP__")
	if err != nil {
		t.Fatalf("HasEverEnqueued: %v", err)
	}
	if !seen {
		t.Fatal("expected HasEverEnqueued to report true even after the command completed")
	}
}

func TestGetPendingCommandByTextReturnsExistingInsteadOfDuplicate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	run := mustRun(t, st)
	c, err := st.EnqueueCommand(ctx, run.ID, "__HALT__")
	if err != nil {
		t.Fatalf("EnqueueCommand: %v", err)
	}
	got, err := st.GetPendingCommandByText(ctx, run.ID, "__HALT__")
	if err != nil {
		t.Fatalf("GetPendingCommandByText: %v", err)
	}
	if got.ID != c.ID {
		t.Fatalf("expected to find the existing pending command %s, got %s", c.ID, got.ID)
	}
}
