package store_test

import (
	"context"
	"testing"

	"github.com/orcabay/control-plane/gatewayd/internal/store"
)

func TestWriteAndListAuditNewestFirst(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.WriteAudit(ctx, store.Audit{UserID: "user_1", Action: "run.create", ObjectType: "run", ObjectID: "run_1"}); err != nil {
		t.Fatalf("WriteAudit: %v", err)
	}
	if err := st.WriteAudit(ctx, store.Audit{UserID: "user_1", Action: "run.stop", ObjectType: "run", ObjectID: "run_1"}); err != nil {
		t.Fatalf("WriteAudit: %v", err)
	}

	entries, err := st.ListAudit(ctx, 10)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(entries))
	}
	if entries[0].Action != "run.stop" {
		t.Fatalf("expected newest entry first, got %+v", entries[0])
	}
}

func TestListAuditClampsLimit(t *testing.T) {
	st := newTestStore(t)
	if _, err := st.ListAudit(context.Background(), -1); err != nil {
		t.Fatalf("expected a negative limit to be clamped rather than error, got %v", err)
	}
}
