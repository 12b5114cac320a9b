package auth

import (
	"testing"
	"time"
)

func newTestLinkManager(t *testing.T) *LinkManager {
	t.Helper()
	m, err := NewLinkManagerGenerated("control-plane-gateway")
	if err != nil {
		t.Fatalf("NewLinkManagerGenerated: %v", err)
	}
	return m
}

func TestIssueAndVerifyLinkRoundTrip(t *testing.T) {
	m := newTestLinkManager(t)
	token, err := m.IssueLink("run_123", "read", time.Hour)
	if err != nil {
		t.Fatalf("IssueLink: %v", err)
	}
	claims, err := m.VerifyLink(token)
	if err != nil {
		t.Fatalf("VerifyLink: %v", err)
	}
	if claims.RunID != "run_123" || claims.Scope != "read" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyLinkRejectsExpiredToken(t *testing.T) {
	m := newTestLinkManager(t)
	token, err := m.IssueLink("run_123", "read", -time.Minute)
	if err != nil {
		t.Fatalf("IssueLink: %v", err)
	}
	if _, err := m.VerifyLink(token); err != ErrLinkExpired {
		t.Fatalf("expected ErrLinkExpired, got %v", err)
	}
}

func TestVerifyLinkRejectsGarbageToken(t *testing.T) {
	m := newTestLinkManager(t)
	if _, err := m.VerifyLink("not-a-jwt"); err != ErrLinkInvalid {
		t.Fatalf("expected ErrLinkInvalid, got %v", err)
	}
}

func TestVerifyLinkRejectsTokenFromDifferentIssuer(t *testing.T) {
	a := newTestLinkManager(t)
	b, err := NewLinkManagerGenerated("a-different-issuer")
	if err != nil {
		t.Fatalf("NewLinkManagerGenerated: %v", err)
	}
	token, err := a.IssueLink("run_123", "read", time.Hour)
	if err != nil {
		t.Fatalf("IssueLink: %v", err)
	}
	if _, err := b.VerifyLink(token); err != ErrLinkInvalid {
		t.Fatalf("expected ErrLinkInvalid for mismatched signing key, got %v", err)
	}
}
