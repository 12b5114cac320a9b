package auth

import (
	"context"
	"testing"

	"github.com/orcabay/control-plane/gatewayd/internal/store"
)

func TestLoginSucceedsWithCorrectCredentials(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	hash, err := HashPassword("s3cr3t-password")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if _, err := st.CreateUser(ctx, "admin@example.com", hash, store.RoleAdmin); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	svc := NewService(st)
	sess, user, err := svc.Login(ctx, "admin@example.com", "s3cr3t-password")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if sess.UserID != user.ID {
		t.Fatalf("expected session.UserID %q to match user.ID %q", sess.UserID, user.ID)
	}
}

func TestLoginRejectsUnknownEmail(t *testing.T) {
	st := newTestStore(t)
	svc := NewService(st)
	if _, _, err := svc.Login(context.Background(), "nobody@example.com", "anything"); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	hash, err := HashPassword("correct-password")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if _, err := st.CreateUser(ctx, "admin@example.com", hash, store.RoleAdmin); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	svc := NewService(st)
	if _, _, err := svc.Login(ctx, "admin@example.com", "wrong-password"); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthenticateResolvesValidSession(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	hash, err := HashPassword("password")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if _, err := st.CreateUser(ctx, "admin@example.com", hash, store.RoleAdmin); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	svc := NewService(st)
	sess, _, err := svc.Login(ctx, "admin@example.com", "password")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	user, err := svc.Authenticate(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if user.Email != "admin@example.com" {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestAuthenticateRejectsUnknownSession(t *testing.T) {
	st := newTestStore(t)
	svc := NewService(st)
	if _, err := svc.Authenticate(context.Background(), "never-issued"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestLogoutInvalidatesSession(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	hash, err := HashPassword("password")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if _, err := st.CreateUser(ctx, "admin@example.com", hash, store.RoleAdmin); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	svc := NewService(st)
	sess, _, err := svc.Login(ctx, "admin@example.com", "password")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := svc.Logout(ctx, sess.ID); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := svc.Authenticate(ctx, sess.ID); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound after logout, got %v", err)
	}
}

func TestRequireRoleEnforcesRank(t *testing.T) {
	viewer := store.User{Role: store.RoleViewer}
	operator := store.User{Role: store.RoleOperator}
	admin := store.User{Role: store.RoleAdmin}

	if err := RequireRole(viewer, store.RoleOperator); err != ErrForbidden {
		t.Fatalf("expected viewer to be forbidden from operator action, got %v", err)
	}
	if err := RequireRole(operator, store.RoleOperator); err != nil {
		t.Fatalf("expected operator to satisfy operator requirement, got %v", err)
	}
	if err := RequireRole(admin, store.RoleOperator); err != nil {
		t.Fatalf("expected admin to satisfy operator requirement, got %v", err)
	}
}
