package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/orcabay/control-plane/gatewayd/internal/store"
)

// SessionTTL is how long a UI bearer session remains valid before the user
// must log in again.
const SessionTTL = 24 * time.Hour

// Service fronts the store for UI account authentication.
type Service struct {
	store *store.Store
}

// NewService builds a Service over an open store.
func NewService(st *store.Store) *Service {
	return &Service{store: st}
}

// Login validates email/password and mints a session. Returns
// ErrInvalidCredentials for both an unknown email and a wrong password, so
// callers never leak which case applied.
func (s *Service) Login(ctx context.Context, email, password string) (store.Session, store.User, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if err == store.ErrNotFound {
			return store.Session{}, store.User{}, ErrInvalidCredentials
		}
		return store.Session{}, store.User{}, fmt.Errorf("auth: lookup user: %w", err)
	}

	if !VerifyPassword(password, user.PasswordHash) {
		return store.Session{}, store.User{}, ErrInvalidCredentials
	}

	sess, err := s.store.CreateSession(ctx, user.ID, SessionTTL)
	if err != nil {
		return store.Session{}, store.User{}, fmt.Errorf("auth: create session: %w", err)
	}
	return sess, user, nil
}

// Logout deletes a session. Idempotent.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	return s.store.DeleteSession(ctx, sessionID)
}

// Authenticate resolves a bearer session id to its user.
func (s *Service) Authenticate(ctx context.Context, sessionID string) (store.User, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if err == store.ErrNotFound {
			return store.User{}, ErrSessionNotFound
		}
		return store.User{}, fmt.Errorf("auth: lookup session: %w", err)
	}
	user, err := s.store.GetUser(ctx, sess.UserID)
	if err != nil {
		if err == store.ErrNotFound {
			return store.User{}, ErrSessionNotFound
		}
		return store.User{}, fmt.Errorf("auth: lookup session user: %w", err)
	}
	return user, nil
}

// RequireRole reports ErrForbidden when user's role is weaker than min.
// Roles rank admin > operator > viewer.
func RequireRole(user store.User, min store.UserRole) error {
	rank := map[store.UserRole]int{store.RoleViewer: 0, store.RoleOperator: 1, store.RoleAdmin: 2}
	if rank[user.Role] < rank[min] {
		return ErrForbidden
	}
	return nil
}
