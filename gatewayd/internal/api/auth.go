package api

import (
	"errors"
	"net/http"

	"github.com/orcabay/control-plane/gatewayd/internal/auth"
)

// AuthHandler implements local login against the gateway's own user table.
type AuthHandler struct {
	svc *auth.Service
}

func NewAuthHandler(svc *auth.Service) *AuthHandler {
	return &AuthHandler{svc: svc}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, user, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			ErrUnauthorized(w)
			return
		}
		ErrInternal(w)
		return
	}
	Ok(w, envelope{
		"sessionId": sess.ID,
		"expiresAt": sess.ExpiresAt,
		"user":      envelope{"id": user.ID, "email": user.Email, "role": user.Role},
	})
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token != "" {
		_ = h.svc.Logout(r.Context(), token)
	}
	NoContent(w)
}
