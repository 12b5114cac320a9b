// Package auth handles UI account authentication (opaque session bearer
// tokens backed by Argon2id-hashed passwords), worker-host client-token
// verification, and capability-link bearer tokens for shared run views.
package auth

import "errors"

var (
	// ErrInvalidCredentials is returned when email/password do not match.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrSessionNotFound is returned when a bearer session is missing or
	// expired.
	ErrSessionNotFound = errors.New("auth: session not found")

	// ErrClientTokenInvalid is returned when a client bearer token does not
	// match any registered client.
	ErrClientTokenInvalid = errors.New("auth: client token invalid")

	// ErrLinkExpired is returned when a capability link token's exp claim
	// has passed.
	ErrLinkExpired = errors.New("auth: capability link expired")

	// ErrLinkInvalid is returned when a capability link token cannot be
	// parsed or verified.
	ErrLinkInvalid = errors.New("auth: capability link invalid")

	// ErrForbidden is returned when an authenticated principal lacks the
	// role required for an action.
	ErrForbidden = errors.New("auth: forbidden")
)
