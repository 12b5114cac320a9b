package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/orcabay/control-plane/gatewayd/internal/store"
)

// clientTokenBytes is the length of a raw client bearer token before
// hex-encoding.
const clientTokenBytes = 32

// MintClientToken generates a new random bearer token for a worker-host
// client and returns both the raw value (shown once, to the operator) and
// its SHA-256 hash (the only form persisted).
func MintClientToken() (raw, hash string, err error) {
	b := make([]byte, clientTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("auth: generating client token: %w", err)
	}
	raw = hex.EncodeToString(b)
	return raw, HashClientToken(raw), nil
}

// HashClientToken returns the SHA-256 hex digest of a raw client token.
// Only the hash is ever persisted; the raw token lives solely in the
// config file or secret store the wrapper process reads at startup.
func HashClientToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// AuthenticateClient resolves a raw bearer token to its client record.
func AuthenticateClient(ctx context.Context, st *store.Store, rawToken string) (store.Client, error) {
	c, err := st.GetClientByTokenHash(ctx, HashClientToken(rawToken))
	if err != nil {
		if err == store.ErrNotFound {
			return store.Client{}, ErrClientTokenInvalid
		}
		return store.Client{}, fmt.Errorf("auth: lookup client: %w", err)
	}
	return c, nil
}
