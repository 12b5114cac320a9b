// Package signing defines the HMAC request-signing scheme shared by the
// gateway and the runner supervisor (§4.1): the canonical string a signature
// covers, and the Sign function wrapper processes use to compute it. Both
// binaries import this package so they can never drift on field order or
// hashing — only the gateway additionally verifies, which requires a nonce
// store and is kept out of this module.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ClockSkew is the maximum allowed drift between the signer's timestamp and
// the verifier's clock.
const ClockSkew = 300 * time.Second

// sep is the single separator byte joining the signed fields. It cannot
// appear in any field we control (hex digests, decimal timestamps, base64/
// hex tokens), so no delimiter-injection is possible.
const sep = "\x1f"

// Request holds the fields covered by a signature, exactly as sent or
// received on the wire. Body is the raw request body (empty for GET/no-body
// requests).
type Request struct {
	Method          string
	Path            string
	Body            []byte
	Timestamp       string
	Nonce           string
	RunID           string
	CapabilityToken string
}

// bodyHash returns the lowercase hex SHA-256 of body, or the hash of the
// empty string when body is empty.
func bodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// canonicalString builds the exact byte sequence the signature covers:
// method, path, body hash, timestamp, nonce, run id, capability token,
// joined by sep, in that order.
func canonicalString(r Request) string {
	fields := []string{
		r.Method,
		r.Path,
		bodyHash(r.Body),
		r.Timestamp,
		r.Nonce,
		r.RunID,
		r.CapabilityToken,
	}
	out := fields[0]
	for _, f := range fields[1:] {
		out += sep + f
	}
	return out
}

// Sign computes the hex-encoded HMAC-SHA-256 of r under secret. Used by
// wrapper clients to populate X-Signature, and by the gateway to recompute
// the expected signature during verification.
func Sign(secret []byte, r Request) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(canonicalString(r)))
	return hex.EncodeToString(mac.Sum(nil))
}
