// Package signing adds the gateway side of the HMAC request-signing scheme
// wrapper processes use to authenticate (§4.1) on top of the wire format
// defined in the shared signing package: the clock-skew window, nonce replay
// defence, and constant-time comparisons. Verification never discloses
// which sub-check failed — every rejection maps to the same class of error
// the caller can see.
package signing

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	sharedsigning "github.com/orcabay/control-plane/shared/signing"
)

// ClockSkew is the maximum allowed drift between the signer's timestamp and
// the verifier's clock.
const ClockSkew = sharedsigning.ClockSkew

// Request is the set of fields a signature covers. Defined in the shared
// module so the runner's signing client and the gateway's verifier can
// never disagree on it.
type Request = sharedsigning.Request

// Sign computes the hex-encoded HMAC-SHA-256 of r under secret.
func Sign(secret []byte, r Request) string {
	return sharedsigning.Sign(secret, r)
}

var (
	// ErrClockSkew is returned when the request timestamp is outside the
	// allowed skew window.
	ErrClockSkew = errors.New("signing: clock skew")
	// ErrReplay is returned when the nonce has already been seen.
	ErrReplay = errors.New("signing: replay")
	// ErrBadSignature is returned when the HMAC does not match.
	ErrBadSignature = errors.New("signing: bad signature")
	// ErrCapabilityMismatch is returned when the capability token does not
	// match the target run.
	ErrCapabilityMismatch = errors.New("signing: capability mismatch")
)

// NonceStore records nonces to defend against replay. InsertIfAbsent must be
// atomic: it returns false if the nonce was already present, true if it was
// newly inserted.
type NonceStore interface {
	InsertIfAbsent(nonce string, seenAt time.Time) (inserted bool, err error)
}

// Verify checks a signed request against an expected signature, enforcing
// the clock-skew window, nonce replay defence, and constant-time signature
// comparison, in that order (§4.1 rules 1–3). It does not perform the
// capability-token check (rule 4) — callers that carry a run id do that
// separately (the API handlers call broker.CheckCapability, not
// VerifyCapability), since it requires a database lookup the signing
// package has no access to.
func Verify(now time.Time, secret []byte, nonces NonceStore, r Request, signature string) error {
	ts, err := parseUnixSeconds(r.Timestamp)
	if err != nil {
		return ErrClockSkew
	}
	skew := now.Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > ClockSkew {
		return ErrClockSkew
	}

	if len(r.Nonce) < 16 {
		return ErrBadSignature
	}
	inserted, err := nonces.InsertIfAbsent(r.Nonce, now)
	if err != nil {
		return fmt.Errorf("signing: nonce store: %w", err)
	}
	if !inserted {
		return ErrReplay
	}

	expected := Sign(secret, r)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return ErrBadSignature
	}
	return nil
}

// VerifyCapability checks rule 4: when a run id is present, the presented
// capability token must match the one stored for that run.
func VerifyCapability(presented, stored string) error {
	if subtle.ConstantTimeCompare([]byte(presented), []byte(stored)) != 1 {
		return ErrCapabilityMismatch
	}
	return nil
}

func parseUnixSeconds(s string) (time.Time, error) {
	var sec int64
	_, err := fmt.Sscanf(s, "%d", &sec)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0), nil
}
