package signing

import (
	"testing"
	"time"
)

type memNonceStore struct {
	seen map[string]bool
}

func newMemNonceStore() *memNonceStore {
	return &memNonceStore{seen: map[string]bool{}}
}

func (m *memNonceStore) InsertIfAbsent(nonce string, _ time.Time) (bool, error) {
	if m.seen[nonce] {
		return false, nil
	}
	m.seen[nonce] = true
	return true, nil
}

func testRequest(now time.Time) Request {
	return Request{
		Method:    "POST",
		Path:      "/api/ingest/event",
		Body:      []byte(`{"type":"stdout","data":"hi"}`),
		Timestamp: intToStr(now.Unix()),
		Nonce:     "0123456789abcdef0123",
		RunID:     "run_abc",
	}
}

func TestVerify_Success(t *testing.T) {
	secret := []byte("shared-secret")
	now := time.Now()
	r := testRequest(now)
	r.Timestamp = intToStr(now.Unix())
	sig := Sign(secret, r)

	if err := Verify(now, secret, newMemNonceStore(), r, sig); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestVerify_ReplayRejected(t *testing.T) {
	secret := []byte("shared-secret")
	now := time.Now()
	r := testRequest(now)
	r.Timestamp = intToStr(now.Unix())
	sig := Sign(secret, r)
	store := newMemNonceStore()

	if err := Verify(now, secret, store, r, sig); err != nil {
		t.Fatalf("first verify: expected success, got %v", err)
	}
	if err := Verify(now, secret, store, r, sig); err != ErrReplay {
		t.Fatalf("second verify: expected ErrReplay, got %v", err)
	}
}

func TestVerify_ClockSkewRejected(t *testing.T) {
	secret := []byte("shared-secret")
	now := time.Now()
	r := testRequest(now)
	r.Timestamp = intToStr(now.Add(-10 * time.Minute).Unix())
	sig := Sign(secret, r)

	if err := Verify(now, secret, newMemNonceStore(), r, sig); err != ErrClockSkew {
		t.Fatalf("expected ErrClockSkew, got %v", err)
	}
}

func TestVerify_BadSignatureRejected(t *testing.T) {
	secret := []byte("shared-secret")
	now := time.Now()
	r := testRequest(now)
	r.Timestamp = intToStr(now.Unix())

	if err := Verify(now, secret, newMemNonceStore(), r, "deadbeef"); err != ErrBadSignature {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestVerify_TamperedBodyRejected(t *testing.T) {
	secret := []byte("shared-secret")
	now := time.Now()
	r := testRequest(now)
	r.Timestamp = intToStr(now.Unix())
	sig := Sign(secret, r)

	r.Body = []byte(`{"type":"stdout","data":"tampered"}`)
	if err := Verify(now, secret, newMemNonceStore(), r, sig); err != ErrBadSignature {
		t.Fatalf("expected ErrBadSignature after body tamper, got %v", err)
	}
}

func TestVerifyCapability(t *testing.T) {
	if err := VerifyCapability("tok-a", "tok-a"); err != nil {
		t.Fatalf("expected match, got %v", err)
	}
	if err := VerifyCapability("tok-a", "tok-b"); err != ErrCapabilityMismatch {
		t.Fatalf("expected ErrCapabilityMismatch, got %v", err)
	}
}

func intToStr(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
