package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/orcabay/control-plane/shared/signing"
	"github.com/orcabay/control-plane/shared/wire"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		BaseURL:         srv.URL,
		HMACSecret:      []byte("test-secret"),
		RunID:           "run_1",
		CapabilityToken: "cap_tok",
	})
}

func TestAppendEventSignsAndSendsExpectedHeaders(t *testing.T) {
	var gotBody wire.AppendEventRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Run-Id") != "run_1" {
			t.Errorf("unexpected X-Run-Id: %s", r.Header.Get("X-Run-Id"))
		}
		if r.Header.Get("X-Capability-Token") != "cap_tok" {
			t.Errorf("unexpected X-Capability-Token: %s", r.Header.Get("X-Capability-Token"))
		}
		if len(r.Header.Get("X-Nonce")) < 16 {
			t.Errorf("nonce too short: %q", r.Header.Get("X-Nonce"))
		}
		if r.Header.Get("X-Signature") == "" {
			t.Error("missing X-Signature")
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	})

	if err := c.AppendEvent(context.Background(), "output", "hello", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotBody.Type != "output" || gotBody.Data != "hello" || gotBody.Sequence != 1 {
		t.Fatalf("unexpected decoded body: %+v", gotBody)
	}
}

func TestAppendEventSignatureVerifiesAgainstCanonicalRequest(t *testing.T) {
	secret := []byte("verify-secret")
	var capturedSig string
	var capturedTimestamp, capturedNonce string
	var capturedBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		capturedBody = body
		capturedSig = r.Header.Get("X-Signature")
		capturedTimestamp = r.Header.Get("X-Timestamp")
		capturedNonce = r.Header.Get("X-Nonce")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, HMACSecret: secret, RunID: "run_1", CapabilityToken: "cap_tok"})
	if err := c.AppendEvent(context.Background(), "output", "hi", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := signing.Sign(secret, signing.Request{
		Method:          http.MethodPost,
		Path:            "/api/ingest/event",
		Body:            capturedBody,
		Timestamp:       capturedTimestamp,
		Nonce:           capturedNonce,
		RunID:           "run_1",
		CapabilityToken: "cap_tok",
	})
	if want != capturedSig {
		t.Fatalf("signature mismatch: got %s want %s", capturedSig, want)
	}
}

func TestPollCommandsDecodesResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/runs/run_1/commands" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(wire.ListCommandsResponse{
			Commands: []wire.CommandDTO{{ID: "cmd_1", RunID: "run_1", Command: "__STOP__"}},
		})
	})

	cmds, err := c.PollCommands(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cmds) != 1 || cmds[0].ID != "cmd_1" {
		t.Fatalf("unexpected commands: %+v", cmds)
	}
}

func TestRegisterClientSendsClientTokenHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Client-Token") != "host-tok" {
			t.Errorf("unexpected X-Client-Token: %s", r.Header.Get("X-Client-Token"))
		}
		if r.Header.Get("X-Run-Id") != "" {
			t.Errorf("expected no X-Run-Id header on client-tier call, got %q", r.Header.Get("X-Run-Id"))
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, HMACSecret: []byte("s"), ClientToken: "host-tok", AgentID: "host-abc123"})
	if err := c.RegisterClient(context.Background(), "host-1", "1.0.0", []string{"claude"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRegisterClientSkipsWithoutClientToken(t *testing.T) {
	c := New(Config{BaseURL: "http://unused.invalid", HMACSecret: []byte("s")})
	if err := c.RegisterClient(context.Background(), "host-1", "1.0.0", nil); err == nil {
		t.Fatal("expected error when no client token is configured")
	}
}

func TestDoReturnsErrorOnNonSuccessStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})

	if err := c.AckCommand(context.Background(), "cmd_1", "ok", ""); err == nil {
		t.Fatal("expected error on 403 response")
	}
}
