// Package client is the runner supervisor's signed HTTP client to the
// gateway. go-resty/v2 appears nowhere in the pack, so this uses stdlib
// net/http directly: do() signs each request itself and sets the signing
// headers before sending (there is no signing RoundTripper) — grounded on
// the teacher's connection/manager.go, which also builds one shared
// long-lived client (there, a generated gRPC client) and reuses it across
// every loop (register, heartbeat, job stream) rather than dialing fresh
// per call.
package client

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/orcabay/control-plane/shared/signing"
	"github.com/orcabay/control-plane/shared/wire"
)

// Config configures a Client.
type Config struct {
	BaseURL              string
	HMACSecret           []byte
	RunID                string
	CapabilityToken      string
	ClientToken          string // host identity for W+C-tier calls (Register); empty skips them
	AgentID              string
	AllowSelfSignedCerts bool // skip TLS verification; for gateways behind a self-signed cert only
}

// Client issues signed HTTP requests against the gateway's wrapper-tier API
// (§4.1). One Client is shared across the poll loop, the heartbeat loop,
// and event ingestion for the lifetime of a supervised run.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New returns a Client backed by a shared http.Client with sane pool
// timeouts for a long-lived polling process.
func New(cfg Config) *Client {
	transport := http.DefaultTransport
	if cfg.AllowSelfSignedCerts {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
		}
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}

// AgentID returns the agent id this client presents to the gateway.
func (c *Client) AgentID() string { return c.cfg.AgentID }

// do signs and sends a request, decoding a JSON response body into out if
// non-nil. path is the absolute-from-root API path, e.g. "/api/ingest/event".
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: marshal request: %w", err)
		}
	}

	nonce, err := randomNonce()
	if err != nil {
		return fmt.Errorf("client: generate nonce: %w", err)
	}
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	sig := signing.Sign(c.cfg.HMACSecret, signing.Request{
		Method:          method,
		Path:            path,
		Body:            bodyBytes,
		Timestamp:       timestamp,
		Nonce:           nonce,
		RunID:           c.cfg.RunID,
		CapabilityToken: c.cfg.CapabilityToken,
	})

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Timestamp", timestamp)
	req.Header.Set("X-Nonce", nonce)
	req.Header.Set("X-Run-Id", c.cfg.RunID)
	req.Header.Set("X-Capability-Token", c.cfg.CapabilityToken)
	req.Header.Set("X-Signature", sig)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("client: %s %s: status %d: %s", method, path, resp.StatusCode, string(msg))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}

// RegisterClient self-registers (or upserts) this host's client record
// (§4.7 start step 1) using the W+C-tier route, signed with an empty
// run id / capability token since registration is not scoped to any one
// run. A missing ClientToken makes this a no-op error the caller is
// expected to log and continue past, matching the non-fatal failure mode
// spec.md §4.7 calls for.
func (c *Client) RegisterClient(ctx context.Context, displayName, version string, capabilities []string) error {
	if c.cfg.ClientToken == "" {
		return fmt.Errorf("client: no client token configured, skipping registration")
	}
	return c.doClientTier(ctx, http.MethodPost, "/api/clients/register", wire.RegisterClientRequest{
		AgentID:      c.cfg.AgentID,
		DisplayName:  displayName,
		Version:      version,
		Capabilities: capabilities,
	}, nil)
}

// doClientTier is do's sibling for the W+C-tier routes: it signs with an
// empty run id / capability token (registration precedes any run
// assignment) and adds X-Client-Token alongside the usual signature
// headers.
func (c *Client) doClientTier(ctx context.Context, method, path string, body, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: marshal request: %w", err)
		}
	}

	nonce, err := randomNonce()
	if err != nil {
		return fmt.Errorf("client: generate nonce: %w", err)
	}
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	sig := signing.Sign(c.cfg.HMACSecret, signing.Request{
		Method:    method,
		Path:      path,
		Body:      bodyBytes,
		Timestamp: timestamp,
		Nonce:     nonce,
	})

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Timestamp", timestamp)
	req.Header.Set("X-Nonce", nonce)
	req.Header.Set("X-Client-Token", c.cfg.ClientToken)
	req.Header.Set("X-Signature", sig)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("client: %s %s: status %d: %s", method, path, resp.StatusCode, string(msg))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// AppendEvent posts one event to the run's ingest stream.
func (c *Client) AppendEvent(ctx context.Context, typ, data string, sequence int) error {
	return c.do(ctx, http.MethodPost, "/api/ingest/event", wire.AppendEventRequest{
		Type: typ, Data: data, Sequence: sequence,
	}, nil)
}

// PollCommands fetches pending commands for the run.
func (c *Client) PollCommands(ctx context.Context) ([]wire.CommandDTO, error) {
	var resp wire.ListCommandsResponse
	path := fmt.Sprintf("/api/runs/%s/commands", c.cfg.RunID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Commands, nil
}

// AckCommand acknowledges a processed command. Idempotent on the gateway
// side, so a retried ack after a dropped response is always safe.
func (c *Client) AckCommand(ctx context.Context, commandID, result, errMsg string) error {
	path := fmt.Sprintf("/api/runs/%s/commands/%s/ack", c.cfg.RunID, commandID)
	return c.do(ctx, http.MethodPost, path, wire.AckCommandRequest{Result: result, Error: errMsg}, nil)
}

// UpsertState checkpoints run state and, when req.Heartbeat is non-nil, piggybacks a
// host resource heartbeat on the same call.
func (c *Client) UpsertState(ctx context.Context, req wire.UpsertRunStateRequest) error {
	path := fmt.Sprintf("/api/runs/%s/state", c.cfg.RunID)
	return c.do(ctx, http.MethodPost, path, req, nil)
}

// UploadArtifact posts a multipart file to the run's artifact ingest route.
// Signing covers the multipart body verbatim, same as any other request, so
// the body must be fully buffered before signing rather than streamed.
func (c *Client) UploadArtifact(ctx context.Context, name string, content io.Reader) (wire.ArtifactSummary, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return wire.ArtifactSummary{}, fmt.Errorf("client: create form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return wire.ArtifactSummary{}, fmt.Errorf("client: buffer artifact: %w", err)
	}
	if err := mw.Close(); err != nil {
		return wire.ArtifactSummary{}, fmt.Errorf("client: close multipart writer: %w", err)
	}

	nonce, err := randomNonce()
	if err != nil {
		return wire.ArtifactSummary{}, fmt.Errorf("client: generate nonce: %w", err)
	}
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	body := buf.Bytes()

	sig := signing.Sign(c.cfg.HMACSecret, signing.Request{
		Method:          http.MethodPost,
		Path:            "/api/ingest/artifact",
		Body:            body,
		Timestamp:       timestamp,
		Nonce:           nonce,
		RunID:           c.cfg.RunID,
		CapabilityToken: c.cfg.CapabilityToken,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/ingest/artifact", bytes.NewReader(body))
	if err != nil {
		return wire.ArtifactSummary{}, fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Timestamp", timestamp)
	req.Header.Set("X-Nonce", nonce)
	req.Header.Set("X-Run-Id", c.cfg.RunID)
	req.Header.Set("X-Capability-Token", c.cfg.CapabilityToken)
	req.Header.Set("X-Signature", sig)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return wire.ArtifactSummary{}, fmt.Errorf("client: upload artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return wire.ArtifactSummary{}, fmt.Errorf("client: upload artifact: status %d: %s", resp.StatusCode, string(msg))
	}
	var out wire.ArtifactSummary
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return wire.ArtifactSummary{}, fmt.Errorf("client: decode artifact response: %w", err)
	}
	return out, nil
}

func randomNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
