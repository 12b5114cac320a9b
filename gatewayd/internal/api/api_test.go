package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/orcabay/control-plane/gatewayd/internal/api"
	"github.com/orcabay/control-plane/gatewayd/internal/artifacts"
	"github.com/orcabay/control-plane/gatewayd/internal/auth"
	"github.com/orcabay/control-plane/gatewayd/internal/broker"
	"github.com/orcabay/control-plane/gatewayd/internal/hub"
	"github.com/orcabay/control-plane/gatewayd/internal/metrics"
	"github.com/orcabay/control-plane/gatewayd/internal/redact"
	"github.com/orcabay/control-plane/gatewayd/internal/signing"
	"github.com/orcabay/control-plane/gatewayd/internal/store"
)

var testHMACSecret = []byte("test-wrapper-secret")

// testMetrics is created once for the whole package: promauto registers
// against the global default registry and panics on a second registration.
var testMetrics = metrics.New()

type testServer struct {
	*httptest.Server
	store *store.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st, err := store.Open(store.Config{DSN: "file:" + t.Name() + "?mode=memory&cache=shared", Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	b := broker.New(st, redact.New(nil), []string{"echo"}, zap.NewNop())
	h := hub.NewHub()
	b.SetHub(h)
	go h.Run(newCtx(t))

	art, err := artifacts.New(t.TempDir(), 1<<20, st, zap.NewNop())
	if err != nil {
		t.Fatalf("open artifacts: %v", err)
	}

	links, err := auth.NewLinkManagerGenerated("test-gateway")
	if err != nil {
		t.Fatalf("new link manager: %v", err)
	}

	authSvc := auth.NewService(st)

	handler := api.NewRouter(api.RouterConfig{
		Store:       st,
		Broker:      b,
		Artifacts:   art,
		Hub:         h,
		AuthService: authSvc,
		Links:       links,
		Metrics:     testMetrics,
		HMACSecret:  testHMACSecret,
		Logger:      zap.NewNop(),
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: st}
}

type cancelCtx struct{ done chan struct{} }

func (c cancelCtx) Done() <-chan struct{} { return c.done }

func newCtx(t *testing.T) cancelCtx {
	c := cancelCtx{done: make(chan struct{})}
	t.Cleanup(func() { close(c.done) })
	return c
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) *http.Response {
	t.Helper()
	var r *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(b)
	} else {
		r = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeEnvelope(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var env map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func signedHeaders(t *testing.T, method, path string, body []byte, runID, capToken string) map[string]string {
	t.Helper()
	now := time.Now()
	req := signing.Request{
		Method:          method,
		Path:            path,
		Body:            body,
		Timestamp:       strconv.FormatInt(now.Unix(), 10),
		Nonce:           randomNonce(t),
		RunID:           runID,
		CapabilityToken: capToken,
	}
	sig := signing.Sign(testHMACSecret, req)
	headers := map[string]string{
		"X-Timestamp": req.Timestamp,
		"X-Nonce":     req.Nonce,
		"X-Signature": sig,
	}
	if runID != "" {
		headers["X-Run-Id"] = runID
	}
	if capToken != "" {
		headers["X-Capability-Token"] = capToken
	}
	return headers
}

var nonceCounter int

func randomNonce(t *testing.T) string {
	t.Helper()
	nonceCounter++
	return "nonce-" + strconv.Itoa(nonceCounter) + "-" + t.Name()
}

func TestHealthzRequiresNoAuth(t *testing.T) {
	s := newTestServer(t)
	resp, err := http.Get(s.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestLoginSucceedsAndGrantsSessionAccess(t *testing.T) {
	s := newTestServer(t)
	ctx := newBackground()
	if _, err := s.store.CreateUser(ctx, "admin@example.com", mustHash(t, "correct-horse"), store.RoleAdmin); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	resp := doJSON(t, http.MethodPost, s.URL+"/api/auth/login", map[string]string{
		"email":    "admin@example.com",
		"password": "correct-horse",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 login, got %d", resp.StatusCode)
	}
	env := decodeEnvelope(t, resp)
	data := env["data"].(map[string]any)
	sessionID, _ := data["sessionId"].(string)
	if sessionID == "" {
		t.Fatalf("expected a session id in login response: %+v", env)
	}

	listResp := doJSON(t, http.MethodGet, s.URL+"/api/runs", nil, map[string]string{
		"Authorization": "Bearer " + sessionID,
	})
	if listResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 listing runs with valid session, got %d", listResp.StatusCode)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	s := newTestServer(t)
	ctx := newBackground()
	if _, err := s.store.CreateUser(ctx, "admin@example.com", mustHash(t, "correct-horse"), store.RoleAdmin); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	resp := doJSON(t, http.MethodPost, s.URL+"/api/auth/login", map[string]string{
		"email":    "admin@example.com",
		"password": "wrong",
	}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestSessionProtectedRouteRejectsMissingAuth(t *testing.T) {
	s := newTestServer(t)
	resp := doJSON(t, http.MethodGet, s.URL+"/api/runs", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with no Authorization header, got %d", resp.StatusCode)
	}
}

func TestViewerCannotCreateRun(t *testing.T) {
	s := newTestServer(t)
	ctx := newBackground()
	if _, err := s.store.CreateUser(ctx, "viewer@example.com", mustHash(t, "pw"), store.RoleViewer); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	sessionID := login(t, s, "viewer@example.com", "pw")

	resp := doJSON(t, http.MethodPost, s.URL+"/api/runs", map[string]any{
		"workerType": "claude",
		"command":    "echo hi",
	}, map[string]string{"Authorization": "Bearer " + sessionID})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer creating a run, got %d", resp.StatusCode)
	}
}

func TestOperatorCanCreateRunButNotCreateClients(t *testing.T) {
	s := newTestServer(t)
	ctx := newBackground()
	if _, err := s.store.CreateUser(ctx, "op@example.com", mustHash(t, "pw"), store.RoleOperator); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	sessionID := login(t, s, "op@example.com", "pw")

	createResp := doJSON(t, http.MethodPost, s.URL+"/api/runs", map[string]any{
		"workerType": "claude",
		"command":    "echo hi",
	}, map[string]string{"Authorization": "Bearer " + sessionID})
	if createResp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 creating a run as operator, got %d", createResp.StatusCode)
	}

	adminOnlyResp := doJSON(t, http.MethodPost, s.URL+"/api/clients/create", map[string]any{
		"displayName": "worker-1",
	}, map[string]string{"Authorization": "Bearer " + sessionID})
	if adminOnlyResp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for operator hitting an admin-only route, got %d", adminOnlyResp.StatusCode)
	}
}

func TestWrapperAuthRejectsUnsignedIngest(t *testing.T) {
	s := newTestServer(t)
	resp := doJSON(t, http.MethodPost, s.URL+"/api/ingest/event", map[string]any{
		"type": "stdout",
		"data": "hi",
	}, map[string]string{"X-Run-Id": "run_missing"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unsigned wrapper request, got %d", resp.StatusCode)
	}
}

func TestWrapperAuthAcceptsSignedCommandsList(t *testing.T) {
	s := newTestServer(t)
	run := createRunDirect(t, s, "claude")

	headers := signedHeaders(t, http.MethodGet, "/api/runs/"+run.ID+"/commands", nil, run.ID, run.Token)
	resp := doJSON(t, http.MethodGet, s.URL+"/api/runs/"+run.ID+"/commands", nil, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for validly signed commands request, got %d", resp.StatusCode)
	}
}

func TestWrapperAuthRejectsReplayedNonce(t *testing.T) {
	s := newTestServer(t)
	run := createRunDirect(t, s, "claude")
	path := "/api/runs/" + run.ID + "/commands"

	now := time.Now()
	req := signing.Request{
		Method:          http.MethodGet,
		Path:            path,
		Body:            nil,
		Timestamp:       strconv.FormatInt(now.Unix(), 10),
		Nonce:           "fixed-nonce-for-replay-test",
		RunID:           run.ID,
		CapabilityToken: run.Token,
	}
	sig := signing.Sign(testHMACSecret, req)
	headers := map[string]string{
		"X-Timestamp":        req.Timestamp,
		"X-Nonce":            req.Nonce,
		"X-Signature":        sig,
		"X-Run-Id":           run.ID,
		"X-Capability-Token": run.Token,
	}

	first := doJSON(t, http.MethodGet, s.URL+path, nil, headers)
	if first.StatusCode != http.StatusOK {
		t.Fatalf("expected first signed request to succeed, got %d", first.StatusCode)
	}
	second := doJSON(t, http.MethodGet, s.URL+path, nil, headers)
	if second.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected replayed nonce to be rejected, got %d", second.StatusCode)
	}
}

func TestClientRegisterAndClaimRequireClientToken(t *testing.T) {
	s := newTestServer(t)
	ctx := newBackground()
	c, err := s.store.CreateClient(ctx, "worker-1", "")
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	rawToken, hash, err := auth.MintClientToken()
	if err != nil {
		t.Fatalf("MintClientToken: %v", err)
	}
	if err := s.store.RotateClientToken(ctx, c.ID, hash); err != nil {
		t.Fatalf("RotateClientToken: %v", err)
	}

	body, _ := json.Marshal(map[string]any{"agentId": "agent-1", "capabilities": []string{"claude"}})
	headers := signedHeaders(t, http.MethodPost, "/api/clients/register", body, "", "")

	withoutToken := doJSON(t, http.MethodPost, s.URL+"/api/clients/register", map[string]any{
		"agentId":      "agent-1",
		"capabilities": []string{"claude"},
	}, headers)
	if withoutToken.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 without X-Client-Token, got %d", withoutToken.StatusCode)
	}

	headersWithToken := signedHeaders(t, http.MethodPost, "/api/clients/register", body, "", "")
	headersWithToken["X-Client-Token"] = rawToken
	withToken := doJSON(t, http.MethodPost, s.URL+"/api/clients/register", map[string]any{
		"agentId":      "agent-1",
		"capabilities": []string{"claude"},
	}, headersWithToken)
	if withToken.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 register with valid client token, got %d", withToken.StatusCode)
	}
}

func TestClaimReturnsOldestPendingRun(t *testing.T) {
	s := newTestServer(t)
	ctx := newBackground()
	run := createRunDirect(t, s, "claude")

	c, err := s.store.CreateClient(ctx, "worker-1", "")
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	rawToken, hash, err := auth.MintClientToken()
	if err != nil {
		t.Fatalf("MintClientToken: %v", err)
	}
	if err := s.store.RotateClientToken(ctx, c.ID, hash); err != nil {
		t.Fatalf("RotateClientToken: %v", err)
	}

	headers := signedHeaders(t, http.MethodPost, "/api/runs/claim", nil, "", "")
	headers["X-Client-Token"] = rawToken
	resp := doJSON(t, http.MethodPost, s.URL+"/api/runs/claim", nil, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 claim, got %d", resp.StatusCode)
	}
	env := decodeEnvelope(t, resp)
	data := env["data"].(map[string]any)
	claimed, ok := data["run"].(map[string]any)
	if !ok {
		t.Fatalf("expected a claimed run in response: %+v", env)
	}
	if claimed["id"] != run.ID {
		t.Fatalf("expected to claim run %s, got %v", run.ID, claimed["id"])
	}
}

func TestRunEventsAcceptsCapabilityLinkWithoutSession(t *testing.T) {
	s := newTestServer(t)
	ctx := newBackground()
	if _, err := s.store.CreateUser(ctx, "op@example.com", mustHash(t, "pw"), store.RoleOperator); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	sessionID := login(t, s, "op@example.com", "pw")
	run := createRunDirect(t, s, "claude")

	linkResp := doJSON(t, http.MethodPost, s.URL+"/api/runs/"+run.ID+"/link", map[string]any{}, map[string]string{
		"Authorization": "Bearer " + sessionID,
	})
	if linkResp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 issuing a capability link, got %d", linkResp.StatusCode)
	}
	env := decodeEnvelope(t, linkResp)
	data := env["data"].(map[string]any)
	token, _ := data["token"].(string)
	if token == "" {
		t.Fatalf("expected a link token in response: %+v", env)
	}

	eventsResp, err := http.Get(s.URL + "/api/runs/" + run.ID + "/events?link=" + token)
	if err != nil {
		t.Fatalf("get events via link: %v", err)
	}
	defer eventsResp.Body.Close()
	if eventsResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 listing events via capability link, got %d", eventsResp.StatusCode)
	}

	noLinkResp, err := http.Get(s.URL + "/api/runs/" + run.ID + "/events")
	if err != nil {
		t.Fatalf("get events without link: %v", err)
	}
	defer noLinkResp.Body.Close()
	if noLinkResp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 listing events with neither session nor link, got %d", noLinkResp.StatusCode)
	}
}

// --- helpers ---

type runRef struct{ ID, Token string }

func createRunDirect(t *testing.T, s *testServer, workerType string) runRef {
	t.Helper()
	run, err := s.store.CreateRun(context.Background(), store.Run{
		WorkerType:      workerType,
		Command:         "echo hi",
		CapabilityToken: "cap_test_token",
	})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	return runRef{ID: run.ID, Token: run.CapabilityToken}
}

func login(t *testing.T, s *testServer, email, password string) string {
	t.Helper()
	resp := doJSON(t, http.MethodPost, s.URL+"/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login failed for %s: status %d", email, resp.StatusCode)
	}
	env := decodeEnvelope(t, resp)
	data := env["data"].(map[string]any)
	id, _ := data["sessionId"].(string)
	if id == "" {
		t.Fatalf("login response missing sessionId: %+v", env)
	}
	return id
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	return hash
}

func newBackground() context.Context { return context.Background() }
