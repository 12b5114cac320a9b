package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/orcabay/control-plane/gatewayd/internal/auth"
	"github.com/orcabay/control-plane/gatewayd/internal/store"
	"github.com/orcabay/control-plane/shared/wire"
)

// ClientsHandler implements client issuance (U-tier, admin-only) and
// self-registration / run-claim (W+C tier).
type ClientsHandler struct {
	store *store.Store
}

func NewClientsHandler(st *store.Store) *ClientsHandler {
	return &ClientsHandler{store: st}
}

// Create handles POST /api/clients/create.
func (h *ClientsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DisplayName string `json:"displayName"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	raw, hash, err := auth.MintClientToken()
	if err != nil {
		ErrInternal(w)
		return
	}
	c, err := h.store.CreateClient(r.Context(), req.DisplayName, hash)
	if err != nil {
		ErrInternal(w)
		return
	}
	Created(w, wire.CreateClientResponse{ID: c.ID, Token: raw})
}

// RotateToken handles POST /api/clients/:id/token.
func (h *ClientsHandler) RotateToken(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	raw, hash, err := auth.MintClientToken()
	if err != nil {
		ErrInternal(w)
		return
	}
	if err := h.store.RotateClientToken(r.Context(), id, hash); err != nil {
		notFoundOrInternal(w, err)
		return
	}
	Ok(w, wire.CreateClientResponse{ID: id, Token: raw})
}

// Register handles POST /api/clients/register — a worker host self-registers
// or heartbeats its agent id, version, and capabilities. The client identity
// authenticating this request (via ClientAuth) is the one updated; AgentID
// in the body is a worker-supplied relabel, not a lookup key.
func (h *ClientsHandler) Register(w http.ResponseWriter, r *http.Request) {
	client, ok := clientFromCtx(r.Context())
	if !ok {
		ErrForbidden(w)
		return
	}
	var req wire.RegisterClientRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.store.UpsertClientRegistration(r.Context(), client.ID, req.AgentID, req.Version, req.Capabilities); err != nil {
		ErrInternal(w)
		return
	}
	NoContent(w)
}

// Claim handles POST /api/runs/claim — a worker host claims the oldest
// unclaimed pending run.
func (h *ClientsHandler) Claim(w http.ResponseWriter, r *http.Request) {
	client, ok := clientFromCtx(r.Context())
	if !ok {
		ErrForbidden(w)
		return
	}
	if err := h.store.TouchClientHeartbeat(r.Context(), client.ID); err != nil {
		ErrInternal(w)
		return
	}

	run, err := h.store.ClaimNextPendingRun(r.Context(), client.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			Ok(w, wire.ClaimRunResponse{Run: nil})
			return
		}
		ErrInternal(w)
		return
	}
	summary := toRunSummary(run)
	Ok(w, wire.ClaimRunResponse{Run: &summary})
}
