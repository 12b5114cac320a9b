package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/orcabay/control-plane/gatewayd/internal/artifacts"
	"github.com/orcabay/control-plane/gatewayd/internal/broker"
	"github.com/orcabay/control-plane/gatewayd/internal/store"
	"github.com/orcabay/control-plane/shared/wire"
)

// IngestHandler implements the two W-tier ingestion routes a wrapper calls
// for every event and file it produces. Both run id and capability token
// arrive as the signed X-Run-Id / X-Capability-Token headers WrapperAuth
// already verified the signature over; this handler additionally checks the
// capability token matches the named run (§4.1 rule 4), since that check
// requires a database lookup WrapperAuth does not have access to.
type IngestHandler struct {
	broker    *broker.Broker
	artifacts *artifacts.Store
	logger    *zap.Logger
}

func NewIngestHandler(b *broker.Broker, a *artifacts.Store, logger *zap.Logger) *IngestHandler {
	return &IngestHandler{broker: b, artifacts: a, logger: logger}
}

// Event handles POST /api/ingest/event.
func (h *IngestHandler) Event(w http.ResponseWriter, r *http.Request) {
	runID := r.Header.Get("X-Run-Id")
	if runID == "" {
		ErrBadRequest(w, "X-Run-Id header required")
		return
	}
	if _, err := h.broker.CheckCapability(r.Context(), runID, r.Header.Get("X-Capability-Token")); err != nil {
		ErrForbidden(w)
		return
	}

	var req wire.AppendEventRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id, err := h.broker.AppendEvent(r.Context(), runID, store.EventType(req.Type), req.Data, req.Sequence)
	if err != nil {
		notFoundOrInternal(w, err)
		return
	}
	Created(w, envelope{"id": id})
}

// Artifact handles POST /api/ingest/artifact (multipart upload).
func (h *IngestHandler) Artifact(w http.ResponseWriter, r *http.Request) {
	runID := r.Header.Get("X-Run-Id")
	if runID == "" {
		ErrBadRequest(w, "X-Run-Id header required")
		return
	}
	if _, err := h.broker.CheckCapability(r.Context(), runID, r.Header.Get("X-Capability-Token")); err != nil {
		ErrForbidden(w)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		ErrBadRequest(w, "missing multipart file field")
		return
	}
	defer file.Close()

	a, err := h.artifacts.Upload(r.Context(), runID, header.Filename, file)
	if err != nil {
		if errors.Is(err, artifacts.ErrTooLarge) {
			ErrTooLarge(w)
			return
		}
		h.logger.Warn("ingest: artifact upload failed", zap.String("run_id", runID), zap.Error(err))
		ErrInternal(w)
		return
	}
	h.broker.BroadcastArtifact(runID, a.ID, a.Name)
	Created(w, wire.ArtifactSummary{
		ID: a.ID, RunID: a.RunID, Name: a.Name, Type: string(a.Type),
		Size: a.Size, CreatedAt: a.CreatedAt,
	})
}
