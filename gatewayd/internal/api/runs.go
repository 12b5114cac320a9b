package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/orcabay/control-plane/gatewayd/internal/auth"
	"github.com/orcabay/control-plane/gatewayd/internal/broker"
	"github.com/orcabay/control-plane/gatewayd/internal/store"
	"github.com/orcabay/control-plane/shared/sentinel"
	"github.com/orcabay/control-plane/shared/wire"
)

// defaultLinkTTL bounds how long a shared capability link stays valid.
const defaultLinkTTL = 24 * time.Hour

// RunsHandler implements every U-tier and W-tier route under /api/runs.
type RunsHandler struct {
	broker *broker.Broker
	links  *auth.LinkManager
}

func NewRunsHandler(b *broker.Broker, links *auth.LinkManager) *RunsHandler {
	return &RunsHandler{broker: b, links: links}
}

// IssueLink handles POST /api/runs/:id/link, minting a short-lived read-only
// capability link an operator can hand to someone without a UI account.
func (h *RunsHandler) IssueLink(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, _, err := h.broker.GetRun(r.Context(), id); err != nil {
		notFoundOrInternal(w, err)
		return
	}
	token, err := h.links.IssueLink(id, "read", defaultLinkTTL)
	if err != nil {
		ErrInternal(w)
		return
	}
	Created(w, wire.RunLinkResponse{Token: token, ExpiresIn: int(defaultLinkTTL.Seconds())})
}

// Create handles POST /api/runs.
func (h *RunsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req wire.CreateRunRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	run, err := h.broker.CreateRun(r.Context(), broker.CreateRunParams{
		Command:    req.Command,
		Metadata:   req.Metadata,
		WorkingDir: req.WorkingDir,
		Autonomous: req.Autonomous,
		WorkerType: req.WorkerType,
		Model:      req.Model,
	})
	if err != nil {
		if errors.Is(err, broker.ErrValidation) {
			ErrBadRequest(w, err.Error())
			return
		}
		ErrInternal(w)
		return
	}
	Created(w, wire.CreateRunResponse{
		ID:              run.ID,
		CapabilityToken: run.CapabilityToken,
		Status:          string(run.Status),
		Autonomous:      req.Autonomous,
	})
}

// List handles GET /api/runs.
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ListRunsFilter{Status: q.Get("status"), Search: q.Get("search")}
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	runs, total, hasMore, err := h.broker.ListRuns(r.Context(), filter, limit, offset)
	if err != nil {
		ErrInternal(w)
		return
	}
	Ok(w, wire.ListRunsResponse{Runs: toRunSummaries(runs), Total: total, HasMore: hasMore})
}

// Get handles GET /api/runs/:id.
func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, artifacts, err := h.broker.GetRun(r.Context(), id)
	if err != nil {
		notFoundOrInternal(w, err)
		return
	}
	Ok(w, wire.RunDetail{RunSummary: toRunSummary(run), Artifacts: toArtifactSummaries(artifacts)})
}

// Delete handles DELETE /api/runs/:id.
func (h *RunsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.broker.DeleteRun(r.Context(), id); err != nil {
		notFoundOrInternal(w, err)
		return
	}
	NoContent(w)
}

// ListEvents handles GET /api/runs/:id/events?after=&limit=.
func (h *RunsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query()
	after, _ := strconv.ParseInt(q.Get("after"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))

	events, hasMore, err := h.broker.ListEvents(r.Context(), id, after, limit)
	if err != nil {
		notFoundOrInternal(w, err)
		return
	}
	Ok(w, wire.ListEventsResponse{Events: toEventDTOs(events), HasMore: hasMore})
}

// EnqueueCommand handles POST /api/runs/:id/command.
func (h *RunsHandler) EnqueueCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req wire.EnqueueCommandRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.enqueue(w, r, id, req.Command)
}

// Stop handles POST /api/runs/:id/stop.
func (h *RunsHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.enqueue(w, r, chi.URLParam(r, "id"), sentinel.Stop)
}

// Halt handles POST /api/runs/:id/halt.
func (h *RunsHandler) Halt(w http.ResponseWriter, r *http.Request) {
	h.enqueue(w, r, chi.URLParam(r, "id"), sentinel.Halt)
}

// Escape handles POST /api/runs/:id/escape.
func (h *RunsHandler) Escape(w http.ResponseWriter, r *http.Request) {
	h.enqueue(w, r, chi.URLParam(r, "id"), sentinel.Escape)
}

// Input handles POST /api/runs/:id/input.
func (h *RunsHandler) Input(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req wire.InputRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.enqueue(w, r, id, sentinel.Input(req.Text, req.Escape))
}

func (h *RunsHandler) enqueue(w http.ResponseWriter, r *http.Request, runID, command string) {
	cmd, err := h.broker.EnqueueCommand(r.Context(), runID, command)
	if err != nil {
		switch {
		case errors.Is(err, broker.ErrNotRunning):
			ErrConflict(w, "run is not running")
		case errors.Is(err, broker.ErrNotAllowlisted):
			ErrForbidden(w)
		case errors.Is(err, store.ErrNotFound):
			ErrNotFound(w)
		default:
			ErrInternal(w)
		}
		return
	}
	Created(w, wire.CommandDTO{ID: cmd.ID, RunID: cmd.RunID, Command: cmd.Command, CreatedAt: cmd.CreatedAt})
}

// Restart handles POST /api/runs/:id/restart.
func (h *RunsHandler) Restart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req wire.RestartRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var cmdOverride, wdOverride *string
	if req.CommandOverride != "" {
		cmdOverride = &req.CommandOverride
	}
	if req.WorkingDirOverride != "" {
		wdOverride = &req.WorkingDirOverride
	}
	next, err := h.broker.Restart(r.Context(), id, cmdOverride, wdOverride)
	if err != nil {
		notFoundOrInternal(w, err)
		return
	}
	Created(w, wire.RestartResponse{RunID: next.ID})
}

// GetState handles GET /api/runs/:id/state.
func (h *RunsHandler) GetState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	view, err := h.broker.GetRunState(r.Context(), id)
	if err != nil {
		notFoundOrInternal(w, err)
		return
	}
	Ok(w, wire.RunStateResponse{
		Run:          toRunSummary(view.Run),
		WorkingDir:   view.State.WorkingDir,
		LastSequence: view.State.LastSequence,
		RecentEvents: toEventDTOs(view.RecentEvents),
		CanResume:    view.CanResume,
	})
}

// UpsertState handles POST /api/runs/:id/state (wrapper checkpoint upsert).
func (h *RunsHandler) UpsertState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.broker.CheckCapability(r.Context(), id, r.Header.Get("X-Capability-Token")); err != nil {
		ErrForbidden(w)
		return
	}
	var req wire.UpsertRunStateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	st := store.RunState{RunID: id, Environment: req.Environment}
	if req.WorkingDir != nil {
		st.WorkingDir = *req.WorkingDir
	}
	if req.LastSequence != nil {
		st.LastSequence = *req.LastSequence
	}
	if req.StdinBuffer != nil {
		st.StdinBuffer = *req.StdinBuffer
	}
	if err := h.broker.UpsertRunState(r.Context(), st); err != nil {
		notFoundOrInternal(w, err)
		return
	}
	if req.Heartbeat != nil {
		if err := h.broker.ReportHeartbeat(r.Context(), id, req.Heartbeat.CPUPercent, req.Heartbeat.MemPercent, req.Heartbeat.DiskPercent); err != nil {
			notFoundOrInternal(w, err)
			return
		}
	}
	NoContent(w)
}

// ListCommands handles GET /api/runs/:id/commands (wrapper poll).
func (h *RunsHandler) ListCommands(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.broker.CheckCapability(r.Context(), id, r.Header.Get("X-Capability-Token")); err != nil {
		ErrForbidden(w)
		return
	}
	commands, err := h.broker.PollCommands(r.Context(), id)
	if err != nil {
		notFoundOrInternal(w, err)
		return
	}
	out := make([]wire.CommandDTO, 0, len(commands))
	for _, c := range commands {
		out = append(out, wire.CommandDTO{ID: c.ID, RunID: c.RunID, Command: c.Command, CreatedAt: c.CreatedAt})
	}
	Ok(w, wire.ListCommandsResponse{Commands: out})
}

// AckCommand handles POST /api/runs/:id/commands/:cid/ack.
func (h *RunsHandler) AckCommand(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	cmdID := chi.URLParam(r, "cid")
	if _, err := h.broker.CheckCapability(r.Context(), runID, r.Header.Get("X-Capability-Token")); err != nil {
		ErrForbidden(w)
		return
	}
	var req wire.AckCommandRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.broker.AckCommand(r.Context(), runID, cmdID, req.Result, req.Error); err != nil {
		if errors.Is(err, store.ErrAlreadyAcked) {
			NoContent(w) // idempotent ack (§4.4 ack_command contract)
			return
		}
		notFoundOrInternal(w, err)
		return
	}
	NoContent(w)
}

func notFoundOrInternal(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		ErrNotFound(w)
		return
	}
	ErrInternal(w)
}

func toRunSummary(r store.Run) wire.RunSummary {
	return wire.RunSummary{
		ID: r.ID, Status: string(r.Status), Command: r.Command, WorkerType: r.WorkerType,
		Metadata: r.Metadata, ClientID: r.ClientID, CreatedAt: r.CreatedAt,
		StartedAt: r.StartedAt, FinishedAt: r.FinishedAt, ExitCode: r.ExitCode,
	}
}

func toRunSummaries(runs []store.Run) []wire.RunSummary {
	out := make([]wire.RunSummary, 0, len(runs))
	for _, r := range runs {
		out = append(out, toRunSummary(r))
	}
	return out
}

func toEventDTOs(events []store.Event) []wire.EventDTO {
	out := make([]wire.EventDTO, 0, len(events))
	for _, e := range events {
		out = append(out, wire.EventDTO{
			ID: e.ID, RunID: e.RunID, Type: string(e.Type), Data: e.Data,
			Sequence: e.Sequence, Timestamp: e.Timestamp,
		})
	}
	return out
}

func toArtifactSummaries(artifacts []store.Artifact) []wire.ArtifactSummary {
	out := make([]wire.ArtifactSummary, 0, len(artifacts))
	for _, a := range artifacts {
		out = append(out, wire.ArtifactSummary{
			ID: a.ID, RunID: a.RunID, Name: a.Name, Type: string(a.Type),
			Size: a.Size, CreatedAt: a.CreatedAt,
		})
	}
	return out
}
