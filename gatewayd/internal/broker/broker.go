package broker

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/orcabay/control-plane/gatewayd/internal/hub"
	"github.com/orcabay/control-plane/gatewayd/internal/metrics"
	"github.com/orcabay/control-plane/gatewayd/internal/redact"
	"github.com/orcabay/control-plane/gatewayd/internal/registry"
	"github.com/orcabay/control-plane/gatewayd/internal/store"
	"github.com/orcabay/control-plane/shared/sentinel"
	"github.com/orcabay/control-plane/shared/types"
)

// Broker implements the run lifecycle contract over a store, applying
// redaction to ingested event data and allowlist/state validation to
// enqueued commands.
type Broker struct {
	store     *store.Store
	redactor  *redact.Redactor
	allowlist []string
	logger    *zap.Logger
	hub       *hub.Hub
	notifier  Notifier
	metrics   *metrics.Metrics
}

// SetMetrics wires the Prometheus collectors incremented on run/command
// lifecycle events. Left nil, those increments are silently skipped.
func (b *Broker) SetMetrics(m *metrics.Metrics) {
	b.metrics = m
}

// Notifier is the fan-out side effect of a run reaching a terminal state.
// Implemented by notify.Service; declared here so broker doesn't import it
// directly, keeping the dependency direction one way.
type Notifier interface {
	RunDone(runID, command string)
	RunFailed(runID, command string, exitCode int)
}

// SetNotifier wires the notification fan-out. Left nil, terminal-state
// notifications are silently skipped.
func (b *Broker) SetNotifier(n Notifier) {
	b.notifier = n
}

// New builds a Broker. allowlist entries are bare command prefixes (e.g.
// "npm test", "git diff"); EXTRA_ALLOWED_COMMANDS-sourced entries are
// appended by the caller before this is constructed.
func New(st *store.Store, redactor *redact.Redactor, allowlist []string, logger *zap.Logger) *Broker {
	return &Broker{store: st, redactor: redactor, allowlist: allowlist, logger: logger}
}

// SetHub wires the WebSocket fan-out hub used to broadcast run-affecting
// actions (§4.5). Left nil, broadcasts are silently skipped — tests that
// construct a Broker directly don't need a live hub.
func (b *Broker) SetHub(h *hub.Hub) {
	b.hub = h
}

func (b *Broker) broadcast(runID string, msg hub.Message) {
	if b.hub == nil {
		return
	}
	msg.RunID = runID
	b.hub.Broadcast(runID, msg)
}

// CreateRunParams is the validated input to CreateRun.
type CreateRunParams struct {
	Command    string
	Metadata   map[string]any
	WorkingDir string
	Autonomous bool
	WorkerType string
	Model      string
}

// CreateRun validates the worker type against the shared registry, mints a
// capability token, and inserts a pending run.
func (b *Broker) CreateRun(ctx context.Context, p CreateRunParams) (store.Run, error) {
	if !registry.Valid(p.WorkerType) {
		return store.Run{}, fmt.Errorf("%w: unknown worker type %q", ErrValidation, p.WorkerType)
	}
	token, err := newCapabilityToken()
	if err != nil {
		return store.Run{}, err
	}
	metadata := p.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	if p.WorkingDir != "" {
		metadata["workingDir"] = p.WorkingDir
	}
	metadata["autonomous"] = p.Autonomous
	if model := registry.ResolveModel(p.WorkerType, p.Model); model != "" {
		metadata["model"] = model
	}

	run := store.Run{
		Command:         p.Command,
		CapabilityToken: token,
		WorkerType:      p.WorkerType,
		Metadata:        metadata,
	}
	created, err := b.store.CreateRun(ctx, run)
	if err == nil && b.metrics != nil {
		b.metrics.RunsCreatedTotal.Inc()
	}
	return created, err
}

// ListRuns paginates runs. limit is clamped by the store.
func (b *Broker) ListRuns(ctx context.Context, filter store.ListRunsFilter, limit, offset int) ([]store.Run, int, bool, error) {
	runs, total, err := b.store.ListRuns(ctx, filter, limit, offset)
	if err != nil {
		return nil, 0, false, err
	}
	hasMore := offset+len(runs) < total
	return runs, total, hasMore, nil
}

// GetRun returns a run and its artifacts.
func (b *Broker) GetRun(ctx context.Context, id string) (store.Run, []store.Artifact, error) {
	run, err := b.store.GetRun(ctx, id)
	if err != nil {
		return store.Run{}, nil, err
	}
	artifacts, err := b.store.ListArtifacts(ctx, id)
	if err != nil {
		return store.Run{}, nil, err
	}
	return run, artifacts, nil
}

// ListEvents returns a paginated event tail for a run (§6 GET .../events).
func (b *Broker) ListEvents(ctx context.Context, runID string, after int64, limit int) ([]store.Event, bool, error) {
	return b.store.ListEvents(ctx, runID, after, limit)
}

// DeleteRun cascade-deletes a run.
func (b *Broker) DeleteRun(ctx context.Context, id string) error {
	return b.store.DeleteRun(ctx, id)
}

// CheckCapability verifies presented against the run's stored capability
// token, never revealing which side was wrong.
func (b *Broker) CheckCapability(ctx context.Context, runID, presented string) (store.Run, error) {
	run, err := b.store.GetRun(ctx, runID)
	if err != nil {
		return store.Run{}, err
	}
	if presented == "" || presented != run.CapabilityToken {
		return store.Run{}, ErrCapabilityMismatch
	}
	return run, nil
}

// AppendEvent redacts data, inserts the event, and applies marker-driven
// status transitions (§4.4).
func (b *Broker) AppendEvent(ctx context.Context, runID string, typ store.EventType, data string, sequence int) (int64, error) {
	clean := b.redactor.Apply(data)

	id, err := b.store.AppendEvent(ctx, runID, typ, clean, sequence)
	if err != nil {
		return 0, err
	}

	b.broadcast(runID, hub.Message{Type: hub.MsgEvent, Payload: map[string]any{
		"id": id, "type": string(typ), "data": clean, "sequence": sequence,
	}})

	if typ == store.EventMarker {
		if err := b.applyMarker(ctx, runID, clean); err != nil {
			b.logger.Warn("broker: marker transition failed", zap.String("run_id", runID), zap.Error(err))
		}
	}
	return id, nil
}

func (b *Broker) applyMarker(ctx context.Context, runID, data string) error {
	m, ok := parseMarker(data)
	if !ok {
		return nil
	}
	switch m.Event {
	case types.MarkerStarted:
		return b.store.TransitionRunStatus(ctx, runID, store.RunRunning, nil)
	case types.MarkerFinished:
		exitCode := 0
		if m.ExitCode != nil {
			exitCode = *m.ExitCode
		}
		stopRequested, err := b.stopOrHaltRequested(ctx, runID)
		if err != nil {
			return err
		}
		status := store.RunDone
		if exitCode != 0 || stopRequested {
			status = store.RunFailed
		}
		if err := b.store.TransitionRunStatus(ctx, runID, status, &exitCode); err != nil {
			return err
		}
		if b.metrics != nil {
			b.metrics.RunsFinishedTotal.WithLabelValues(string(status)).Inc()
		}
		if b.notifier != nil {
			run, err := b.store.GetRun(ctx, runID)
			if err == nil {
				if status == store.RunDone {
					b.notifier.RunDone(runID, run.Command)
				} else {
					b.notifier.RunFailed(runID, run.Command, exitCode)
				}
			}
		}
		return nil
	}
	return nil
}

func (b *Broker) stopOrHaltRequested(ctx context.Context, runID string) (bool, error) {
	stopped, err := b.store.HasEverEnqueued(ctx, runID, sentinel.Stop)
	if err != nil || stopped {
		return stopped, err
	}
	return b.store.HasEverEnqueued(ctx, runID, sentinel.Halt)
}

// EnqueueCommand validates run state and allowlist membership (sentinels
// bypass the allowlist but not the run-state check, except __STOP__, which
// is always accepted so it can debounce).
func (b *Broker) EnqueueCommand(ctx context.Context, runID, command string) (store.Command, error) {
	run, err := b.store.GetRun(ctx, runID)
	if err != nil {
		return store.Command{}, err
	}

	kind, _ := sentinel.Parse(command)
	isSentinel := kind != sentinel.None

	if kind == sentinel.KindStop {
		if existing, err := b.store.GetPendingCommandByText(ctx, runID, sentinel.Stop); err == nil {
			// A __STOP__ is already pending; hand back the existing command
			// instead of enqueuing a second one the supervisor would have to
			// dedup itself (§9 open question, resolved: debounce here).
			return existing, nil
		} else if err != store.ErrNotFound {
			return store.Command{}, err
		}
	} else if run.Status != store.RunRunning {
		return store.Command{}, ErrNotRunning
	}

	if !isSentinel && !b.allowed(command) {
		return store.Command{}, ErrNotAllowlisted
	}

	cmd, err := b.store.EnqueueCommand(ctx, runID, command)
	if err != nil {
		return store.Command{}, err
	}
	b.broadcast(runID, hub.Message{Type: enqueueMessageType(kind), Payload: map[string]any{
		"id": cmd.ID, "command": cmd.Command,
	}})
	if b.metrics != nil {
		b.metrics.CommandsEnqueued.WithLabelValues(kind.String()).Inc()
	}
	return cmd, nil
}

func enqueueMessageType(kind sentinel.Kind) hub.MessageType {
	switch kind {
	case sentinel.KindStop:
		return hub.MsgStopRequested
	case sentinel.KindHalt:
		return hub.MsgHaltRequested
	case sentinel.KindEscape:
		return hub.MsgEscapeSent
	case sentinel.KindInput:
		return hub.MsgInputSent
	default:
		return hub.MsgCommandQueued
	}
}

func (b *Broker) allowed(command string) bool {
	for _, prefix := range b.allowlist {
		if command == prefix || strings.HasPrefix(command, prefix+" ") {
			return true
		}
	}
	return false
}

// PollCommands returns pending commands for a run, after the caller has
// already verified the capability token via CheckCapability.
func (b *Broker) PollCommands(ctx context.Context, runID string) ([]store.Command, error) {
	return b.store.PendingCommands(ctx, runID)
}

// AckCommand marks a command completed; a repeat ack is treated as success
// by the caller mapping store.ErrAlreadyAcked to a 204.
func (b *Broker) AckCommand(ctx context.Context, runID, commandID, result, errText string) error {
	if err := b.store.AckCommand(ctx, runID, commandID, result, errText); err != nil {
		return err
	}
	b.broadcast(runID, hub.Message{Type: hub.MsgCommandCompleted, Payload: map[string]any{
		"id": commandID, "result": result, "error": errText,
	}})
	return nil
}

// BroadcastArtifact notifies subscribers a new artifact was uploaded for
// runID. Called by the ingest handler, which owns the artifacts store the
// broker has no reference to.
func (b *Broker) BroadcastArtifact(runID string, artifactID, name string) {
	b.broadcast(runID, hub.Message{Type: hub.MsgArtifactUploaded, Payload: map[string]any{
		"id": artifactID, "name": name,
	}})
}

// UpsertRunState applies COALESCE-semantic state checkpoint updates.
func (b *Broker) UpsertRunState(ctx context.Context, st store.RunState) error {
	return b.store.UpsertRunState(ctx, st)
}

// ReportHeartbeat records a runner's host resource snapshot against the
// client that owns runID. A run with no assigned client (not yet claimed)
// is a no-op, not an error — the checkpoint call that carries the
// heartbeat still succeeds.
func (b *Broker) ReportHeartbeat(ctx context.Context, runID string, cpuPercent, memPercent, diskPercent float64) error {
	run, err := b.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.ClientID == "" {
		return nil
	}
	return b.store.TouchClientHeartbeatWithMetrics(ctx, run.ClientID, cpuPercent, memPercent, diskPercent)
}

// RunStateView is the assembled response for GET /api/runs/:id/state.
type RunStateView struct {
	Run          store.Run
	State        store.RunState
	RecentEvents []store.Event
	CanResume    bool
}

// maxResumeEvents is the cap on recent events returned alongside run state.
const maxResumeEvents = 50

// GetRunState assembles a run, its checkpoint (if any), and its last ≤50
// events.
func (b *Broker) GetRunState(ctx context.Context, runID string) (RunStateView, error) {
	run, err := b.store.GetRun(ctx, runID)
	if err != nil {
		return RunStateView{}, err
	}
	state, err := b.store.GetRunState(ctx, runID)
	if err != nil && err != store.ErrNotFound {
		return RunStateView{}, err
	}
	events, err := b.store.LastEvents(ctx, runID, maxResumeEvents)
	if err != nil {
		return RunStateView{}, err
	}
	canResume := run.Status == store.RunDone || run.Status == store.RunFailed
	return RunStateView{Run: run, State: state, RecentEvents: events, CanResume: canResume}, nil
}

// Restart creates a new run inheriting non-overridden fields from origin,
// stamping metadata.restartedFrom.
func (b *Broker) Restart(ctx context.Context, originID string, commandOverride, workingDirOverride *string) (store.Run, error) {
	origin, err := b.store.GetRun(ctx, originID)
	if err != nil {
		return store.Run{}, err
	}

	command := origin.Command
	if commandOverride != nil && *commandOverride != "" {
		command = *commandOverride
	}

	metadata := map[string]any{}
	for k, v := range origin.Metadata {
		metadata[k] = v
	}
	if workingDirOverride != nil && *workingDirOverride != "" {
		metadata["workingDir"] = *workingDirOverride
	}
	metadata["restartedFrom"] = originID

	token, err := newCapabilityToken()
	if err != nil {
		return store.Run{}, err
	}

	return b.store.CreateRun(ctx, store.Run{
		Command:         command,
		CapabilityToken: token,
		WorkerType:      origin.WorkerType,
		Metadata:        metadata,
	})
}
