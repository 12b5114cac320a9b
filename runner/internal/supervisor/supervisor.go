// Package supervisor is the runner's core lifecycle state machine (§4.7):
// it spawns and supervises one worker child per run, detects and answers
// interactive prompts, polls and dispatches commands, heartbeats, and
// checkpoints local and remote state. There is no teacher analogue for a
// per-run-scoped supervisor — the teacher's agent is a long-lived
// multi-job daemon — so this package borrows its *idiom* (one shared
// client, a poll loop and a heartbeat loop as independent goroutines) from
// agent/internal/connection/manager.go and its one-job-at-a-time executor
// shape from agent/internal/executor/executor.go, applied to a single run
// instead of a fleet of jobs. There is no reconnect backoff: a failed poll
// or heartbeat is logged and retried on the loop's next tick.
package supervisor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orcabay/control-plane/runner/internal/client"
	"github.com/orcabay/control-plane/runner/internal/config"
	"github.com/orcabay/control-plane/runner/internal/dedup"
	"github.com/orcabay/control-plane/runner/internal/prompt"
	"github.com/orcabay/control-plane/runner/internal/sandbox"
	"github.com/orcabay/control-plane/runner/internal/state"
	"github.com/orcabay/control-plane/shared/registry"
	"github.com/orcabay/control-plane/shared/types"
	"github.com/orcabay/control-plane/shared/wire"
)

// processedRetention is the de-duplication window for executed commands
// (§5 "Timeouts").
const processedRetention = 30 * time.Minute

// Phase names the supervisor's position in the §4.7 state machine.
type Phase int

const (
	PhaseNotStarted Phase = iota
	PhaseListener
	PhaseRunning
	PhaseStopping
	PhaseHalting
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseListener:
		return "listener"
	case PhaseRunning:
		return "running"
	case PhaseStopping:
		return "stopping"
	case PhaseHalting:
		return "halting"
	case PhaseFinished:
		return "finished"
	default:
		return "not_started"
	}
}

// Supervisor drives one run from start to finish.
type Supervisor struct {
	cfg    *config.Config
	api    *client.Client
	logger *zap.Logger
	def    registry.Definition

	sandbox *sandbox.Sandbox
	dedup   *dedup.Tracker

	runDir  string
	logFile *os.File

	mu         sync.Mutex
	phase      Phase
	cmd        *exec.Cmd
	childStdin io.WriteCloser // non-nil only for interactive worker kinds
	workingDir string         // sandbox-relative
	sequence   int
	ackCache   map[string]ackOutcome
	spawned    map[*exec.Cmd]struct{}
	doneCh     chan struct{} // closed when the main child exits
}

type ackOutcome struct {
	result string
	errMsg string
	at     time.Time
}

// New constructs a Supervisor for one run. The sandbox root and run
// directory are created if missing.
func New(cfg *config.Config, logger *zap.Logger) (*Supervisor, error) {
	def, err := registry.Lookup(registry.Kind(cfg.WorkerType))
	if err != nil {
		return nil, fmt.Errorf("supervisor: %w", err)
	}

	absRoot, err := filepath.Abs(cfg.SandboxRoot)
	if err != nil {
		return nil, fmt.Errorf("supervisor: resolve sandbox root: %w", err)
	}
	sb, err := sandbox.New(absRoot)
	if err != nil {
		return nil, fmt.Errorf("supervisor: %w", err)
	}

	runDir := filepath.Join(cfg.DataDir, "runs", cfg.RunID)
	if err := os.MkdirAll(runDir, 0750); err != nil {
		return nil, fmt.Errorf("supervisor: create run dir: %w", err)
	}
	logFile, err := os.OpenFile(filepath.Join(runDir, "output.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return nil, fmt.Errorf("supervisor: open log file: %w", err)
	}

	api := client.New(client.Config{
		BaseURL:              cfg.GatewayURL,
		HMACSecret:           []byte(cfg.HMACSecret),
		RunID:                cfg.RunID,
		CapabilityToken:      cfg.CapabilityToken,
		ClientToken:          cfg.ClientToken,
		AgentID:              agentID(),
		AllowSelfSignedCerts: cfg.AllowSelfSignedCerts,
	})

	return &Supervisor{
		cfg:        cfg,
		api:        api,
		logger:     logger.Named("supervisor"),
		def:        def,
		sandbox:    sb,
		dedup:      dedup.New(processedRetention),
		runDir:     runDir,
		logFile:    logFile,
		workingDir: cfg.WorkingDir,
		ackCache:   make(map[string]ackOutcome),
		spawned:    make(map[*exec.Cmd]struct{}),
	}, nil
}

// Close releases the local log file handle.
func (s *Supervisor) Close() error {
	return s.logFile.Close()
}

func agentID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%s", host, randomSuffix(8))
}

// Run executes the full §4.7 lifecycle: register, checkpoint, spawn (or
// enter listener mode), then run the poll and heartbeat loops until the
// child exits or ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context, initialPrompt string) error {
	if err := s.api.RegisterClient(ctx, agentIDHost(), "", nil); err != nil {
		s.logger.Warn("client self-registration failed, continuing", zap.Error(err))
	}

	snap := s.snapshot()
	if err := state.Save(s.runDir, snap); err != nil {
		s.logger.Warn("failed to persist local state", zap.Error(err))
	}
	workingDirCopy := s.workingDir
	if err := s.api.UpsertState(ctx, wire.UpsertRunStateRequest{WorkingDir: &workingDirCopy}); err != nil {
		s.logger.Warn("failed to upsert initial run state", zap.Error(err))
	}

	if initialPrompt == "" {
		return s.runListener(ctx)
	}
	return s.runWithChild(ctx, initialPrompt)
}

func (s *Supervisor) snapshot() state.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return state.Snapshot{
		RunID:           s.cfg.RunID,
		CapabilityToken: s.cfg.CapabilityToken,
		AgentID:         s.api.AgentID(),
		WorkerType:      s.cfg.WorkerType,
		WorkingDir:      s.workingDir,
		Autonomous:      s.cfg.Autonomous,
		Model:           s.cfg.Model,
		LastSequence:    s.sequence,
		Listener:        s.phase == PhaseListener,
	}
}

// runListener enters listener mode: no child process, just polling and
// heartbeat until a __STOP__/__HALT__ arrives or ctx is cancelled.
func (s *Supervisor) runListener(ctx context.Context) error {
	s.setPhase(PhaseListener)
	s.emitMarker(ctx, types.MarkerStarted, nil)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.pollLoop(ctx, cancel) }()
	go func() { defer wg.Done(); s.heartbeatLoop(ctx) }()
	wg.Wait()

	s.setPhase(PhaseFinished)
	s.emitMarker(context.Background(), types.MarkerFinished, nil)
	return nil
}

// runWithChild spawns the worker child and supervises it to completion.
func (s *Supervisor) runWithChild(ctx context.Context, initialPrompt string) error {
	cmd, stdin, err := s.spawnWorker(ctx, initialPrompt)
	if err != nil {
		return fmt.Errorf("supervisor: spawn worker: %w", err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.childStdin = stdin
	s.doneCh = make(chan struct{})
	s.phase = PhaseRunning
	s.mu.Unlock()

	s.emitMarker(ctx, types.MarkerStarted, nil)

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.pollLoop(loopCtx, cancel) }()
	go func() { defer wg.Done(); s.heartbeatLoop(loopCtx) }()

	waitErr := cmd.Wait()
	close(s.doneCh)
	cancel()
	wg.Wait()

	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	s.setPhase(PhaseFinished)
	s.emitMarker(context.Background(), types.MarkerFinished, &exitCode)
	return nil
}

func (s *Supervisor) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

func (s *Supervisor) currentPhase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// emitMarker appends a marker event whose payload types.MarkerPayload
// matches what gatewayd/internal/broker/marker.go parses bit for bit.
func (s *Supervisor) emitMarker(ctx context.Context, event string, exitCode *int) {
	payload := types.MarkerPayload{Event: event, ExitCode: exitCode}
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to marshal marker payload", zap.Error(err))
		return
	}
	s.appendEvent(ctx, "marker", string(data))
}

func (s *Supervisor) appendEvent(ctx context.Context, typ, data string) {
	s.mu.Lock()
	s.sequence++
	seq := s.sequence
	s.mu.Unlock()

	// A failed send is logged and the run continues; no gateway status
	// code makes the supervisor exit.
	if err := s.api.AppendEvent(ctx, typ, data, seq); err != nil {
		s.logger.Error("failed to send event", zap.String("type", typ), zap.Error(err))
	}
}

// streamOutput drains r line by line, writing each chunk to the local log,
// checking it for an interactive prompt, and forwarding it as an event of
// typ ("stdout" or "stderr"). Redaction is intentionally not duplicated
// here: gatewayd/internal/broker.AppendEvent already redacts every ingested
// event server-side before storage or fan-out, and keeping the pattern
// list in one place avoids the two sides drifting.
func (s *Supervisor) streamOutput(ctx context.Context, r io.Reader, typ string, stdin io.Writer) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		fmt.Fprintln(s.logFile, line)

		if resp, ok := prompt.Detect(line); ok && stdin != nil {
			s.appendEvent(ctx, "prompt_waiting", line)
			if s.cfg.Autonomous {
				time.Sleep(prompt.SettleDelay)
				io.WriteString(stdin, resp)
				s.appendEvent(ctx, "prompt_resolved", resp)
			}
		}

		s.appendEvent(ctx, typ, line)
	}
}

func agentIDHost() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}
