package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/orcabay/control-plane/runner/internal/sandbox"
	"github.com/orcabay/control-plane/shared/registry"
	"github.com/orcabay/control-plane/shared/sentinel"
)

// stdoutCap bounds a single allowlisted command's captured output (§4.7).
const stdoutCap = 10 * 1024 * 1024

// pollLoop fetches pending commands every PollInterval until ctx is
// cancelled. cancel is called once the run reaches PhaseFinished so the
// sibling heartbeat loop also winds down.
func (s *Supervisor) pollLoop(ctx context.Context, cancel context.CancelFunc) {
	interval := time.Duration(s.cfg.PollInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce(ctx)
			if s.currentPhase() == PhaseFinished {
				cancel()
				return
			}
		}
	}
}

func (s *Supervisor) pollOnce(ctx context.Context) {
	commands, err := s.api.PollCommands(ctx)
	if err != nil {
		s.logger.Warn("poll commands failed", zap.Error(err))
		return
	}

	for _, cmd := range commands {
		if s.dedup.Seen(cmd.ID) {
			// Already executed locally; the ack may not have landed —
			// retry it from whatever result we cached, best effort.
			s.mu.Lock()
			cached, ok := s.ackCache[cmd.ID]
			s.mu.Unlock()
			if ok {
				s.ack(ctx, cmd.ID, cached.result, cached.errMsg)
			}
			continue
		}

		result, errMsg := s.dispatch(ctx, cmd.Command)
		s.mu.Lock()
		s.ackCache[cmd.ID] = ackOutcome{result: result, errMsg: errMsg, at: time.Now()}
		s.mu.Unlock()
		s.ack(ctx, cmd.ID, result, errMsg)
	}

	s.sweepAckCache()
}

func (s *Supervisor) ack(ctx context.Context, commandID, result, errMsg string) {
	if err := s.api.AckCommand(ctx, commandID, result, errMsg); err != nil {
		s.logger.Warn("ack command failed, will retry next poll", zap.String("command_id", commandID), zap.Error(err))
	}
}

func (s *Supervisor) sweepAckCache() {
	s.dedup.Sweep()
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-processedRetention)
	for id, rec := range s.ackCache {
		if rec.at.Before(cutoff) {
			delete(s.ackCache, id)
		}
	}
}

// dispatch classifies raw per §4.7 and executes it, returning the ack
// result or error text.
func (s *Supervisor) dispatch(ctx context.Context, raw string) (result, errMsg string) {
	kind, payload := sentinel.Parse(raw)
	switch kind {
	case sentinel.KindStop:
		return s.handleStop(), ""
	case sentinel.KindHalt:
		return s.handleHalt(), ""
	case sentinel.KindEscape:
		return s.handleEscape()
	case sentinel.KindInput:
		return s.handleInput(ctx, payload)
	default:
		if !s.def.Kind.ExecutesCommands() {
			return registry.FixedAckMessage, ""
		}
		return s.handleAllowlisted(ctx, raw)
	}
}

func (s *Supervisor) handleStop() string {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		// Listener mode: no child to interrupt, so stopping just means
		// finishing the run — pollLoop notices PhaseFinished and cancels.
		s.setPhase(PhaseFinished)
		return "Stop initiated"
	}
	s.setPhase(PhaseStopping)
	if err := sendInterrupt(cmd); err != nil {
		s.logger.Warn("SIGINT failed, escalating to SIGKILL", zap.Error(err))
		cmd.Process.Kill()
		s.killSpawned()
		return "Stop initiated"
	}
	go func() {
		select {
		case <-s.doneCh:
		case <-time.After(stopGrace):
			if cmd.Process != nil {
				cmd.Process.Kill()
			}
		}
		s.killSpawned()
	}()
	return "Stop initiated"
}

func (s *Supervisor) handleHalt() string {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		s.setPhase(PhaseFinished)
		s.killSpawned()
		return "Hard halt initiated"
	}
	s.setPhase(PhaseHalting)
	cmd.Process.Kill()
	s.killSpawned()
	return "Hard halt initiated"
}

func (s *Supervisor) handleEscape() (string, string) {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return "", "no running child to escape"
	}
	if err := sendInterrupt(cmd); err != nil {
		return "", fmt.Sprintf("escape failed: %v", err)
	}
	return "Escape sent", ""
}

func (s *Supervisor) handleInput(ctx context.Context, text string) (string, string) {
	if s.def.Kind.Interactive() {
		s.mu.Lock()
		stdin := s.childStdin
		s.mu.Unlock()
		if stdin == nil {
			return "", "no running child to receive input"
		}
		if _, err := stdin.Write([]byte(text + "\n")); err != nil {
			return "", fmt.Sprintf("write input failed: %v", err)
		}
		return "input sent", ""
	}
	go s.spawnFreshWorker(ctx, text)
	return "spawned worker for input", ""
}

// handleAllowlisted executes a server-vetted command (§4.7). The gateway
// already rejected anything not on its allowlist before enqueuing it, so
// by the time it reaches here it is guaranteed safe to run — this method
// only special-cases sandbox-relevant verbs.
func (s *Supervisor) handleAllowlisted(ctx context.Context, raw string) (string, string) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return "", "empty command"
	}

	switch fields[0] {
	case "cd":
		return s.handleCd(fields)
	case "pwd":
		return s.sandboxRelative(s.workingDirLocked()), ""
	case "ls", "dir", "ll":
		return s.execWithPrefix(ctx, raw)
	case "git":
		if len(fields) >= 2 && fields[1] == "diff" {
			return s.handleGitDiff(ctx, raw)
		}
	}

	out, exitCode, err := s.runInSandbox(ctx, raw)
	if err != nil && exitCode == 0 {
		return "", err.Error()
	}
	if exitCode != 0 {
		return out, fmt.Sprintf("exit code %d", exitCode)
	}
	return out, ""
}

func (s *Supervisor) handleCd(fields []string) (string, string) {
	if len(fields) < 2 {
		return "", "cd: missing path argument"
	}
	resolved, err := s.sandbox.Resolve(filepath.Join(s.absoluteWorkingDir(), fields[1]))
	if errNotAbs := checkSandboxErr(err); errNotAbs != "" {
		return "", errNotAbs
	}
	rel := s.sandboxRelative(resolved)
	s.mu.Lock()
	s.workingDir = rel
	s.mu.Unlock()
	return rel, ""
}

func checkSandboxErr(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, sandbox.ErrEscapesRoot):
		return "cd: path escapes sandbox root"
	case errors.Is(err, sandbox.ErrNotDirectory):
		return "cd: not a directory"
	default:
		return err.Error()
	}
}

func (s *Supervisor) sandboxRelative(absPath string) string {
	rel, err := filepath.Rel(s.sandbox.Root(), absPath)
	if err != nil {
		return absPath
	}
	return rel
}

// execWithPrefix runs raw and prefixes the reply with the current
// sandbox-relative directory (ls/dir/ll, §4.7).
func (s *Supervisor) execWithPrefix(ctx context.Context, raw string) (string, string) {
	out, exitCode, err := s.runInSandbox(ctx, raw)
	prefix := fmt.Sprintf("[%s]\n", s.workingDirLocked())
	if err != nil && exitCode == 0 {
		return "", err.Error()
	}
	if exitCode != 0 {
		return prefix + out, fmt.Sprintf("exit code %d", exitCode)
	}
	return prefix + out, ""
}

// handleGitDiff runs git diff and additionally uploads the output as the
// artifact latest.diff (§4.7).
func (s *Supervisor) handleGitDiff(ctx context.Context, raw string) (string, string) {
	out, exitCode, err := s.runInSandbox(ctx, raw)
	if err != nil && exitCode == 0 {
		return "", err.Error()
	}
	if _, uploadErr := s.api.UploadArtifact(ctx, "latest.diff", strings.NewReader(out)); uploadErr != nil {
		s.logger.Warn("failed to upload git diff artifact", zap.Error(uploadErr))
	}
	if exitCode != 0 {
		return out, fmt.Sprintf("exit code %d", exitCode)
	}
	return out, ""
}

// runInSandbox runs raw in a subshell rooted at the current working
// directory, capped at inChildTimeout and stdoutCap bytes.
func (s *Supervisor) runInSandbox(ctx context.Context, raw string) (output string, exitCode int, err error) {
	ctx, cancel := context.WithTimeout(ctx, inChildTimeout)
	defer cancel()

	cmd := buildShellCmd(ctx, s.absoluteWorkingDir(), raw)
	var buf limitedBuffer
	buf.limit = stdoutCap
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	runErr := cmd.Run()
	if runErr == nil {
		return buf.String(), 0, nil
	}
	if ctx.Err() != nil {
		return buf.String(), -1, fmt.Errorf("command timed out after %s", inChildTimeout)
	}
	if exitErr, ok := asExitError(runErr); ok {
		return buf.String(), exitErr, nil
	}
	return buf.String(), -1, runErr
}

type exitCoder interface{ ExitCode() int }

func asExitError(err error) (int, bool) {
	if ec, ok := err.(exitCoder); ok {
		return ec.ExitCode(), true
	}
	return 0, false
}

// limitedBuffer caps how much output a subshell command can accumulate,
// silently dropping bytes past the limit rather than growing unbounded.
type limitedBuffer struct {
	bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	remaining := b.limit - b.Buffer.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) > remaining {
		p = p[:remaining]
	}
	return b.Buffer.Write(p)
}
