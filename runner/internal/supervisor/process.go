package supervisor

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// inChildTimeout bounds an allowlisted command run inside a subshell (§5).
const inChildTimeout = 60 * time.Second

// promptProcessTimeout bounds a freshly spawned worker process answering
// one __INPUT__ for a non-interactive worker kind (§5).
const promptProcessTimeout = 5 * time.Minute

// stopGrace is how long the supervisor waits after SIGINT before escalating
// a __STOP__ to SIGKILL (§4.7, §5).
const stopGrace = 2 * time.Second

// buildShellCmd wraps command in the OS-appropriate shell, the same
// Windows/POSIX split as the teacher's hooks.buildShellCmd.
func buildShellCmd(ctx context.Context, dir, command string) *exec.Cmd {
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/C", command)
	} else {
		cmd = exec.CommandContext(ctx, "/bin/sh", "-c", command)
	}
	cmd.Dir = dir
	return cmd
}

// spawnWorker builds and starts the worker child for prompt using the
// Worker Registry's argv shape, wiring stdout/stderr to streamOutput and
// stdin only for interactive kinds.
func (s *Supervisor) spawnWorker(ctx context.Context, prompt string) (*exec.Cmd, io.WriteCloser, error) {
	argv := s.def.ArgvShape(prompt, s.cfg.Model, s.cfg.Autonomous)
	cmd := exec.CommandContext(ctx, s.def.Command, argv...)
	cmd.Dir = s.absoluteWorkingDir()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stderr pipe: %w", err)
	}

	var stdin io.WriteCloser
	if s.def.Kind.Interactive() {
		stdin, err = cmd.StdinPipe()
		if err != nil {
			return nil, nil, fmt.Errorf("stdin pipe: %w", err)
		}
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("start: %w", err)
	}

	var stdinWriter io.Writer
	if stdin != nil {
		stdinWriter = stdin
	}
	go s.streamOutput(ctx, stdout, "stdout", stdinWriter)
	go s.streamOutput(ctx, stderr, "stderr", stdinWriter)

	return cmd, stdin, nil
}

// spawnFreshWorker spawns a one-shot worker process for a non-interactive
// kind's __INPUT__ (§4.7): stdin closed immediately, output treated the
// same as the main child's, torn down after promptProcessTimeout.
func (s *Supervisor) spawnFreshWorker(parent context.Context, text string) {
	ctx, cancel := context.WithTimeout(parent, promptProcessTimeout)
	defer cancel()

	argv := s.def.ArgvShape(text, s.cfg.Model, s.cfg.Autonomous)
	cmd := exec.CommandContext(ctx, s.def.Command, argv...)
	cmd.Dir = s.absoluteWorkingDir()
	cmd.Stdin = nil

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.logger.Error("spawn fresh worker: stdout pipe", zap.Error(err))
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.logger.Error("spawn fresh worker: stderr pipe", zap.Error(err))
		return
	}
	if err := cmd.Start(); err != nil {
		s.logger.Error("spawn fresh worker: start", zap.Error(err))
		return
	}

	s.trackSpawned(cmd)
	defer s.untrackSpawned(cmd)

	done := make(chan struct{})
	go func() { s.streamOutput(ctx, stdout, "stdout", nil); close(done) }()
	go s.streamOutput(ctx, stderr, "stderr", nil)

	<-done
	if err := cmd.Wait(); err != nil && ctx.Err() != nil {
		s.logger.Warn("spawned prompt process timed out, killed", zap.Error(err))
	}
}

func (s *Supervisor) trackSpawned(cmd *exec.Cmd) {
	s.mu.Lock()
	s.spawned[cmd] = struct{}{}
	s.mu.Unlock()
}

func (s *Supervisor) untrackSpawned(cmd *exec.Cmd) {
	s.mu.Lock()
	delete(s.spawned, cmd)
	s.mu.Unlock()
}

// killSpawned hard-kills every tracked prompt sub-process (§4.7, torn down
// on stop/halt).
func (s *Supervisor) killSpawned() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for cmd := range s.spawned {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
	}
}

// sendInterrupt sends SIGINT where supported, falling back to SIGKILL on
// platforms where SIGINT delivery to a subprocess is unreliable (Windows).
func sendInterrupt(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if runtime.GOOS == "windows" {
		return cmd.Process.Kill()
	}
	return cmd.Process.Signal(syscall.SIGINT)
}

func (s *Supervisor) absoluteWorkingDir() string {
	dir, err := s.sandbox.Resolve(s.workingDirLocked())
	if err != nil {
		return s.sandbox.Root()
	}
	return dir
}

func (s *Supervisor) workingDirLocked() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workingDir
}

func randomSuffix(n int) string {
	buf := make([]byte, n/2+1)
	if _, err := rand.Read(buf); err != nil {
		return "00000000"[:n]
	}
	return hex.EncodeToString(buf)[:n]
}
