// Package execsrc captures requests reported by a supervised helper process
// that prints one JSON object per line on stdout, such as a DevTools bridge.
package execsrc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/modoterra/reqlog/pkg/core"
)

// RestartPolicy controls what happens when the helper exits.
type RestartPolicy string

const (
	RestartAlways    RestartPolicy = "always"
	RestartOnFailure RestartPolicy = "on-failure"
	RestartNever     RestartPolicy = "never"
)

const stopTimeout = 10 * time.Second

// Source runs Command and reads events from its stdout.
type Source struct {
	name    string
	command string
	dir     string
	env     map[string]string
	restart RestartPolicy
	logger  *slog.Logger

	// backoff is swapped in tests.
	backoff func(failures int) time.Duration

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	cmd      *exec.Cmd
	exited   chan struct{}
	pid      int
	failures int
	onEvent  func(core.RawEvent)
	stopped  chan struct{}
}

// New creates an exec source. An empty restart policy means on-failure.
func New(name, command, dir string, env map[string]string, restart RestartPolicy, logger *slog.Logger) *Source {
	if restart == "" {
		restart = RestartOnFailure
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		name:    name,
		command: command,
		dir:     dir,
		env:     env,
		restart: restart,
		logger:  logger,
		backoff: backoff,
	}
}

func (s *Source) Name() string { return s.name }

// PID returns the helper's process id, or 0 when it is not running.
func (s *Source) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

// Register spawns the helper. A command that cannot be started makes capture
// unavailable.
func (s *Source) Register(ctx context.Context, onEvent func(core.RawEvent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return nil
	}

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.ctx = sctx
	s.cancel = cancel
	s.onEvent = onEvent
	s.failures = 0
	s.stopped = make(chan struct{})

	if err := s.spawnLocked(); err != nil {
		cancel()
		close(s.stopped)
		s.cancel = nil
		s.onEvent = nil
		return fmt.Errorf("%w: %v", core.ErrCaptureUnavailable, err)
	}
	return nil
}

// Deregister terminates the helper's process group and disables restarts.
func (s *Source) Deregister() error {
	s.mu.Lock()
	cancel := s.cancel
	cmd := s.cmd
	exited := s.exited
	stopped := s.stopped
	s.cancel = nil
	s.onEvent = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}

	if cmd != nil && cmd.Process != nil {
		// SIGTERM the process group, then SIGKILL if it lingers.
		syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
		select {
		case <-exited:
		case <-time.After(stopTimeout):
			syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			<-exited
		}
	}
	cancel()
	<-stopped
	return nil
}

// Done is closed when the current registration ends, either through
// Deregister or because the helper exited and will not be restarted.
func (s *Source) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Source) spawnLocked() error {
	parts := strings.Fields(s.command)
	if len(parts) == 0 {
		return fmt.Errorf("empty command")
	}

	cmd := exec.CommandContext(s.ctx, parts[0], parts[1:]...)
	cmd.Dir = s.dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = os.Environ()
	for k, v := range s.env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %q: %w", s.command, err)
	}

	exited := make(chan struct{})
	s.cmd = cmd
	s.exited = exited
	s.pid = cmd.Process.Pid
	s.logger.Info("capture helper started", "source", s.name, "pid", s.pid, "command", s.command)

	var streams sync.WaitGroup
	streams.Add(2)
	go func() {
		defer streams.Done()
		scanLines(stdout, s.handleLine)
	}()
	go func() {
		defer streams.Done()
		scanLines(stderr, func(line string) {
			s.logger.Debug("capture helper stderr", "source", s.name, "line", line)
		})
	}()

	go s.waitAndRestart(cmd, exited, &streams)
	return nil
}

func (s *Source) handleLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	raw, err := core.DecodeRawEvent([]byte(line))
	if err != nil {
		s.logger.Warn("skipping malformed line", "source", s.name, "err", err)
		return
	}
	s.mu.Lock()
	fn := s.onEvent
	s.mu.Unlock()
	if fn != nil {
		fn(raw)
	}
}

func (s *Source) waitAndRestart(cmd *exec.Cmd, exited chan struct{}, streams *sync.WaitGroup) {
	// Pipes must be drained before Wait closes them.
	streams.Wait()
	err := cmd.Wait()
	close(exited)

	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	s.mu.Lock()
	s.pid = 0
	s.cmd = nil
	ctx := s.ctx
	stopped := s.stopped
	if ctx.Err() != nil || s.cancel == nil {
		s.mu.Unlock()
		close(stopped)
		return
	}
	s.failures++
	failures := s.failures
	s.mu.Unlock()

	s.logger.Info("capture helper exited", "source", s.name, "exit_code", exitCode, "err", err)

	if !shouldRestart(s.restart, exitCode) {
		s.release()
		close(stopped)
		return
	}

	delay := s.backoff(failures)
	s.logger.Info("restarting capture helper", "source", s.name, "delay", delay, "attempt", failures)

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		close(stopped)
		return
	}

	s.mu.Lock()
	if ctx.Err() != nil || s.cancel == nil {
		s.mu.Unlock()
		close(stopped)
		return
	}
	err = s.spawnLocked()
	s.mu.Unlock()
	if err != nil {
		s.logger.Error("restart failed", "source", s.name, "err", err)
		s.release()
		close(stopped)
	}
}

// release drops the registration after the helper gave up.
func (s *Source) release() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.onEvent = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func shouldRestart(policy RestartPolicy, exitCode int) bool {
	switch policy {
	case RestartAlways:
		return true
	case RestartOnFailure:
		return exitCode != 0
	default:
		return false
	}
}

const maxBackoff = 30 * time.Second

// backoff returns exponential backoff delay: 1s, 2s, 4s, 8s, 16s, 30s max.
func backoff(failures int) time.Duration {
	if failures < 1 {
		return time.Second
	}
	if failures > 5 {
		return maxBackoff
	}
	return min(time.Duration(1<<uint(failures-1))*time.Second, maxBackoff)
}

// scanLines reads lines from r and calls fn for each.
func scanLines(r io.Reader, fn func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		fn(scanner.Text())
	}
}
