// Package supervisor runs a hot-patched application as a child process and
// routes its crashes through the crash guard before restarting it.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/crashguard/internal/guard"
	"github.com/miradorstack/crashguard/internal/models"
	"github.com/miradorstack/crashguard/internal/patchstate"
)

const (
	// StateFileEnv tells the child where the patch loader keeps its state.
	StateFileEnv = "CRASHGUARD_STATE_FILE"

	DefaultRestartDelay = time.Second
	DefaultMaxRestarts  = 5
	DefaultStderrTail   = 64 * 1024
)

// ErrCrashLoop is returned by Run once the child crashed more often in a row than allowed.
var ErrCrashLoop = errors.New("child keeps crashing")

// StatusReporter is told whether patching is still enabled after every crash.
type StatusReporter interface {
	SetPatchingEnabled(enabled bool)
}

// Options configures a Supervisor.
type Options struct {
	Logger  *slog.Logger
	Command []string
	Env     []string
	State   *patchstate.FileState
	Handler guard.Handler
	Status  StatusReporter

	RestartDelay time.Duration
	// MaxRestarts bounds consecutive crashes; negative means unbounded.
	MaxRestarts int
	// StableAfter resets the consecutive crash count for runs lasting at least this long.
	StableAfter time.Duration
	StderrTail  int
	// PIDFile receives the child's process ID while it runs.
	PIDFile string

	Stdout io.Writer
	Stderr io.Writer
}

// Supervisor restarts a child process and reports its crashes.
type Supervisor struct {
	logger       *slog.Logger
	command      []string
	env          []string
	state        *patchstate.FileState
	handler      guard.Handler
	status       StatusReporter
	restartDelay time.Duration
	maxRestarts  int
	stableAfter  time.Duration
	stderrTail   int
	pidFile      string
	stdout       io.Writer
	stderr       io.Writer
	now          func() time.Time
}

// New validates opts and builds a Supervisor.
func New(opts Options) (*Supervisor, error) {
	if len(opts.Command) == 0 || opts.Command[0] == "" {
		return nil, errors.New("supervisor: command is required")
	}
	if opts.State == nil {
		return nil, errors.New("supervisor: patch state is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	handler := opts.Handler
	if handler == nil {
		handler = guard.Discard
	}
	delay := opts.RestartDelay
	if delay < 0 {
		delay = DefaultRestartDelay
	}
	return &Supervisor{
		logger:       logger,
		command:      append([]string(nil), opts.Command...),
		env:          append([]string(nil), opts.Env...),
		state:        opts.State,
		handler:      handler,
		status:       opts.Status,
		restartDelay: delay,
		maxRestarts:  opts.MaxRestarts,
		stableAfter:  opts.StableAfter,
		stderrTail:   opts.StderrTail,
		pidFile:      opts.PIDFile,
		stdout:       opts.Stdout,
		stderr:       opts.Stderr,
		now:          time.Now,
	}, nil
}

type runResult struct {
	crashed bool
	elapsed time.Duration
	event   models.CrashEvent
}

// Run starts the child and keeps restarting it after crashes until it exits
// cleanly, ctx is cancelled or the crash budget is spent.
func (s *Supervisor) Run(ctx context.Context) error {
	s.reportStatus(ctx)

	consecutive := 0
	for attempt := 1; ; attempt++ {
		res, err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		if !res.crashed {
			s.logger.Info("child exited cleanly", slog.Int("attempt", attempt), slog.Duration("uptime", res.elapsed))
			return nil
		}

		if s.stableAfter > 0 && res.elapsed >= s.stableAfter {
			consecutive = 0
		}
		consecutive++

		s.logger.Warn("child crashed",
			slog.Int("attempt", attempt),
			slog.Int("consecutive", consecutive),
			slog.Duration("uptime", res.elapsed),
			slog.String("event_id", res.event.ID),
			slog.String("exception", res.event.Exception.String()))
		s.dispatch(ctx, res.event)
		s.reportStatus(ctx)

		if s.maxRestarts >= 0 && consecutive > s.maxRestarts {
			return fmt.Errorf("%w: %d consecutive crashes", ErrCrashLoop, consecutive)
		}

		timer := time.NewTimer(s.restartDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context) (runResult, error) {
	cmd := exec.CommandContext(ctx, s.command[0], s.command[1:]...)
	cmd.Env = append(append(os.Environ(), s.env...), StateFileEnv+"="+s.state.Path())
	cmd.Stdout = s.stdout
	tail := newTailBuffer(s.stderrTail)
	if s.stderr != nil {
		cmd.Stderr = io.MultiWriter(s.stderr, tail)
	} else {
		cmd.Stderr = tail
	}
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = 5 * time.Second

	started := s.now()
	if err := cmd.Start(); err != nil {
		return runResult{}, fmt.Errorf("start %s: %w", s.command[0], err)
	}
	s.state.MarkStarted(started)
	s.writePID(cmd.Process.Pid)
	defer s.removePID()

	err := cmd.Wait()
	res := runResult{elapsed: s.now().Sub(started)}
	if err == nil {
		return res, nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return res, fmt.Errorf("wait for %s: %w", s.command[0], err)
	}
	res.crashed = true
	res.event = crashEvent(exitErr, tail.Bytes(), s.now())
	return res, nil
}

// crashEvent describes a crashing exit, preferring the report the child printed.
func crashEvent(exitErr *exec.ExitError, stderr []byte, at time.Time) models.CrashEvent {
	event := models.CrashEvent{
		ID:         uuid.NewString(),
		Thread:     "main",
		Exception:  models.Exception{Type: "ExitError", Message: exitErr.Error()},
		OccurredAt: at,
		Value:      exitErr,
	}
	if crash, ok := ParseCrashOutput(stderr); ok {
		event.Exception = crash.Exception
		if crash.Thread != "" {
			event.Thread = crash.Thread
		}
	}
	return event
}

func (s *Supervisor) dispatch(ctx context.Context, event models.CrashEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("crash handler panicked", slog.String("event_id", event.ID), slog.Any("panic", r))
		}
	}()
	s.handler.HandleCrash(ctx, event)
}

func (s *Supervisor) reportStatus(ctx context.Context) {
	if s.status == nil {
		return
	}
	disabled, err := s.state.Disabled(ctx)
	if err != nil {
		s.logger.Warn("read patch state failed", slog.Any("error", err))
		return
	}
	s.status.SetPatchingEnabled(!disabled)
}

func (s *Supervisor) writePID(pid int) {
	if s.pidFile == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.pidFile), 0o755); err != nil {
		s.logger.Warn("create pid directory failed", slog.Any("error", err))
		return
	}
	if err := os.WriteFile(s.pidFile, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		s.logger.Warn("write pid file failed", slog.String("path", s.pidFile), slog.Any("error", err))
	}
}

func (s *Supervisor) removePID() {
	if s.pidFile == "" {
		return
	}
	if err := os.Remove(s.pidFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("remove pid file failed", slog.String("path", s.pidFile), slog.Any("error", err))
	}
}
