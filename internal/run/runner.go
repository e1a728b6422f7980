// Package run executes one-shot worker processes and streams their
// classified output to subscribers while they run.
package run

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"media-orchestrator/internal/classify"
	"media-orchestrator/internal/domain"
	"media-orchestrator/internal/proctree"
)

// Detection reports can be a single very long JSON line.
const maxLineBytes = 1024 * 1024

// killWaitDelay bounds how long Wait blocks on stray pipe holders after
// a tree kill.
const killWaitDelay = 5 * time.Second

// Spec describes one ephemeral worker invocation.
type Spec struct {
	Path string
	Args []string
	Dir  string
	Env  map[string]string
}

// Handler receives classified output events as lines arrive. It is
// called from two concurrent stream readers and must be safe for
// concurrent use.
type Handler func(classify.Event)

// LaunchError reports a worker that could not be spawned at all.
type LaunchError struct {
	Path string
	Err  error
}

// Error formats the launch failure for logs and UI.
func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch worker %s: %v", e.Path, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *LaunchError) Unwrap() error {
	return e.Err
}

// Runner spawns ephemeral jobs. Concurrent Run calls share no mutable
// state; each call owns its process handle and its pair of readers.
type Runner struct {
	logger *slog.Logger
}

// NewRunner creates a runner that logs spawn and exit transitions.
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger}
}

// Run spawns the worker, streams classified stdout/stderr events to
// emit until both streams close, and returns the terminal outcome.
// Cancelling ctx kills the entire process tree and yields Cancelled.
func (r *Runner) Run(ctx context.Context, spec Spec, emit Handler) (domain.Outcome, error) {
	if strings.TrimSpace(spec.Path) == "" {
		return domain.Outcome{}, &LaunchError{Path: spec.Path, Err: errors.New("executable path is empty")}
	}
	if emit == nil {
		emit = func(classify.Event) {}
	}

	cmd := exec.CommandContext(ctx, spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = buildEnv(spec.Env)
	cmd.WaitDelay = killWaitDelay
	cmd.Cancel = func() error {
		return proctree.Kill(cmd.Process.Pid)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return domain.Outcome{}, &LaunchError{Path: spec.Path, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return domain.Outcome{}, &LaunchError{Path: spec.Path, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return domain.Outcome{}, &LaunchError{Path: spec.Path, Err: err}
	}
	r.logger.Debug("worker started", "path", spec.Path, "pid", cmd.Process.Pid, "args", spec.Args)

	var readers errgroup.Group
	readers.Go(func() error {
		return ReadLines(classify.StreamStdout, stdout, emit)
	})
	readers.Go(func() error {
		return ReadLines(classify.StreamStderr, stderr, emit)
	})

	readErr := readers.Wait()
	waitErr := cmd.Wait()

	outcome := mapExit(ctx, waitErr)
	r.logger.Debug("worker exited", "path", spec.Path, "outcome", outcome.String())

	if readErr != nil && outcome.Kind == domain.OutcomeCompleted {
		return domain.Failed(0, fmt.Sprintf("read worker output: %v", readErr)), nil
	}
	return outcome, nil
}

// ReadLines scans one stream line by line, classifies each line, and
// forwards every resulting event. Within one stream, events preserve
// write order; no ordering holds across streams.
func ReadLines(stream classify.Stream, r io.Reader, emit Handler) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		for _, event := range classify.Classify(stream, scanner.Text()) {
			emit(event)
		}
	}

	err := scanner.Err()
	// The pipe closing underneath us on kill is the expected shutdown path.
	if err == nil || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}

// mapExit classifies process termination into a terminal outcome.
// Kill-initiated termination is Cancelled regardless of exit code.
func mapExit(ctx context.Context, waitErr error) domain.Outcome {
	if ctx.Err() != nil {
		return domain.Cancelled()
	}
	if waitErr == nil {
		return domain.Completed()
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		code := exitErr.ExitCode()
		return domain.Failed(code, fmt.Sprintf("worker exited with status %d", code))
	}
	return domain.Failed(-1, waitErr.Error())
}

// buildEnv merges the parent environment, the unbuffered-output hint,
// and per-spec overrides. Without unbuffered output the worker batches
// progress lines and the UI appears frozen.
func buildEnv(overrides map[string]string) []string {
	env := append([]string{}, os.Environ()...)
	env = append(env, "PYTHONUNBUFFERED=1")
	for k, v := range overrides {
		env = append(env, k+"="+v)
	}
	return env
}
