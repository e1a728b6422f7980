// Package channel owns the single long-lived worker process kept warm
// across requests. Commands go in as newline-delimited JSON on stdin;
// completion is signalled by a structured marker on the output stream.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"media-orchestrator/internal/classify"
	"media-orchestrator/internal/domain"
	"media-orchestrator/internal/proctree"
	"media-orchestrator/internal/run"
)

// ErrNotRunning is returned by Send when the worker is not running.
var ErrNotRunning = errors.New("worker channel is not running")

// ErrCommandPending is returned by Send when another command is still
// awaiting its completion marker. The worker processes commands strictly
// serially; there is no request pipelining.
var ErrCommandPending = errors.New("another command is already pending on this channel")

// ErrNotRestartable is returned by Start on a stopped or crashed
// channel. Rebinding to a new configuration means constructing a new
// channel, not restarting this one.
var ErrNotRestartable = errors.New("worker channel cannot be restarted; construct a new one")

const defaultStopGrace = 5 * time.Second

// defaultSupported lists the actions the warm worker's server loop
// handles.
var defaultSupported = []domain.Action{
	domain.ActionPing,
	domain.ActionScan,
	domain.ActionVADScan,
	domain.ActionTranscribe,
	domain.ActionSemanticSearch,
	domain.ActionAnalyze,
	domain.ActionDetectMeetings,
}

// Config describes the persistent worker launch.
type Config struct {
	Path      string
	Args      []string
	Dir       string
	Env       map[string]string
	StopGrace time.Duration
	Supported []domain.Action
	Emit      run.Handler
	Logger    *slog.Logger
}

// pending correlates the single outstanding command to its waiter.
type pending struct {
	action domain.Action
	done   chan domain.Outcome
}

// Channel is the request/response control channel over one persistent
// worker process.
type Channel struct {
	cfg       Config
	logger    *slog.Logger
	supported map[domain.Action]bool

	mu      sync.Mutex
	state   domain.WorkerState
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	pending *pending
	exited  chan struct{}
}

// New creates an unstarted channel for the given worker configuration.
func New(cfg Config) *Channel {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	supported := cfg.Supported
	if supported == nil {
		supported = defaultSupported
	}
	set := make(map[domain.Action]bool, len(supported))
	for _, a := range supported {
		set[a] = true
	}

	return &Channel{
		cfg:       cfg,
		logger:    logger,
		supported: set,
		state:     domain.WorkerNotStarted,
		exited:    make(chan struct{}),
	}
}

// Start launches the worker process once and begins continuous
// background reading of both output streams. No-op when already
// running; concurrent callers race safely to a single launch.
func (c *Channel) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case domain.WorkerRunning, domain.WorkerStarting:
		return nil
	case domain.WorkerNotStarted:
	default:
		return ErrNotRestartable
	}

	if strings.TrimSpace(c.cfg.Path) == "" {
		return &run.LaunchError{Path: c.cfg.Path, Err: errors.New("executable path is empty")}
	}
	c.state = domain.WorkerStarting

	cmd := exec.Command(c.cfg.Path, c.cfg.Args...)
	cmd.Dir = c.cfg.Dir
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")
	for k, v := range c.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		c.state = domain.WorkerCrashed
		return &run.LaunchError{Path: c.cfg.Path, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		c.state = domain.WorkerCrashed
		return &run.LaunchError{Path: c.cfg.Path, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		c.state = domain.WorkerCrashed
		return &run.LaunchError{Path: c.cfg.Path, Err: err}
	}

	if err := cmd.Start(); err != nil {
		c.state = domain.WorkerCrashed
		return &run.LaunchError{Path: c.cfg.Path, Err: err}
	}

	c.cmd = cmd
	c.stdin = stdin
	c.state = domain.WorkerRunning
	c.logger.Info("persistent worker started", "path", c.cfg.Path, "pid", cmd.Process.Pid)

	readers := &errgroup.Group{}
	readers.Go(func() error {
		return run.ReadLines(classify.StreamStdout, stdout, c.handleEvent)
	})
	readers.Go(func() error {
		return run.ReadLines(classify.StreamStderr, stderr, c.handleEvent)
	})
	go c.supervise(readers)

	return nil
}

// Send serializes the command to one JSON line, writes it to the
// worker, and blocks until the matching completion marker arrives, the
// worker dies, or ctx is cancelled. There is deliberately no timeout: a
// wedged worker suspends the caller until externally cancelled.
func (c *Channel) Send(ctx context.Context, command domain.Command) (domain.Outcome, error) {
	c.mu.Lock()
	if c.state != domain.WorkerRunning {
		c.mu.Unlock()
		return domain.Outcome{}, ErrNotRunning
	}
	if c.pending != nil {
		c.mu.Unlock()
		return domain.Outcome{}, ErrCommandPending
	}

	p := &pending{action: command.Action, done: make(chan domain.Outcome, 1)}
	c.pending = p
	stdin := c.stdin
	c.mu.Unlock()

	payload, err := json.Marshal(command)
	if err != nil {
		c.detach(p)
		return domain.Outcome{}, fmt.Errorf("encode command: %w", err)
	}

	if _, err := stdin.Write(append(payload, '\n')); err != nil {
		c.detach(p)
		return domain.Outcome{}, fmt.Errorf("write command to worker: %w", err)
	}
	c.logger.Debug("command sent", "action", command.Action)

	select {
	case outcome := <-p.done:
		return outcome, nil
	case <-ctx.Done():
		// The in-flight command is not retracted; the worker will still
		// finish it and its eventual marker is ignored.
		c.detach(p)
		select {
		case outcome := <-p.done:
			return outcome, nil
		default:
		}
		c.logger.Info("pending command cancelled", "action", command.Action)
		return domain.Cancelled(), nil
	}
}

// Stop performs orderly shutdown: ask the worker to exit, wait up to
// the grace period, then force-kill the tree. Idempotent.
func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case domain.WorkerNotStarted, domain.WorkerStopped, domain.WorkerCrashed:
		c.mu.Unlock()
		return nil
	case domain.WorkerStopping:
		exited := c.exited
		c.mu.Unlock()
		select {
		case <-exited:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.state = domain.WorkerStopping
	stdin := c.stdin
	exited := c.exited
	pid := c.cmd.Process.Pid
	c.mu.Unlock()

	c.logger.Info("stopping persistent worker", "pid", pid)
	if payload, err := json.Marshal(domain.NewCommand(domain.ActionExit)); err == nil {
		_, _ = stdin.Write(append(payload, '\n'))
	}
	_ = stdin.Close()

	grace := c.cfg.StopGrace
	if grace <= 0 {
		grace = defaultStopGrace
	}

	select {
	case <-exited:
		return nil
	case <-ctx.Done():
		_ = proctree.Kill(pid)
		return ctx.Err()
	case <-time.After(grace):
	}

	c.logger.Warn("worker ignored exit command, killing tree", "pid", pid)
	_ = proctree.Kill(pid)

	select {
	case <-exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether the worker process is live and accepting
// commands.
func (c *Channel) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == domain.WorkerRunning
}

// State returns the current lifecycle state.
func (c *Channel) State() domain.WorkerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Supports reports whether the warm worker handles the action.
func (c *Channel) Supports(action domain.Action) bool {
	return c.supported[action]
}

// handleEvent publishes every classified event and resolves the single
// outstanding pending on an exactly-matching completion marker.
func (c *Channel) handleEvent(e classify.Event) {
	if c.cfg.Emit != nil {
		c.cfg.Emit(e)
	}
	if e.Kind != classify.KindCompletion {
		return
	}

	c.mu.Lock()
	p := c.pending
	if p != nil && string(p.action) == e.Action {
		c.pending = nil
		c.mu.Unlock()
		p.done <- domain.Completed()
		c.logger.Debug("command completed", "action", e.Action)
		return
	}
	c.mu.Unlock()

	// A stale marker from an already-resolved or cancelled command must
	// never resolve a different pending.
	if p != nil {
		c.logger.Warn("ignoring completion marker with mismatched action",
			"marker", e.Action, "pending", p.action)
	} else {
		c.logger.Debug("ignoring completion marker with no pending command", "marker", e.Action)
	}
}

// detach removes p as the outstanding pending if it still is.
func (c *Channel) detach(p *pending) {
	c.mu.Lock()
	if c.pending == p {
		c.pending = nil
	}
	c.mu.Unlock()
}

// supervise waits for both readers and process exit, then finalizes
// state and fails any outstanding pending so callers never hang on a
// dead worker.
func (c *Channel) supervise(readers *errgroup.Group) {
	_ = readers.Wait()
	waitErr := c.cmd.Wait()

	c.mu.Lock()
	p := c.pending
	c.pending = nil
	if c.state == domain.WorkerStopping {
		c.state = domain.WorkerStopped
	} else {
		c.state = domain.WorkerCrashed
	}
	state := c.state
	c.mu.Unlock()

	code := 0
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		code = exitErr.ExitCode()
	} else if waitErr != nil {
		code = -1
	}

	c.logger.Info("persistent worker exited", "state", state, "exitCode", code)
	if p != nil {
		p.done <- domain.Failed(code, fmt.Sprintf("worker exited while %q was pending", p.action))
	}
	close(c.exited)
}
