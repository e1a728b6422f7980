// Package monitor watches engine processes on the host: the managed
// warm worker plus any stray engine processes left behind by earlier
// runs, with a kill switch covering both.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"media-orchestrator/internal/proctree"
)

// Status is the monitor's tri-state answer.
type Status string

const (
	// StatusActiveManaged means the warm worker owned by this process is
	// running. It takes precedence over any unmanaged matches.
	StatusActiveManaged Status = "active_managed"
	// StatusRunningUnmanaged means engine processes exist on the host
	// that this process does not own.
	StatusRunningUnmanaged Status = "running_unmanaged"
	// StatusIdle means no engine process is running at all.
	StatusIdle Status = "idle"
)

// Snapshot is one observation of engine activity.
type Snapshot struct {
	Status Status `json:"status"`
	// Unmanaged counts foreign engine processes, zero unless the status
	// is running_unmanaged.
	Unmanaged int       `json:"unmanaged"`
	CheckedAt time.Time `json:"checkedAt"`
}

// ManagedChecker reports whether the warm worker is live. Satisfied by
// the worker channel.
type ManagedChecker interface {
	Running() bool
}

// Config describes what the monitor watches.
type Config struct {
	// ProcessName is the engine process name to look for, e.g. the
	// interpreter script name.
	ProcessName string
	Managed     ManagedChecker
	Interval    time.Duration
	Logger      *slog.Logger

	// Overridable for tests.
	ListPIDs func(ctx context.Context, name string) ([]int32, error)
	KillName func(ctx context.Context, name string) (int, error)
}

const defaultInterval = 5 * time.Second

// Monitor performs periodic and on-demand engine process checks.
type Monitor struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a monitor. Process enumeration defaults to the real host
// process table.
func New(cfg Config) *Monitor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.ListPIDs == nil {
		cfg.ListPIDs = proctree.FindByName
	}
	if cfg.KillName == nil {
		cfg.KillName = proctree.KillByName
	}

	return &Monitor{cfg: cfg, logger: cfg.Logger}
}

// Check takes one observation. A live managed worker wins outright; the
// host process table is only consulted when the managed worker is down.
func (m *Monitor) Check(ctx context.Context) Snapshot {
	snap := Snapshot{CheckedAt: time.Now().UTC()}

	if m.cfg.Managed != nil && m.cfg.Managed.Running() {
		snap.Status = StatusActiveManaged
		return snap
	}

	pids, err := m.cfg.ListPIDs(ctx, m.cfg.ProcessName)
	if err != nil {
		m.logger.Warn("engine process lookup failed", "name", m.cfg.ProcessName, "error", err)
		snap.Status = StatusIdle
		return snap
	}

	if len(pids) > 0 {
		snap.Status = StatusRunningUnmanaged
		snap.Unmanaged = len(pids)
		return snap
	}

	snap.Status = StatusIdle
	return snap
}

// Run checks on the configured interval and reports each snapshot until
// ctx is done. Blocks; run it on its own goroutine.
func (m *Monitor) Run(ctx context.Context, report func(Snapshot)) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report(m.Check(ctx))
		}
	}
}

// KillAll is the emergency stop: the caller shuts down the managed
// worker first, then this sweeps the host for leftover engine processes
// and kills their trees. Returns how many process trees were targeted.
func (m *Monitor) KillAll(ctx context.Context) (int, error) {
	m.logger.Warn("killing all engine processes", "name", m.cfg.ProcessName)
	return m.cfg.KillName(ctx, m.cfg.ProcessName)
}
