// Package bootstrap wires configuration, the event bus, the warm worker
// channel, the job supervisor, and process monitoring into one headless
// application facade.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"media-orchestrator/internal/channel"
	"media-orchestrator/internal/classify"
	"media-orchestrator/internal/config"
	"media-orchestrator/internal/diagnostics"
	"media-orchestrator/internal/domain"
	"media-orchestrator/internal/events"
	"media-orchestrator/internal/monitor"
	"media-orchestrator/internal/run"
	"media-orchestrator/internal/supervise"
)

// engineProcessName is what the engine shows up as in the process
// table, used for unmanaged-process detection and the kill switch.
const engineProcessName = "fast_engine.py"

// WorkerJobID tags warm-worker output on the event bus, since the warm
// worker outlives any single job. Output lines of ephemeral jobs carry
// their own job IDs instead.
const WorkerJobID = "worker"

// App is the headless application facade consumed by the CLI.
type App struct {
	Store       config.Store
	Diagnostics domain.DiagnosticReport

	logger     *slog.Logger
	bus        *events.Bus
	supervisor *supervise.Supervisor
	monitor    *monitor.Monitor
	checker    *diagnostics.Checker

	mu       sync.Mutex
	settings domain.Settings
	worker   *channel.Channel
}

// Options controls application construction.
type Options struct {
	// ConfigPath overrides the default settings file location.
	ConfigPath string
	Logger     *slog.Logger
}

// New builds the application: loads persisted settings, overlays the
// environment, runs startup diagnostics, and wires the orchestration
// components. No worker process is started yet.
func New(opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// A missing .env file is the normal case.
	_ = godotenv.Load()

	path := opts.ConfigPath
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve user home: %w", err)
		}
		path = filepath.Join(homeDir, ".media-orchestrator", "settings.json")
	}

	store := config.NewJSONStore(path)
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	settings = overlayEnv(normalizeSettings(settings))

	checker := diagnostics.NewChecker()

	app := &App{
		Store:       store,
		Diagnostics: checker.Run(settings),
		logger:      logger,
		bus:         events.NewBus(1000),
		checker:     checker,
		settings:    settings,
	}

	app.supervisor = supervise.New(supervise.Config{
		Settings: app.Settings,
		Channel:  warmChannel{app},
		Runner:   run.NewRunner(logger),
		Bus:      app.bus,
		Logger:   logger,
	})
	app.monitor = monitor.New(monitor.Config{
		ProcessName: engineProcessName,
		Managed:     warmChannel{app},
		Logger:      logger,
	})

	return app, nil
}

// Settings returns the current effective settings.
func (a *App) Settings() domain.Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings
}

// SaveSettings normalizes and persists settings, then refreshes
// diagnostics. The environment overlay still wins for the API key.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := normalizeSettings(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}
	normalized = overlayEnv(normalized)

	a.mu.Lock()
	a.settings = normalized
	a.mu.Unlock()
	a.Diagnostics = a.checker.Run(normalized)

	return normalized, nil
}

// RefreshDiagnostics reruns dependency checks against current settings.
func (a *App) RefreshDiagnostics() domain.DiagnosticReport {
	a.Diagnostics = a.checker.Run(a.Settings())
	return a.Diagnostics
}

// WarmUp launches the persistent worker so subsequent foreground
// operations skip model reload. A stopped or crashed worker is replaced
// with a fresh one.
func (a *App) WarmUp() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.worker != nil {
		switch a.worker.State() {
		case domain.WorkerRunning, domain.WorkerStarting:
			return nil
		}
	}

	settings := a.settings
	if strings.TrimSpace(settings.EnginePath) == "" {
		return fmt.Errorf("engine path is not configured")
	}

	a.worker = channel.New(channel.Config{
		Path: settings.EnginePath,
		Args: []string{"server", "--device", settings.Device},
		Emit: func(e classify.Event) {
			a.bus.Publish(events.FromLine(WorkerJobID, e))
		},
		Logger: a.logger,
	})
	return a.worker.Start()
}

// StopWorker shuts the warm worker down. No-op when none is running.
func (a *App) StopWorker(ctx context.Context) error {
	a.mu.Lock()
	worker := a.worker
	a.mu.Unlock()

	if worker == nil {
		return nil
	}
	return worker.Stop(ctx)
}

// WorkerState reports the warm worker's lifecycle state.
func (a *App) WorkerState() domain.WorkerState {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.worker == nil {
		return domain.WorkerNotStarted
	}
	return a.worker.State()
}

// Dispatch starts a foreground operation with settings-derived defaults
// filled into the command.
func (a *App) Dispatch(command domain.Command) (domain.Job, error) {
	return a.supervisor.Dispatch(a.applyDefaults(command))
}

// DispatchBackground starts an independent background operation.
func (a *App) DispatchBackground(command domain.Command) (domain.Job, error) {
	return a.supervisor.DispatchBackground(a.applyDefaults(command))
}

// Cancel aborts the in-flight foreground operation, if any.
func (a *App) Cancel() {
	a.supervisor.Cancel()
}

// CancelJob aborts one background job by ID.
func (a *App) CancelJob(jobID string) error {
	return a.supervisor.CancelJob(jobID)
}

// CurrentJob returns the most recent foreground job snapshot.
func (a *App) CurrentJob() domain.Job {
	return a.supervisor.Current()
}

// Events returns all bus events with sequence greater than sinceSeq.
func (a *App) Events(sinceSeq int64) []events.Event {
	return a.bus.Since(sinceSeq)
}

// Subscribe attaches a live event feed.
func (a *App) Subscribe() *events.Subscription {
	return a.bus.Subscribe(0)
}

// Status reports engine process activity on the host.
func (a *App) Status(ctx context.Context) monitor.Snapshot {
	return a.monitor.Check(ctx)
}

// KillAll is the emergency stop: cancel everything, stop the managed
// worker, then sweep the host for leftover engine processes.
func (a *App) KillAll(ctx context.Context) (int, error) {
	a.supervisor.Cancel()
	if err := a.StopWorker(ctx); err != nil {
		a.logger.Warn("managed worker stop failed during kill-all", "error", err)
	}
	return a.monitor.KillAll(ctx)
}

// Shutdown cancels all in-flight jobs, waits for them to finish, and
// stops the warm worker.
func (a *App) Shutdown(ctx context.Context) error {
	a.supervisor.Cancel()
	for _, id := range a.supervisor.BackgroundJobs() {
		_ = a.supervisor.CancelJob(id)
	}
	a.supervisor.Wait()
	return a.StopWorker(ctx)
}

// applyDefaults fills settings-derived parameters the caller left
// unset, so the CLI only has to name what deviates from configuration.
func (a *App) applyDefaults(command domain.Command) domain.Command {
	settings := a.Settings()

	setString := func(key, value string) {
		if value == "" {
			return
		}
		if v, ok := command.Params[key].(string); ok && v != "" {
			return
		}
		command = command.With(key, value)
	}

	switch command.Action {
	case domain.ActionScan, domain.ActionVADScan:
		setString(domain.ParamDirectory, settings.MediaDir)
		setString(domain.ParamModel, settings.ScanModel)
		setString(domain.ParamOutputDir, settings.OutputDir)
		if _, ok := command.Params[domain.ParamUseVAD]; !ok {
			command = command.With(domain.ParamUseVAD, settings.UseVAD)
		}
		if _, ok := command.Params[domain.ParamVADThreshold]; !ok && settings.VADThreshold > 0 {
			command = command.With(domain.ParamVADThreshold, settings.VADThreshold)
		}
		if _, ok := command.Params[domain.ParamSkipExisting]; !ok {
			command = command.With(domain.ParamSkipExisting, settings.SkipExisting)
		}
	case domain.ActionTranscribe:
		setString(domain.ParamModel, settings.TranscribeModel)
		setString(domain.ParamOutputDir, settings.OutputDir)
		if _, ok := command.Params[domain.ParamSkipExisting]; !ok {
			command = command.With(domain.ParamSkipExisting, settings.SkipExisting)
		}
	case domain.ActionSemanticSearch:
		setString(domain.ParamDirectory, settings.MediaDir)
		setString(domain.ParamEmbedModel, settings.EmbedModel)
		setString(domain.ParamTranscriptDir, settings.TranscriptDir)
	case domain.ActionAnalyze, domain.ActionDetectMeetings:
		setString(domain.ParamDirectory, settings.MediaDir)
		setString(domain.ParamProvider, settings.Provider)
		setString(domain.ParamCloudModel, settings.CloudModel)
		setString(domain.ParamAPIKey, settings.APIKey)
		setString(domain.ParamTranscriptDir, settings.TranscriptDir)
	}

	return command
}

// warmChannel adapts the app's replaceable worker pointer to the
// supervisor's and monitor's view of a single warm channel.
type warmChannel struct {
	app *App
}

func (w warmChannel) current() *channel.Channel {
	w.app.mu.Lock()
	defer w.app.mu.Unlock()
	return w.app.worker
}

func (w warmChannel) Running() bool {
	c := w.current()
	return c != nil && c.Running()
}

func (w warmChannel) Supports(action domain.Action) bool {
	c := w.current()
	return c != nil && c.Supports(action)
}

func (w warmChannel) Send(ctx context.Context, command domain.Command) (domain.Outcome, error) {
	c := w.current()
	if c == nil {
		return domain.Outcome{}, channel.ErrNotRunning
	}
	return c.Send(ctx, command)
}

// normalizeSettings trims user inputs and applies fallback defaults.
func normalizeSettings(settings domain.Settings) domain.Settings {
	settings.EnginePath = strings.TrimSpace(settings.EnginePath)
	settings.TimestampEnginePath = strings.TrimSpace(settings.TimestampEnginePath)
	settings.MediaDir = strings.TrimSpace(settings.MediaDir)
	settings.OutputDir = strings.TrimSpace(settings.OutputDir)
	settings.TranscriptDir = strings.TrimSpace(settings.TranscriptDir)
	settings.Device = strings.TrimSpace(settings.Device)
	if settings.Device == "" {
		settings.Device = "auto"
	}
	if settings.TranscriptDir == "" {
		settings.TranscriptDir = settings.OutputDir
	}
	if settings.Provider == "" {
		settings.Provider = "local"
	}
	return settings
}

// overlayEnv applies environment overrides on top of persisted
// settings. Credentials only ever come from the environment.
func overlayEnv(settings domain.Settings) domain.Settings {
	if v := os.Getenv("ENGINE_PATH"); v != "" {
		settings.EnginePath = v
	}
	if v := os.Getenv("TIMESTAMP_ENGINE_PATH"); v != "" {
		settings.TimestampEnginePath = v
	}

	keys := []string{"ANALYSIS_API_KEY"}
	switch settings.Provider {
	case "gemini":
		keys = append(keys, "GEMINI_API_KEY")
	case "openai":
		keys = append(keys, "OPENAI_API_KEY")
	case "claude":
		keys = append(keys, "ANTHROPIC_API_KEY")
	}
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			settings.APIKey = v
			break
		}
	}
	return settings
}

// shutdownTimeout bounds orderly worker stop during process exit.
const shutdownTimeout = 10 * time.Second

// ShutdownContext returns the context used for final cleanup.
func ShutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), shutdownTimeout)
}
