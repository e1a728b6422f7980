// Package supervise is the façade the rest of the application calls to
// run worker operations: a single-flight foreground slot backed by the
// warm persistent channel when possible, plus independently running
// background ephemeral jobs.
package supervise

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"media-orchestrator/internal/classify"
	"media-orchestrator/internal/domain"
	"media-orchestrator/internal/events"
	"media-orchestrator/internal/run"
)

// WarmChannel is the persistent worker channel surface the supervisor
// dispatches through when a warm worker is active.
type WarmChannel interface {
	Running() bool
	Supports(domain.Action) bool
	Send(context.Context, domain.Command) (domain.Outcome, error)
}

// EphemeralRunner spawns one-shot jobs as the fallback path and for all
// background operations.
type EphemeralRunner interface {
	Run(ctx context.Context, spec run.Spec, emit run.Handler) (domain.Outcome, error)
}

// Config wires the supervisor's collaborators.
type Config struct {
	Settings func() domain.Settings
	Channel  WarmChannel
	Runner   EphemeralRunner
	Bus      *events.Bus
	Logger   *slog.Logger
}

// Supervisor enforces the single-flight foreground slot and routes each
// operation to the warm channel or an ephemeral job.
type Supervisor struct {
	settings func() domain.Settings
	channel  WarmChannel
	runner   EphemeralRunner
	bus      *events.Bus
	logger   *slog.Logger
	slot     *Slot

	mu         sync.Mutex
	cancelFG   context.CancelFunc
	background map[string]context.CancelFunc

	wg sync.WaitGroup
}

// New creates an idle supervisor.
func New(cfg Config) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	settings := cfg.Settings
	if settings == nil {
		settings = func() domain.Settings { return domain.Settings{} }
	}

	return &Supervisor{
		settings:   settings,
		channel:    cfg.Channel,
		runner:     cfg.Runner,
		bus:        cfg.Bus,
		logger:     logger,
		slot:       NewSlot(),
		background: map[string]context.CancelFunc{},
	}
}

// Dispatch starts one foreground operation. It fails fast with
// ErrJobAlreadyRunning while the slot is occupied and never queues.
func (s *Supervisor) Dispatch(command domain.Command) (domain.Job, error) {
	if !domain.IsForeground(command.Action) {
		return domain.Job{}, fmt.Errorf("action %q is not a foreground operation", command.Action)
	}

	job := domain.Job{ID: uuid.NewString(), Action: command.Action}
	if err := s.slot.Acquire(job); err != nil {
		return domain.Job{}, err
	}
	job.Status = domain.JobStatusRunning

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancelFG = cancel
	s.mu.Unlock()

	s.publishStatus(job.ID, domain.JobStatusRunning, fmt.Sprintf("Started %s", command.Action))
	s.wg.Add(1)
	go s.runForeground(ctx, job, command)

	return job, nil
}

// Cancel aborts the in-flight foreground operation. No-op when idle.
func (s *Supervisor) Cancel() {
	s.mu.Lock()
	cancel := s.cancelFG
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.publishStatus(s.slot.Current().ID, domain.JobStatusCancelled, "Cancellation requested")
}

// DispatchBackground starts one independent ephemeral job outside the
// foreground slot. Any number may run concurrently.
func (s *Supervisor) DispatchBackground(command domain.Command) (domain.Job, error) {
	if domain.IsForeground(command.Action) {
		return domain.Job{}, fmt.Errorf("action %q must go through the foreground slot", command.Action)
	}

	spec, err := EphemeralSpec(s.settings(), command)
	if err != nil {
		return domain.Job{}, err
	}

	job := domain.Job{ID: uuid.NewString(), Action: command.Action, Status: domain.JobStatusRunning}
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.background[job.ID] = cancel
	s.mu.Unlock()

	s.publishStatus(job.ID, domain.JobStatusRunning, fmt.Sprintf("Started background %s", command.Action))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		outcome, runErr := s.runner.Run(ctx, spec, s.lineEmitter(job.ID))
		if runErr != nil {
			outcome = domain.Failed(-1, runErr.Error())
		}

		s.mu.Lock()
		delete(s.background, job.ID)
		s.mu.Unlock()

		s.finish(job, outcome)
	}()

	return job, nil
}

// CancelJob aborts one background job by ID.
func (s *Supervisor) CancelJob(jobID string) error {
	s.mu.Lock()
	cancel, ok := s.background[jobID]
	s.mu.Unlock()

	if !ok {
		return ErrNoRunningJob
	}
	cancel()
	return nil
}

// Current returns the most recent foreground job snapshot.
func (s *Supervisor) Current() domain.Job {
	return s.slot.Current()
}

// BackgroundJobs returns IDs of in-flight background jobs.
func (s *Supervisor) BackgroundJobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.background))
	for id := range s.background {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Wait blocks until all dispatched jobs have finished.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// runForeground executes one foreground operation and releases the slot
// no matter how the run ends, including panics from the backing runner.
func (s *Supervisor) runForeground(ctx context.Context, job domain.Job, command domain.Command) {
	var outcome domain.Outcome

	defer func() {
		if r := recover(); r != nil {
			outcome = domain.Failed(-1, fmt.Sprintf("job panicked: %v", r))
			s.logger.Error("foreground job panicked", "jobId", job.ID, "panic", r)
		}

		s.mu.Lock()
		s.cancelFG = nil
		s.mu.Unlock()

		s.finish(job, outcome)
		s.wg.Done()
	}()

	outcome = s.execute(ctx, job, command)
}

// execute routes to the warm channel when it is active and declares
// support for the action; otherwise falls back to an ephemeral job.
func (s *Supervisor) execute(ctx context.Context, job domain.Job, command domain.Command) domain.Outcome {
	if s.channel != nil && s.channel.Running() && s.channel.Supports(command.Action) {
		s.logger.Debug("dispatching via warm worker", "jobId", job.ID, "action", command.Action)
		outcome, err := s.channel.Send(ctx, command)
		if err != nil {
			return domain.Failed(-1, err.Error())
		}
		return outcome
	}

	spec, err := EphemeralSpec(s.settings(), command)
	if err != nil {
		return domain.Failed(-1, err.Error())
	}

	s.logger.Debug("dispatching via ephemeral job", "jobId", job.ID, "action", command.Action)
	outcome, err := s.runner.Run(ctx, spec, s.lineEmitter(job.ID))
	if err != nil {
		return domain.Failed(-1, err.Error())
	}
	return outcome
}

// finish releases slot state for foreground jobs and publishes the
// terminal status. Parsing-level problems never reach here; only
// process-level outcomes surface.
func (s *Supervisor) finish(job domain.Job, outcome domain.Outcome) {
	if domain.IsForeground(job.Action) {
		s.slot.Release(outcome)
	}

	status := outcome.JobStatus()
	s.publishStatus(job.ID, status, fmt.Sprintf("%s %s", job.Action, outcome.String()))
	if status == domain.JobStatusFailed && s.bus != nil {
		s.bus.Publish(events.Event{
			JobID:    job.ID,
			Type:     events.TypeError,
			Status:   status,
			Message:  outcome.String(),
			ExitCode: outcome.ExitCode,
		})
	}
	s.logger.Info("job finished", "jobId", job.ID, "action", job.Action, "outcome", outcome.String())
}

// lineEmitter publishes classified output lines under the job's ID.
func (s *Supervisor) lineEmitter(jobID string) run.Handler {
	if s.bus == nil {
		return func(classify.Event) {}
	}
	return func(e classify.Event) {
		s.bus.Publish(events.FromLine(jobID, e))
	}
}

// publishStatus sends a normalized status event.
func (s *Supervisor) publishStatus(jobID string, status domain.JobStatus, message string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{
		JobID:   jobID,
		Type:    events.TypeStatus,
		Status:  status,
		Message: message,
	})
}
