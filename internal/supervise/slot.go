package supervise

import (
	"errors"
	"sync"

	"media-orchestrator/internal/domain"
)

// ErrJobAlreadyRunning is returned when starting a second foreground job.
var ErrJobAlreadyRunning = errors.New("a foreground job is already running")

// ErrNoRunningJob is returned when cancel targets an idle slot or an
// unknown background job.
var ErrNoRunningJob = errors.New("no running job")

// Slot is the single foreground occupancy flag: true for the entire
// duration of exactly one foreground operation, false otherwise.
type Slot struct {
	mu      sync.RWMutex
	current domain.Job
}

// NewSlot creates a slot in idle state.
func NewSlot() *Slot {
	return &Slot{
		current: domain.Job{Status: domain.JobStatusIdle},
	}
}

// Acquire occupies the slot for the given job. Fails fast instead of
// queueing when the slot is already occupied.
func (s *Slot) Acquire(job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current.Status == domain.JobStatusRunning {
		return ErrJobAlreadyRunning
	}

	job.Status = domain.JobStatusRunning
	s.current = job
	return nil
}

// Release frees the slot, recording the job's terminal status.
func (s *Slot) Release(outcome domain.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current.Status == domain.JobStatusRunning {
		s.current.Status = outcome.JobStatus()
	}
}

// Current returns a snapshot of the most recent foreground job.
func (s *Slot) Current() domain.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Occupied reports whether a foreground job is in flight.
func (s *Slot) Occupied() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Status == domain.JobStatusRunning
}
