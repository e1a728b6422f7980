package domain

import "fmt"

// OutcomeKind is the terminal result classification of one job.
type OutcomeKind string

const (
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeCancelled OutcomeKind = "cancelled"
	OutcomeFailed    OutcomeKind = "failed"
)

// Outcome is the terminal result of an ephemeral job or a resolved
// persistent-channel command.
type Outcome struct {
	Kind     OutcomeKind `json:"kind"`
	ExitCode int         `json:"exitCode,omitempty"`
	Reason   string      `json:"reason,omitempty"`
}

// Completed builds a success outcome.
func Completed() Outcome {
	return Outcome{Kind: OutcomeCompleted}
}

// Cancelled builds a caller-initiated cancellation outcome.
func Cancelled() Outcome {
	return Outcome{Kind: OutcomeCancelled}
}

// Failed builds a failure outcome with a human-readable reason.
func Failed(exitCode int, reason string) Outcome {
	return Outcome{Kind: OutcomeFailed, ExitCode: exitCode, Reason: reason}
}

// String renders the outcome for logs and CLI output.
func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeFailed:
		if o.Reason != "" {
			return fmt.Sprintf("failed (exit=%d): %s", o.ExitCode, o.Reason)
		}
		return fmt.Sprintf("failed (exit=%d)", o.ExitCode)
	case "":
		return "pending"
	default:
		return string(o.Kind)
	}
}

// JobStatus maps the outcome to its terminal job status.
func (o Outcome) JobStatus() JobStatus {
	switch o.Kind {
	case OutcomeCompleted:
		return JobStatusDone
	case OutcomeCancelled:
		return JobStatusCancelled
	default:
		return JobStatusFailed
	}
}
