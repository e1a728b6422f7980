// Package events is the typed publish/subscribe channel between the
// orchestration layer and its UI or CLI subscribers.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"media-orchestrator/internal/classify"
	"media-orchestrator/internal/domain"
)

// Type classifies messages emitted during orchestration.
type Type string

const (
	TypeStatus          Type = "status"
	TypeLog             Type = "log"
	TypeProgress        Type = "progress"
	TypeVoice           Type = "voice"
	TypeSaved           Type = "saved"
	TypeSilent          Type = "silent"
	TypeFileError       Type = "file_error"
	TypeSearchResults   Type = "search_results"
	TypeAnalysisResult  Type = "analysis_result"
	TypeDetectionReport Type = "detection_report"
	TypeTimestampResult Type = "timestamp_result"
	TypeCompletion      Type = "completion"
	TypeError           Type = "error"
)

// Event is a sequenced payload consumed by subscribers.
type Event struct {
	Seq       int64            `json:"seq"`
	Timestamp time.Time        `json:"timestamp"`
	JobID     string           `json:"jobId,omitempty"`
	Type      Type             `json:"type"`
	Status    domain.JobStatus `json:"status,omitempty"`
	Message   string           `json:"message,omitempty"`
	Stream    string           `json:"stream,omitempty"`
	Level     string           `json:"level,omitempty"`
	Current   int              `json:"current,omitempty"`
	Total     int              `json:"total,omitempty"`
	Label     string           `json:"label,omitempty"`
	Action    domain.Action    `json:"action,omitempty"`
	Payload   json.RawMessage  `json:"payload,omitempty"`
	Detail    string           `json:"detail,omitempty"`
	ExitCode  int              `json:"exitCode,omitempty"`
}

// FromLine converts one classified output line into a bus event.
func FromLine(jobID string, e classify.Event) Event {
	out := Event{
		JobID:   jobID,
		Type:    typeForKind(e.Kind),
		Message: e.Line,
		Stream:  string(e.Stream),
		Level:   string(e.Level),
		Current: e.Current,
		Total:   e.Total,
		Label:   e.Label,
		Action:  domain.Action(e.Action),
		Payload: e.Payload,
		Detail:  e.Detail,
	}
	return out
}

// typeForKind maps classifier kinds onto bus event types.
func typeForKind(kind classify.Kind) Type {
	switch kind {
	case classify.KindProgress:
		return TypeProgress
	case classify.KindCompletion:
		return TypeCompletion
	case classify.KindVoice:
		return TypeVoice
	case classify.KindSaved:
		return TypeSaved
	case classify.KindSilent:
		return TypeSilent
	case classify.KindFileError:
		return TypeFileError
	case classify.KindSearchResults:
		return TypeSearchResults
	case classify.KindAnalysisResult:
		return TypeAnalysisResult
	case classify.KindDetectionReport:
		return TypeDetectionReport
	case classify.KindTimestampResult:
		return TypeTimestampResult
	default:
		return TypeLog
	}
}

// Subscription is one live subscriber feed.
type Subscription struct {
	C      <-chan Event
	ch     chan Event
	cancel func()
	once   sync.Once
}

// Close detaches the subscription from the bus.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}

// Bus stores recent events, provides incremental reads, and fans out
// live pushes to any number of subscribers.
type Bus struct {
	mu        sync.RWMutex
	nextSeq   int64
	nextSub   int64
	maxEvents int
	events    []Event
	subs      map[int64]chan Event
}

// NewBus creates a bounded in-memory event bus.
func NewBus(maxEvents int) *Bus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &Bus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
		subs:      map[int64]chan Event{},
	}
}

// Publish assigns sequence and timestamp, stores the event, and pushes
// it to subscribers. Push is best effort per subscriber; Since provides
// at-least-once recovery for anyone who fell behind.
func (b *Bus) Publish(event Event) Event {
	b.mu.Lock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	targets := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		targets = append(targets, ch)
	}
	b.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- event:
		default:
		}
	}

	return event
}

// Subscribe registers a live feed with the given channel buffer.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 256
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.nextSub++
	id := b.nextSub
	b.subs[id] = ch
	b.mu.Unlock()

	return &Subscription{
		C:  ch,
		ch: ch,
		cancel: func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		},
	}
}

// Since returns events with sequence strictly greater than seq.
func (b *Bus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}
