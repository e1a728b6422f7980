// Package classify maps raw worker output lines to typed events.
//
// Classification is pure and stateless: one line in, an ordered slice of
// events out. Every line yields a log event first, so raw diagnostic text
// is always available downstream even when structured parsing fails.
package classify

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Stream identifies which output stream a line arrived on.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// Kind is the classification assigned to one event.
type Kind string

const (
	KindLog             Kind = "log"
	KindProgress        Kind = "progress"
	KindCompletion      Kind = "completion"
	KindVoice           Kind = "voice"
	KindSaved           Kind = "saved"
	KindSilent          Kind = "silent"
	KindFileError       Kind = "file_error"
	KindSearchResults   Kind = "search_results"
	KindAnalysisResult  Kind = "analysis_result"
	KindDetectionReport Kind = "detection_report"
	KindTimestampResult Kind = "timestamp_result"
)

// Level is the log severity derived from the originating stream.
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Event is one typed classification of a raw output line.
type Event struct {
	Kind    Kind
	Stream  Stream
	Line    string
	Level   Level
	Current int
	Total   int
	Label   string
	Action  string
	Payload json.RawMessage
	Detail  string
}

// resultPrefix binds a structured-result tag to its event kind.
type resultPrefix struct {
	prefix string
	kind   Kind
}

// Structured results are prefix-tagged JSON payloads.
var resultPrefixes = []resultPrefix{
	{"[SEARCH_RESULTS]", KindSearchResults},
	{"[ANALYSIS_RESULT]", KindAnalysisResult},
	{"[DETECTION_REPORT]", KindDetectionReport},
	{"[TIMESTAMP_RESULT]", KindTimestampResult},
}

// sideMarker binds a side-channel marker substring to its event kind.
type sideMarker struct {
	marker string
	kind   Kind
}

// Side-channel markers are matched by containment, not prefix, because
// the worker may prepend indentation or timestamps.
var sideMarkers = []sideMarker{
	{"[VOICE]", KindVoice},
	{"[SAVED]", KindSaved},
	{"[SILENT]", KindSilent},
	{"[ERROR]", KindFileError},
}

// The Scanning shape must be tried before the generic shape so the
// literal "Scanning:" never binds into the label slot.
var (
	progressScanPattern = regexp.MustCompile(`^\[(\d+)/(\d+)\] Scanning: (.*)$`)
	progressPattern     = regexp.MustCompile(`^\[(\d+)/(\d+)\] (.*)$`)
)

// completionMarker is the whole-line JSON object a persistent worker
// emits when one command finishes.
type completionMarker struct {
	Status string `json:"status"`
	Action string `json:"action"`
}

// Classify maps one line (already stripped of its terminator) to an
// ordered sequence of events. The first event is always the raw log line.
func Classify(stream Stream, line string) []Event {
	level := LevelInfo
	if stream == StreamStderr {
		level = LevelError
	}

	events := []Event{{
		Kind:   KindLog,
		Stream: stream,
		Line:   line,
		Level:  level,
	}}

	if extra, ok := classifyLine(stream, line); ok {
		events = append(events, extra)
	}
	return events
}

// classifyLine attempts each classification in fixed priority order.
func classifyLine(stream Stream, line string) (Event, bool) {
	if e, ok := matchStructuredResult(stream, line); ok {
		return e, true
	}
	if e, ok := matchCompletion(stream, line); ok {
		return e, true
	}
	if e, ok := matchProgress(stream, line); ok {
		return e, true
	}
	if e, ok := matchSideMarker(stream, line); ok {
		return e, true
	}
	return Event{}, false
}

// matchStructuredResult parses prefix-tagged JSON result lines.
// Parse failures are swallowed: a corrupted payload must never abort
// the channel, so the line stays a plain log line.
func matchStructuredResult(stream Stream, line string) (Event, bool) {
	for _, rp := range resultPrefixes {
		if !strings.HasPrefix(line, rp.prefix) {
			continue
		}

		payload := strings.TrimSpace(line[len(rp.prefix):])
		if payload == "" || !json.Valid([]byte(payload)) {
			return Event{}, false
		}

		return Event{
			Kind:    rp.kind,
			Stream:  stream,
			Line:    line,
			Payload: json.RawMessage(payload),
		}, true
	}
	return Event{}, false
}

// matchCompletion recognizes whole-line completion markers.
func matchCompletion(stream Stream, line string) (Event, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
		return Event{}, false
	}

	var marker completionMarker
	if err := json.Unmarshal([]byte(trimmed), &marker); err != nil {
		return Event{}, false
	}
	if marker.Status != "complete" || marker.Action == "" {
		return Event{}, false
	}

	return Event{
		Kind:   KindCompletion,
		Stream: stream,
		Line:   line,
		Action: marker.Action,
	}, true
}

// matchProgress recognizes the two progress shapes.
func matchProgress(stream Stream, line string) (Event, bool) {
	trimmed := strings.TrimSpace(line)

	m := progressScanPattern.FindStringSubmatch(trimmed)
	if m == nil {
		m = progressPattern.FindStringSubmatch(trimmed)
	}
	if m == nil {
		return Event{}, false
	}

	current, err := strconv.Atoi(m[1])
	if err != nil {
		return Event{}, false
	}
	total, err := strconv.Atoi(m[2])
	if err != nil {
		return Event{}, false
	}

	return Event{
		Kind:    KindProgress,
		Stream:  stream,
		Line:    line,
		Current: current,
		Total:   total,
		Label:   strings.TrimSpace(m[3]),
	}, true
}

// matchSideMarker recognizes tagged side-channel lines by containment.
func matchSideMarker(stream Stream, line string) (Event, bool) {
	for _, sm := range sideMarkers {
		idx := strings.Index(line, sm.marker)
		if idx < 0 {
			continue
		}

		return Event{
			Kind:   sm.kind,
			Stream: stream,
			Line:   line,
			Detail: strings.TrimSpace(line[idx+len(sm.marker):]),
		}, true
	}
	return Event{}, false
}
