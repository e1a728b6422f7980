package domain

// Action identifies one logical engine operation.
type Action string

const (
	ActionPing              Action = "ping"
	ActionScan              Action = "scan"
	ActionVADScan           Action = "vad_scan"
	ActionTranscribe        Action = "transcribe"
	ActionSemanticSearch    Action = "semantic_search"
	ActionAnalyze           Action = "analyze"
	ActionDetectMeetings    Action = "detect_meetings"
	ActionExtractTimestamps Action = "extract_timestamps"
	ActionExit              Action = "exit"
)

// ForegroundActions are subject to the single-flight slot.
var ForegroundActions = []Action{
	ActionScan,
	ActionVADScan,
	ActionTranscribe,
}

// BackgroundActions run as independent ephemeral jobs, bypassing the slot.
var BackgroundActions = []Action{
	ActionSemanticSearch,
	ActionAnalyze,
	ActionDetectMeetings,
	ActionExtractTimestamps,
}

// IsForeground reports whether the action occupies the foreground slot.
func IsForeground(action Action) bool {
	for _, a := range ForegroundActions {
		if a == action {
			return true
		}
	}
	return false
}

// WorkerState tracks the lifecycle of one owned child process.
type WorkerState string

const (
	WorkerNotStarted WorkerState = "not_started"
	WorkerStarting   WorkerState = "starting"
	WorkerRunning    WorkerState = "running"
	WorkerStopping   WorkerState = "stopping"
	WorkerStopped    WorkerState = "stopped"
	WorkerCrashed    WorkerState = "crashed"
)

// JobStatus tracks the foreground slot and per-job terminal states.
type JobStatus string

const (
	JobStatusIdle      JobStatus = "idle"
	JobStatusRunning   JobStatus = "running"
	JobStatusDone      JobStatus = "done"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Job stores job identity, requested action, and lifecycle status.
type Job struct {
	ID     string    `json:"id"`
	Action Action    `json:"action"`
	Status JobStatus `json:"status"`
}

// Settings contains user-selectable runtime configuration.
type Settings struct {
	EnginePath          string  `json:"enginePath"`
	TimestampEnginePath string  `json:"timestampEnginePath,omitempty"`
	MediaDir            string  `json:"mediaDir"`
	OutputDir           string  `json:"outputDir"`
	TranscriptDir       string  `json:"transcriptDir"`
	Device              string  `json:"device"`
	ScanModel           string  `json:"scanModel"`
	TranscribeModel     string  `json:"transcribeModel"`
	EmbedModel          string  `json:"embedModel"`
	Provider            string  `json:"provider"`
	CloudModel          string  `json:"cloudModel,omitempty"`
	VADThreshold        float64 `json:"vadThreshold"`
	UseVAD              bool    `json:"useVad"`
	SkipExisting        bool    `json:"skipExisting"`

	// APIKey is loaded from the environment and never persisted to disk.
	APIKey string `json:"-"`
}
