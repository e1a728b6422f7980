package domain

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Well-known Command parameter keys understood by the engine.
const (
	ParamDirectory     = "directory"
	ParamFile          = "file"
	ParamQuery         = "query"
	ParamModel         = "model"
	ParamEmbedModel    = "embed_model"
	ParamTranscriptDir = "transcript_dir"
	ParamOutputDir     = "output_dir"
	ParamReportPath    = "report_path"
	ParamUseVAD        = "use_vad"
	ParamVADThreshold  = "vad_threshold"
	ParamSkipExisting  = "skip_existing"
	ParamAnalyzeType   = "analyze_type"
	ParamProvider      = "provider"
	ParamAPIKey        = "api_key"
	ParamCloudModel    = "cloud_model"
	ParamDevice        = "device"
	ParamStart         = "start"
	ParamEnd           = "end"
)

// Command is one request for a worker: an action tag plus
// action-specific parameters.
type Command struct {
	Action Action
	Params map[string]any
}

// NewCommand creates a command with an initialized parameter map.
func NewCommand(action Action) Command {
	return Command{Action: action, Params: map[string]any{}}
}

// With sets one parameter and returns the command for chaining.
func (c Command) With(key string, value any) Command {
	if c.Params == nil {
		c.Params = map[string]any{}
	}
	c.Params[key] = value
	return c
}

// MarshalJSON flattens action and parameters into a single object,
// the shape the engine reads from its input stream.
func (c Command) MarshalJSON() ([]byte, error) {
	if c.Action == "" {
		return nil, fmt.Errorf("command action is required")
	}

	flat := make(map[string]any, len(c.Params)+1)
	for k, v := range c.Params {
		flat[k] = v
	}
	flat["action"] = string(c.Action)
	return json.Marshal(flat)
}

// ParamKeys returns parameter keys in deterministic order.
func (c Command) ParamKeys() []string {
	keys := make([]string, 0, len(c.Params))
	for k := range c.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
