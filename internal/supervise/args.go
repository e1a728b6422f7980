package supervise

import (
	"fmt"
	"strconv"

	"media-orchestrator/internal/domain"
	"media-orchestrator/internal/run"
)

// EphemeralSpec maps a command onto a one-shot worker invocation:
// operation mode first, then --flag value pairs, mirroring the engine's
// CLI surface. The warm worker's server loop and the CLI accept the
// same operations under slightly different mode names.
func EphemeralSpec(settings domain.Settings, command domain.Command) (run.Spec, error) {
	switch command.Action {
	case domain.ActionScan:
		return engineSpec(settings, command, "batch_scan",
			flagArg(command, domain.ParamDirectory, "--dir"),
			flagArg(command, domain.ParamReportPath, "--report"),
			boolArg(command, domain.ParamUseVAD, "--no-vad", true),
		), nil

	case domain.ActionVADScan:
		return engineSpec(settings, command, "vad_scan",
			flagArg(command, domain.ParamDirectory, "--dir"),
			floatArg(command, domain.ParamVADThreshold, "--vad-threshold"),
			flagArg(command, domain.ParamReportPath, "--report"),
			boolArg(command, domain.ParamSkipExisting, "--skip-existing", false),
		), nil

	case domain.ActionTranscribe:
		return engineSpec(settings, command, "transcribe",
			positionalArg(command, domain.ParamFile),
			floatArg(command, domain.ParamStart, "--start"),
			floatArg(command, domain.ParamEnd, "--end"),
			flagArg(command, domain.ParamOutputDir, "--output-dir"),
			boolArg(command, domain.ParamSkipExisting, "--skip-existing", false),
		), nil

	case domain.ActionSemanticSearch:
		return engineSpec(settings, command, "semantic_search",
			flagArg(command, domain.ParamDirectory, "--dir"),
			flagArg(command, domain.ParamQuery, "--query"),
			flagArg(command, domain.ParamEmbedModel, "--embed-model"),
			flagArg(command, domain.ParamTranscriptDir, "--transcript-dir"),
		), nil

	case domain.ActionAnalyze:
		return engineSpec(settings, command, "analyze",
			positionalArg(command, domain.ParamFile),
			flagArg(command, domain.ParamAnalyzeType, "--analyze-type"),
			flagArg(command, domain.ParamProvider, "--provider"),
			flagArg(command, domain.ParamModel, "--model"),
			flagArg(command, domain.ParamAPIKey, "--api-key"),
			flagArg(command, domain.ParamCloudModel, "--cloud-model"),
		), nil

	case domain.ActionDetectMeetings:
		return engineSpec(settings, command, "detect_meetings",
			flagArg(command, domain.ParamDirectory, "--dir"),
			flagArg(command, domain.ParamProvider, "--provider"),
			flagArg(command, domain.ParamModel, "--model"),
			flagArg(command, domain.ParamAPIKey, "--api-key"),
			flagArg(command, domain.ParamCloudModel, "--cloud-model"),
			flagArg(command, domain.ParamTranscriptDir, "--transcript-dir"),
		), nil

	case domain.ActionExtractTimestamps:
		// The vision engine takes the file positionally, no mode word.
		if settings.TimestampEnginePath == "" {
			return run.Spec{}, fmt.Errorf("timestamp engine path is not configured")
		}
		var args []string
		args = append(args, positionalArg(command, domain.ParamFile)...)
		return run.Spec{Path: settings.TimestampEnginePath, Args: args}, nil

	default:
		return run.Spec{}, fmt.Errorf("action %q has no ephemeral invocation", command.Action)
	}
}

// engineSpec assembles the primary engine invocation: mode, arg groups,
// then the device selector, which every engine mode accepts.
func engineSpec(settings domain.Settings, command domain.Command, mode string, groups ...[]string) run.Spec {
	args := []string{mode}
	for _, g := range groups {
		args = append(args, g...)
	}

	device := settings.Device
	if v, ok := command.Params[domain.ParamDevice].(string); ok && v != "" {
		device = v
	}
	if device != "" {
		args = append(args, "--device", device)
	}

	return run.Spec{Path: settings.EnginePath, Args: args}
}

// positionalArg emits a bare positional value when the parameter is set.
func positionalArg(command domain.Command, key string) []string {
	if v, ok := command.Params[key].(string); ok && v != "" {
		return []string{v}
	}
	return nil
}

// flagArg emits --flag value when the string parameter is set.
func flagArg(command domain.Command, key, flag string) []string {
	if v, ok := command.Params[key].(string); ok && v != "" {
		return []string{flag, v}
	}
	return nil
}

// floatArg emits --flag value for numeric parameters.
func floatArg(command domain.Command, key, flag string) []string {
	switch v := command.Params[key].(type) {
	case float64:
		return []string{flag, strconv.FormatFloat(v, 'f', -1, 64)}
	case int:
		return []string{flag, strconv.Itoa(v)}
	default:
		return nil
	}
}

// boolArg emits a value-less switch. When invert is set the switch is
// emitted on false (the engine's --no-vad negates the use_vad default).
func boolArg(command domain.Command, key, flag string, invert bool) []string {
	v, ok := command.Params[key].(bool)
	if !ok || v == invert {
		return nil
	}
	return []string{flag}
}
