package supervise

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-orchestrator/internal/domain"
)

func testSettings() domain.Settings {
	return domain.Settings{
		EnginePath:          "/opt/engine/fast_engine.py",
		TimestampEnginePath: "/opt/engine/timestamp_engine.py",
		Device:              "cuda",
	}
}

func TestEphemeralSpecScan(t *testing.T) {
	spec, err := EphemeralSpec(testSettings(), domain.NewCommand(domain.ActionScan).
		With(domain.ParamDirectory, "/media").
		With(domain.ParamReportPath, "/tmp/report.json").
		With(domain.ParamUseVAD, false))
	require.NoError(t, err)

	assert.Equal(t, "/opt/engine/fast_engine.py", spec.Path)
	assert.Equal(t, []string{
		"batch_scan",
		"--dir", "/media",
		"--report", "/tmp/report.json",
		"--no-vad",
		"--device", "cuda",
	}, spec.Args)
}

func TestEphemeralSpecScanVADEnabledOmitsSwitch(t *testing.T) {
	spec, err := EphemeralSpec(testSettings(), domain.NewCommand(domain.ActionScan).
		With(domain.ParamDirectory, "/media").
		With(domain.ParamUseVAD, true))
	require.NoError(t, err)
	assert.NotContains(t, spec.Args, "--no-vad")
}

func TestEphemeralSpecVADScan(t *testing.T) {
	spec, err := EphemeralSpec(testSettings(), domain.NewCommand(domain.ActionVADScan).
		With(domain.ParamDirectory, "/media").
		With(domain.ParamVADThreshold, 0.6).
		With(domain.ParamSkipExisting, true))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"vad_scan",
		"--dir", "/media",
		"--vad-threshold", "0.6",
		"--skip-existing",
		"--device", "cuda",
	}, spec.Args)
}

func TestEphemeralSpecTranscribe(t *testing.T) {
	spec, err := EphemeralSpec(testSettings(), domain.NewCommand(domain.ActionTranscribe).
		With(domain.ParamFile, "/media/a.mp4").
		With(domain.ParamStart, 10.5).
		With(domain.ParamEnd, 42).
		With(domain.ParamOutputDir, "/out"))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"transcribe",
		"/media/a.mp4",
		"--start", "10.5",
		"--end", "42",
		"--output-dir", "/out",
		"--device", "cuda",
	}, spec.Args)
}

func TestEphemeralSpecSemanticSearch(t *testing.T) {
	spec, err := EphemeralSpec(testSettings(), domain.NewCommand(domain.ActionSemanticSearch).
		With(domain.ParamDirectory, "/media").
		With(domain.ParamQuery, "quarterly planning").
		With(domain.ParamEmbedModel, "all-MiniLM-L6-v2"))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"semantic_search",
		"--dir", "/media",
		"--query", "quarterly planning",
		"--embed-model", "all-MiniLM-L6-v2",
		"--device", "cuda",
	}, spec.Args)
}

func TestEphemeralSpecDeviceOverride(t *testing.T) {
	spec, err := EphemeralSpec(testSettings(), domain.NewCommand(domain.ActionScan).
		With(domain.ParamDirectory, "/media").
		With(domain.ParamDevice, "cpu"))
	require.NoError(t, err)
	assert.Equal(t, []string{"batch_scan", "--dir", "/media", "--device", "cpu"}, spec.Args)
}

func TestEphemeralSpecNoDeviceWhenUnset(t *testing.T) {
	settings := testSettings()
	settings.Device = ""
	spec, err := EphemeralSpec(settings, domain.NewCommand(domain.ActionScan).
		With(domain.ParamDirectory, "/media"))
	require.NoError(t, err)
	assert.NotContains(t, spec.Args, "--device")
}

func TestEphemeralSpecExtractTimestamps(t *testing.T) {
	spec, err := EphemeralSpec(testSettings(), domain.NewCommand(domain.ActionExtractTimestamps).
		With(domain.ParamFile, "/media/a.mp4"))
	require.NoError(t, err)

	assert.Equal(t, "/opt/engine/timestamp_engine.py", spec.Path)
	assert.Equal(t, []string{"/media/a.mp4"}, spec.Args)
}

func TestEphemeralSpecExtractTimestampsUnconfigured(t *testing.T) {
	settings := testSettings()
	settings.TimestampEnginePath = ""
	_, err := EphemeralSpec(settings, domain.NewCommand(domain.ActionExtractTimestamps).
		With(domain.ParamFile, "/media/a.mp4"))
	assert.Error(t, err)
}

func TestEphemeralSpecUnknownAction(t *testing.T) {
	_, err := EphemeralSpec(testSettings(), domain.NewCommand(domain.ActionPing))
	assert.Error(t, err)
}
