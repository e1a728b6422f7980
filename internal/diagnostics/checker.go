// Package diagnostics runs startup checks on the engine installation
// and the configured runtime environment.
package diagnostics

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"

	"media-orchestrator/internal/domain"
)

// Checker validates external tools and required filesystem paths.
type Checker struct {
	lookPath   func(string) (string, error)
	stat       func(string) (os.FileInfo, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:   exec.LookPath,
		stat:       os.Stat,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(settings domain.Settings) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkTool("ffmpeg"),
		c.checkTool("python3"),
		c.checkEngine("engine", "Primary engine", settings.EnginePath, false),
		c.checkEngine("timestamp_engine", "Timestamp engine", settings.TimestampEnginePath, true),
		c.checkMediaDir(settings.MediaDir),
		c.checkOutputDir(settings.OutputDir),
		c.checkDevice(settings.Device),
		c.checkModels(settings),
		c.checkProvider(settings),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkTool verifies a required CLI executable is on PATH.
func (c *Checker) checkTool(name string) domain.DiagnosticItem {
	path, err := c.lookPath(name)
	if err != nil {
		return domain.DiagnosticItem{
			ID:      "tool_" + name,
			Name:    name,
			Status:  domain.DiagnosticStatusFail,
			Message: fmt.Sprintf("Tool not found in PATH: %s", name),
			Hint:    "Install it and ensure the binary is available on PATH before running any engine operation.",
		}
	}

	return domain.DiagnosticItem{
		ID:      "tool_" + name,
		Name:    name,
		Status:  domain.DiagnosticStatusPass,
		Message: fmt.Sprintf("Found at %s", path),
	}
}

// checkEngine validates a configured engine script path. Optional
// engines degrade to a warning when unset.
func (c *Checker) checkEngine(id, name, path string, optional bool) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: id, Name: name}

	if strings.TrimSpace(path) == "" {
		if optional {
			item.Status = domain.DiagnosticStatusWarn
			item.Message = fmt.Sprintf("%s is not configured.", name)
			item.Hint = "Operations that need it will be unavailable until the path is set."
			return item
		}
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("%s path is empty.", name)
		item.Hint = "Point the setting at the engine script."
		return item
	}

	info, err := c.stat(path)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		if errors.Is(err, os.ErrNotExist) {
			item.Message = fmt.Sprintf("%s does not exist: %s", name, path)
		} else {
			item.Message = fmt.Sprintf("Cannot access %s: %s", strings.ToLower(name), path)
		}
		item.Hint = "Verify the engine installation and the configured path."
		return item
	}

	if info.IsDir() {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("%s path is a directory: %s", name, path)
		item.Hint = "Point the setting at the engine script file, not its directory."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Engine script found: %s", path)
	return item
}

// checkMediaDir validates the configured media library directory.
func (c *Checker) checkMediaDir(dir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: "media_dir", Name: "Media directory"}

	if strings.TrimSpace(dir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Media directory is empty."
		item.Hint = "Set the directory containing the media files to process."
		return item
	}

	info, err := c.stat(dir)
	if err != nil || !info.IsDir() {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Media directory is not accessible: %s", dir)
		item.Hint = "Create the directory or point the setting at an existing one."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Media directory found: %s", dir)
	return item
}

// checkOutputDir validates output directory existence and write access.
func (c *Checker) checkOutputDir(outputDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: "output_dir", Name: "Output directory"}

	if strings.TrimSpace(outputDir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Output directory is empty."
		item.Hint = "Set an output directory where transcript files can be written."
		return item
	}

	if err := c.mkdirAll(outputDir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create output directory: %s", outputDir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(outputDir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Output directory is not writable: %s", outputDir)
		item.Hint = "Choose a writable directory for transcript export."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", outputDir)
	return item
}

// checkDevice validates the compute device selector.
func (c *Checker) checkDevice(device string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: "device", Name: "Compute device"}

	if device == "" || domain.KnownDevice(device) {
		item.Status = domain.DiagnosticStatusPass
		if device == "" {
			device = "auto"
		}
		item.Message = fmt.Sprintf("Device selector: %s", device)
		return item
	}

	item.Status = domain.DiagnosticStatusFail
	item.Message = fmt.Sprintf("Unknown device selector: %s", device)
	item.Hint = "Use auto, cuda, or cpu."
	return item
}

// checkModels validates the configured model identifiers against the
// known catalog. Unknown models warn instead of failing since the
// engine may carry newer ones.
func (c *Checker) checkModels(settings domain.Settings) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: "models", Name: "Engine models"}

	var unknown []string
	for _, model := range []string{settings.ScanModel, settings.TranscribeModel} {
		if model != "" && !domain.KnownEngineModel(model) {
			unknown = append(unknown, model)
		}
	}

	if len(unknown) > 0 {
		item.Status = domain.DiagnosticStatusWarn
		item.Message = fmt.Sprintf("Unrecognized model identifiers: %s", strings.Join(unknown, ", "))
		item.Hint = "The engine will fail at load time if it does not ship these models."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Models configured: scan=%s transcribe=%s",
		settings.ScanModel, settings.TranscribeModel)
	return item
}

// checkProvider validates the analysis provider and its credentials.
func (c *Checker) checkProvider(settings domain.Settings) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: "provider", Name: "Analysis provider"}

	provider := settings.Provider
	if provider == "" {
		provider = "local"
	}
	if !domain.KnownProvider(provider) {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Unknown analysis provider: %s", provider)
		item.Hint = "Use local, gemini, openai, or claude."
		return item
	}

	if provider != "local" && settings.APIKey == "" {
		item.Status = domain.DiagnosticStatusWarn
		item.Message = fmt.Sprintf("Provider %s is selected but no API key is set.", provider)
		item.Hint = "Export the provider API key in the environment; cloud analysis will fail without it."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Provider: %s", provider)
	return item
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		lookPath:   lookPath,
		stat:       stat,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
	}
}

// IsNotExist reports whether error represents file-not-found.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
