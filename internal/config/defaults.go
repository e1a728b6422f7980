package config

import (
	"os"
	"path/filepath"

	"media-orchestrator/internal/domain"
)

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		MediaDir:        filepath.Join(homeDir, "Videos"),
		OutputDir:       filepath.Join(homeDir, "Documents", "Transcripts"),
		TranscriptDir:   filepath.Join(homeDir, "Documents", "Transcripts"),
		Device:          "auto",
		ScanModel:       "tiny.en",
		TranscribeModel: "medium.en",
		EmbedModel:      "all-MiniLM-L6-v2",
		Provider:        "local",
		VADThreshold:    0.5,
		UseVAD:          true,
		SkipExisting:    true,
	}
}
