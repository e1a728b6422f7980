package domain

// EngineModelOption describes one whisper model preset the engine accepts.
type EngineModelOption struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	SizeLabel   string `json:"sizeLabel,omitempty"`
	Description string `json:"description,omitempty"`
}

// EngineModelCatalog lists the model IDs the engine's --model flag and
// transcribe commands accept.
var EngineModelCatalog = []EngineModelOption{
	{ID: "tiny.en", Name: "Tiny (English)", SizeLabel: "~75 MB", Description: "Fastest, English-only. Default voice scanner model."},
	{ID: "tiny", Name: "Tiny (Multilingual)", SizeLabel: "~75 MB", Description: "Fastest multilingual model."},
	{ID: "base.en", Name: "Base (English)", SizeLabel: "~142 MB", Description: "Balanced speed/quality, English-only."},
	{ID: "base", Name: "Base (Multilingual)", SizeLabel: "~142 MB", Description: "Balanced speed/quality, multilingual."},
	{ID: "small.en", Name: "Small (English)", SizeLabel: "~466 MB", Description: "Higher quality, English-only."},
	{ID: "small", Name: "Small (Multilingual)", SizeLabel: "~466 MB", Description: "Higher quality multilingual model."},
	{ID: "medium.en", Name: "Medium (English)", SizeLabel: "~1.5 GB", Description: "High quality, English-only."},
	{ID: "medium", Name: "Medium (Multilingual)", SizeLabel: "~1.5 GB", Description: "High quality multilingual model."},
	{ID: "large-v1", Name: "Large v1", SizeLabel: "~2.9 GB", Description: "Legacy large model."},
	{ID: "large-v2", Name: "Large v2", SizeLabel: "~2.9 GB", Description: "High accuracy multilingual model."},
	{ID: "large-v3", Name: "Large v3", SizeLabel: "~2.9 GB", Description: "Best accuracy. Default transcription model."},
}

// KnownEngineModel reports whether the engine recognizes the model ID.
func KnownEngineModel(id string) bool {
	for _, m := range EngineModelCatalog {
		if m.ID == id {
			return true
		}
	}
	return false
}

// KnownDevice reports whether the device selector is one the engine accepts.
func KnownDevice(device string) bool {
	switch device {
	case "auto", "cuda", "cpu":
		return true
	default:
		return false
	}
}

// KnownProvider reports whether the LLM provider is one the engine accepts.
func KnownProvider(provider string) bool {
	switch provider {
	case "local", "gemini", "openai", "claude":
		return true
	default:
		return false
	}
}
