package llm

import "strings"

// ModelInfo describes a known model in the catalog.
type ModelInfo struct {
	ID            string   `json:"id"`
	Provider      string   `json:"provider"`
	DisplayName   string   `json:"display_name"`
	ContextWindow int      `json:"context_window"`
	SupportsTools bool     `json:"supports_tools"`
	Aliases       []string `json:"aliases,omitempty"`
}

// Models is the built-in model catalog. The first entry per provider is
// that provider's default.
var Models = []ModelInfo{
	// OpenAI
	{
		ID: "gpt-4o", Provider: "openai", DisplayName: "GPT-4o",
		ContextWindow: 128000, SupportsTools: true,
		Aliases: []string{"gpt-4", "gpt4"},
	},
	{
		ID: "gpt-4o-mini", Provider: "openai", DisplayName: "GPT-4o Mini",
		ContextWindow: 128000, SupportsTools: true,
		Aliases: []string{"gpt-3.5", "gpt-4-mini"},
	},
	{
		ID: "gpt-4-turbo", Provider: "openai", DisplayName: "GPT-4 Turbo",
		ContextWindow: 128000, SupportsTools: true,
		Aliases: []string{"gpt-4-turbo-preview"},
	},

	// Anthropic
	{
		ID: "claude-sonnet-4-5", Provider: "anthropic", DisplayName: "Claude Sonnet 4.5",
		ContextWindow: 200000, SupportsTools: true,
		Aliases: []string{"sonnet", "claude-sonnet"},
	},
	{
		ID: "claude-opus-4-1", Provider: "anthropic", DisplayName: "Claude Opus 4.1",
		ContextWindow: 200000, SupportsTools: true,
		Aliases: []string{"opus", "claude-opus"},
	},
	{
		ID: "claude-3-5-haiku-latest", Provider: "anthropic", DisplayName: "Claude Haiku 3.5",
		ContextWindow: 200000, SupportsTools: true,
		Aliases: []string{"haiku", "claude-haiku"},
	},

	// Local models through Ollama.
	{
		ID: "llama3.1", Provider: "ollama", DisplayName: "Llama 3.1",
		ContextWindow: 128000, SupportsTools: true,
		Aliases: []string{"llama", "ollama/llama3.1"},
	},
	{
		ID: "mistral", Provider: "ollama", DisplayName: "Mistral",
		ContextWindow: 32000,
		Aliases: []string{"ollama/mistral"},
	},
}

// GetModelInfo returns the catalog entry for a model id or alias, or nil if
// unknown.
func GetModelInfo(modelID string) *ModelInfo {
	for i := range Models {
		if Models[i].ID == modelID {
			return &Models[i]
		}
		for _, alias := range Models[i].Aliases {
			if alias == modelID {
				return &Models[i]
			}
		}
	}
	return nil
}

// ResolveModel maps an alias to its canonical id. Unknown names are returned
// unchanged.
func ResolveModel(model string) string {
	if info := GetModelInfo(model); info != nil {
		return info.ID
	}
	return model
}

// InferProvider guesses the provider of a model. Catalog entries win; then
// well-known name prefixes; "" when nothing matches.
func InferProvider(model string) string {
	if info := GetModelInfo(model); info != nil {
		return info.Provider
	}
	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "ollama/"):
		return "ollama"
	case strings.Contains(lower, "claude"):
		return "anthropic"
	case strings.HasPrefix(lower, "gpt"), strings.HasPrefix(lower, "o1"), strings.HasPrefix(lower, "o3"):
		return "openai"
	}
	return ""
}

// DefaultModel returns the first catalog model for a provider, or "".
func DefaultModel(provider string) string {
	for _, m := range Models {
		if m.Provider == provider {
			return m.ID
		}
	}
	return ""
}
