package models

import (
	"context"
	"fmt"
	"strings"
)

// Config selects and configures a tool-calling provider.
type Config struct {
	Provider  string // openrouter|openai|anthropic|ollama|dummy
	Model     string
	BaseURL   string
	APIKey    string
	MaxTokens int
}

// NewLLMProvider returns a concrete ToolCallingModel.
func NewLLMProvider(_ context.Context, cfg Config) (ToolCallingModel, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "openrouter":
		base := cfg.BaseURL
		if base == "" {
			base = DefaultOpenRouterBaseURL
		}
		m := NewOpenAIModel(defaultString(cfg.Model, "anthropic/claude-3.5-sonnet"), base, cfg.APIKey)
		m.MaxTokens = cfg.MaxTokens
		return m, nil
	case "openai":
		m := NewOpenAIModel(defaultString(cfg.Model, "gpt-4o-mini"), cfg.BaseURL, cfg.APIKey)
		m.MaxTokens = cfg.MaxTokens
		return m, nil
	case "anthropic", "claude":
		m := NewAnthropicModel(cfg.Model, cfg.BaseURL, cfg.APIKey)
		if cfg.MaxTokens > 0 {
			m.MaxTokens = cfg.MaxTokens
		}
		return m, nil
	case "ollama":
		return NewOllamaModel(cfg.Model, cfg.BaseURL)
	case "", "dummy":
		return NewDummyModel(""), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}

func defaultString(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
