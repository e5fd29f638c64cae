package llm

import (
	"fmt"

	"cosci/internal/config"
)

// NewClient builds a chat client from config. Supported providers: openai
// (and any OpenAI-compatible endpoint via a custom endpoint URL), gemini.
func NewClient(cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "openai", "openai-compatible", "":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.Endpoint,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Timeout:   cfg.GetTimeout(),
		}), nil
	case "gemini", "genai":
		return NewGeminiClient(cfg.APIKey, cfg.Model, cfg.MaxTokens)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", cfg.Provider)
	}
}
