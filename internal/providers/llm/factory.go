package llm

import (
	"context"
	"fmt"

	"github.com/sandevgo/percept/internal/config"
	"github.com/sandevgo/percept/internal/core"
	"github.com/sandevgo/percept/pkg/log"
)

// NewProvider creates the AIProvider selected by configuration.
// It returns nil without error when LLM assistance is disabled.
func NewProvider(ctx context.Context, cfg *config.LLMConfig) (core.AIProvider, error) {
	if !cfg.Enabled() {
		log.FromCtx(ctx).Info().Msg("llm provider disabled")
		return nil, nil
	}

	log.FromCtx(ctx).Info().
		Str("provider", cfg.Provider).
		Str("model", cfg.Model).
		Msg("starting llm provider")

	if cfg.Model == "" {
		return nil, fmt.Errorf("LLM_MODEL is required for provider %s", cfg.Provider)
	}

	switch cfg.Provider {
	case "openai":
		return NewOpenAI(cfg.OpenAIAPIKey, cfg.Model, cfg.Timeout), nil
	case "anthropic":
		return NewAnthropic(cfg.AnthropicAPIKey, cfg.Model, cfg.Timeout), nil
	case "openrouter":
		return NewOpenRouter(cfg.OpenRouterAPIKey, cfg.Model, cfg.Timeout), nil
	case "ollama":
		return NewOllama(cfg.OllamaBaseURL, cfg.OllamaAPIKey, cfg.Model, cfg.Timeout), nil
	case "custom":
		if cfg.CustomOpenAIBaseURL == "" {
			return nil, fmt.Errorf("CUSTOM_OPENAI_BASE_URL is required for the custom provider")
		}
		return NewCustomOpenAI(cfg.CustomOpenAIBaseURL, cfg.CustomOpenAIAPIKey, cfg.Model, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}
