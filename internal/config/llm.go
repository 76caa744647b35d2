package config

import (
	"context"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sandevgo/percept/pkg/log"
)

type LLMConfig struct {
	// none disables every LLM-assisted path
	Provider string        `env:"LLM_PROVIDER" envDefault:"none"`
	Model    string        `env:"LLM_MODEL"`
	Timeout  time.Duration `env:"LLM_HTTP_TIMEOUT" envDefault:"60s"`

	OpenAIAPIKey     string `env:"OPENAI_API_KEY"`
	AnthropicAPIKey  string `env:"ANTHROPIC_API_KEY"`
	OpenRouterAPIKey string `env:"OPENROUTER_API_KEY"`

	OllamaBaseURL string `env:"OLLAMA_BASE_URL" envDefault:"http://localhost:11434"`
	OllamaAPIKey  string `env:"OLLAMA_API_KEY"`

	CustomOpenAIBaseURL string `env:"CUSTOM_OPENAI_BASE_URL"`
	CustomOpenAIAPIKey  string `env:"CUSTOM_OPENAI_API_KEY"`
}

func NewLLMConfig(ctx context.Context) *LLMConfig {
	c := &LLMConfig{}
	if err := env.Parse(c); err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse LLM config")
	}
	return c
}

func (c LLMConfig) Enabled() bool {
	return c.Provider != "" && c.Provider != "none"
}
