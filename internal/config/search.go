package config

import (
	"context"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sandevgo/percept/pkg/log"
)

type SearchConfig struct {
	URL     string        `env:"SEARCH_URL,required,notEmpty"`
	APIKey  string        `env:"SEARCH_API_KEY"`
	Timeout time.Duration `env:"SEARCH_HTTP_TIMEOUT" envDefault:"10s"`
}

func NewSearchConfig(ctx context.Context) *SearchConfig {
	c := &SearchConfig{}
	if err := env.Parse(c); err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse Search config")
	}
	return c
}
