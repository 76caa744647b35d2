package config

import (
	"context"

	"github.com/caarlos0/env/v11"
	"github.com/sandevgo/percept/pkg/log"
)

type TelegramConfig struct {
	Token   string `env:"TELEGRAM_TOKEN,required,notEmpty"`
	OwnerID int64  `env:"TELEGRAM_OWNER_ID,required"`
	// Summaries are silent by default, human_required actions always notify
	SilentSummaries bool `env:"TELEGRAM_SILENT_SUMMARIES" envDefault:"true"`
}

func NewTelegramConfig(ctx context.Context) *TelegramConfig {
	c := &TelegramConfig{}
	if err := env.Parse(c); err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse Telegram config")
	}
	return c
}
