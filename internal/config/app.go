package config

import (
	"context"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/sandevgo/percept/pkg/log"
)

type AppConfig struct {
	RuntimePath string `env:"PERCEPT_RUNTIME_PATH" envDefault:".percept"`

	// Ingest and output
	SocketPath string `env:"PERCEPT_SOCKET"`
	EventsPath string `env:"PERCEPT_EVENTS_PATH"`

	// Optional collaborators
	EnableTelegram bool `env:"ENABLE_TELEGRAM" envDefault:"false"`
	EnableSearch   bool `env:"ENABLE_SEARCH" envDefault:"false"`
}

func NewAppConfig(ctx context.Context) *AppConfig {
	c := &AppConfig{}
	if err := env.Parse(c); err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse App config")
	}
	c.RuntimePath = GetRuntimePath()
	return c
}

func (c AppConfig) GetRuntimePath() string {
	return c.RuntimePath
}

func (c AppConfig) GetDatabasePath() string {
	return filepath.Join(c.RuntimePath, "percept.db")
}

func (c AppConfig) GetSettingsPath() string {
	return filepath.Join(c.RuntimePath, "settings.yaml")
}

func (c AppConfig) GetEnvPath() string {
	return filepath.Join(c.RuntimePath, ".env")
}

func (c AppConfig) GetSocketPath() string {
	if c.SocketPath != "" {
		return c.SocketPath
	}
	return filepath.Join(c.RuntimePath, "percept.sock")
}

func (c AppConfig) IsTelegramSelected() bool {
	return c.EnableTelegram
}
