package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sandevgo/percept/internal/config"
	"github.com/sandevgo/percept/pkg/env"
	"github.com/sandevgo/percept/pkg/log"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the runtime directory with a default .env and settings file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var flushLog func()
		ctx, flushLog = setupLogger(ctx)
		defer flushLog()

		logger := log.FromCtx(ctx)
		runtimePath := config.GetRuntimePath()
		if err := os.MkdirAll(runtimePath, 0755); err != nil {
			return fmt.Errorf("create runtime dir: %w", err)
		}

		envPath := filepath.Join(runtimePath, ".env")
		if err := writeIfAbsent(envPath, initForce, func() error {
			content, err := env.MarshalEnv(
				&config.AppConfig{},
				&config.LLMConfig{},
				&config.SearchConfig{},
				&config.TelegramConfig{},
			)
			if err != nil {
				return err
			}
			return os.WriteFile(envPath, []byte(content), 0600)
		}); err != nil {
			return err
		}

		settingsPath := filepath.Join(runtimePath, "settings.yaml")
		if err := writeIfAbsent(settingsPath, initForce, func() error {
			return config.WriteDefaultSettings(settingsPath)
		}); err != nil {
			return err
		}

		logger.Info().Msgf("initialized runtime directory at: %s", runtimePath)
		logger.Info().Msg("You can now run 'percept start'.")
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite existing files")
	rootCmd.AddCommand(initCmd)
}

func writeIfAbsent(path string, force bool, write func() error) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists, use --force to overwrite", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	if err := write(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
