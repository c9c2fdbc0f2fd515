package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Mastinoo/Invictusmessages/internal/config"
)

const (
	defaultConfigPath = "config.yaml"
	configPathEnv     = "INVICTUS_CONFIG_PATH"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "invictusmessages",
		Short:         "Discord bot that forwards messages between channels",
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (default $"+configPathEnv+" or "+defaultConfigPath+")")

	root.AddCommand(newServeCmd(&configPath), newMappingsCmd(&configPath))
	return root
}

// loadConfig reads .env, the YAML file and environment overrides, in that
// order. A missing config file falls back to defaults.
func loadConfig(path string, logger *slog.Logger) (*config.Config, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path == "" {
		path = defaultConfigPath
	}

	cfg, err := config.LoadConfigWithDefaults(path)
	if err != nil {
		logger.Warn("config file not loaded, using defaults", "path", path, "error", err)
		cfg = config.DefaultConfig()
	} else {
		logger.Info("config loaded", "path", path)
	}

	if err := config.ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger from the logging config.
func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
