package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirecall/internal/config"
	"github.com/vovakirdan/wirecall/internal/log"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "wirecall",
		Short:         "One-to-one call session manager",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config.yaml")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format (console, json)")

	cmd.AddCommand(newServeCmd(opts), newWatchCmd(opts), newTokenCmd(opts))
	return cmd
}

// load resolves configuration and builds the logger it asks for. Flags in
// overrides win over the file and the environment.
func (o *rootOptions) load(overrides config.Config) (config.Config, *zerolog.Logger, error) {
	boot := log.NewWithWriter(os.Stderr, o.logLevel, o.logFormat)

	cfg, path, err := config.Load(boot, o.configPath)
	if err != nil {
		return cfg, boot, err
	}
	overrides.LogLevel = o.logLevel
	overrides.LogFormat = o.logFormat
	cfg.UpdateFrom(overrides)

	logger := log.NewWithWriter(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	logger.Debug().Str("config", path).Msg("configuration loaded")
	return cfg, logger, nil
}
