package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirecall/internal/app"
	"github.com/vovakirdan/wirecall/internal/config"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var flags config.Config

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the call manager daemon and its control API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load(flags)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(&cfg, logger)
			if err != nil {
				return err
			}

			logger.Info().Str("addr", cfg.Addr).Str("signaling", cfg.Signaling.URL).Msg("starting wirecall")
			if err := application.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			logger.Info().Msg("wirecall stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.Addr, "addr", "", "control API listen address")
	cmd.Flags().DurationVar(&flags.ReadHeaderTimeout, "read-header-timeout", 0, "HTTP read header timeout")
	cmd.Flags().DurationVar(&flags.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")
	cmd.Flags().StringVar(&flags.DatabasePath, "db", "", "call history database path")
	cmd.Flags().StringVar(&flags.Signaling.URL, "signaling-url", "", "signaling server websocket URL")
	return cmd
}
