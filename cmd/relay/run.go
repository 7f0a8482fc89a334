package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll the notification queue and relay received mail",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, closer, err := loadConfig(false)
			if err != nil {
				return err
			}
			defer closer.Close()

			if err := cfg.Validate(); err != nil {
				log.Error().Err(err).Msg("invalid configuration")
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.Info().Msg("starting ses relay")

			app := NewApp(cfg, log)
			defer app.Close()
			if err := app.Initialize(ctx); err != nil {
				log.Error().Err(err).Msg("failed to initialize relay")
				return err
			}

			if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("relay stopped with error")
				return err
			}
			log.Info().Msg("relay shutdown complete")
			return nil
		},
	}
}
