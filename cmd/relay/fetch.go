package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sungwon/ses-relay/internal/notification"
)

func fetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <bucket> <key>",
		Short: "Fetch and decrypt a stored message, writing the MIME to stdout",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, closer, err := loadConfig(true)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			app := NewApp(cfg, log)
			defer app.Close()
			fetcher, err := app.buildFetcher(ctx)
			if err != nil {
				return err
			}

			plain, err := fetcher.Fetch(ctx, notification.Locator{Container: args[0], Key: args[1]})
			if err != nil {
				return fmt.Errorf("fetch %s/%s: %w", args[0], args[1], err)
			}
			_, err = cmd.OutOrStdout().Write(plain)
			return err
		},
	}
}
