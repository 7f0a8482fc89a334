package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sungwon/ses-relay/internal/dedupe"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <message-id>",
		Short: "Show whether a message has a live delivery record",
		Args:  cobra.ExactArgs(1),
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
			if err := app.buildGuard(ctx); err != nil {
				return err
			}
			return printDeliveryStatus(ctx, cmd.OutOrStdout(), app.guard, args[0])
		},
	}
}

func printDeliveryStatus(ctx context.Context, w io.Writer, guard *dedupe.Guard, messageID string) error {
	rec, err := guard.Record(ctx, messageID)
	if err != nil {
		return err
	}
	if rec == nil {
		_, err = fmt.Fprintf(w, "%s: no delivery record\n", messageID)
		return err
	}
	_, err = fmt.Fprintf(w, "%s: delivered at %s, receipt %q\n",
		rec.MessageID, rec.DeliveredAt.UTC().Format(time.RFC3339), rec.TransportReceipt)
	return err
}
