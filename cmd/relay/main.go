package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sungwon/ses-relay/internal/config"
	"github.com/sungwon/ses-relay/internal/logger"
)

var configDir string

func main() {
	rootCmd := &cobra.Command{
		Use:           "relay",
		Short:         "SES inbound mail relay",
		Long:          "Relays mail received by SES from S3 to an SMTP server, driven by SQS notifications",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configDir, "config", "config", "Directory containing config.yaml")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(fetchCmd())
	rootCmd.AddCommand(statusCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "relay: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and builds the process logger. Commands
// that write data to stdout pass stdoutReserved so JSON logs go to stderr.
func loadConfig(stdoutReserved bool) (*config.Config, zerolog.Logger, io.Closer, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, zerolog.Nop(), nil, fmt.Errorf("load config: %w", err)
	}
	if stdoutReserved && (cfg.Logging.Output == "" || cfg.Logging.Output == "stdout") {
		cfg.Logging.Output = "stderr"
	}

	log, closer := logger.NewFromConfig(logger.Config{
		Level:     cfg.Logging.Level,
		Output:    cfg.Logging.Output,
		FilePath:  cfg.Logging.FilePath,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
	})
	return cfg, log, closer, nil
}
