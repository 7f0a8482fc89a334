package transport

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// New builds the configured transport with its rate limiter, circuit breaker
// and metrics layers. An empty cfg.Type yields ErrNotConfigured.
func New(cfg Config, logger zerolog.Logger) (Transport, error) {
	if err := cfg.Validate(); err != nil {
		if errors.Is(err, ErrNotConfigured) {
			return nil, err
		}
		return nil, fmt.Errorf("invalid transport config: %w", err)
	}

	var t Transport
	switch cfg.Type {
	case "smtp":
		t = NewSMTP(cfg)
	case "stdout":
		t = NewStdout()
	case "file":
		t = NewFile(cfg.OutputDir)
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", cfg.Type)
	}

	if cfg.RatePerSecond > 0 {
		t = NewLimited(t, cfg.RatePerSecond, cfg.Burst)
	}
	if cfg.Breaker.Enabled {
		t = NewBreaker(t, cfg.Breaker, logger)
	}

	logger.Info().Str("transport", t.Name()).Msg("mail transport configured")
	return Instrument(t), nil
}
