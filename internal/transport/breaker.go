package transport

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/sungwon/ses-relay/internal/metrics"
)

// BreakerConfig tunes the circuit breaker in front of a transport.
type BreakerConfig struct {
	Enabled      bool
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
}

// Breaker stops calling a failing transport for a cool-down period. Only
// transient failures count against the breaker; a permanently rejected
// message says nothing about the relay's health.
type Breaker struct {
	next Transport
	cb   *gobreaker.CircuitBreaker
}

func NewBreaker(next Transport, cfg BreakerConfig, logger zerolog.Logger) *Breaker {
	name := "transport-" + next.Name()

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		IsSuccessful: func(err error) bool {
			return err == nil || IsPermanent(err)
		},
	}
	if cfg.MaxRequests > 0 {
		settings.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		settings.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		settings.Timeout = cfg.Timeout
	}

	minRequests := uint32(5)
	if cfg.MinRequests > 0 {
		minRequests = cfg.MinRequests
	}
	ratio := 0.6
	if cfg.FailureRatio > 0 {
		ratio = cfg.FailureRatio
	}
	settings.ReadyToTrip = func(counts gobreaker.Counts) bool {
		if counts.Requests < minRequests {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
	}
	settings.OnStateChange = func(name string, from, to gobreaker.State) {
		metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		logger.Warn().
			Str("breaker", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("circuit breaker state changed")
	}

	cb := gobreaker.NewCircuitBreaker(settings)
	metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(cb.State()))
	return &Breaker{next: next, cb: cb}
}

func (b *Breaker) Name() string { return b.next.Name() }

// State reports the breaker state ("closed", "half-open" or "open").
func (b *Breaker) State() string { return b.cb.State().String() }

func (b *Breaker) Send(ctx context.Context, env Envelope, raw []byte) (*Receipt, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Send(ctx, env, raw)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &Error{Transport: b.Name(), Message: "circuit breaker " + b.State(), Err: err}
	}
	if err != nil {
		return nil, err
	}
	return res.(*Receipt), nil
}

func (b *Breaker) HealthCheck(ctx context.Context) error {
	return b.next.HealthCheck(ctx)
}
