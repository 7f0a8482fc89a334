package dedupe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/sungwon/ses-relay/internal/metrics"
)

// BreakerConfig tunes the circuit breaker around the dedupe store.
type BreakerConfig struct {
	Enabled      bool
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
}

// BreakerStore fails fast with ErrStoreUnavailable once the wrapped store has
// been failing, instead of letting every pipeline pass wait on a dead backend.
type BreakerStore struct {
	store Store
	cb    *gobreaker.CircuitBreaker
}

func NewBreakerStore(store Store, cfg BreakerConfig, logger zerolog.Logger) *BreakerStore {
	const name = "dedupe-store"

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
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

	minRequests := uint32(3)
	if cfg.MinRequests > 0 {
		minRequests = cfg.MinRequests
	}
	ratio := 0.5
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

	return &BreakerStore{store: store, cb: cb}
}

// State reports the breaker state ("closed", "half-open" or "open").
func (b *BreakerStore) State() string {
	return b.cb.State().String()
}

func (b *BreakerStore) execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return result, err
}

type getResult struct {
	value []byte
	found bool
}

func (b *BreakerStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	res, err := b.execute(ctx, func() (interface{}, error) {
		v, ok, err := b.store.Get(ctx, key)
		return getResult{value: v, found: ok}, err
	})
	if err != nil {
		return nil, false, err
	}
	r := res.(getResult)
	return r.value, r.found, nil
}

func (b *BreakerStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := b.execute(ctx, func() (interface{}, error) {
		return nil, b.store.Set(ctx, key, value, ttl)
	})
	return err
}

func (b *BreakerStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	res, err := b.execute(ctx, func() (interface{}, error) {
		return b.store.SetNX(ctx, key, value, ttl)
	})
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

func (b *BreakerStore) Delete(ctx context.Context, key string) error {
	_, err := b.execute(ctx, func() (interface{}, error) {
		return nil, b.store.Delete(ctx, key)
	})
	return err
}

// Ping bypasses the breaker so readiness reflects the backend itself.
func (b *BreakerStore) Ping(ctx context.Context) error {
	return b.store.Ping(ctx)
}
