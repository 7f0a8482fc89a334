package dedupe

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/ses-relay/internal/metrics"
)

// Purger deletes expired records for backends that keep them until asked.
// Redis expires keys on its own and has no purger.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// PurgerOf returns the purger behind store, looking through a BreakerStore.
func PurgerOf(store Store) (Purger, bool) {
	if b, ok := store.(*BreakerStore); ok {
		store = b.store
	}
	p, ok := store.(Purger)
	return p, ok
}

// RunPurger purges once per interval until ctx is cancelled. A failed purge
// is logged and retried on the next tick.
func RunPurger(ctx context.Context, p Purger, interval time.Duration, logger zerolog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info().Dur("interval", interval).Msg("delivery record purger started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			purgeOnce(ctx, p, logger)
		}
	}
}

func purgeOnce(ctx context.Context, p Purger, logger zerolog.Logger) {
	n, err := p.PurgeExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn().Err(err).Msg("purge of expired delivery records failed")
		}
		return
	}
	metrics.DedupePurgedTotal.Add(float64(n))
	if n > 0 {
		logger.Info().Int64("rows", n).Msg("purged expired delivery records")
	}
}
