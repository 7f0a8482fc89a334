// Package dedupe remembers which inbound messages have already been handed to
// the mail transport so queue redeliveries are not sent twice.
package dedupe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sungwon/ses-relay/internal/storage"
)

// ErrStoreUnavailable is returned by BreakerStore while its circuit is open.
var ErrStoreUnavailable = errors.New("dedupe: store unavailable")

// Store is a durable key-value store with per-key expiry. Expired keys must
// behave exactly like absent keys.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// Config selects and configures a Store backend.
type Config struct {
	Type          string // "redis" or "postgres"
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	DatabaseURL   string
	Breaker       BreakerConfig
}

// New builds the configured Store, wrapped in a circuit breaker when enabled.
// The returned close function releases the backend's connections.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (Store, func(), error) {
	var (
		store   Store
		closeFn func()
	)

	switch cfg.Type {
	case "redis", "":
		if cfg.Type == "" {
			logger.Warn().Msg("dedupe.type is empty, defaulting to redis")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		store = NewRedisStore(client)
		closeFn = func() { _ = client.Close() }
		logger.Info().Str("addr", cfg.RedisAddr).Msg("using redis dedupe store")

	case "postgres":
		db, err := storage.NewDB(ctx, cfg.DatabaseURL, 1, 4, 10*time.Second)
		if err != nil {
			return nil, nil, fmt.Errorf("connect dedupe database: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate dedupe database: %w", err)
		}
		pg := NewPostgresStore(db)
		purgeOnce(ctx, pg, logger)
		store = pg
		closeFn = db.Close
		logger.Info().Msg("using postgres dedupe store")

	default:
		return nil, nil, fmt.Errorf("unsupported dedupe type: %q", cfg.Type)
	}

	if cfg.Breaker.Enabled {
		store = NewBreakerStore(store, cfg.Breaker, logger)
	}
	return store, closeFn, nil
}
