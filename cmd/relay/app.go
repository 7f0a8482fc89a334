package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sungwon/ses-relay/internal/api"
	"github.com/sungwon/ses-relay/internal/config"
	"github.com/sungwon/ses-relay/internal/dedupe"
	"github.com/sungwon/ses-relay/internal/envelope"
	"github.com/sungwon/ses-relay/internal/objectstore"
	"github.com/sungwon/ses-relay/internal/queue"
	"github.com/sungwon/ses-relay/internal/relay"
	"github.com/sungwon/ses-relay/internal/transport"
)

// App owns the relay's collaborators for the lifetime of the process.
type App struct {
	cfg *config.Config
	log zerolog.Logger

	guard     *dedupe.Guard
	purger    dedupe.Purger
	transport transport.Transport
	health    *transport.HealthChecker
	poller    *queue.Poller
	server    *http.Server

	closers []func()
}

func NewApp(cfg *config.Config, log zerolog.Logger) *App {
	return &App{cfg: cfg, log: log}
}

// Initialize builds every collaborator. A missing mail transport is not an
// error here; the pipeline reports it for the first received message.
func (a *App) Initialize(ctx context.Context) error {
	fetcher, err := a.buildFetcher(ctx)
	if err != nil {
		return err
	}

	if err := a.buildGuard(ctx); err != nil {
		return err
	}

	tr, err := transport.New(transportConfig(a.cfg), a.log)
	switch {
	case errors.Is(err, transport.ErrNotConfigured):
		a.log.Warn().Msg("no mail transport configured; received messages will fail with a configuration error")
	case err != nil:
		return fmt.Errorf("create transport: %w", err)
	default:
		a.transport = tr
		a.health = transport.NewHealthChecker(tr)
	}

	pipeline := relay.NewPipeline(fetcher, a.guard, a.transport, a.log, a.cfg.Dedupe.RecordTimeout)

	qcfg := queueConfig(a.cfg)
	src, err := queue.NewSQSSource(ctx, qcfg, a.log)
	if err != nil {
		return fmt.Errorf("create queue source: %w", err)
	}
	var dlq queue.DeadLetterer
	if qcfg.DLQURL != "" {
		dlq = queue.NewSQSDeadLetter(src, qcfg.DLQURL, a.log)
	}
	a.poller = queue.NewPoller(src, pipeline, dlq, qcfg, a.log)

	if a.cfg.Admin.Enabled {
		a.server = &http.Server{
			Addr:         a.cfg.Admin.Addr(),
			Handler:      api.NewRouter(a.log, a.readinessChecks()...),
			ReadTimeout:  a.cfg.Admin.ReadTimeout,
			WriteTimeout: a.cfg.Admin.WriteTimeout,
		}
	}
	return nil
}

// buildGuard opens the dedupe store. Backends that keep expired rows get a
// purger when dedupe.purge_interval is set.
func (a *App) buildGuard(ctx context.Context) error {
	store, closeStore, err := dedupe.New(ctx, dedupeConfig(a.cfg), a.log)
	if err != nil {
		return fmt.Errorf("create dedupe store: %w", err)
	}
	a.closers = append(a.closers, closeStore)
	a.guard = dedupe.NewGuard(store, dedupe.Options{
		TTL:       a.cfg.Dedupe.TTL,
		ClaimTTL:  a.cfg.Dedupe.ClaimTTL,
		KeyPrefix: a.cfg.Dedupe.KeyPrefix,
	}, a.log)
	if p, ok := dedupe.PurgerOf(store); ok && a.cfg.Dedupe.PurgeInterval > 0 {
		a.purger = p
	}
	return nil
}

// buildFetcher wires the blob store and the KMS-backed decryptor.
func (a *App) buildFetcher(ctx context.Context) (*objectstore.Fetcher, error) {
	blobs, err := objectstore.New(ctx, objectstore.Config{
		Type:     a.cfg.Storage.Type,
		Path:     a.cfg.Storage.Path,
		Region:   a.cfg.Storage.Region,
		Endpoint: a.cfg.Storage.Endpoint,
	}, a.log)
	if err != nil {
		return nil, fmt.Errorf("create blob store: %w", err)
	}

	keys, err := envelope.NewKMSUnwrapperFromConfig(ctx, envelope.KMSConfig{
		Region:   a.cfg.KMS.Region,
		Endpoint: a.cfg.KMS.Endpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("create kms client: %w", err)
	}

	return objectstore.NewFetcher(blobs, envelope.NewDecryptor(keys, a.log), a.log), nil
}

func (a *App) readinessChecks() []api.ReadinessCheck {
	return []api.ReadinessCheck{
		{Name: "dedupe", Check: a.guard.Ping},
		{Name: "transport", Check: func(context.Context) error {
			if a.health == nil {
				return transport.ErrNotConfigured
			}
			return a.health.Err()
		}},
	}
}

// Run polls until ctx is cancelled or the poller stops with an error.
func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	if a.health != nil {
		a.health.Start()
		defer a.health.Stop()
	}

	if a.server != nil {
		g.Go(func() error {
			a.log.Info().Str("addr", a.server.Addr).Msg("admin server starting")
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
			defer cancel()
			return a.server.Shutdown(shutdownCtx)
		})
	}

	if a.purger != nil {
		g.Go(func() error {
			return dedupe.RunPurger(gCtx, a.purger, a.cfg.Dedupe.PurgeInterval, a.log)
		})
	}

	g.Go(func() error {
		return a.poller.Run(gCtx)
	})

	return g.Wait()
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Relay.ShutdownTimeout > 0 {
		return a.cfg.Relay.ShutdownTimeout
	}
	return 30 * time.Second
}

// Close releases backend connections.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func queueConfig(cfg *config.Config) queue.Config {
	return queue.Config{
		QueueURL:            cfg.Queue.SQSQueueURL,
		DLQURL:              cfg.Queue.DLQURL,
		Region:              cfg.Queue.Region,
		Endpoint:            cfg.Queue.Endpoint,
		MaxMessages:         cfg.Queue.MaxMessages,
		WaitTime:            time.Duration(cfg.Queue.WaitTimeSeconds) * time.Second,
		VisibilityTimeout:   cfg.Queue.VisibilityTimeout,
		DeadLetterPermanent: cfg.Queue.DeadLetterPermanent,
		Concurrency:         cfg.Relay.Concurrency,
		ProcessTimeout:      cfg.Relay.ProcessTimeout,
		BackoffInitial:      cfg.Relay.BackoffInitial,
		BackoffMax:          cfg.Relay.BackoffMax,
	}
}

func transportConfig(cfg *config.Config) transport.Config {
	t := cfg.Transport
	return transport.Config{
		Type:               t.Type,
		Host:               t.Host,
		Port:               t.Port,
		Username:           t.Username,
		Password:           t.Password,
		TLS:                t.TLS,
		InsecureSkipVerify: t.InsecureSkipVerify,
		HELO:               t.HELO,
		Timeout:            t.Timeout,
		OutputDir:          t.OutputDir,
		RatePerSecond:      t.RatePerSecond,
		Burst:              t.Burst,
		Breaker:            transport.BreakerConfig(t.Breaker),
	}
}

func dedupeConfig(cfg *config.Config) dedupe.Config {
	d := cfg.Dedupe
	return dedupe.Config{
		Type:          d.Type,
		RedisAddr:     d.RedisAddr,
		RedisPassword: d.RedisPassword,
		RedisDB:       d.RedisDB,
		DatabaseURL:   d.DatabaseURL,
		Breaker:       dedupe.BreakerConfig(d.Breaker),
	}
}
