package queue

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sungwon/ses-relay/internal/metrics"
	"github.com/sungwon/ses-relay/internal/relay"
)

// Source is the queue the poller drains.
type Source interface {
	ReceiveBatch(ctx context.Context, max int32, wait time.Duration) ([]Delivery, error)
	Acknowledge(ctx context.Context, token string) error
}

// Processor makes one relay attempt for a queue entry body.
type Processor interface {
	Process(ctx context.Context, raw []byte) relay.Outcome
}

// DeadLetterer receives permanently failed entries when the dead-letter
// policy is on.
type DeadLetterer interface {
	Publish(ctx context.Context, d Delivery, out relay.Outcome) error
}

// ItemResult is what happened to one entry of a batch.
type ItemResult struct {
	Delivery     Delivery
	Outcome      relay.Outcome
	Acked        bool
	AckErr       error
	DeadLettered bool
}

// BatchResult collects one ItemResult per received entry, in receive order.
type BatchResult struct {
	Items []ItemResult
}

// Retry reports whether the poll loop should back off before the next
// receive.
func (b BatchResult) Retry() bool {
	for _, it := range b.Items {
		if it.Outcome.Status == relay.Failed && it.Outcome.Transient {
			return true
		}
		var ae *AckError
		if errors.As(it.AckErr, &ae) && ae.Transient {
			return true
		}
	}
	return false
}

// Poller is the receive, process and acknowledge loop around the pipeline.
type Poller struct {
	src  Source
	proc Processor
	dlq  DeadLetterer
	cfg  Config
	log  zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewPoller creates a Poller. dlq may be nil; it is only used when
// cfg.DeadLetterPermanent is set.
func NewPoller(src Source, proc Processor, dlq DeadLetterer, cfg Config, log zerolog.Logger) *Poller {
	cfg.applyDefaults()
	return &Poller{
		src:   src,
		proc:  proc,
		dlq:   dlq,
		cfg:   cfg,
		log:   log.With().Str("component", "poller").Logger(),
		sleep: sleepContext,
	}
}

// Run polls until ctx is cancelled. Entries already being processed when ctx
// is cancelled are finished and acknowledged before Run returns. A
// relay.ConfigurationError stops the loop and is returned.
func (p *Poller) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.BackoffInitial
	bo.MaxInterval = p.cfg.BackoffMax
	bo.Multiplier = 2.0
	bo.MaxElapsedTime = 0
	bo.Reset()

	p.log.Info().
		Int("concurrency", p.cfg.Concurrency).
		Int32("max_messages", p.cfg.MaxMessages).
		Dur("wait_time", p.cfg.WaitTime).
		Msg("poller started")

	for {
		if ctx.Err() != nil {
			p.log.Info().Msg("poller stopped")
			return nil
		}

		res, err := p.PollOnce(ctx)
		if err != nil {
			var ce *relay.ConfigurationError
			if errors.As(err, &ce) {
				return err
			}
			if ctx.Err() != nil {
				continue
			}
			metrics.ReceiveErrorsTotal.Inc()
		}

		if err == nil && !res.Retry() {
			bo.Reset()
			continue
		}

		wait := bo.NextBackOff()
		p.log.Warn().Err(err).Dur("backoff", wait).Msg("backing off before next receive")
		_ = p.sleep(ctx, wait)
	}
}

// PollOnce receives one batch and relays every entry in it concurrently.
// Each entry is acknowledged by its own goroutine as soon as its outcome
// allows, never before.
func (p *Poller) PollOnce(ctx context.Context) (BatchResult, error) {
	batch, err := p.src.ReceiveBatch(ctx, p.cfg.MaxMessages, p.cfg.WaitTime)
	if err != nil {
		return BatchResult{}, err
	}
	metrics.ReceiveBatchSize.Observe(float64(len(batch)))
	if len(batch) == 0 {
		return BatchResult{}, nil
	}

	results := make([]ItemResult, len(batch))
	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for i := range batch {
		g.Go(func() error {
			results[i] = p.handle(ctx, batch[i])
			return nil
		})
	}
	_ = g.Wait()

	res := BatchResult{Items: results}
	for _, it := range results {
		var ce *relay.ConfigurationError
		if errors.As(it.Outcome.Err, &ce) {
			return res, ce
		}
	}
	return res, nil
}

func (p *Poller) handle(parent context.Context, d Delivery) ItemResult {
	// Shutdown must not abandon a send halfway or skip the ack after a
	// confirmed delivery.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), p.cfg.ProcessTimeout)
	defer cancel()

	log := p.log.With().
		Str("sqs_message_id", d.MessageID).
		Int("receive_count", d.ReceiveCount).
		Logger()

	res := ItemResult{Delivery: d}
	res.Outcome = p.proc.Process(ctx, d.Body)

	switch {
	case res.Outcome.Ackable():
	case p.deadLetterable(res.Outcome):
		if err := p.dlq.Publish(ctx, d, res.Outcome); err != nil {
			log.Error().Err(err).Msg("dead-letter publish failed; leaving message on queue")
			return res
		}
		res.DeadLettered = true
	default:
		return res
	}

	if err := p.src.Acknowledge(ctx, d.AckToken); err != nil {
		res.AckErr = err
		metrics.AcksTotal.WithLabelValues("error").Inc()
		log.Error().Err(err).Str("message_id", res.Outcome.MessageID).Msg("acknowledge failed")
		return res
	}
	res.Acked = true
	metrics.AcksTotal.WithLabelValues("ok").Inc()
	log.Debug().Str("message_id", res.Outcome.MessageID).Msg("message acknowledged")
	return res
}

func (p *Poller) deadLetterable(out relay.Outcome) bool {
	if !p.cfg.DeadLetterPermanent || p.dlq == nil {
		return false
	}
	if out.Status != relay.Failed || out.Transient {
		return false
	}
	var ce *relay.ConfigurationError
	return !errors.As(out.Err, &ce)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
