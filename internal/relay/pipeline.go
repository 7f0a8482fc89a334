// Package relay runs one inbound notification through fetch, decrypt,
// dedupe and delivery, and reports whether its queue entry may be removed.
package relay

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/ses-relay/internal/envelope"
	"github.com/sungwon/ses-relay/internal/logger"
	"github.com/sungwon/ses-relay/internal/metrics"
	"github.com/sungwon/ses-relay/internal/notification"
	"github.com/sungwon/ses-relay/internal/transport"
)

// Fetcher returns the plaintext of a stored message. Satisfied by
// *objectstore.Fetcher.
type Fetcher interface {
	Fetch(ctx context.Context, loc notification.Locator) ([]byte, error)
}

// Guard is the delivery record store. Satisfied by *dedupe.Guard.
type Guard interface {
	HasDelivered(ctx context.Context, messageID string) (bool, error)
	RecordDelivered(ctx context.Context, messageID, receipt string) error
	Claim(ctx context.Context, messageID string) error
	Release(ctx context.Context, messageID string) error
}

const defaultRecordTimeout = 10 * time.Second

// Pipeline processes queue payloads one at a time per call. It is safe for
// concurrent use across different messages.
type Pipeline struct {
	fetcher       Fetcher
	guard         Guard
	transport     transport.Transport
	log           zerolog.Logger
	recordTimeout time.Duration
}

// NewPipeline wires the pipeline's collaborators. tr may be nil, in which
// case every delivered-message notification fails with a
// *ConfigurationError before anything is fetched.
func NewPipeline(fetcher Fetcher, guard Guard, tr transport.Transport, log zerolog.Logger, recordTimeout time.Duration) *Pipeline {
	if recordTimeout <= 0 {
		recordTimeout = defaultRecordTimeout
	}
	return &Pipeline{
		fetcher:       fetcher,
		guard:         guard,
		transport:     tr,
		log:           log.With().Str("component", "pipeline").Logger(),
		recordTimeout: recordTimeout,
	}
}

// Process makes a single attempt at relaying raw. It never retries, sleeps
// or acknowledges; the caller acts on the returned Outcome.
func (p *Pipeline) Process(ctx context.Context, raw []byte) Outcome {
	start := time.Now()

	id := logger.CorrelationIDFromContext(ctx)
	if id == "" {
		id = logger.NewCorrelationID()
		ctx = logger.WithCorrelationID(ctx, id)
	}
	ctx = logger.WithLogger(ctx, p.log)
	log := logger.FromContext(ctx)

	out := p.process(ctx, raw)

	metrics.ProcessDuration.Observe(time.Since(start).Seconds())
	metrics.MessagesTotal.WithLabelValues(out.Status.String()).Inc()
	if out.Status == Failed {
		metrics.FailuresTotal.WithLabelValues(string(out.Stage), strconv.FormatBool(out.Transient)).Inc()
	}

	var ev *zerolog.Event
	switch out.Status {
	case Failed:
		ev = log.Error().Err(out.Err).Str("stage", string(out.Stage)).Bool("transient", out.Transient)
	case Dropped:
		if out.Err != nil {
			ev = log.Warn().Err(out.Err)
		} else {
			ev = log.Info()
		}
		ev = ev.Str("stage", string(out.Stage))
	default:
		ev = log.Info()
	}
	ev.Str("message_id", out.MessageID).
		Str("outcome", out.Status.String()).
		Dur("duration", time.Since(start)).
		Msg("message processed")

	return out
}

func (p *Pipeline) process(ctx context.Context, raw []byte) Outcome {
	log := logger.FromContext(ctx)

	n, err := notification.Parse(raw)
	if err != nil {
		return Outcome{Status: Dropped, Stage: StageParse, Err: err}
	}
	if n.Type != notification.EventDelivered {
		log.Debug().Str("notification_type", n.RawType).Msg("ignoring notification")
		return Outcome{Status: Dropped, Stage: StageFilter, MessageID: n.MessageID}
	}

	fail := func(stage Stage, err error) Outcome {
		return Outcome{Status: Failed, Stage: stage, MessageID: n.MessageID, Err: err, Transient: IsTransient(err)}
	}

	if p.transport == nil {
		return fail(StageConfig, &ConfigurationError{Err: transport.ErrNotConfigured})
	}

	// Stored without the correlation ID; FromContext attaches it.
	ctx = logger.WithLogger(ctx, p.log.With().
		Str("message_id", n.MessageID).
		Str("bucket", n.Object.Container).
		Str("key", n.Object.Key).
		Logger())
	log = logger.FromContext(ctx)

	body, err := p.fetcher.Fetch(ctx, n.Object)
	if err != nil {
		var de *envelope.DecryptError
		if errors.As(err, &de) {
			return fail(StageDecrypt, err)
		}
		return fail(StageFetch, err)
	}

	done, err := p.guard.HasDelivered(ctx, n.MessageID)
	if err != nil {
		return fail(StageDedupe, err)
	}
	if done {
		return Outcome{Status: AlreadyDelivered, MessageID: n.MessageID}
	}

	if err := p.guard.Claim(ctx, n.MessageID); err != nil {
		return fail(StageDedupe, err)
	}
	keepClaim := false
	defer func() {
		if keepClaim {
			return
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.recordTimeout)
		defer cancel()
		if err := p.guard.Release(rctx, n.MessageID); err != nil {
			log.Warn().Err(err).Msg("failed to release in-flight claim")
		}
	}()

	// A pass that finished between our first lookup and the claim has
	// already recorded its delivery.
	done, err = p.guard.HasDelivered(ctx, n.MessageID)
	if err != nil {
		return fail(StageDedupe, err)
	}
	if done {
		return Outcome{Status: AlreadyDelivered, MessageID: n.MessageID}
	}

	env := transport.Envelope{ID: n.MessageID, From: n.Envelope.From, To: n.Envelope.To}
	receipt, err := p.transport.Send(ctx, env, body)
	if err != nil {
		return fail(StageSend, err)
	}
	log.Debug().
		Str("transport", receipt.Transport).
		Str("response", receipt.Response).
		Strs("rejected", receipt.Rejected).
		Msg("transport accepted message")

	// The send is confirmed; record it even if the caller has given up.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.recordTimeout)
	defer cancel()
	if err := p.guard.RecordDelivered(rctx, n.MessageID, receipt.String()); err != nil {
		// The message is out. Reporting Failed would get it redelivered and
		// sent again, so report Delivered and keep the claim. The claim only
		// blocks a re-send for claim_ttl (5m by default), not for the dedupe
		// TTL; a redelivery after that is sent a second time.
		keepClaim = true
		metrics.FailuresTotal.WithLabelValues(string(StageRecord), "true").Inc()
		log.Error().Err(err).Msg("delivered but failed to record delivery")
	}

	return Outcome{Status: Delivered, MessageID: n.MessageID, Receipt: receipt}
}
