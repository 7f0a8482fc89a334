package dedupe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/ses-relay/internal/metrics"
)

// ErrInFlight means another pipeline pass currently holds the claim for the
// same message identifier.
var ErrInFlight = errors.New("dedupe: message delivery already in flight")

const (
	DefaultTTL       = time.Hour
	DefaultClaimTTL  = 5 * time.Minute
	DefaultKeyPrefix = "relay:"
)

// DeliveryRecord is what the guard persists once the transport accepted a
// message.
type DeliveryRecord struct {
	MessageID        string    `json:"messageId"`
	DeliveredAt      time.Time `json:"deliveredAt"`
	TransportReceipt string    `json:"transportReceipt,omitempty"`
}

// Options configures a Guard. Zero values fall back to the defaults above.
type Options struct {
	TTL       time.Duration
	ClaimTTL  time.Duration
	KeyPrefix string
	Now       func() time.Time
}

// Guard tracks delivered message identifiers with a bounded retention window.
type Guard struct {
	store    Store
	ttl      time.Duration
	claimTTL time.Duration
	prefix   string
	now      func() time.Time
	logger   zerolog.Logger
}

func NewGuard(store Store, opts Options, logger zerolog.Logger) *Guard {
	g := &Guard{
		store:    store,
		ttl:      opts.TTL,
		claimTTL: opts.ClaimTTL,
		prefix:   opts.KeyPrefix,
		now:      opts.Now,
		logger:   logger.With().Str("component", "dedupe").Logger(),
	}
	if g.ttl <= 0 {
		g.ttl = DefaultTTL
	}
	if g.claimTTL <= 0 {
		g.claimTTL = DefaultClaimTTL
	}
	if g.prefix == "" {
		g.prefix = DefaultKeyPrefix
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

func (g *Guard) deliveredKey(messageID string) string { return g.prefix + "delivered:" + messageID }
func (g *Guard) inflightKey(messageID string) string  { return g.prefix + "inflight:" + messageID }

// HasDelivered reports whether a live delivery record exists for messageID.
func (g *Guard) HasDelivered(ctx context.Context, messageID string) (bool, error) {
	_, found, err := g.store.Get(ctx, g.deliveredKey(messageID))
	switch {
	case err != nil:
		metrics.DedupeLookupsTotal.WithLabelValues("error").Inc()
		return false, fmt.Errorf("lookup delivery record %s: %w", messageID, err)
	case found:
		metrics.DedupeLookupsTotal.WithLabelValues("hit").Inc()
	default:
		metrics.DedupeLookupsTotal.WithLabelValues("miss").Inc()
	}
	return found, nil
}

// Record returns the stored delivery record for messageID, if live.
func (g *Guard) Record(ctx context.Context, messageID string) (*DeliveryRecord, error) {
	raw, found, err := g.store.Get(ctx, g.deliveredKey(messageID))
	if err != nil {
		return nil, fmt.Errorf("lookup delivery record %s: %w", messageID, err)
	}
	if !found {
		return nil, nil
	}
	var rec DeliveryRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode delivery record %s: %w", messageID, err)
	}
	return &rec, nil
}

// RecordDelivered persists a delivery record whose retention window starts
// now. Call it only after the transport has accepted the message.
func (g *Guard) RecordDelivered(ctx context.Context, messageID, receipt string) error {
	rec := DeliveryRecord{
		MessageID:        messageID,
		DeliveredAt:      g.now().UTC(),
		TransportReceipt: receipt,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode delivery record: %w", err)
	}
	if err := g.store.Set(ctx, g.deliveredKey(messageID), raw, g.ttl); err != nil {
		return fmt.Errorf("store delivery record %s: %w", messageID, err)
	}
	g.logger.Debug().Str("message_id", messageID).Dur("ttl", g.ttl).Msg("delivery recorded")
	return nil
}

// Claim marks messageID as being delivered. It returns ErrInFlight if another
// pass holds an unexpired claim. Claims expire on their own, so a crashed
// holder blocks redelivery for at most the claim TTL.
func (g *Guard) Claim(ctx context.Context, messageID string) error {
	ok, err := g.store.SetNX(ctx, g.inflightKey(messageID), []byte(g.now().UTC().Format(time.RFC3339Nano)), g.claimTTL)
	if err != nil {
		return fmt.Errorf("claim %s: %w", messageID, err)
	}
	if !ok {
		return ErrInFlight
	}
	return nil
}

// Release drops the in-flight claim for messageID.
func (g *Guard) Release(ctx context.Context, messageID string) error {
	if err := g.store.Delete(ctx, g.inflightKey(messageID)); err != nil {
		return fmt.Errorf("release claim %s: %w", messageID, err)
	}
	return nil
}

// Ping checks the backing store.
func (g *Guard) Ping(ctx context.Context) error {
	return g.store.Ping(ctx)
}
