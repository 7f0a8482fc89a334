package transport

import (
	"context"
	"time"

	"github.com/sungwon/ses-relay/internal/metrics"
)

type instrumented struct {
	next Transport
}

// Instrument records send counts and latency for t.
func Instrument(t Transport) Transport {
	return &instrumented{next: t}
}

func (i *instrumented) Name() string { return i.next.Name() }

func (i *instrumented) Send(ctx context.Context, env Envelope, raw []byte) (*Receipt, error) {
	start := time.Now()
	r, err := i.next.Send(ctx, env, raw)
	metrics.TransportSendDuration.WithLabelValues(i.Name()).Observe(time.Since(start).Seconds())

	result := "sent"
	switch {
	case err == nil:
	case IsPermanent(err):
		result = "permanent"
	default:
		result = "transient"
	}
	metrics.TransportSendsTotal.WithLabelValues(i.Name(), result).Inc()
	return r, err
}

func (i *instrumented) HealthCheck(ctx context.Context) error {
	return i.next.HealthCheck(ctx)
}
