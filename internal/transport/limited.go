package transport

import (
	"context"

	"golang.org/x/time/rate"
)

// Limited caps the send rate of the wrapped transport.
type Limited struct {
	next    Transport
	limiter *rate.Limiter
}

// NewLimited allows perSecond sends per second with the given burst. A burst
// below one is raised to one.
func NewLimited(next Transport, perSecond float64, burst int) *Limited {
	if burst < 1 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *Limited) Name() string { return l.next.Name() }

func (l *Limited) Send(ctx context.Context, env Envelope, raw []byte) (*Receipt, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, &Error{Transport: l.Name(), Message: "rate limit wait: " + err.Error(), Err: err}
	}
	return l.next.Send(ctx, env, raw)
}

func (l *Limited) HealthCheck(ctx context.Context) error {
	return l.next.HealthCheck(ctx)
}
