// Package transport hands decrypted messages to the downstream mail system.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrNotConfigured is returned when no mail transport has been configured.
var ErrNotConfigured = errors.New("transport: no mail transport configured")

// Envelope is the SMTP envelope for one message. ID is the inbound message
// identifier, used for receipts and file names.
type Envelope struct {
	ID   string
	From string
	To   []string
}

// Receipt describes a message the transport has accepted.
type Receipt struct {
	Transport string
	MessageID string
	Response  string
	Accepted  []string
	Rejected  []string
	Timestamp time.Time
}

// String returns the transport's own acceptance text, falling back to the
// message identifier.
func (r *Receipt) String() string {
	if r == nil {
		return ""
	}
	if r.Response != "" {
		return r.Response
	}
	return r.MessageID
}

// Transport delivers a raw RFC 5322 message to the envelope recipients.
type Transport interface {
	// Send returns a receipt only once the downstream system has accepted
	// the message.
	Send(ctx context.Context, env Envelope, raw []byte) (*Receipt, error)
	// Name returns the transport's identifier (e.g., "smtp", "file").
	Name() string
	// HealthCheck verifies the transport is reachable.
	HealthCheck(ctx context.Context) error
}
