package relay

import (
	"errors"

	"github.com/sungwon/ses-relay/internal/envelope"
	"github.com/sungwon/ses-relay/internal/notification"
	"github.com/sungwon/ses-relay/internal/objectstore"
	"github.com/sungwon/ses-relay/internal/transport"
)

// Status is the result class of one pipeline pass.
type Status int

const (
	Delivered Status = iota + 1
	AlreadyDelivered
	Dropped
	Failed
)

func (s Status) String() string {
	switch s {
	case Delivered:
		return "delivered"
	case AlreadyDelivered:
		return "already_delivered"
	case Dropped:
		return "dropped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Stage names the pipeline step an outcome was decided at.
type Stage string

const (
	StageParse   Stage = "parse"
	StageFilter  Stage = "filter"
	StageConfig  Stage = "config"
	StageFetch   Stage = "fetch"
	StageDecrypt Stage = "decrypt"
	StageDedupe  Stage = "dedupe"
	StageSend    Stage = "send"
	StageRecord  Stage = "record"
)

// Outcome reports what one pipeline pass did with a queue message.
type Outcome struct {
	Status    Status
	MessageID string
	Stage     Stage
	Err       error
	// Transient is meaningful for Failed only: true means a later
	// redelivery may succeed.
	Transient bool
	Receipt   *transport.Receipt
}

// Ackable reports whether the queue entry may be removed. Failed outcomes
// are never ackable here; any dead-letter policy belongs to the caller.
func (o Outcome) Ackable() bool {
	switch o.Status {
	case Delivered, AlreadyDelivered, Dropped:
		return true
	default:
		return false
	}
}

// ConfigurationError means the relay cannot work at all as configured. It is
// fatal at process scope.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string { return "relay: configuration: " + e.Err.Error() }

func (e *ConfigurationError) Unwrap() error { return e.Err }

// IsTransient classifies any error produced by a pipeline pass. Unknown
// errors are transient so the queue redelivers rather than losing mail.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var (
		cfgErr   *ConfigurationError
		parseErr *notification.ParseError
		decErr   *envelope.DecryptError
		fetchErr *objectstore.FetchError
		tErr     *transport.Error
	)
	switch {
	case errors.As(err, &cfgErr), errors.As(err, &parseErr):
		return false
	case errors.As(err, &decErr):
		return decErr.Transient
	case errors.As(err, &fetchErr):
		return fetchErr.Transient
	case errors.As(err, &tErr):
		return !tErr.Permanent
	default:
		// dedupe.ErrInFlight, store outages and cancellation land here.
		return true
	}
}
