// Package queue receives SES notifications from SQS, acknowledges them once
// the relay pipeline reports an ackable outcome and drives the poll loop.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
)

// Delivery is one received queue entry.
type Delivery struct {
	Body         []byte
	AckToken     string
	MessageID    string
	ReceiveCount int
}

// AckError is returned when a queue entry could not be deleted.
type AckError struct {
	Transient bool
	Err       error
}

func (e *AckError) Error() string {
	return fmt.Sprintf("queue: acknowledge: %v", e.Err)
}

func (e *AckError) Unwrap() error { return e.Err }

// SQSSource long-polls an SQS queue and deletes entries on acknowledge.
type SQSSource struct {
	client            sqsAPI
	queueURL          string
	visibilityTimeout time.Duration
	log               zerolog.Logger
}

// NewSQSSource creates an SQSSource using the default AWS credential chain.
func NewSQSSource(ctx context.Context, cfg Config, log zerolog.Logger) (*SQSSource, error) {
	if cfg.QueueURL == "" {
		return nil, errors.New("queue: sqs queue url is required")
	}
	client, err := newAWSSQSClient(ctx, cfg.Region, cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("create sqs client: %w", err)
	}
	return newSQSSource(client, cfg, log), nil
}

func newSQSSource(client sqsAPI, cfg Config, log zerolog.Logger) *SQSSource {
	return &SQSSource{
		client:            client,
		queueURL:          cfg.QueueURL,
		visibilityTimeout: cfg.VisibilityTimeout,
		log:               log.With().Str("component", "sqs-source").Logger(),
	}
}

// ReceiveBatch long-polls for up to max entries, waiting at most wait. An
// empty batch is not an error.
func (s *SQSSource) ReceiveBatch(ctx context.Context, max int32, wait time.Duration) ([]Delivery, error) {
	if max < 1 {
		max = 1
	}
	if max > 10 {
		max = 10
	}
	out, err := s.client.ReceiveMessage(ctx, &sqsReceiveInput{
		QueueURL:            s.queueURL,
		MaxNumberOfMessages: max,
		WaitTimeSeconds:     int32(wait / time.Second),
		VisibilityTimeout:   int32(s.visibilityTimeout / time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive message: %w", err)
	}

	batch := make([]Delivery, 0, len(out.Messages))
	for _, m := range out.Messages {
		batch = append(batch, Delivery{
			Body:         []byte(m.Body),
			AckToken:     m.ReceiptHandle,
			MessageID:    m.MessageID,
			ReceiveCount: m.ReceiveCount,
		})
	}
	return batch, nil
}

// Acknowledge deletes the entry identified by token.
func (s *SQSSource) Acknowledge(ctx context.Context, token string) error {
	if token == "" {
		return &AckError{Err: errors.New("empty ack token")}
	}
	if err := s.client.DeleteMessage(ctx, &sqsDeleteInput{
		QueueURL:      s.queueURL,
		ReceiptHandle: token,
	}); err != nil {
		return &AckError{Transient: !permanentAckFailure(err), Err: err}
	}
	return nil
}

// permanentAckFailure reports errors that a later delete cannot fix.
func permanentAckFailure(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "ReceiptHandleIsInvalid", "InvalidParameterValue",
		"QueueDoesNotExist", "AWS.SimpleQueueService.NonExistentQueue":
		return true
	}
	return false
}
