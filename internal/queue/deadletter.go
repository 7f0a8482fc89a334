package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/ses-relay/internal/metrics"
	"github.com/sungwon/ses-relay/internal/relay"
)

// DeadLetterMessage wraps a permanently failed notification with the reason
// it could not be relayed.
type DeadLetterMessage struct {
	SQSMessageID    string    `json:"sqsMessageId"`
	MessageID       string    `json:"messageId,omitempty"`
	OriginalMessage string    `json:"originalMessage"`
	Stage           string    `json:"stage"`
	FailureReason   string    `json:"failureReason"`
	ReceiveCount    int       `json:"receiveCount"`
	MovedAt         time.Time `json:"movedAt"`
}

// SQSDeadLetter publishes failed notifications to a dead-letter queue.
type SQSDeadLetter struct {
	client sqsAPI
	dlqURL string
	log    zerolog.Logger
}

// NewSQSDeadLetter creates a publisher for dlqURL that shares the source's
// SQS client.
func NewSQSDeadLetter(src *SQSSource, dlqURL string, log zerolog.Logger) *SQSDeadLetter {
	return &SQSDeadLetter{client: src.client, dlqURL: dlqURL, log: log}
}

// Publish sends d to the dead-letter queue with the failure recorded in out.
func (d *SQSDeadLetter) Publish(ctx context.Context, del Delivery, out relay.Outcome) error {
	reason := ""
	if out.Err != nil {
		reason = out.Err.Error()
	}
	data, err := json.Marshal(DeadLetterMessage{
		SQSMessageID:    del.MessageID,
		MessageID:       out.MessageID,
		OriginalMessage: string(del.Body),
		Stage:           string(out.Stage),
		FailureReason:   reason,
		ReceiveCount:    del.ReceiveCount,
		MovedAt:         time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal dead-letter message: %w", err)
	}

	if _, err := d.client.SendMessage(ctx, &sqsSendInput{
		QueueURL:    d.dlqURL,
		MessageBody: string(data),
		Attributes: map[string]string{
			"stage":        string(out.Stage),
			"receiveCount": strconv.Itoa(del.ReceiveCount),
		},
	}); err != nil {
		return fmt.Errorf("sqs send to dlq: %w", err)
	}

	metrics.DeadLetteredTotal.Inc()
	d.log.Warn().
		Str("sqs_message_id", del.MessageID).
		Str("message_id", out.MessageID).
		Str("stage", string(out.Stage)).
		Msg("message moved to dead-letter queue")
	return nil
}
