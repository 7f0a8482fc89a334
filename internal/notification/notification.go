// Package notification decodes SES receipt notifications delivered to SQS
// through an SNS topic.
package notification

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EventType classifies a notification. Only EventDelivered is relayed.
type EventType int

const (
	EventOther EventType = iota
	EventDelivered
)

func (t EventType) String() string {
	if t == EventDelivered {
		return "delivered"
	}
	return "other"
}

// Locator addresses an object in the blob store.
type Locator struct {
	Container string
	Key       string
}

// Envelope is the SMTP envelope the message is relayed with.
type Envelope struct {
	From string
	To   []string
}

// Notification is a decoded queue payload. For EventOther only Type and
// RawType are populated.
type Notification struct {
	MessageID string
	Type      EventType
	RawType   string
	Object    Locator
	Envelope  Envelope
}

// ParseError reports a payload that can never be processed. Retrying the
// same bytes reproduces the same error.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return "notification: " + e.Reason + ": " + e.Err.Error()
	}
	return "notification: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

const (
	snsTypeNotification = "Notification"
	sesTypeReceived     = "Received"
	actionTypeS3        = "S3"
)

// snsEnvelope is the outer SNS document carried in the SQS body.
type snsEnvelope struct {
	Type      string `json:"Type"`
	MessageID string `json:"MessageId"`
	Message   string `json:"Message"`
}

type sesNotification struct {
	NotificationType string     `json:"notificationType"`
	Mail             sesMail    `json:"mail"`
	Receipt          sesReceipt `json:"receipt"`
}

type sesMail struct {
	MessageID string `json:"messageId"`
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
}

type sesReceipt struct {
	Recipients []string  `json:"recipients"`
	Action     sesAction `json:"action"`
}

type sesAction struct {
	Type       string `json:"type"`
	BucketName string `json:"bucketName"`
	ObjectKey  string `json:"objectKey"`
}

// Parse decodes a raw SQS body. Non-"Received" notifications and SNS control
// messages decode to EventOther without error; malformed documents or
// received notifications missing required fields return a *ParseError.
func Parse(raw []byte) (*Notification, error) {
	var outer snsEnvelope
	if err := json.Unmarshal(raw, &outer); err != nil {
		return nil, &ParseError{Reason: "decode sns envelope", Err: err}
	}
	if outer.Type == "" {
		return nil, &ParseError{Reason: "missing sns Type"}
	}
	if outer.Type != snsTypeNotification {
		return &Notification{Type: EventOther, RawType: outer.Type}, nil
	}
	if outer.Message == "" {
		return nil, &ParseError{Reason: "missing sns Message"}
	}

	var inner sesNotification
	if err := json.Unmarshal([]byte(outer.Message), &inner); err != nil {
		return nil, &ParseError{Reason: "decode ses notification", Err: err}
	}
	if inner.NotificationType == "" {
		return nil, &ParseError{Reason: "missing notificationType"}
	}
	if inner.NotificationType != sesTypeReceived {
		return &Notification{
			MessageID: inner.Mail.MessageID,
			Type:      EventOther,
			RawType:   inner.NotificationType,
		}, nil
	}

	if err := validateReceived(&inner); err != nil {
		return nil, err
	}

	to := make([]string, len(inner.Receipt.Recipients))
	copy(to, inner.Receipt.Recipients)

	return &Notification{
		MessageID: inner.Mail.MessageID,
		Type:      EventDelivered,
		RawType:   inner.NotificationType,
		Object: Locator{
			Container: inner.Receipt.Action.BucketName,
			Key:       inner.Receipt.Action.ObjectKey,
		},
		Envelope: Envelope{
			From: inner.Mail.Source,
			To:   to,
		},
	}, nil
}

func validateReceived(n *sesNotification) error {
	var missing []string
	if n.Mail.MessageID == "" {
		missing = append(missing, "mail.messageId")
	}
	if n.Mail.Source == "" {
		missing = append(missing, "mail.source")
	}
	if len(n.Receipt.Recipients) == 0 {
		missing = append(missing, "receipt.recipients")
	}
	if n.Receipt.Action.BucketName == "" {
		missing = append(missing, "receipt.action.bucketName")
	}
	if n.Receipt.Action.ObjectKey == "" {
		missing = append(missing, "receipt.action.objectKey")
	}
	if len(missing) > 0 {
		return &ParseError{Reason: "missing required fields: " + strings.Join(missing, ", ")}
	}
	if n.Receipt.Action.Type != actionTypeS3 {
		return &ParseError{Reason: fmt.Sprintf("unsupported receipt action %q", n.Receipt.Action.Type)}
	}
	return nil
}
