package queue

import "time"

// Config holds configuration for the SQS source and the poll loop.
type Config struct {
	QueueURL          string
	DLQURL            string
	Region            string
	Endpoint          string
	MaxMessages       int32         // per receive, 1..10
	WaitTime          time.Duration // long poll, at most 20s
	VisibilityTimeout time.Duration

	// DeadLetterPermanent publishes permanently failed messages to DLQURL and
	// then acknowledges them. Off by default: nothing that failed is ever
	// acknowledged and the queue's own redrive policy applies.
	DeadLetterPermanent bool

	Concurrency    int
	ProcessTimeout time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxMessages:       10,
		WaitTime:          20 * time.Second,
		VisibilityTimeout: 5 * time.Minute,
		Concurrency:       10,
		ProcessTimeout:    2 * time.Minute,
		BackoffInitial:    5 * time.Second,
		BackoffMax:        2 * time.Minute,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MaxMessages <= 0 || c.MaxMessages > 10 {
		c.MaxMessages = d.MaxMessages
	}
	if c.WaitTime < 0 || c.WaitTime > 20*time.Second {
		c.WaitTime = d.WaitTime
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.ProcessTimeout <= 0 {
		c.ProcessTimeout = d.ProcessTimeout
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = d.BackoffInitial
	}
	if c.BackoffMax < c.BackoffInitial {
		c.BackoffMax = d.BackoffMax
		if c.BackoffMax < c.BackoffInitial {
			c.BackoffMax = c.BackoffInitial
		}
	}
}
