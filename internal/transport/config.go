package transport

import (
	"errors"
	"time"
)

// TLS modes for the SMTP transport.
const (
	TLSNone     = "none"
	TLSStartTLS = "starttls"
	TLSImplicit = "tls"
)

// Config holds configuration for the mail transport.
type Config struct {
	// Type identifies the transport: "smtp", "stdout", "file". Empty means
	// no transport is configured.
	Type string

	// SMTP relay settings.
	Host               string
	Port               int
	Username           string
	Password           string
	TLS                string
	InsecureSkipVerify bool
	HELO               string

	// Timeout bounds a single send, including connection setup.
	Timeout time.Duration

	// OutputDir is where the file transport writes messages.
	OutputDir string

	// RatePerSecond limits sends when positive.
	RatePerSecond float64
	Burst         int

	Breaker BreakerConfig
}

const defaultTimeout = 30 * time.Second

// Validate checks that required fields are set based on transport type and
// fills in defaults.
func (c *Config) Validate() error {
	if c.Type == "" {
		return ErrNotConfigured
	}

	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}

	switch c.Type {
	case "smtp":
		if c.Host == "" {
			return errors.New("smtp: host is required")
		}
		if c.TLS == "" {
			c.TLS = TLSStartTLS
		}
		switch c.TLS {
		case TLSNone, TLSStartTLS, TLSImplicit:
		default:
			return errors.New("smtp: unknown tls mode: " + c.TLS)
		}
		if c.Port == 0 {
			c.Port = 587
			if c.TLS == TLSImplicit {
				c.Port = 465
			}
		}
		if (c.Username == "") != (c.Password == "") {
			return errors.New("smtp: username and password must be set together")
		}
		if c.HELO == "" {
			c.HELO = "localhost"
		}
	case "stdout":
		// No configuration required.
	case "file":
		// OutputDir is optional (defaults to ./mail_output).
	default:
		return errors.New("unknown transport type: " + c.Type)
	}

	return nil
}
