package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
)

// SMTP relays messages to an upstream SMTP server, one connection per send.
type SMTP struct {
	addr      string
	helo      string
	tlsMode   string
	tlsConfig *tls.Config
	username  string
	password  string
	timeout   time.Duration
	now       func() time.Time
}

// NewSMTP creates an SMTP transport from a validated Config.
func NewSMTP(cfg Config) *SMTP {
	return &SMTP{
		addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		helo:    cfg.HELO,
		tlsMode: cfg.TLS,
		tlsConfig: &tls.Config{
			ServerName:         cfg.Host,
			InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // operator opt-in for private relays
			MinVersion:         tls.VersionTLS12,
		},
		username: cfg.Username,
		password: cfg.Password,
		timeout:  cfg.Timeout,
		now:      time.Now,
	}
}

func (s *SMTP) Name() string { return "smtp" }

// Send runs one complete SMTP transaction. Recipients rejected with a 5xx
// reply are skipped and listed in the receipt; a 4xx reply for any recipient
// aborts the transaction so the whole message is retried later.
func (s *SMTP) Send(ctx context.Context, env Envelope, raw []byte) (*Receipt, error) {
	if len(env.To) == 0 {
		return nil, &Error{Transport: s.Name(), Message: "no recipients", Permanent: true}
	}

	c, err := s.dial(ctx)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	defer c.Close()

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	if err := c.Mail(env.From, nil); err != nil {
		return nil, s.fail(ctx, fmt.Errorf("MAIL FROM: %w", err))
	}

	var accepted, rejected []string
	for _, to := range env.To {
		if err := c.Rcpt(to, nil); err != nil {
			if IsPermanent(Classify(s.Name(), err)) {
				rejected = append(rejected, to)
				continue
			}
			return nil, s.fail(ctx, fmt.Errorf("RCPT TO %s: %w", to, err))
		}
		accepted = append(accepted, to)
	}
	if len(accepted) == 0 {
		return nil, &Error{
			Transport: s.Name(),
			Code:      550,
			Message:   fmt.Sprintf("all %d recipients rejected", len(rejected)),
			Permanent: true,
		}
	}

	w, err := c.Data()
	if err != nil {
		return nil, s.fail(ctx, fmt.Errorf("DATA: %w", err))
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return nil, s.fail(ctx, fmt.Errorf("write message: %w", err))
	}
	resp, err := w.CloseWithResponse()
	if err != nil {
		return nil, s.fail(ctx, fmt.Errorf("end DATA: %w", err))
	}

	// The message is accepted at this point; a failed QUIT changes nothing.
	_ = c.Quit()

	return &Receipt{
		Transport: s.Name(),
		MessageID: env.ID,
		Response:  resp.StatusText,
		Accepted:  accepted,
		Rejected:  rejected,
		Timestamp: s.now(),
	}, nil
}

// HealthCheck opens a session, issues NOOP and quits.
func (s *SMTP) HealthCheck(ctx context.Context) error {
	c, err := s.dial(ctx)
	if err != nil {
		return s.fail(ctx, err)
	}
	defer c.Close()

	if err := c.Noop(); err != nil {
		return s.fail(ctx, err)
	}
	return c.Quit()
}

func (s *SMTP) dial(ctx context.Context) (*gosmtp.Client, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.addr, err)
	}
	if s.tlsMode == TLSImplicit {
		conn = tls.Client(conn, s.tlsConfig)
	}

	c := gosmtp.NewClient(conn)
	if s.timeout > 0 {
		c.CommandTimeout = s.timeout
		c.SubmissionTimeout = s.timeout
	}

	if err := c.Hello(s.helo); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("EHLO: %w", err)
	}

	if s.tlsMode == TLSStartTLS {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			_ = c.Close()
			return nil, &Error{Transport: s.Name(), Message: "server does not support STARTTLS", Permanent: true}
		}
		if err := c.StartTLS(s.tlsConfig); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("STARTTLS: %w", err)
		}
	}

	if s.username != "" {
		if err := c.Auth(sasl.NewPlainClient("", s.username, s.password)); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("AUTH: %w", err)
		}
	}

	return c, nil
}

// fail classifies err, preferring the context's own error when the call was
// cut short by cancellation.
func (s *SMTP) fail(ctx context.Context, err error) *Error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		err = fmt.Errorf("%w: %w", ctxErr, err)
	}
	return Classify(s.Name(), err)
}
