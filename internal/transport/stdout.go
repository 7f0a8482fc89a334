package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sungwon/ses-relay/internal/mimeparse"
)

// Stdout implements Transport by writing messages to standard output.
// Intended for development and debugging; messages are never actually delivered.
type Stdout struct {
	writer io.Writer
}

// NewStdout creates a Stdout transport that prints envelopes to os.Stdout.
func NewStdout() *Stdout {
	return &Stdout{writer: os.Stdout}
}

func (s *Stdout) Name() string { return "stdout" }

// Send prints the envelope and a summary of the message headers and MIME
// structure, then returns a successful receipt.
func (s *Stdout) Send(_ context.Context, env Envelope, raw []byte) (*Receipt, error) {
	var b strings.Builder
	b.WriteString("--- stdout transport: message ---\n")
	fmt.Fprintf(&b, "ID:      %s\n", env.ID)
	fmt.Fprintf(&b, "From:    %s\n", env.From)
	fmt.Fprintf(&b, "To:      %s\n", strings.Join(env.To, ", "))
	fmt.Fprintf(&b, "Size:    %d bytes\n", len(raw))
	if sum, err := mimeparse.Summarize(raw); sum != nil {
		fmt.Fprintf(&b, "Subject: %s\n", sum.Subject)
		fmt.Fprintf(&b, "Type:    %s (%d parts)\n", sum.MediaType, sum.Parts)
		if len(sum.Attachments) > 0 {
			fmt.Fprintf(&b, "Attach:  %s\n", strings.Join(sum.Attachments, ", "))
		}
		if err != nil {
			fmt.Fprintf(&b, "Warning: %v\n", err)
		}
	}
	b.WriteString("--- end ---\n")

	if _, err := io.WriteString(s.writer, b.String()); err != nil {
		return nil, &Error{Transport: s.Name(), Message: "write: " + err.Error(), Err: err}
	}

	return &Receipt{
		Transport: s.Name(),
		MessageID: "stdout-" + env.ID,
		Accepted:  env.To,
		Timestamp: time.Now(),
	}, nil
}

// HealthCheck always returns nil since stdout is always available.
func (s *Stdout) HealthCheck(_ context.Context) error {
	return nil
}
