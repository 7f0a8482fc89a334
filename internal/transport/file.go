package transport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultOutputDir = "./mail_output"

// File implements Transport by writing each message to its own .eml file in
// the configured output directory, prefixed with the envelope as headers.
type File struct {
	outputDir string
}

// NewFile creates a File transport writing to dir, or "./mail_output" when
// dir is empty.
func NewFile(dir string) *File {
	if dir == "" {
		dir = defaultOutputDir
	}
	return &File{outputDir: dir}
}

func (f *File) Name() string { return "file" }

// Send writes the message to <timestamp>_<id>.eml and returns its path as
// the receipt response.
func (f *File) Send(_ context.Context, env Envelope, raw []byte) (*Receipt, error) {
	if err := os.MkdirAll(f.outputDir, 0o750); err != nil {
		return nil, &Error{Transport: f.Name(), Message: "create output dir: " + err.Error(), Err: err}
	}

	id := env.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	safeID := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(id)
	path := filepath.Join(f.outputDir, fmt.Sprintf("%s_%s.eml", now.Format("20060102_150405"), safeID))

	var b strings.Builder
	fmt.Fprintf(&b, "X-Envelope-From: %s\r\n", env.From)
	fmt.Fprintf(&b, "X-Envelope-To: %s\r\n", strings.Join(env.To, ", "))
	b.Write(raw)

	if err := os.WriteFile(path, []byte(b.String()), 0o640); err != nil {
		return nil, &Error{Transport: f.Name(), Message: "write " + path + ": " + err.Error(), Err: err}
	}

	return &Receipt{
		Transport: f.Name(),
		MessageID: "file-" + id,
		Response:  path,
		Accepted:  env.To,
		Timestamp: now,
	}, nil
}

// HealthCheck verifies the output directory is writable.
func (f *File) HealthCheck(_ context.Context) error {
	if err := os.MkdirAll(f.outputDir, 0o750); err != nil {
		return fmt.Errorf("file: output dir not writable: %w", err)
	}
	return nil
}
