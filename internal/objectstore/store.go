// Package objectstore retrieves inbound email objects from the blob store and
// decrypts them when they were written with envelope encryption.
package objectstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned when the requested object does not exist.
	ErrNotFound = errors.New("objectstore: object not found")
	// ErrAccessDenied is returned when credentials do not allow the read.
	ErrAccessDenied = errors.New("objectstore: access denied")
)

// Object is a blob plus its user metadata.
type Object struct {
	Body     []byte
	Metadata map[string]string
}

// BlobStore reads objects by container (bucket) and key.
type BlobStore interface {
	Get(ctx context.Context, container, key string) (*Object, error)
}

// FetchError wraps a blob store failure. Not-found and access-denied are
// permanent; throttling and network failures are transient.
type FetchError struct {
	Container string
	Key       string
	Transient bool
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("objectstore: fetch %s/%s: %v", e.Container, e.Key, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Config holds configuration for creating a BlobStore.
type Config struct {
	Type     string // "s3" (default) or "local"
	Path     string // base directory for local store
	Region   string
	Endpoint string
}

// New creates a BlobStore based on the provided configuration.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (BlobStore, error) {
	switch cfg.Type {
	case "s3":
		return NewS3StoreFromConfig(ctx, cfg)
	case "local":
		return NewLocalStore(cfg.Path)
	case "":
		logger.Warn().Msg("empty storage type, defaulting to s3")
		return NewS3StoreFromConfig(ctx, cfg)
	default:
		return nil, fmt.Errorf("objectstore: unsupported storage type %q", cfg.Type)
	}
}
