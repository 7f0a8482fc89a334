package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// metaSuffix names the sidecar file holding an object's user metadata.
const metaSuffix = ".meta.json"

// LocalStore serves objects from <base>/<container>/<key>, with metadata in
// an optional <key>.meta.json sidecar. Used for development and operator
// tooling against copied objects.
type LocalStore struct {
	basePath string
}

// NewLocalStore creates a new LocalStore at the given base path.
// It creates the directory if it does not exist.
func NewLocalStore(basePath string) (*LocalStore, error) {
	if err := os.MkdirAll(basePath, 0o750); err != nil {
		return nil, fmt.Errorf("objectstore: create base directory: %w", err)
	}
	return &LocalStore{basePath: basePath}, nil
}

func (s *LocalStore) path(container, key string) (string, error) {
	p := filepath.Join(s.basePath, container, filepath.FromSlash(key))
	rel, err := filepath.Rel(s.basePath, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("objectstore: key %q escapes base directory", key)
	}
	return p, nil
}

// Put writes an object and its metadata using an atomic write pattern.
func (s *LocalStore) Put(_ context.Context, container, key string, body []byte, meta map[string]string) error {
	p, err := s.path(container, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return fmt.Errorf("objectstore: create container directory: %w", err)
	}
	if len(meta) > 0 {
		data, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("objectstore: marshal metadata: %w", err)
		}
		if err := writeAtomic(p+metaSuffix, data); err != nil {
			return err
		}
	}
	return writeAtomic(p, body)
}

func writeAtomic(finalPath string, data []byte) error {
	// Write to a temp file in the same directory, then rename for atomicity.
	tmp, err := os.CreateTemp(filepath.Dir(finalPath), ".tmp-"+filepath.Base(finalPath)+"-*")
	if err != nil {
		return fmt.Errorf("objectstore: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("objectstore: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("objectstore: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, finalPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("objectstore: rename temp file: %w", err)
	}
	return nil
}

// Get reads an object and its sidecar metadata.
func (s *LocalStore) Get(_ context.Context, container, key string) (*Object, error) {
	p, err := s.path(container, key)
	if err != nil {
		return nil, &FetchError{Container: container, Key: key, Err: err}
	}

	body, err := os.ReadFile(p)
	if err != nil {
		return nil, localError(container, key, err)
	}

	meta := map[string]string{}
	data, err := os.ReadFile(p + metaSuffix)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &meta); err != nil {
			return nil, &FetchError{Container: container, Key: key, Err: fmt.Errorf("decode metadata: %w", err)}
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, localError(container, key, err)
	}

	return &Object{Body: body, Metadata: meta}, nil
}

func localError(container, key string, err error) *FetchError {
	fe := &FetchError{Container: container, Key: key, Err: err}
	switch {
	case errors.Is(err, os.ErrNotExist):
		fe.Err = fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, os.ErrPermission):
		fe.Err = fmt.Errorf("%w: %w", ErrAccessDenied, err)
	default:
		fe.Transient = true
	}
	return fe
}
