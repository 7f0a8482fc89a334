// Package envelope decrypts objects stored with envelope encryption: a
// KMS-wrapped AES-256 data key plus GCM or CBC content encryption.
package envelope

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sungwon/ses-relay/internal/logger"
	"github.com/sungwon/ses-relay/internal/metrics"
)

// KeyUnwrapper decrypts a wrapped data key. The encryption context must match
// the one the key was wrapped with.
type KeyUnwrapper interface {
	UnwrapKey(ctx context.Context, wrapped []byte, encCtx map[string]string) ([]byte, error)
}

// UnwrapError lets a KeyUnwrapper mark a failure as retryable.
type UnwrapError struct {
	Transient bool
	Err       error
}

func (e *UnwrapError) Error() string { return "unwrap key: " + e.Err.Error() }

func (e *UnwrapError) Unwrap() error { return e.Err }

// Decryptor turns envelope-encrypted object bytes into plaintext. It never
// returns partial plaintext: any failure yields a nil slice.
type Decryptor struct {
	keys KeyUnwrapper
	log  zerolog.Logger
}

// NewDecryptor creates a Decryptor that unwraps data keys with keys.
func NewDecryptor(keys KeyUnwrapper, log zerolog.Logger) *Decryptor {
	return &Decryptor{keys: keys, log: log}
}

// DecryptObject parses raw object metadata and decrypts body.
func (d *Decryptor) DecryptObject(ctx context.Context, body []byte, objectMeta map[string]string) ([]byte, error) {
	meta, err := ParseMetadata(objectMeta)
	if err != nil {
		observe(algorithmLabel(objectMeta), err)
		return nil, err
	}
	return d.Decrypt(ctx, body, meta)
}

// Decrypt decrypts body using meta.
func (d *Decryptor) Decrypt(ctx context.Context, body []byte, meta *Metadata) ([]byte, error) {
	plain, err := d.decrypt(ctx, body, meta)
	observe(meta.Algorithm.String(), err)
	if err != nil {
		return nil, err
	}
	return plain, nil
}

func (d *Decryptor) decrypt(ctx context.Context, body []byte, meta *Metadata) ([]byte, error) {
	strategy := meta.Algorithm.strategy()
	if strategy == nil {
		return nil, newError(UnsupportedAlgorithm, "algorithm %q", meta.AlgorithmName)
	}
	if meta.TagLength > len(body) {
		return nil, newError(InvalidCiphertext, "tag length %d exceeds object size %d", meta.TagLength, len(body))
	}

	key, err := d.keys.UnwrapKey(ctx, meta.WrappedKey, meta.EncryptionContext)
	if err != nil {
		de := &DecryptError{Kind: KeyUnwrapFailed, Err: err}
		var ue *UnwrapError
		if errors.As(err, &ue) {
			de.Transient = ue.Transient
		}
		return nil, de
	}
	defer clear(key)

	if len(key) != keySize {
		return nil, newError(KeyUnwrapFailed, "unwrapped key is %d bytes, want %d", len(key), keySize)
	}

	cut := len(body) - meta.TagLength
	ciphertext, tag := body[:cut], body[cut:]
	if meta.TagLength == 0 {
		tag = nil
	}

	plain, err := strategy.open(key, meta.IV, ciphertext, tag)
	if err != nil {
		return nil, err
	}

	l := logger.FromContextOr(ctx, d.log)
	l.Debug().
		Str("algorithm", meta.Algorithm.String()).
		Int("ciphertext_bytes", len(body)).
		Int("plaintext_bytes", len(plain)).
		Msg("object decrypted")

	return plain, nil
}

func observe(algorithm string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		var de *DecryptError
		if errors.As(err, &de) {
			result = de.Kind.String()
		}
	}
	metrics.DecryptTotal.WithLabelValues(algorithm, result).Inc()
}

func algorithmLabel(objectMeta map[string]string) string {
	name, _ := lookup(objectMeta, MetaAlgorithm)
	alg, err := ParseAlgorithm(name)
	if err != nil {
		return "unsupported"
	}
	return alg.String()
}

// String renders the metadata without key material.
func (m *Metadata) String() string {
	return fmt.Sprintf("alg=%s iv=%dB tag=%dB wrap=%s ctx=%d keys",
		m.AlgorithmName, len(m.IV), m.TagLength, m.WrapAlgorithm, len(m.EncryptionContext))
}
