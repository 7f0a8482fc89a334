package objectstore

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sungwon/ses-relay/internal/envelope"
	"github.com/sungwon/ses-relay/internal/logger"
	"github.com/sungwon/ses-relay/internal/notification"
)

type fixedUnwrapper struct {
	key   []byte
	calls int
}

func (u *fixedUnwrapper) UnwrapKey(context.Context, []byte, map[string]string) ([]byte, error) {
	u.calls++
	return bytes.Clone(u.key), nil
}

func TestFetcher_PlaintextObject(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	if err := store.Put(context.Background(), "inbound", "msg-1", []byte("raw mime"), nil); err != nil {
		t.Fatalf("Put: %v", err)
	}
	keys := &fixedUnwrapper{}
	f := NewFetcher(store, envelope.NewDecryptor(keys, zerolog.Nop()), zerolog.Nop())

	got, err := f.Fetch(context.Background(), notification.Locator{Container: "inbound", Key: "msg-1"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(got) != "raw mime" {
		t.Errorf("Fetch = %q, want %q", got, "raw mime")
	}
	if keys.calls != 0 {
		t.Errorf("unwrap called %d times for a plaintext object", keys.calls)
	}
}

func TestFetcher_EncryptedObject(t *testing.T) {
	key := bytes.Repeat([]byte{1}, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		t.Fatalf("NewGCM: %v", err)
	}
	iv := make([]byte, aead.NonceSize())
	sealed := aead.Seal(nil, iv, []byte("secret mime"), nil)

	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	meta := map[string]string{
		envelope.MetaWrappedKey: base64.StdEncoding.EncodeToString([]byte("wrapped")),
		envelope.MetaIV:         base64.StdEncoding.EncodeToString(iv),
		envelope.MetaTagLen:     "128",
		envelope.MetaAlgorithm:  envelope.NameAESGCM,
		envelope.MetaMatDesc:    `{"aws:x-amz-cek-alg":"AES/GCM/NoPadding"}`,
	}
	if err := store.Put(context.Background(), "inbound", "enc-1", sealed, meta); err != nil {
		t.Fatalf("Put: %v", err)
	}

	keys := &fixedUnwrapper{key: key}
	f := NewFetcher(store, envelope.NewDecryptor(keys, zerolog.Nop()), zerolog.Nop())

	got, err := f.Fetch(context.Background(), notification.Locator{Container: "inbound", Key: "enc-1"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(got) != "secret mime" {
		t.Errorf("Fetch = %q, want %q", got, "secret mime")
	}
	if keys.calls != 1 {
		t.Errorf("unwrap called %d times, want 1", keys.calls)
	}
}

func TestFetcher_EncryptedWithoutDecryptor(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	meta := map[string]string{envelope.MetaWrappedKey: "d3JhcHBlZA=="}
	if err := store.Put(context.Background(), "inbound", "enc-2", []byte("ciphertext"), meta); err != nil {
		t.Fatalf("Put: %v", err)
	}

	_, err = NewFetcher(store, nil, zerolog.Nop()).Fetch(context.Background(), notification.Locator{Container: "inbound", Key: "enc-2"})
	var de *envelope.DecryptError
	if !errors.As(err, &de) || de.Kind != envelope.MissingKeyMetadata {
		t.Errorf("err = %v, want DecryptError(MissingKeyMetadata)", err)
	}
}

func TestFetcher_V1EnvelopeIsNotPassedThrough(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	meta := map[string]string{
		envelope.MetaWrappedKeyV1: base64.StdEncoding.EncodeToString([]byte("wrapped")),
		envelope.MetaIV:           base64.StdEncoding.EncodeToString(make([]byte, 16)),
	}
	if err := store.Put(context.Background(), "inbound", "enc-v1", []byte("ciphertext"), meta); err != nil {
		t.Fatalf("Put: %v", err)
	}

	keys := &fixedUnwrapper{key: bytes.Repeat([]byte{1}, 32)}
	got, err := NewFetcher(store, envelope.NewDecryptor(keys, zerolog.Nop()), zerolog.Nop()).
		Fetch(context.Background(), notification.Locator{Container: "inbound", Key: "enc-v1"})
	var de *envelope.DecryptError
	if !errors.As(err, &de) || de.Kind != envelope.UnsupportedAlgorithm {
		t.Errorf("err = %v, want DecryptError(UnsupportedAlgorithm)", err)
	}
	if got != nil {
		t.Errorf("ciphertext leaked as plaintext: %q", got)
	}
	if keys.calls != 0 {
		t.Errorf("unwrap called %d times for a v1 object", keys.calls)
	}
}

func TestFetcher_NotFound(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	_, err = NewFetcher(store, nil, zerolog.Nop()).Fetch(context.Background(), notification.Locator{Container: "inbound", Key: "missing"})
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Transient {
		t.Errorf("err = %v, want permanent *FetchError", err)
	}
}

func TestFetcher_LogsThroughPassLogger(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	if err := store.Put(context.Background(), "inbound", "msg-3", []byte("raw"), nil); err != nil {
		t.Fatalf("Put: %v", err)
	}

	var passBuf, ownBuf bytes.Buffer
	pass := zerolog.New(&passBuf).Level(zerolog.DebugLevel).With().Str("message_id", "ses-3").Logger()
	ctx := logger.WithCorrelationID(logger.WithLogger(context.Background(), pass), "corr-3")

	f := NewFetcher(store, nil, zerolog.New(&ownBuf).Level(zerolog.DebugLevel))
	if _, err := f.Fetch(ctx, notification.Locator{Container: "inbound", Key: "msg-3"}); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	out := passBuf.String()
	if !strings.Contains(out, `"correlation_id":"corr-3"`) || !strings.Contains(out, `"message_id":"ses-3"`) {
		t.Errorf("fetch log missing pass fields: %s", out)
	}
	if ownBuf.Len() != 0 {
		t.Errorf("component logger should not be used inside a pass, got %s", ownBuf.String())
	}
}
