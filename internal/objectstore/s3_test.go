package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// mockS3Client implements the s3API interface for testing.
type mockS3Client struct {
	objects  map[string][]byte
	metadata map[string]map[string]string
	err      error
}

func newMockS3Client() *mockS3Client {
	return &mockS3Client{
		objects:  make(map[string][]byte),
		metadata: make(map[string]map[string]string),
	}
}

func (m *mockS3Client) put(bucket, key string, data []byte, meta map[string]string) {
	m.objects[bucket+"/"+key] = data
	m.metadata[bucket+"/"+key] = meta
}

func (m *mockS3Client) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	k := *params.Bucket + "/" + *params.Key
	data, ok := m.objects[k]
	if !ok {
		return nil, &types.NoSuchKey{Message: stringPtr(fmt.Sprintf("key %q not found", k))}
	}
	return &s3.GetObjectOutput{
		Body:     io.NopCloser(bytes.NewReader(data)),
		Metadata: m.metadata[k],
	}, nil
}

func stringPtr(s string) *string { return &s }

func TestS3Store_Get(t *testing.T) {
	mock := newMockS3Client()
	mock.put("inbound", "incoming/msg-001", []byte("raw mime"), map[string]string{"x-amz-iv": "abc"})
	store := NewS3Store(mock)

	obj, err := store.Get(context.Background(), "inbound", "incoming/msg-001")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(obj.Body) != "raw mime" {
		t.Errorf("Body = %q, want %q", obj.Body, "raw mime")
	}
	if obj.Metadata["x-amz-iv"] != "abc" {
		t.Errorf("Metadata = %v, want x-amz-iv=abc", obj.Metadata)
	}
}

func TestS3Store_GetNilMetadata(t *testing.T) {
	mock := newMockS3Client()
	mock.put("inbound", "k", []byte("x"), nil)

	obj, err := NewS3Store(mock).Get(context.Background(), "inbound", "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if obj.Metadata == nil {
		t.Error("Metadata should be an empty map, got nil")
	}
}

func TestS3Store_GetNotFound(t *testing.T) {
	store := NewS3Store(newMockS3Client())

	_, err := store.Get(context.Background(), "inbound", "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get non-existent: got err=%v, want ErrNotFound", err)
	}
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Transient {
		t.Errorf("expected permanent *FetchError, got %#v", err)
	}
}

func TestS3Store_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		sentinel  error
	}{
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, false, ErrAccessDenied},
		{"no such bucket", &smithy.GenericAPIError{Code: "NoSuchBucket"}, false, ErrNotFound},
		{"slow down", &smithy.GenericAPIError{Code: "SlowDown"}, true, nil},
		{"internal error", &smithy.GenericAPIError{Code: "InternalError"}, true, nil},
		{"network", errors.New("dial tcp: connection refused"), true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMockS3Client()
			mock.err = tt.err

			_, err := NewS3Store(mock).Get(context.Background(), "inbound", "k")
			var fe *FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("err = %v, want *FetchError", err)
			}
			if fe.Transient != tt.transient {
				t.Errorf("Transient = %v, want %v", fe.Transient, tt.transient)
			}
			if tt.sentinel != nil && !errors.Is(err, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false", err, tt.sentinel)
			}
		})
	}
}

func TestS3Store_CancelledContextIsTransient(t *testing.T) {
	mock := newMockS3Client()
	mock.err = &smithy.GenericAPIError{Code: "RequestCanceled"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewS3Store(mock).Get(ctx, "inbound", "k")
	var fe *FetchError
	if !errors.As(err, &fe) || !fe.Transient {
		t.Errorf("expected transient *FetchError, got %v", err)
	}
}
