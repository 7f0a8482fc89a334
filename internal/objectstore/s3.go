package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// s3API defines the subset of the S3 client interface used by S3Store.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store reads objects from an S3-compatible object store.
type S3Store struct {
	client s3API
}

// NewS3Store creates a new S3Store with the given client.
func NewS3Store(client s3API) *S3Store {
	return &S3Store{client: client}
}

// NewS3StoreFromConfig creates a new S3Store from a Config, building a real AWS S3 client.
// It supports custom endpoints (e.g. MinIO, LocalStack) via Config.Endpoint.
func NewS3StoreFromConfig(ctx context.Context, cfg Config) (*S3Store, error) {
	optFns := []func(*awsconfig.LoadOptions) error{}

	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("objectstore: load aws config: %w", err)
	}

	s3OptFns := []func(*s3.Options){}

	if cfg.Endpoint != "" {
		s3OptFns = append(s3OptFns, func(o *s3.Options) {
			o.BaseEndpoint = &cfg.Endpoint
			o.UsePathStyle = true
		})
	}

	return &S3Store{client: s3.NewFromConfig(awsCfg, s3OptFns...)}, nil
}

// Get downloads an object and its user metadata. Metadata keys are returned
// without the x-amz-meta- prefix.
func (s *S3Store) Get(ctx context.Context, bucket, key string) (*Object, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, classifyS3Error(ctx, bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &FetchError{Container: bucket, Key: key, Transient: true, Err: fmt.Errorf("read body: %w", err)}
	}

	meta := out.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	return &Object{Body: data, Metadata: meta}, nil
}

func classifyS3Error(ctx context.Context, bucket, key string, err error) *FetchError {
	fe := &FetchError{Container: bucket, Key: key, Err: err}

	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		fe.Err = fmt.Errorf("%w: %w", ErrNotFound, err)
		return fe
	}
	if ctx.Err() != nil {
		fe.Transient = true
		return fe
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			fe.Err = fmt.Errorf("%w: %w", ErrNotFound, err)
		case "AccessDenied", "Forbidden", "InvalidObjectState":
			fe.Err = fmt.Errorf("%w: %w", ErrAccessDenied, err)
		default:
			// SlowDown, InternalError, ServiceUnavailable and friends.
			fe.Transient = true
		}
		return fe
	}

	fe.Transient = true
	return fe
}
