package envelope

import (
	"context"
	"errors"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/smithy-go"
)

// kmsAPI is the subset of the KMS client used by KMSUnwrapper.
type kmsAPI interface {
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// KMSUnwrapper unwraps data keys with AWS KMS Decrypt.
type KMSUnwrapper struct {
	client kmsAPI
}

// NewKMSUnwrapper wraps an existing KMS client.
func NewKMSUnwrapper(client kmsAPI) *KMSUnwrapper {
	return &KMSUnwrapper{client: client}
}

// KMSConfig configures NewKMSUnwrapperFromConfig.
type KMSConfig struct {
	Region   string
	Endpoint string
}

// NewKMSUnwrapperFromConfig builds a KMS client from the default credential
// chain. Endpoint overrides the service URL (e.g. LocalStack).
func NewKMSUnwrapperFromConfig(ctx context.Context, cfg KMSConfig) (*KMSUnwrapper, error) {
	optFns := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("envelope: load aws config: %w", err)
	}

	client := kms.NewFromConfig(awsCfg, func(o *kms.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
		}
	})
	return &KMSUnwrapper{client: client}, nil
}

// UnwrapKey implements KeyUnwrapper.
func (u *KMSUnwrapper) UnwrapKey(ctx context.Context, wrapped []byte, encCtx map[string]string) ([]byte, error) {
	out, err := u.client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob:    wrapped,
		EncryptionContext: encCtx,
	})
	if err != nil {
		return nil, &UnwrapError{Transient: isTransientKMSError(ctx, err), Err: err}
	}
	if len(out.Plaintext) == 0 {
		return nil, &UnwrapError{Err: errors.New("kms returned empty plaintext")}
	}
	return out.Plaintext, nil
}

// isTransientKMSError reports service-side and throttling failures. Invalid
// ciphertext, context mismatch and disabled or revoked keys are permanent.
func isTransientKMSError(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}

	var (
		internal   *types.KMSInternalException
		dependency *types.DependencyTimeoutException
	)
	switch {
	case errors.As(err, &internal), errors.As(err, &dependency):
		return true
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "LimitExceededException", "RequestLimitExceeded":
			return true
		}
		return false
	}

	// Network and unclassified errors.
	return true
}
