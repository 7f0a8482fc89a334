package envelope

import "fmt"

// Kind classifies a decryption failure. Every kind is permanent for a given
// object version: the ciphertext does not change on retry.
type Kind int

const (
	UnsupportedAlgorithm Kind = iota + 1
	MissingKeyMetadata
	KeyUnwrapFailed
	AuthenticationFailed
	InvalidCiphertext
)

func (k Kind) String() string {
	switch k {
	case UnsupportedAlgorithm:
		return "unsupported_algorithm"
	case MissingKeyMetadata:
		return "missing_key_metadata"
	case KeyUnwrapFailed:
		return "key_unwrap_failed"
	case AuthenticationFailed:
		return "authentication_failed"
	case InvalidCiphertext:
		return "invalid_ciphertext"
	default:
		return "unknown"
	}
}

// DecryptError is returned by Decryptor.Decrypt and ParseMetadata.
type DecryptError struct {
	Kind Kind
	// Transient is only ever set for KeyUnwrapFailed when the key service
	// reported a retryable condition.
	Transient bool
	Err       error
}

func (e *DecryptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("envelope: %s: %v", e.Kind, e.Err)
	}
	return "envelope: " + e.Kind.String()
}

func (e *DecryptError) Unwrap() error { return e.Err }

func newError(kind Kind, format string, args ...any) *DecryptError {
	return &DecryptError{Kind: kind, Err: fmt.Errorf(format, args...)}
}
