package envelope

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
)

// Algorithm is the content-encryption cipher. The set is closed: adding a
// mode means adding a constant and a case in strategy.
type Algorithm int

const (
	AESGCM Algorithm = iota + 1
	AESCBC
)

// Content-encryption algorithm names as written by the encryption client.
const (
	NameAESGCM = "AES/GCM/NoPadding"
	NameAESCBC = "AES/CBC/PKCS5Padding"
)

const keySize = 32 // AES-256

func (a Algorithm) String() string {
	switch a {
	case AESGCM:
		return NameAESGCM
	case AESCBC:
		return NameAESCBC
	default:
		return "unknown"
	}
}

// ParseAlgorithm maps a stored algorithm name to an Algorithm.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch name {
	case NameAESGCM:
		return AESGCM, nil
	case NameAESCBC:
		return AESCBC, nil
	default:
		return 0, newError(UnsupportedAlgorithm, "algorithm %q", name)
	}
}

// cipherStrategy opens a ciphertext body. tag is nil when the object
// carries no authentication tag.
type cipherStrategy interface {
	open(key, iv, body, tag []byte) ([]byte, error)
}

func (a Algorithm) strategy() cipherStrategy {
	switch a {
	case AESGCM:
		return gcmStrategy{}
	case AESCBC:
		return cbcStrategy{}
	default:
		return nil
	}
}

type gcmStrategy struct{}

func (gcmStrategy) open(key, iv, body, tag []byte) ([]byte, error) {
	if len(tag) == 0 {
		return nil, newError(AuthenticationFailed, "gcm object has no authentication tag")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, newError(KeyUnwrapFailed, "aes key: %w", err)
	}

	var aead cipher.AEAD
	switch {
	case len(iv) == 12:
		aead, err = cipher.NewGCMWithTagSize(block, len(tag))
	case len(tag) == 16:
		aead, err = cipher.NewGCMWithNonceSize(block, len(iv))
	default:
		return nil, newError(InvalidCiphertext, "gcm with %d-byte iv and %d-byte tag", len(iv), len(tag))
	}
	if err != nil {
		return nil, newError(InvalidCiphertext, "gcm: %w", err)
	}

	sealed := make([]byte, 0, len(body)+len(tag))
	sealed = append(sealed, body...)
	sealed = append(sealed, tag...)

	plain, err := aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, newError(AuthenticationFailed, "gcm open: %w", err)
	}
	return plain, nil
}

type cbcStrategy struct{}

func (cbcStrategy) open(key, iv, body, tag []byte) ([]byte, error) {
	if len(tag) != 0 {
		return nil, newError(AuthenticationFailed, "cbc cannot verify a %d-byte tag", len(tag))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, newError(KeyUnwrapFailed, "aes key: %w", err)
	}
	if len(iv) != aes.BlockSize {
		return nil, newError(InvalidCiphertext, "cbc iv is %d bytes", len(iv))
	}
	if len(body) == 0 || len(body)%aes.BlockSize != 0 {
		return nil, newError(InvalidCiphertext, "cbc body is %d bytes", len(body))
	}

	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, body)

	return unpad(plain)
}

// unpad strips PKCS#5/7 padding, checking every pad byte.
func unpad(b []byte) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, newError(InvalidCiphertext, "bad padding")
	}
	pad := bytes.Repeat([]byte{byte(n)}, n)
	if subtle.ConstantTimeCompare(b[len(b)-n:], pad) != 1 {
		return nil, newError(InvalidCiphertext, "bad padding")
	}
	return b[:len(b)-n], nil
}
