package envelope

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"
)

// Object metadata keys written by the S3 encryption client (v2 format).
const (
	MetaWrappedKey = "x-amz-key-v2"
	MetaIV         = "x-amz-iv"
	MetaTagLen     = "x-amz-tag-len"
	MetaAlgorithm  = "x-amz-cek-alg"
	MetaMatDesc    = "x-amz-matdesc"
	MetaWrapAlg    = "x-amz-wrap-alg"
)

// MetaWrappedKeyV1 marks objects from the v1 client, which is not supported.
// Such objects are encrypted all the same.
const MetaWrappedKeyV1 = "x-amz-key"

// Metadata describes how an object was envelope-encrypted.
type Metadata struct {
	WrappedKey []byte
	IV         []byte
	// TagLength is in bytes; zero means the ciphertext carries no tag.
	TagLength int
	Algorithm Algorithm
	// AlgorithmName is the value as stored, kept for logs and errors.
	AlgorithmName     string
	EncryptionContext map[string]string
	WrapAlgorithm     string
}

// IsEncrypted reports whether object metadata carries an envelope
// encryption marker of either client version.
func IsEncrypted(meta map[string]string) bool {
	if _, ok := lookup(meta, MetaWrappedKey); ok {
		return true
	}
	_, ok := lookup(meta, MetaWrappedKeyV1)
	return ok
}

// ParseMetadata extracts encryption metadata from object metadata. The
// algorithm is validated first so an unsupported cipher is rejected without
// looking at the key material.
func ParseMetadata(meta map[string]string) (*Metadata, error) {
	if _, v2 := lookup(meta, MetaWrappedKey); !v2 {
		if _, v1 := lookup(meta, MetaWrappedKeyV1); v1 {
			return nil, newError(UnsupportedAlgorithm, "v1 envelope (%s) is not supported", MetaWrappedKeyV1)
		}
	}

	algName, _ := lookup(meta, MetaAlgorithm)
	alg, err := ParseAlgorithm(algName)
	if err != nil {
		return nil, err
	}

	keyB64, ok := lookup(meta, MetaWrappedKey)
	if !ok || keyB64 == "" {
		return nil, newError(MissingKeyMetadata, "missing %s", MetaWrappedKey)
	}
	wrapped, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, newError(MissingKeyMetadata, "decode %s: %w", MetaWrappedKey, err)
	}

	ivB64, ok := lookup(meta, MetaIV)
	if !ok || ivB64 == "" {
		return nil, newError(MissingKeyMetadata, "missing %s", MetaIV)
	}
	iv, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil {
		return nil, newError(MissingKeyMetadata, "decode %s: %w", MetaIV, err)
	}

	tagLen := 0
	if raw, ok := lookup(meta, MetaTagLen); ok && raw != "" {
		bits, err := strconv.Atoi(raw)
		if err != nil || bits < 0 || bits%8 != 0 {
			return nil, newError(MissingKeyMetadata, "invalid %s %q", MetaTagLen, raw)
		}
		tagLen = bits / 8
	}

	encCtx := map[string]string{}
	if raw, ok := lookup(meta, MetaMatDesc); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &encCtx); err != nil {
			return nil, newError(MissingKeyMetadata, "decode %s: %w", MetaMatDesc, err)
		}
	}

	wrapAlg, _ := lookup(meta, MetaWrapAlg)

	return &Metadata{
		WrappedKey:        wrapped,
		IV:                iv,
		TagLength:         tagLen,
		Algorithm:         alg,
		AlgorithmName:     algName,
		EncryptionContext: encCtx,
		WrapAlgorithm:     wrapAlg,
	}, nil
}

// lookup is case-insensitive: S3 user metadata keys come back lowercased
// from some endpoints and canonicalised from others.
func lookup(meta map[string]string, key string) (string, bool) {
	if v, ok := meta[key]; ok {
		return v, true
	}
	for k, v := range meta {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}
