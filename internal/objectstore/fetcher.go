package objectstore

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/sungwon/ses-relay/internal/envelope"
	"github.com/sungwon/ses-relay/internal/logger"
	"github.com/sungwon/ses-relay/internal/notification"
)

// objectDecryptor is satisfied by *envelope.Decryptor.
type objectDecryptor interface {
	DecryptObject(ctx context.Context, body []byte, meta map[string]string) ([]byte, error)
}

// Fetcher retrieves an object and returns its plaintext.
type Fetcher struct {
	store     BlobStore
	decryptor objectDecryptor
	log       zerolog.Logger
}

// NewFetcher creates a Fetcher. decryptor may be nil when no encrypted
// objects are expected; an encrypted object then fails with
// envelope.MissingKeyMetadata.
func NewFetcher(store BlobStore, decryptor objectDecryptor, log zerolog.Logger) *Fetcher {
	return &Fetcher{store: store, decryptor: decryptor, log: log}
}

// Fetch reads the object at loc. Plaintext objects are returned unchanged;
// objects carrying the envelope encryption marker are decrypted. Errors are
// *FetchError or *envelope.DecryptError.
func (f *Fetcher) Fetch(ctx context.Context, loc notification.Locator) ([]byte, error) {
	obj, err := f.store.Get(ctx, loc.Container, loc.Key)
	if err != nil {
		return nil, err
	}

	if !envelope.IsEncrypted(obj.Metadata) {
		l := logger.FromContextOr(ctx, f.log)
		l.Debug().
			Int("bytes", len(obj.Body)).
			Msg("fetched plaintext object")
		return obj.Body, nil
	}

	if f.decryptor == nil {
		return nil, &envelope.DecryptError{
			Kind: envelope.MissingKeyMetadata,
			Err:  errors.New("object is encrypted but no decryptor is configured"),
		}
	}

	plain, err := f.decryptor.DecryptObject(ctx, obj.Body, obj.Metadata)
	if err != nil {
		return nil, err
	}

	l := logger.FromContextOr(ctx, f.log)
	l.Debug().
		Int("bytes", len(plain)).
		Msg("fetched encrypted object")
	return plain, nil
}
