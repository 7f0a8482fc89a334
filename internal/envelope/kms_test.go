package envelope

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockKMSClient struct {
	input *kms.DecryptInput
	out   *kms.DecryptOutput
	err   error
}

func (m *mockKMSClient) Decrypt(_ context.Context, params *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	m.input = params
	return m.out, m.err
}

func TestKMSUnwrapper_PassesContext(t *testing.T) {
	mock := &mockKMSClient{out: &kms.DecryptOutput{Plaintext: []byte("k")}}
	u := NewKMSUnwrapper(mock)

	key, err := u.UnwrapKey(context.Background(), []byte("blob"), map[string]string{"a": "b"})
	require.NoError(t, err)
	assert.Equal(t, []byte("k"), key)
	assert.Equal(t, []byte("blob"), mock.input.CiphertextBlob)
	assert.Equal(t, map[string]string{"a": "b"}, mock.input.EncryptionContext)
}

func TestKMSUnwrapper_Classification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"internal", &types.KMSInternalException{}, true},
		{"dependency timeout", &types.DependencyTimeoutException{}, true},
		{"invalid ciphertext", &types.InvalidCiphertextException{}, false},
		{"disabled key", &types.DisabledException{}, false},
		{"network", errors.New("connection reset"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := NewKMSUnwrapper(&mockKMSClient{err: tt.err})
			_, err := u.UnwrapKey(context.Background(), []byte("blob"), nil)
			var ue *UnwrapError
			require.ErrorAs(t, err, &ue)
			assert.Equal(t, tt.transient, ue.Transient)
		})
	}
}

func TestKMSUnwrapper_EmptyPlaintext(t *testing.T) {
	u := NewKMSUnwrapper(&mockKMSClient{out: &kms.DecryptOutput{}})
	_, err := u.UnwrapKey(context.Background(), []byte("blob"), nil)
	var ue *UnwrapError
	require.ErrorAs(t, err, &ue)
	assert.False(t, ue.Transient)
}
