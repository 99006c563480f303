package failure

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessage(t *testing.T) {
	cause := errors.New("connection refused")

	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "kind only",
			err:  New(NotFound, "", ""),
			want: "NotFound",
		},
		{
			name: "kind reason message",
			err:  New(Verification, ReasonInvalidPresenceProof, "signer %s is not the object", "0xabc"),
			want: "VerificationFailure (InvalidPresenceProof): signer 0xabc is not the object",
		},
		{
			name: "with cause",
			err:  Wrap(Transport, ReasonLedger, cause, "failed to read object %d", 5),
			want: "TransportError (LedgerUnavailable): failed to read object 5: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(Transport, "", nil, "ignored"))
}

func TestKindThroughWrapping(t *testing.T) {
	base := New(Validation, ReasonMalformedInput, "bad hex")
	wrapped := fmt.Errorf("failed to decode: %w", base)

	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, Validation, kind)
	assert.True(t, Is(wrapped, Validation))
	assert.False(t, Is(wrapped, Transport))
	assert.Equal(t, ReasonMalformedInput, ReasonOf(wrapped))

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestUnwrapReachesCause(t *testing.T) {
	sentinel := errors.New("sentinel")
	err := Wrap(NotFound, ReasonRecordNotFound, sentinel, "record missing")

	assert.True(t, errors.Is(err, sentinel))
}

func TestEnsure(t *testing.T) {
	assert.Nil(t, Ensure(nil))

	known := New(Conflict, ReasonNonceReused, "nonce used")
	assert.Same(t, known, Ensure(known))

	got := Ensure(errors.New("boom"))
	assert.True(t, Is(got, Transport))
}

func TestNameAndStack(t *testing.T) {
	err := New(Validation, "", "x")

	var named Named = err
	assert.Equal(t, "ValidationError", named.Name())
	assert.Contains(t, err.Stack(), "TestNameAndStack")
}
