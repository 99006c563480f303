package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-twin-sdk/cas"
	"github.com/pilacorp/go-twin-sdk/cas/memory"
	"github.com/pilacorp/go-twin-sdk/failure"
	"github.com/pilacorp/go-twin-sdk/store/index"
	"github.com/pilacorp/go-twin-sdk/store/index/memindex"
)

func newTestStore() *Store {
	return New(memory.New(), memindex.New())
}

func TestPutResolveFetch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	key := "redemptions/did:ethr:0xaa/did:ethr:0xbb"

	id, err := s.Put(ctx, key, []byte(`{"v":1}`))
	require.NoError(t, err)

	latest, err := s.ResolveLatest(ctx, key)
	require.NoError(t, err)
	assert.True(t, id.Equals(latest))

	data, err := s.Fetch(ctx, latest)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"v":1}`), data)

	ok, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPutIsLastWriteWins(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	first, err := s.Put(ctx, "k", []byte("first"))
	require.NoError(t, err)
	second, err := s.Put(ctx, "k", []byte("second"))
	require.NoError(t, err)

	latest, data, err := FetchLatest(ctx, s, "k")
	require.NoError(t, err)
	assert.True(t, second.Equals(latest))
	assert.Equal(t, []byte("second"), data)

	// Earlier versions stay addressable by CID.
	old, err := s.Fetch(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), old)
}

func TestPutIfAbsent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	first, written, err := s.PutIfAbsent(ctx, "k", []byte("first"))
	require.NoError(t, err)
	assert.True(t, written)

	current, written, err := s.PutIfAbsent(ctx, "k", []byte("second"))
	require.NoError(t, err)
	assert.False(t, written)
	assert.True(t, first.Equals(current))
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	_, err := s.ResolveLatest(ctx, "missing")
	assert.True(t, IsNotFound(err))

	id, err := cas.Sum([]byte("never stored"))
	require.NoError(t, err)
	_, err = s.Fetch(ctx, id)
	assert.True(t, IsNotFound(err))

	ok, err := s.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListUnderPrefix(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	for _, k := range []string{"redemptions/u1/o1", "redemptions/u1/o2", "redemptions/u2/o1"} {
		_, err := s.Put(ctx, k, []byte(k))
		require.NoError(t, err)
	}

	entries, err := s.ListUnderPrefix(ctx, "redemptions/u1/")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "redemptions/u1/o1", entries[0].Key)
}

func TestPutRejectsBadKey(t *testing.T) {
	_, err := newTestStore().Put(context.Background(), "", []byte("x"))
	assert.Error(t, err)
}

func TestFailure(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   failure.Kind
		reason string
	}{
		{"not found", fmt.Errorf("cid x: %w", ErrNotFound), failure.NotFound, failure.ReasonRecordNotFound},
		{"corrupt", fmt.Errorf("failed to fetch x: %w", cas.ErrCIDMismatch), failure.Verification, failure.ReasonCorruptContent},
		{"bad key", index.ErrInvalidKey, failure.Validation, failure.ReasonMalformedInput},
		{"bad cid", cas.ErrInvalidCID, failure.Validation, failure.ReasonMalformedInput},
		{"unreachable", errors.New("connection refused"), failure.Transport, failure.ReasonStore},
		{"classified", failure.New(failure.Conflict, failure.ReasonAlreadyRedeemed, "taken"), failure.Conflict, failure.ReasonAlreadyRedeemed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Failure(tt.err, "failed to read")
			assert.True(t, failure.Is(err, tt.kind), "got %v", err)
			assert.Equal(t, tt.reason, failure.ReasonOf(err))
		})
	}

	assert.NoError(t, Failure(nil, "unused"))
}
