// Package testkit is a conformance suite every cas.CAS implementation must
// pass.
package testkit

import (
	"context"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-twin-sdk/cas"
)

// NewCAS constructs a fresh, empty CAS isolated from other tests.
type NewCAS func(t *testing.T) cas.CAS

// RunCASConformance runs the shared CAS contract tests.
func RunCASConformance(t *testing.T, newCAS NewCAS) {
	t.Helper()
	ctx := context.Background()

	t.Run("PutGetRoundTrip", func(t *testing.T) {
		store := newCAS(t)
		want := []byte(`{"action":"redeem"}`)

		id, err := store.Put(ctx, want)
		require.NoError(t, err)

		wantID, err := cas.Sum(want)
		require.NoError(t, err)
		assert.True(t, wantID.Equals(id), "got %s want %s", id, wantID)

		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.NoError(t, cas.Verify(id, got))
	})

	t.Run("PutIdempotent", func(t *testing.T) {
		store := newCAS(t)
		b := []byte("same bytes")

		id1, err := store.Put(ctx, b)
		require.NoError(t, err)
		id2, err := store.Put(ctx, b)
		require.NoError(t, err)

		assert.True(t, id1.Equals(id2))
	})

	t.Run("HasAndNotFound", func(t *testing.T) {
		store := newCAS(t)
		b := []byte("missing")
		id, err := cas.Sum(b)
		require.NoError(t, err)

		ok, err := store.Has(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = store.Get(ctx, id)
		assert.True(t, cas.IsNotFound(err), "got err=%v want ErrNotFound", err)

		_, err = store.Put(ctx, b)
		require.NoError(t, err)

		ok, err = store.Has(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("RejectUndefCID", func(t *testing.T) {
		store := newCAS(t)
		var undef cid.Cid

		ok, _ := store.Has(ctx, undef)
		assert.False(t, ok)

		_, err := store.Get(ctx, undef)
		assert.Error(t, err)
	})

	t.Run("EmptyBlob", func(t *testing.T) {
		store := newCAS(t)

		id, err := store.Put(ctx, []byte{})
		require.NoError(t, err)

		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}
