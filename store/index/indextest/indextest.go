// Package indextest holds the behaviour every index.Index must share.
package indextest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-twin-sdk/cas"
	"github.com/pilacorp/go-twin-sdk/store/index"
)

// Run exercises an index implementation.
func Run(t *testing.T, newIndex func(t *testing.T) index.Index) {
	t.Helper()
	ctx := context.Background()

	a, err := cas.Sum([]byte("a"))
	require.NoError(t, err)
	b, err := cas.Sum([]byte("b"))
	require.NoError(t, err)

	t.Run("GetMissing", func(t *testing.T) {
		idx := newIndex(t)
		_, err := idx.Get(ctx, "redemptions/x/y")
		assert.ErrorIs(t, err, index.ErrNotFound)
	})

	t.Run("LastWriteWins", func(t *testing.T) {
		idx := newIndex(t)
		require.NoError(t, idx.Set(ctx, "k", a))
		require.NoError(t, idx.Set(ctx, "k", b))

		got, err := idx.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, b.Equals(got))
	})

	t.Run("SetIfAbsent", func(t *testing.T) {
		idx := newIndex(t)

		got, written, err := idx.SetIfAbsent(ctx, "k", a)
		require.NoError(t, err)
		assert.True(t, written)
		assert.True(t, a.Equals(got))

		got, written, err = idx.SetIfAbsent(ctx, "k", b)
		require.NoError(t, err)
		assert.False(t, written)
		assert.True(t, a.Equals(got))

		latest, err := idx.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, a.Equals(latest))
	})

	t.Run("ListUnderPrefix", func(t *testing.T) {
		idx := newIndex(t)
		require.NoError(t, idx.Set(ctx, "redemptions/u1/o2", a))
		require.NoError(t, idx.Set(ctx, "redemptions/u1/o1", b))
		require.NoError(t, idx.Set(ctx, "redemptions/u2/o1", a))
		require.NoError(t, idx.Set(ctx, "objects/o1/metadata", a))
		require.NoError(t, idx.Set(ctx, "Redemptions/u1/o3", a))

		entries, err := idx.List(ctx, "redemptions/u1/")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "redemptions/u1/o1", entries[0].Key)
		assert.Equal(t, "redemptions/u1/o2", entries[1].Key)
		assert.True(t, b.Equals(entries[0].CID))

		all, err := idx.List(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 5)

		none, err := idx.List(ctx, "redemptions/u1%")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("RejectsBadKeys", func(t *testing.T) {
		idx := newIndex(t)
		assert.Error(t, idx.Set(ctx, "", a))
		assert.Error(t, idx.Set(ctx, "/leading", a))
		_, _, err := idx.SetIfAbsent(ctx, "trailing/", a)
		assert.Error(t, err)
	})
}
