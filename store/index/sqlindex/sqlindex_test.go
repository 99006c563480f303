package sqlindex

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-twin-sdk/cas"
	"github.com/pilacorp/go-twin-sdk/internal/sqlitedb"
	"github.com/pilacorp/go-twin-sdk/store/index"
	"github.com/pilacorp/go-twin-sdk/store/index/indextest"
)

func newTestIndex(t *testing.T, path string) *Index {
	t.Helper()

	db, err := sqlitedb.Open(path)
	require.NoError(t, err)
	idx, err := New(db)
	require.NoError(t, err)

	return idx
}

func TestIndex(t *testing.T) {
	indextest.Run(t, func(t *testing.T) index.Index {
		return newTestIndex(t, filepath.Join(t.TempDir(), "index.db"))
	})
}

func TestPointersSurviveReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")

	id, err := cas.Sum([]byte("record"))
	require.NoError(t, err)

	require.NoError(t, newTestIndex(t, path).Set(ctx, "redemptions/u/o", id))

	got, err := newTestIndex(t, path).Get(ctx, "redemptions/u/o")
	require.NoError(t, err)
	assert.True(t, id.Equals(got))
}
