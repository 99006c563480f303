package nonce

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-twin-sdk/internal/sqlitedb"
)

func registries(t *testing.T) map[string]Registry {
	t.Helper()

	db, err := sqlitedb.Open(filepath.Join(t.TempDir(), "nonces.db"))
	require.NoError(t, err)
	sqlReg, err := NewSQLRegistry(db)
	require.NoError(t, err)

	return map[string]Registry{
		"memory": NewMemoryRegistry(),
		"sql":    sqlReg,
	}
}

func TestReserveOnce(t *testing.T) {
	ctx := context.Background()

	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, reg.Reserve(ctx, "5", "n1"))
			assert.ErrorIs(t, reg.Reserve(ctx, "5", "n1"), ErrReused)

			// Same nonce on another object is independent.
			require.NoError(t, reg.Reserve(ctx, "6", "n1"))
			require.NoError(t, reg.Reserve(ctx, "5", "n2"))
		})
	}
}

func TestRelease(t *testing.T) {
	ctx := context.Background()

	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, reg.Reserve(ctx, "5", "n1"))
			require.NoError(t, reg.Release(ctx, "5", "n1"))
			require.NoError(t, reg.Reserve(ctx, "5", "n1"))

			// Releasing something never reserved is not an error.
			require.NoError(t, reg.Release(ctx, "9", "unknown"))
		})
	}
}

func TestMemoryRegistryConcurrentReserve(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()

	var (
		wg  sync.WaitGroup
		won atomic.Int32
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if reg.Reserve(ctx, "5", "race") == nil {
				won.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), won.Load())
}
