// Package memindex is an in-process index.Index.
package memindex

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ipfs/go-cid"

	"github.com/pilacorp/go-twin-sdk/store/index"
)

// Index is a map guarded by a RWMutex.
type Index struct {
	mu      sync.RWMutex
	entries map[string]index.Entry
	now     func() time.Time
}

var _ index.Index = (*Index)(nil)

// New returns an empty in-memory index.
//
// Returns an Index that keeps pointers only for the lifetime of the process;
// use sqlindex for pointers that must survive a restart.
func New() *Index {
	return &Index{entries: make(map[string]index.Entry), now: time.Now}
}

func (m *Index) Set(_ context.Context, key string, id cid.Cid) error {
	if err := index.ValidateKey(key); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = index.Entry{Key: key, CID: id, UpdatedAt: m.now()}
	return nil
}

func (m *Index) SetIfAbsent(_ context.Context, key string, id cid.Cid) (cid.Cid, bool, error) {
	if err := index.ValidateKey(key); err != nil {
		return cid.Undef, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.entries[key]; ok {
		return existing.CID, false, nil
	}
	m.entries[key] = index.Entry{Key: key, CID: id, UpdatedAt: m.now()}

	return id, true, nil
}

func (m *Index) Get(_ context.Context, key string) (cid.Cid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok {
		return cid.Undef, index.ErrNotFound
	}

	return e.CID, nil
}

func (m *Index) List(_ context.Context, prefix string) ([]index.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []index.Entry
	for k, e := range m.entries {
		if strings.HasPrefix(k, prefix) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })

	return out, nil
}
