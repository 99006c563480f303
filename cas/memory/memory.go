// Package memory is an in-process CAS used by tests and single-node setups.
package memory

import (
	"bytes"
	"context"
	"sync"

	"github.com/ipfs/go-cid"

	"github.com/pilacorp/go-twin-sdk/cas"
)

// CAS keeps blobs in a map keyed by CID.
type CAS struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

var _ cas.CAS = (*CAS)(nil)

// New returns an empty in-memory CAS.
func New() *CAS {
	return &CAS{blobs: make(map[string][]byte)}
}

func (c *CAS) Put(_ context.Context, data []byte) (cid.Cid, error) {
	id, err := cas.Sum(data)
	if err != nil {
		return cid.Undef, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.blobs[id.KeyString()]; ok {
		if !bytes.Equal(existing, data) {
			return cid.Undef, cas.ErrImmutable
		}
		return id, nil
	}
	c.blobs[id.KeyString()] = bytes.Clone(data)

	return id, nil
}

func (c *CAS) Get(_ context.Context, id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, cas.ErrInvalidCID
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	data, ok := c.blobs[id.KeyString()]
	if !ok {
		return nil, cas.ErrNotFound
	}

	return bytes.Clone(data), nil
}

func (c *CAS) Has(_ context.Context, id cid.Cid) (bool, error) {
	if !id.Defined() {
		return false, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.blobs[id.KeyString()]
	return ok, nil
}

// Len returns the number of stored blobs.
func (c *CAS) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.blobs)
}
