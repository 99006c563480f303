// Package localfs stores blobs as read-only files under a root directory,
// sharded by the first two characters of the CID.
package localfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ipfs/go-cid"

	"github.com/pilacorp/go-twin-sdk/cas"
)

// CAS is a filesystem-backed content-addressable store.
type CAS struct {
	root string
}

var _ cas.CAS = (*CAS)(nil)

// New constructs a filesystem CAS rooted at root, creating it if needed.
func New(root string) (*CAS, error) {
	if root == "" {
		return nil, errors.New("localfs: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}

	return &CAS{root: root}, nil
}

func (c *CAS) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	id, err := cas.Sum(data)
	if err != nil {
		return cid.Undef, err
	}
	if err := ctx.Err(); err != nil {
		return cid.Undef, err
	}

	path := c.pathFor(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return cid.Undef, fmt.Errorf("failed to create shard directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
	if err != nil {
		if !os.IsExist(err) {
			return cid.Undef, fmt.Errorf("failed to create blob file: %w", err)
		}
		// Already stored: it must hold the same bytes.
		existing, rerr := c.Get(ctx, id)
		if rerr != nil || !bytes.Equal(existing, data) {
			return cid.Undef, cas.ErrImmutable
		}
		return id, nil
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return cid.Undef, fmt.Errorf("failed to write blob: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return cid.Undef, fmt.Errorf("failed to sync blob: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return cid.Undef, fmt.Errorf("failed to close blob: %w", err)
	}

	return id, nil
}

func (c *CAS) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, cas.ErrInvalidCID
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(c.pathFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cas.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	if err := cas.Verify(id, data); err != nil {
		return nil, err
	}

	return data, nil
}

func (c *CAS) Has(_ context.Context, id cid.Cid) (bool, error) {
	if !id.Defined() {
		return false, nil
	}

	_, err := os.Stat(c.pathFor(id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}

	return false, fmt.Errorf("failed to stat blob: %w", err)
}

func (c *CAS) pathFor(id cid.Cid) string {
	s := id.String()
	if len(s) < 2 {
		return filepath.Join(c.root, s)
	}

	return filepath.Join(c.root, s[:2], s)
}
