package cas

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ipfs/go-cid"
	"golang.org/x/sync/errgroup"
)

// Backend associates a CAS with a stable name used in logs and errors.
type Backend struct {
	Name string
	CAS  CAS
}

// Replicating writes every blob to all backends concurrently and reads from
// the first backend that has it, in order.
type Replicating struct {
	Backends []Backend
}

var _ CAS = (*Replicating)(nil)

// PutAll writes data to all backends and returns the per-backend CIDs.
// Any backend disagreeing with the locally computed CID fails the write with
// ErrCIDMismatch.
func (r *Replicating) PutAll(ctx context.Context, data []byte) (cid.Cid, map[string]cid.Cid, error) {
	want, err := Sum(data)
	if err != nil {
		return cid.Undef, nil, err
	}
	if len(r.Backends) == 0 {
		return cid.Undef, nil, fmt.Errorf("cas: replicating store has no backends")
	}

	for _, b := range r.Backends {
		if b.CAS == nil {
			return cid.Undef, nil, fmt.Errorf("cas: nil backend %q", b.Name)
		}
	}

	var (
		mu  sync.Mutex
		out = make(map[string]cid.Cid, len(r.Backends))
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, b := range r.Backends {
		g.Go(func() error {
			got, err := b.CAS.Put(gctx, data)
			if err != nil {
				return fmt.Errorf("failed to put to backend %q: %w", b.Name, err)
			}

			mu.Lock()
			out[b.Name] = got
			mu.Unlock()

			if !got.Equals(want) {
				return fmt.Errorf("backend %q: %w", b.Name, ErrCIDMismatch)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return cid.Undef, out, err
	}

	return want, out, nil
}

func (r *Replicating) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	id, _, err := r.PutAll(ctx, data)
	return id, err
}

// Get returns the blob from the first backend holding intact bytes for id.
// A backend whose copy fails verification is skipped. Returns ErrCIDMismatch
// when no backend had an intact copy but at least one had a corrupt one.
func (r *Replicating) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	var corrupt error
	for _, b := range r.Backends {
		if b.CAS == nil {
			continue
		}
		data, err := b.CAS.Get(ctx, id)
		if err == nil {
			return data, nil
		}
		if IsNotFound(err) {
			continue
		}
		if errors.Is(err, ErrCIDMismatch) {
			if corrupt == nil {
				corrupt = fmt.Errorf("backend %q: %w", b.Name, err)
			}
			continue
		}
		return nil, fmt.Errorf("failed to get from backend %q: %w", b.Name, err)
	}
	if corrupt != nil {
		return nil, corrupt
	}

	return nil, ErrNotFound
}

func (r *Replicating) Has(ctx context.Context, id cid.Cid) (bool, error) {
	for _, b := range r.Backends {
		if b.CAS == nil {
			continue
		}
		ok, err := b.CAS.Has(ctx, id)
		if err != nil {
			return false, fmt.Errorf("failed to query backend %q: %w", b.Name, err)
		}
		if ok {
			return true, nil
		}
	}

	return false, nil
}
