// Package cas defines the immutable blob layer of the content store: bytes
// in, CID out.
//
// Contract for every implementation:
//   - Put is idempotent and returns the CID derived from the bytes written.
//   - Stored blobs are immutable.
//   - Get returns ErrNotFound when the CID is absent and never returns bytes
//     that do not hash to the requested CID.
package cas

import (
	"context"
	"errors"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

var (
	ErrNotFound    = errors.New("cas: not found")
	ErrInvalidCID  = errors.New("cas: invalid cid")
	ErrCIDMismatch = errors.New("cas: cid mismatch")
	ErrImmutable   = errors.New("cas: immutable blob mismatch")
)

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// CAS is a content-addressable blob store.
type CAS interface {
	Put(ctx context.Context, data []byte) (cid.Cid, error)
	Get(ctx context.Context, id cid.Cid) ([]byte, error)
	Has(ctx context.Context, id cid.Cid) (bool, error)
}

// Sum returns the CIDv1 (raw codec, sha2-256 multihash) of data.
func Sum(data []byte) (cid.Cid, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}

	return cid.NewCidV1(cid.Raw, mh), nil
}

// Verify checks that data hashes to id.
func Verify(id cid.Cid, data []byte) error {
	got, err := Sum(data)
	if err != nil {
		return err
	}
	if !got.Equals(id) {
		return ErrCIDMismatch
	}

	return nil
}
