// Package index maps mutable keys to the CID of their latest blob.
//
// The index is the only mutable part of the content store. Set is
// last-write-wins; SetIfAbsent is the conditional write used by once-only
// records.
package index

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
)

var (
	// ErrNotFound is returned when a key has never been written.
	ErrNotFound = errors.New("index: key not found")
	// ErrInvalidKey is returned for keys the store can not address.
	ErrInvalidKey = errors.New("index: invalid key")
)

// Entry is one key with its latest CID.
type Entry struct {
	Key       string
	CID       cid.Cid
	UpdatedAt time.Time
}

// Index is a key to CID pointer table.
type Index interface {
	// Set points key at id, replacing any previous pointer.
	Set(ctx context.Context, key string, id cid.Cid) error
	// SetIfAbsent points key at id only if key has no pointer yet. It returns
	// the pointer now in effect and whether this call wrote it.
	SetIfAbsent(ctx context.Context, key string, id cid.Cid) (cid.Cid, bool, error)
	// Get returns the latest pointer for key.
	Get(ctx context.Context, key string) (cid.Cid, error)
	// List returns every key starting with prefix, ordered by key.
	List(ctx context.Context, prefix string) ([]Entry, error)
}

// ValidateKey rejects keys the store can not address.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/") {
		return fmt.Errorf("%w: %q must not start or end with '/'", ErrInvalidKey, key)
	}

	return nil
}
