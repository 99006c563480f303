// Package store is the content store used by objects and redemptions: an
// immutable CAS for bytes plus a mutable index from keys to their latest CID.
//
// Writes always land in the CAS before the index is moved, so a resolvable
// key never points at a missing blob.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ipfs/go-cid"

	"github.com/pilacorp/go-twin-sdk/cas"
	"github.com/pilacorp/go-twin-sdk/failure"
	"github.com/pilacorp/go-twin-sdk/store/index"
)

// ErrNotFound is returned when a key or CID is unknown.
var ErrNotFound = errors.New("store: not found")

// ContentStore is the interface the protocol layers depend on.
type ContentStore interface {
	// Put stores data and makes it the latest value under key.
	Put(ctx context.Context, key string, data []byte) (cid.Cid, error)
	// PutIfAbsent stores data under key only if key was never written. It
	// returns the CID now in effect and whether this call wrote it.
	PutIfAbsent(ctx context.Context, key string, data []byte) (cid.Cid, bool, error)
	// ResolveLatest returns the CID of the latest value under key.
	ResolveLatest(ctx context.Context, key string) (cid.Cid, error)
	// Fetch returns the bytes of id.
	Fetch(ctx context.Context, id cid.Cid) ([]byte, error)
	// Exists reports whether key has a value.
	Exists(ctx context.Context, key string) (bool, error)
	// ListUnderPrefix returns every key under prefix with its latest CID.
	ListUnderPrefix(ctx context.Context, prefix string) ([]index.Entry, error)
}

// Store composes a CAS and an index.
type Store struct {
	blobs  cas.CAS
	index  index.Index
	logger *slog.Logger
}

var _ ContentStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for write diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New returns a store over blobs and idx.
func New(blobs cas.CAS, idx index.Index, opts ...Option) *Store {
	s := &Store{blobs: blobs, index: idx, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Store) Put(ctx context.Context, key string, data []byte) (cid.Cid, error) {
	if err := index.ValidateKey(key); err != nil {
		return cid.Undef, err
	}

	id, err := s.blobs.Put(ctx, data)
	if err != nil {
		return cid.Undef, fmt.Errorf("failed to store blob for %q: %w", key, err)
	}
	if err := s.index.Set(ctx, key, id); err != nil {
		return cid.Undef, fmt.Errorf("failed to update pointer for %q: %w", key, err)
	}

	s.logger.Debug("stored content", "key", key, "cid", id.String(), "size", len(data))

	return id, nil
}

func (s *Store) PutIfAbsent(ctx context.Context, key string, data []byte) (cid.Cid, bool, error) {
	if err := index.ValidateKey(key); err != nil {
		return cid.Undef, false, err
	}

	id, err := s.blobs.Put(ctx, data)
	if err != nil {
		return cid.Undef, false, fmt.Errorf("failed to store blob for %q: %w", key, err)
	}

	current, written, err := s.index.SetIfAbsent(ctx, key, id)
	if err != nil {
		return cid.Undef, false, fmt.Errorf("failed to update pointer for %q: %w", key, err)
	}
	if !written {
		s.logger.Debug("pointer already set", "key", key, "cid", current.String())
	}

	return current, written, nil
}

func (s *Store) ResolveLatest(ctx context.Context, key string) (cid.Cid, error) {
	id, err := s.index.Get(ctx, key)
	if err != nil {
		if errors.Is(err, index.ErrNotFound) {
			return cid.Undef, fmt.Errorf("key %q: %w", key, ErrNotFound)
		}
		return cid.Undef, fmt.Errorf("failed to resolve %q: %w", key, err)
	}

	return id, nil
}

func (s *Store) Fetch(ctx context.Context, id cid.Cid) ([]byte, error) {
	data, err := s.blobs.Get(ctx, id)
	if err != nil {
		if cas.IsNotFound(err) {
			return nil, fmt.Errorf("cid %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch %s: %w", id, err)
	}

	return data, nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.index.Get(ctx, key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, index.ErrNotFound) {
		return false, nil
	}

	return false, fmt.Errorf("failed to resolve %q: %w", key, err)
}

func (s *Store) ListUnderPrefix(ctx context.Context, prefix string) ([]index.Entry, error) {
	entries, err := s.index.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list %q: %w", prefix, err)
	}

	return entries, nil
}

// FetchLatest resolves key in s and fetches its bytes.
func FetchLatest(ctx context.Context, s ContentStore, key string) (cid.Cid, []byte, error) {
	id, err := s.ResolveLatest(ctx, key)
	if err != nil {
		return cid.Undef, nil, err
	}

	data, err := s.Fetch(ctx, id)
	if err != nil {
		return cid.Undef, nil, err
	}

	return id, data, nil
}

// IsNotFound reports whether err means the key or CID does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsCorrupt reports whether err means stored bytes no longer hash to the CID
// they were fetched by.
func IsCorrupt(err error) bool {
	return errors.Is(err, cas.ErrCIDMismatch)
}

// Failure classifies an error returned by a ContentStore call. Errors that
// are already classified pass through unchanged.
func Failure(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if _, ok := failure.KindOf(err); ok {
		return err
	}

	switch {
	case IsNotFound(err):
		return failure.Wrap(failure.NotFound, failure.ReasonRecordNotFound, err, format, args...)
	case IsCorrupt(err):
		return failure.Wrap(failure.Verification, failure.ReasonCorruptContent, err, format, args...)
	case errors.Is(err, index.ErrInvalidKey), errors.Is(err, cas.ErrInvalidCID):
		return failure.Wrap(failure.Validation, failure.ReasonMalformedInput, err, format, args...)
	default:
		return failure.Wrap(failure.Transport, failure.ReasonStore, err, format, args...)
	}
}
