// Package nonce remembers which presence payload nonces were already
// consumed, so a captured QR code can not be replayed into a second claim.
package nonce

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrReused is returned when a nonce was already reserved in its scope.
var ErrReused = errors.New("nonce: already used")

// Registry reserves (scope, nonce) pairs exactly once.
type Registry interface {
	// Reserve marks nonce as used within scope, or returns ErrReused.
	Reserve(ctx context.Context, scope, nonce string) error
	// Release frees a reservation whose claim never reached the ledger.
	Release(ctx context.Context, scope, nonce string) error
}

// MemoryRegistry is an in-process Registry.
type MemoryRegistry struct {
	mu   sync.Mutex
	used map[string]struct{}
}

var _ Registry = (*MemoryRegistry)(nil)

// NewMemoryRegistry returns an empty in-process registry.
//
// Returns a Registry whose reservations are lost on restart, so a payload can
// be claimed again after the process restarts. Use SQLRegistry when that
// matters.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{used: make(map[string]struct{})}
}

func (r *MemoryRegistry) Reserve(_ context.Context, scope, nonce string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := scope + "\x00" + nonce
	if _, ok := r.used[k]; ok {
		return ErrReused
	}
	r.used[k] = struct{}{}

	return nil
}

func (r *MemoryRegistry) Release(_ context.Context, scope, nonce string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.used, scope+"\x00"+nonce)
	return nil
}

// UsedNonce is one row of the used_nonces table.
type UsedNonce struct {
	Scope     string `gorm:"primaryKey"`
	Nonce     string `gorm:"primaryKey"`
	CreatedAt time.Time
}

// SQLRegistry persists reservations through gorm.
type SQLRegistry struct {
	db *gorm.DB
}

var _ Registry = (*SQLRegistry)(nil)

// NewSQLRegistry migrates the used_nonces table and returns a registry over db.
func NewSQLRegistry(db *gorm.DB) (*SQLRegistry, error) {
	if err := db.AutoMigrate(&UsedNonce{}); err != nil {
		return nil, fmt.Errorf("failed to migrate nonce table: %w", err)
	}

	return &SQLRegistry{db: db}, nil
}

func (r *SQLRegistry) Reserve(ctx context.Context, scope, nonce string) error {
	row := UsedNonce{Scope: scope, Nonce: nonce, CreatedAt: time.Now().UTC()}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return fmt.Errorf("failed to reserve nonce: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrReused
	}

	return nil
}

func (r *SQLRegistry) Release(ctx context.Context, scope, nonce string) error {
	if err := r.db.WithContext(ctx).Where("scope = ? AND nonce = ?", scope, nonce).Delete(&UsedNonce{}).Error; err != nil {
		return fmt.Errorf("failed to release nonce: %w", err)
	}

	return nil
}
