// Package sqlindex is an index.Index persisted in SQLite through gorm.
package sqlindex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ipfs/go-cid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pilacorp/go-twin-sdk/store/index"
)

// Pointer is one row of the pointer table.
type Pointer struct {
	Path      string `gorm:"primaryKey"`
	Cid       string `gorm:"not null"`
	UpdatedAt time.Time
}

// TableName tells gorm the pointer table name.
func (Pointer) TableName() string { return "pointers" }

// Index stores pointers in the "pointers" table.
type Index struct {
	db *gorm.DB
}

var _ index.Index = (*Index)(nil)

// New migrates the pointer table and returns an index over db.
func New(db *gorm.DB) (*Index, error) {
	if err := db.AutoMigrate(&Pointer{}); err != nil {
		return nil, fmt.Errorf("failed to migrate pointer table: %w", err)
	}

	return &Index{db: db}, nil
}

func (x *Index) Set(ctx context.Context, key string, id cid.Cid) error {
	if err := index.ValidateKey(key); err != nil {
		return err
	}

	p := Pointer{Path: key, Cid: id.String(), UpdatedAt: time.Now().UTC()}
	if err := x.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}},
		UpdateAll: true,
	}).Create(&p).Error; err != nil {
		return fmt.Errorf("failed to set pointer %q: %w", key, err)
	}

	return nil
}

func (x *Index) SetIfAbsent(ctx context.Context, key string, id cid.Cid) (cid.Cid, bool, error) {
	if err := index.ValidateKey(key); err != nil {
		return cid.Undef, false, err
	}

	p := Pointer{Path: key, Cid: id.String(), UpdatedAt: time.Now().UTC()}
	res := x.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&p)
	if res.Error != nil {
		return cid.Undef, false, fmt.Errorf("failed to set pointer %q: %w", key, res.Error)
	}
	if res.RowsAffected == 1 {
		return id, true, nil
	}

	existing, err := x.Get(ctx, key)
	if err != nil {
		return cid.Undef, false, err
	}

	return existing, false, nil
}

func (x *Index) Get(ctx context.Context, key string) (cid.Cid, error) {
	var p Pointer
	if err := x.db.WithContext(ctx).Where("path = ?", key).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return cid.Undef, index.ErrNotFound
		}
		return cid.Undef, fmt.Errorf("failed to get pointer %q: %w", key, err)
	}

	id, err := cid.Decode(p.Cid)
	if err != nil {
		return cid.Undef, fmt.Errorf("failed to decode stored cid for %q: %w", key, err)
	}

	return id, nil
}

func (x *Index) List(ctx context.Context, prefix string) ([]index.Entry, error) {
	var rows []Pointer
	// instr keeps the match case-sensitive and free of LIKE wildcards.
	if err := x.db.WithContext(ctx).Where("instr(path, ?) = 1", prefix).Order("path").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list pointers under %q: %w", prefix, err)
	}

	out := make([]index.Entry, 0, len(rows))
	for _, r := range rows {
		id, err := cid.Decode(r.Cid)
		if err != nil {
			return nil, fmt.Errorf("failed to decode stored cid for %q: %w", r.Path, err)
		}
		out = append(out, index.Entry{Key: r.Path, CID: id, UpdatedAt: r.UpdatedAt})
	}

	return out, nil
}
