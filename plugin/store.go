package plugin

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

// Record is a plugin activation. A row existing for a class name is the
// only thing that makes the plugin active.
type Record struct {
	ID        string `gorm:"primaryKey;size:36" json:"id"`
	ClassName string `gorm:"column:class_name;size:255;not null;index" json:"class_name"`
}

// TableName implements gorm's tabler.
func (Record) TableName() string { return "plugin" }

// BeforeCreate assigns a time-ordered UUIDv7, so ids sort in activation order.
func (r *Record) BeforeCreate(tx *gorm.DB) error {
	if r.ID != "" {
		return nil
	}
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate plugin id: %w", err)
	}
	r.ID = id.String()
	return nil
}

// OptionRow is a per-plugin key/value setting written by plugins through the
// options Lua module.
type OptionRow struct {
	ClassName string `gorm:"column:class_name;primaryKey;size:255"`
	Key       string `gorm:"column:key;primaryKey;size:191"`
	Value     []byte `gorm:"column:value"`
}

// TableName implements gorm's tabler.
func (OptionRow) TableName() string { return "plugin_options" }

const maxBusyRetries = 5

// Store persists activation records.
type Store struct {
	db *gorm.DB
}

// NewStore migrates the plugin tables and returns a store over db.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Record{}, &OptionRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate plugin tables: %w", err)
	}
	return &Store{db: db}, nil
}

// DB returns the underlying gorm handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Insert adds an activation record for className. It does not check for an
// existing row.
func (s *Store) Insert(ctx context.Context, className string) (*Record, error) {
	rec := &Record{ClassName: className}
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		rec.ID = ""
		return tx.Create(rec).Error
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// DeleteByClass removes every record for className and returns how many
// rows were deleted.
func (s *Store) DeleteByClass(ctx context.Context, className string) (int64, error) {
	var n int64
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		res := tx.Where("class_name = ?", className).Delete(&Record{})
		n = res.RowsAffected
		return res.Error
	})
	return n, err
}

// Count returns the number of records for className.
func (s *Store) Count(ctx context.Context, className string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Record{}).Where("class_name = ?", className).Count(&n).Error
	return n, err
}

// ClassNames returns each active class name once, in activation order.
func (s *Store) ClassNames(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).
		Raw("SELECT class_name FROM plugin GROUP BY class_name ORDER BY MIN(id)").
		Scan(&names).Error
	return names, err
}

// Records returns every activation record ordered by id.
func (s *Store) Records(ctx context.Context) ([]Record, error) {
	var recs []Record
	err := s.db.WithContext(ctx).Order("id").Find(&recs).Error
	return recs, err
}

// Replace swaps the whole table for recs in one transaction.
func (s *Store) Replace(ctx context.Context, recs []Record) error {
	return s.transaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&Record{}).Error; err != nil {
			return err
		}
		for i := range recs {
			rec := recs[i]
			if err := tx.Create(&rec).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// transaction runs fn in a gorm transaction, retrying while SQLite reports
// the database busy or locked.
func (s *Store) transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	op := func() error {
		err := s.db.WithContext(ctx).Transaction(fn)
		if err != nil && !isBusy(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxBusyRetries), ctx)
	return backoff.Retry(op, b)
}

func isBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}
