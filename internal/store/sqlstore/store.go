// Package sqlstore keeps relay state in PostgreSQL through GORM. Rows carry
// their own expiry, which every read checks; Sweep reclaims them later.
package sqlstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/thereayou/signal-relay/internal/store"
)

const sweepBatch = 1000

const liveCond = "(expires_at IS NULL OR expires_at > ?)"

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to dsn and migrates the relay tables.
func Open(dsn string, opts ...Option) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return New(db, opts...)
}

func New(db *gorm.DB, opts ...Option) (*Store, error) {
	if err := db.AutoMigrate(&keyRow{}, &entryRow{}); err != nil {
		return nil, err
	}
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) deadline(ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := s.now().Add(ttl).UTC()
	return &t
}

func (s *Store) expired(row *keyRow) bool {
	return row.ExpiresAt != nil && !s.now().Before(*row.ExpiresAt)
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var row keyRow
	err := s.db.WithContext(ctx).
		Where("key = ?", key).
		Where(liveCond, s.now().UTC()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if row.IsList {
		return nil, store.ErrWrongType
	}
	return row.Value, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("key = ?", key).Delete(&entryRow{}).Error; err != nil {
			return err
		}
		row := keyRow{Key: key, Value: value, ExpiresAt: s.deadline(ttl)}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "is_list", "expires_at"}),
		}).Create(&row).Error
	})
}

func (s *Store) ListAppend(ctx context.Context, key string, entry []byte) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := s.appendLocked(tx, key, entry)
		return err
	})
}

func (s *Store) ListAppendExpire(ctx context.Context, key string, entry []byte, ttl time.Duration) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.appendLocked(tx, key, entry); err != nil {
			return err
		}
		return tx.Model(&keyRow{}).Where("key = ?", key).Update("expires_at", s.deadline(ttl)).Error
	})
}

// appendLocked inserts entry under a row lock on the list's key row, which
// is also what ListDrain locks, so the two never interleave.
func (s *Store) appendLocked(tx *gorm.DB, key string, entry []byte) (*keyRow, error) {
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&keyRow{Key: key, IsList: true}).Error; err != nil {
		return nil, err
	}
	row, err := lockRow(tx, key)
	if err != nil {
		return nil, err
	}

	switch {
	case s.expired(row):
		// whatever was there is gone; start a fresh list
		if err := tx.Where("key = ?", key).Delete(&entryRow{}).Error; err != nil {
			return nil, err
		}
		err := tx.Model(&keyRow{}).Where("key = ?", key).Updates(map[string]any{
			"is_list":    true,
			"value":      nil,
			"expires_at": nil,
		}).Error
		if err != nil {
			return nil, err
		}
		row.IsList, row.Value, row.ExpiresAt = true, nil, nil
	case !row.IsList:
		return nil, store.ErrWrongType
	}

	if err := tx.Create(&entryRow{Key: key, Value: entry}).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (s *Store) ListDrain(ctx context.Context, key string) ([][]byte, error) {
	out := [][]byte{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := lockRow(tx, key)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		expired := s.expired(row)
		if !row.IsList && !expired {
			return store.ErrWrongType
		}

		if !expired {
			var entries []entryRow
			if err := tx.Where("key = ?", key).Order("id").Find(&entries).Error; err != nil {
				return err
			}
			for _, e := range entries {
				out = append(out, e.Value)
			}
		}

		if err := tx.Where("key = ?", key).Delete(&entryRow{}).Error; err != nil {
			return err
		}
		return tx.Where("key = ?", key).Delete(&keyRow{}).Error
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.db.WithContext(ctx).
		Model(&keyRow{}).
		Where("key = ?", key).
		Where(liveCond, s.now().UTC()).
		Update("expires_at", s.deadline(ttl)).Error
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("key = ?", key).Delete(&entryRow{}).Error; err != nil {
			return err
		}
		return tx.Where("key = ?", key).Delete(&keyRow{}).Error
	})
}

// Update runs fn while holding the row lock, so no retry is ever needed.
func (s *Store) Update(ctx context.Context, key string, fn store.UpdateFunc) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := lockRow(tx, key)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		if s.expired(row) {
			return store.ErrNotFound
		}
		if row.IsList {
			return store.ErrWrongType
		}
		next, err := fn(row.Value)
		if err != nil {
			return err
		}
		return tx.Model(&keyRow{}).Where("key = ?", key).Update("value", next).Error
	})
}

func (s *Store) Count(ctx context.Context, prefix string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&keyRow{}).
		Where("key LIKE ?", escapeLike(prefix)+"%").
		Where(liveCond, s.now().UTC()).
		Count(&n).Error
	return n, err
}

// Sweep deletes up to one batch of expired keys with their list entries.
// Rows locked by an in-flight append or drain are skipped.
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var keys []string
		err := tx.Model(&keyRow{}).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("expires_at IS NOT NULL AND expires_at <= ?", s.now().UTC()).
			Limit(sweepBatch).
			Pluck("key", &keys).Error
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}
		if err := tx.Where("key IN ?", keys).Delete(&entryRow{}).Error; err != nil {
			return err
		}
		res := tx.Where("key IN ?", keys).Delete(&keyRow{})
		n = res.RowsAffected
		return res.Error
	})
	return n, err
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func lockRow(tx *gorm.DB, key string) (*keyRow, error) {
	var row keyRow
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("key = ?", key).Take(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
