// Package bbolt provides a BBolt-backed key-value store with a byte quota.
package bbolt

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bnema/greenscore/internal/ports"
	"go.etcd.io/bbolt"
)

const (
	defaultBucket = "greenscore"
	dbFileMode    = 0o600
	dbDirMode     = 0o700
)

// Store implements ports.KVStore. A positive quota bounds the total size of
// keys and values held in the bucket.
type Store struct {
	db     *bbolt.DB
	bucket []byte
	quota  int64
}

var _ ports.KVStore = (*Store)(nil)

func NewStore(db *bbolt.DB, quota int64) *Store {
	return &Store{db: db, bucket: []byte(defaultBucket), quota: quota}
}

// Open opens the database at path, creating parent directories as needed.
func Open(path string, quota int64) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), dbDirMode); err != nil {
		return nil, fmt.Errorf("create key cache directory: %w", err)
	}

	db, err := bbolt.Open(path, dbFileMode, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}

	return NewStore(db, quota), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var value string
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return fmt.Errorf("%s: %w", key, ports.ErrKeyNotFound)
		}
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s: %w", key, ports.ErrKeyNotFound)
		}
		value = string(data)
		return nil
	})
	if err != nil {
		return "", err
	}

	return value, nil
}

func (s *Store) Set(ctx context.Context, key string, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return err
		}

		if s.quota > 0 {
			used, err := usage(b, []byte(key))
			if err != nil {
				return err
			}
			if used+int64(len(key)+len(value)) > s.quota {
				return fmt.Errorf("%s (%d bytes used of %d): %w", key, used, s.quota, ports.ErrQuotaExceeded)
			}
		}

		return b.Put([]byte(key), []byte(value))
	})
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var keys []string
	p := []byte(prefix)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})

	return keys, err
}

// usage sums key and value sizes in the bucket, skipping the entry being
// replaced.
func usage(b *bbolt.Bucket, replacing []byte) (int64, error) {
	var total int64
	err := b.ForEach(func(k, v []byte) error {
		if bytes.Equal(k, replacing) {
			return nil
		}
		total += int64(len(k) + len(v))
		return nil
	})
	return total, err
}
