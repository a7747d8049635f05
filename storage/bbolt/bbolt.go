// Package bbolt provides a BBolt-backed storage repository.
package bbolt

import (
	"bytes"
	"context"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/palisade/storage"
)

// Store implements storage.Repository backed by a BBolt database. Each
// scope maps to a bucket; records are keyed "recordType:recordID".
type Store struct {
	db *bbolt.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// NewRepositoryFromFile opens a BBolt database at the given path and returns
// a new Repository.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewRepository(db), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func makeKey(recordType, recordID string) []byte {
	return []byte(recordType + ":" + recordID)
}

func (s *Store) Put(_ context.Context, scope, recordType, recordID string, data []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(scope))
		if err != nil {
			return err
		}
		return b.Put(makeKey(recordType, recordID), data)
	})
}

func (s *Store) Get(_ context.Context, scope, recordType, recordID string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(scope))
		if b == nil {
			return fmt.Errorf("%s: %w", scope, storage.ErrScopeNotFound)
		}
		data := b.Get(makeKey(recordType, recordID))
		if data == nil {
			return fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
		}
		out = append([]byte(nil), data...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) List(_ context.Context, scope, recordType string) ([]string, error) {
	var ids []string
	prefix := []byte(recordType + ":")
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(scope))
		if b == nil {
			return nil // empty scope lists as empty, not an error
		}
		c := b.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			ids = append(ids, string(k[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) Delete(_ context.Context, scope, recordType, recordID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(scope))
		if b == nil {
			return fmt.Errorf("%s: %w", scope, storage.ErrScopeNotFound)
		}
		key := makeKey(recordType, recordID)
		if b.Get(key) == nil {
			return fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
		}
		return b.Delete(key)
	})
}

// Batch runs fn inside a single BBolt update transaction; bbolt rolls the
// transaction back when fn returns an error.
func (s *Store) Batch(_ context.Context, scope string, fn func(tx storage.BatchTx) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(scope))
		if err != nil {
			return err
		}
		return fn(&boltBatchTx{bucket: b})
	})
}

type boltBatchTx struct {
	bucket *bbolt.Bucket
}

var _ storage.BatchTx = (*boltBatchTx)(nil)

func (tx *boltBatchTx) Put(recordType, recordID string, data []byte) error {
	return tx.bucket.Put(makeKey(recordType, recordID), data)
}

func (tx *boltBatchTx) Delete(recordType, recordID string) error {
	return tx.bucket.Delete(makeKey(recordType, recordID))
}
