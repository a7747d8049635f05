// Package memory provides a thread-safe in-memory implementation of
// storage.Repository. Suitable for tests and single-process demos.
package memory

import (
	"context"
	"sync"

	"github.com/jmcleod/palisade/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
type Repository struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]map[string][]byte)}
}

func makeKey(recordType, recordID string) string {
	return recordType + ":" + recordID
}

func (r *Repository) Put(_ context.Context, scope, recordType, recordID string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.putLocked(scope, recordType, recordID, data)
}

func (r *Repository) putLocked(scope, recordType, recordID string, data []byte) error {
	if _, ok := r.data[scope]; !ok {
		r.data[scope] = make(map[string][]byte)
	}
	r.data[scope][makeKey(recordType, recordID)] = append([]byte(nil), data...)
	return nil
}

func (r *Repository) Get(_ context.Context, scope, recordType, recordID string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	scopeData, ok := r.data[scope]
	if !ok {
		return nil, storage.ErrNotFound
	}
	data, ok := scopeData[makeKey(recordType, recordID)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (r *Repository) List(_ context.Context, scope, recordType string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	prefix := recordType + ":"
	for k := range r.data[scope] {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			ids = append(ids, k[len(prefix):])
		}
	}
	return ids, nil
}

func (r *Repository) Delete(_ context.Context, scope, recordType, recordID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteLocked(scope, recordType, recordID)
}

func (r *Repository) deleteLocked(scope, recordType, recordID string) error {
	scopeData, ok := r.data[scope]
	if !ok {
		return storage.ErrNotFound
	}
	k := makeKey(recordType, recordID)
	if _, ok := scopeData[k]; !ok {
		return storage.ErrNotFound
	}
	delete(scopeData, k)
	return nil
}

// Batch executes fn under the write lock; on error, the scope is restored
// from a snapshot taken before fn ran.
func (r *Repository) Batch(_ context.Context, scope string, fn func(tx storage.BatchTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.snapshotScope(scope)

	tx := &memoryBatchTx{repo: r, scope: scope}
	if err := fn(tx); err != nil {
		r.restoreScope(scope, snapshot)
		return err
	}
	return nil
}

func (r *Repository) snapshotScope(scope string) map[string][]byte {
	original, ok := r.data[scope]
	if !ok {
		return nil
	}
	cp := make(map[string][]byte, len(original))
	for k, v := range original {
		cp[k] = append([]byte(nil), v...)
	}
	return cp
}

func (r *Repository) restoreScope(scope string, snapshot map[string][]byte) {
	if snapshot == nil {
		delete(r.data, scope)
	} else {
		r.data[scope] = snapshot
	}
}

type memoryBatchTx struct {
	repo  *Repository
	scope string
}

func (tx *memoryBatchTx) Put(recordType, recordID string, data []byte) error {
	return tx.repo.putLocked(tx.scope, recordType, recordID, data)
}

func (tx *memoryBatchTx) Delete(recordType, recordID string) error {
	return tx.repo.deleteLocked(tx.scope, recordType, recordID)
}
