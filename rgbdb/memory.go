package rgbdb

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemStore is a KVStore that only lives in memory. It is used for tests and
// for throw-away regtest setups.
type MemStore struct {
	mtx  sync.RWMutex
	data map[string][]byte
}

// NewMemStore creates a new, empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		data: make(map[string][]byte),
	}
}

// Get returns the value stored under key.
func (m *MemStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	value, ok := m.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, key)
	}

	return copyBytes(value), nil
}

// Put stores value under key.
func (m *MemStore) Put(_ context.Context, key string, value []byte) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.data[key] = copyBytes(value)

	return nil
}

// Delete removes key.
func (m *MemStore) Delete(_ context.Context, key string) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	delete(m.data, key)

	return nil
}

// List returns all pairs with the given key prefix.
func (m *MemStore) List(_ context.Context, prefix string) ([]KV, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	var kvs []KV
	for key, value := range m.data {
		if strings.HasPrefix(key, prefix) {
			kvs = append(kvs, KV{Key: key, Value: copyBytes(value)})
		}
	}
	sortKVs(kvs)

	return kvs, nil
}

// WriteBatch applies all operations while holding the write lock.
func (m *MemStore) WriteBatch(_ context.Context, ops []Op) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	for _, op := range ops {
		if op.Delete {
			delete(m.data, op.Key)
			continue
		}

		m.data[op.Key] = copyBytes(op.Value)
	}

	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemStore) Close() error {
	return nil
}

// A compile-time assertion to ensure MemStore meets the KVStore interface.
var _ KVStore = (*MemStore)(nil)
