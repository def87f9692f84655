package rgbdb

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned if a key doesn't exist in the store. Callers
	// must use errors.Is, as the error is usually wrapped with the key that
	// was looked up.
	ErrNotFound = errors.New("key not found")

	// DefaultStoreTimeout is the default timeout used for any interaction
	// with the storage.
	DefaultStoreTimeout = time.Second * 10
)

// KV is a single key/value pair returned by a prefix scan.
type KV struct {
	Key   string
	Value []byte
}

// Op is a single write operation of a batch. If Delete is set, the key is
// removed and Value is ignored.
type Op struct {
	Key    string
	Value  []byte
	Delete bool
}

// PutOp creates a new write operation.
func PutOp(key string, value []byte) Op {
	return Op{Key: key, Value: value}
}

// DeleteOp creates a new delete operation.
func DeleteOp(key string) Op {
	return Op{Key: key, Delete: true}
}

// KVStore is the pluggable key/value capability all registries are built on.
// Implementations must return ErrNotFound for missing keys and must apply a
// batch atomically.
type KVStore interface {
	// Get returns the value stored under key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all pairs whose key starts with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]KV, error)

	// WriteBatch applies all operations in a single atomic transaction.
	WriteBatch(ctx context.Context, ops []Op) error

	// Close releases all resources of the store.
	Close() error
}

// sortKVs sorts the pairs by key.
func sortKVs(kvs []KV) {
	sort.Slice(kvs, func(i, j int) bool {
		return strings.Compare(kvs[i].Key, kvs[j].Key) < 0
	})
}

// copyBytes returns a copy of b that is safe to retain after a transaction
// was closed.
func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}

	c := make([]byte, len(b))
	copy(c, b)

	return c
}
