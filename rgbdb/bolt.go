package rgbdb

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var (
	// boltBucket is the single top level bucket all keys live in.
	boltBucket = []byte("rgb")
)

// BoltConfig holds the configuration of the file backed bbolt store.
//
// nolint:lll
type BoltConfig struct {
	// DatabaseFileName is the full path of the database file.
	DatabaseFileName string `long:"dbfile" description:"The full path to the bolt database file."`

	// Timeout is how long we wait to obtain the file lock.
	Timeout time.Duration `long:"timeout" description:"How long to wait for the exclusive lock on the database file."`
}

// BoltStore is a file backed KVStore.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens or creates the bolt database at the configured path.
func NewBoltStore(cfg *BoltConfig) (*BoltStore, error) {
	err := os.MkdirAll(filepath.Dir(cfg.DatabaseFileName), 0700)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultStoreTimeout
	}

	log.Infof("Opening bolt database at %v", cfg.DatabaseFileName)

	db, err := bbolt.Open(cfg.DatabaseFileName, 0600, &bbolt.Options{
		Timeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Get returns the value stored under key.
func (b *BoltStore) Get(_ context.Context, key string) ([]byte, error) {
	var value []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(boltBucket).Get([]byte(key))
		if v == nil {
			return fmt.Errorf("%w: %v", ErrNotFound, key)
		}

		value = copyBytes(v)
		return nil
	})

	return value, err
}

// Put stores value under key.
func (b *BoltStore) Put(_ context.Context, key string, value []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltBucket).Put([]byte(key), value)
	})
}

// Delete removes key.
func (b *BoltStore) Delete(_ context.Context, key string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltBucket).Delete([]byte(key))
	})
}

// List returns all pairs with the given key prefix. Bolt keeps keys sorted,
// so a cursor seek is all we need.
func (b *BoltStore) List(_ context.Context, prefix string) ([]KV, error) {
	var (
		kvs []KV
		p   = []byte(prefix)
	)
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(boltBucket).Cursor()
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			kvs = append(kvs, KV{
				Key:   string(k),
				Value: copyBytes(v),
			})
		}

		return nil
	})

	return kvs, err
}

// WriteBatch applies all operations in a single bolt transaction.
func (b *BoltStore) WriteBatch(_ context.Context, ops []Op) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		for _, op := range ops {
			var err error
			if op.Delete {
				err = bucket.Delete([]byte(op.Key))
			} else {
				err = bucket.Put([]byte(op.Key), op.Value)
			}
			if err != nil {
				return err
			}
		}

		return nil
	})
}

// Close closes the database file.
func (b *BoltStore) Close() error {
	return b.db.Close()
}

// A compile-time assertion to ensure BoltStore meets the KVStore interface.
var _ KVStore = (*BoltStore)(nil)
