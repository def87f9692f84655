package rgbdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btclog"
	"github.com/dgraph-io/badger/v4"
	"github.com/lightninglabs/rgb-lightning/fn"
)

// BadgerConfig holds the configuration of the badger store.
//
// nolint:lll
type BadgerConfig struct {
	// Dir is the directory badger keeps its files in. If empty, the store
	// is kept in memory only.
	Dir string `long:"dir" description:"The directory of the badger database, in-memory if empty."`
}

// badgerLogger adapts our subsystem logger to badger's logger interface.
type badgerLogger struct {
	btclog.Logger
}

// Warningf logs a warning.
func (b *badgerLogger) Warningf(format string, args ...interface{}) {
	b.Logger.Warnf(format, args...)
}

// BadgerStore is a KVStore backed by badger.
type BadgerStore struct {
	db *badger.DB

	retryCfg fn.RetryConfig
}

// NewBadgerStore opens a badger store in the configured directory.
func NewBadgerStore(cfg *BadgerConfig) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Dir)
	opts.Logger = &badgerLogger{Logger: log}
	if cfg.Dir == "" {
		opts.InMemory = true
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("unable to open badger db: %w", err)
	}

	return &BadgerStore{
		db:       db,
		retryCfg: fn.DefaultRetryConfig(),
	}, nil
}

// Get returns the value stored under key.
func (b *BadgerStore) Get(_ context.Context, key string) ([]byte, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %v", ErrNotFound, key)
		}
		if err != nil {
			return err
		}

		value, err = item.ValueCopy(nil)
		return err
	})

	return value, err
}

// Put stores value under key.
func (b *BadgerStore) Put(ctx context.Context, key string,
	value []byte) error {

	return b.WriteBatch(ctx, []Op{PutOp(key, value)})
}

// Delete removes key.
func (b *BadgerStore) Delete(ctx context.Context, key string) error {
	return b.WriteBatch(ctx, []Op{DeleteOp(key)})
}

// List returns all pairs with the given key prefix.
func (b *BadgerStore) List(_ context.Context, prefix string) ([]KV, error) {
	var (
		kvs []KV
		p   = []byte(prefix)
	)
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}

			kvs = append(kvs, KV{
				Key:   string(item.KeyCopy(nil)),
				Value: value,
			})
		}

		return nil
	})

	return kvs, err
}

// WriteBatch applies all operations in a single badger transaction. Badger
// uses optimistic concurrency control, so conflicting transactions are
// retried.
func (b *BadgerStore) WriteBatch(ctx context.Context, ops []Op) error {
	isConflict := func(err error) bool {
		return errors.Is(err, badger.ErrConflict)
	}

	_, err := fn.RetryFuncN(ctx, b.retryCfg, isConflict, func() (any,
		error) {

		return nil, b.db.Update(func(txn *badger.Txn) error {
			for _, op := range ops {
				var err error
				if op.Delete {
					err = txn.Delete([]byte(op.Key))
				} else {
					err = txn.Set([]byte(op.Key), op.Value)
				}
				if err != nil {
					return err
				}
			}

			return nil
		})
	})

	return err
}

// Close closes the database.
func (b *BadgerStore) Close() error {
	return b.db.Close()
}

// A compile-time assertion to ensure BadgerStore meets the KVStore interface.
var _ KVStore = (*BadgerStore)(nil)
