package rgbdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lightninglabs/rgb-lightning/rgbdb/sqlc"
	"github.com/lightningnetwork/lnd/clock"
)

// KVQueries is the subset of the generated queries the SQL key/value store
// needs.
type KVQueries interface {
	FetchEntry(ctx context.Context, entryKey string) (sqlc.KvEntry, error)

	UpsertEntry(ctx context.Context, arg sqlc.UpsertEntryParams) error

	DeleteEntry(ctx context.Context, entryKey string) error

	ListEntriesWithPrefix(ctx context.Context,
		prefix string) ([]sqlc.KvEntry, error)
}

// KVTxOptions defines the set of db txn options the KVQueries understands.
type KVTxOptions struct {
	readOnly bool
}

// ReadOnly returns true if the transaction should be read only.
//
// NOTE: This implements the TxOptions interface.
func (t *KVTxOptions) ReadOnly() bool {
	return t.readOnly
}

// NewKVReadTx creates a new read transaction option set.
func NewKVReadTx() *KVTxOptions {
	return &KVTxOptions{
		readOnly: true,
	}
}

// BatchedKVQueries is a version of the KVQueries that's capable of batched
// database operations.
type BatchedKVQueries interface {
	KVQueries

	BatchedTx[KVQueries]
}

// SQLStore is a KVStore backed by either sqlite or postgres.
type SQLStore struct {
	db BatchedKVQueries

	closer func() error

	clock clock.Clock
}

// NewSQLStore creates a key/value store on top of an opened SQL database.
func NewSQLStore(db *BaseDB, clock clock.Clock) *SQLStore {
	txCreator := func(tx *sql.Tx) KVQueries {
		return db.WithTx(tx)
	}

	return &SQLStore{
		db: &struct {
			KVQueries
			BatchedTx[KVQueries]
		}{
			KVQueries: db,
			BatchedTx: NewTransactionExecutor(db, txCreator),
		},
		closer: db.Close,
		clock:  clock,
	}
}

// Get returns the value stored under key.
func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultStoreTimeout)
	defer cancel()

	entry, err := s.db.FetchEntry(ctx, key)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("%w: %v", ErrNotFound, key)

	case err != nil:
		return nil, MapSQLError(err)
	}

	return entry.EntryValue, nil
}

// Put stores value under key.
func (s *SQLStore) Put(ctx context.Context, key string, value []byte) error {
	return s.WriteBatch(ctx, []Op{PutOp(key, value)})
}

// Delete removes key.
func (s *SQLStore) Delete(ctx context.Context, key string) error {
	return s.WriteBatch(ctx, []Op{DeleteOp(key)})
}

// List returns all pairs with the given key prefix.
func (s *SQLStore) List(ctx context.Context, prefix string) ([]KV, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultStoreTimeout)
	defer cancel()

	var (
		entries []sqlc.KvEntry
		err     error
		readTx  = NewKVReadTx()
	)
	err = s.db.ExecTx(ctx, readTx, func(q KVQueries) error {
		entries, err = q.ListEntriesWithPrefix(ctx, prefix)
		return err
	})
	if err != nil {
		return nil, err
	}

	kvs := make([]KV, 0, len(entries))
	for _, entry := range entries {
		kvs = append(kvs, KV{
			Key:   entry.EntryKey,
			Value: entry.EntryValue,
		})
	}

	// The database collation might not order keys bytewise.
	sortKVs(kvs)

	return kvs, nil
}

// WriteBatch applies all operations in a single serializable transaction.
func (s *SQLStore) WriteBatch(ctx context.Context, ops []Op) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultStoreTimeout)
	defer cancel()

	now := s.clock.Now().UTC()

	var writeTx KVTxOptions
	return s.db.ExecTx(ctx, &writeTx, func(q KVQueries) error {
		for _, op := range ops {
			if op.Delete {
				err := q.DeleteEntry(ctx, op.Key)
				if err != nil {
					return err
				}

				continue
			}

			value := op.Value
			if value == nil {
				value = []byte{}
			}

			err := q.UpsertEntry(ctx, sqlc.UpsertEntryParams{
				EntryKey:   op.Key,
				EntryValue: value,
				UpdatedAt:  now,
			})
			if err != nil {
				return err
			}
		}

		return nil
	})
}

// Close closes the underlying database handle.
func (s *SQLStore) Close() error {
	return s.closer()
}

// A compile-time assertion to ensure SQLStore meets the KVStore interface.
var _ KVStore = (*SQLStore)(nil)
