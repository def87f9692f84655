package rgbdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

// testRedisURLEnv is the environment variable that enables the redis
// backend tests.
const testRedisURLEnv = "RGB_TEST_REDIS_URL"

// kvBackend creates a fresh instance of a store variant.
type kvBackend struct {
	name string
	open func(t *testing.T) KVStore
}

// kvBackends returns all store variants that can run in the current
// environment.
func kvBackends() []kvBackend {
	backends := []kvBackend{
		{
			name: "memory",
			open: func(t *testing.T) KVStore {
				return NewMemStore()
			},
		},
		{
			name: "bolt",
			open: func(t *testing.T) KVStore {
				store, err := NewBoltStore(&BoltConfig{
					DatabaseFileName: filepath.Join(
						t.TempDir(), "rgb.db",
					),
				})
				require.NoError(t, err)

				return store
			},
		},
		{
			name: "badger",
			open: func(t *testing.T) KVStore {
				store, err := NewBadgerStore(&BadgerConfig{
					Dir: t.TempDir(),
				})
				require.NoError(t, err)

				return store
			},
		},
		{
			name: activeTestDB,
			open: func(t *testing.T) KVStore {
				db := NewTestDB(t)
				return NewSQLStore(
					db.BaseDB, clock.NewDefaultClock(),
				)
			},
		},
	}

	if redisURL := os.Getenv(testRedisURLEnv); redisURL != "" {
		backends = append(backends, kvBackend{
			name: "redis",
			open: func(t *testing.T) KVStore {
				store, err := NewRedisStore(
					context.Background(), &RedisConfig{
						URL:       redisURL,
						Namespace: t.Name(),
					},
				)
				require.NoError(t, err)

				return store
			},
		})
	}

	return backends
}

// forEachBackend runs the test function against every store variant.
func forEachBackend(t *testing.T, f func(t *testing.T, store KVStore)) {
	for _, backend := range kvBackends() {
		backend := backend
		t.Run(backend.name, func(t *testing.T) {
			store := backend.open(t)
			t.Cleanup(func() {
				_ = store.Close()
			})

			f(t, store)
		})
	}
}

// TestKVStoreBasics tests the get, put and delete semantics every store
// variant must share.
func TestKVStoreBasics(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, store KVStore) {
		ctx := context.Background()

		// A missing key is reported as ErrNotFound.
		_, err := store.Get(ctx, "missing")
		require.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, store.Put(ctx, "a", []byte("1")))
		value, err := store.Get(ctx, "a")
		require.NoError(t, err)
		require.Equal(t, []byte("1"), value)

		// Writing again overwrites the value.
		require.NoError(t, store.Put(ctx, "a", []byte("2")))
		value, err = store.Get(ctx, "a")
		require.NoError(t, err)
		require.Equal(t, []byte("2"), value)

		require.NoError(t, store.Delete(ctx, "a"))
		_, err = store.Get(ctx, "a")
		require.ErrorIs(t, err, ErrNotFound)

		// Deleting a missing key is fine.
		require.NoError(t, store.Delete(ctx, "a"))
	})
}

// TestKVStoreList tests that a prefix scan returns exactly the keys with the
// prefix in sorted order.
func TestKVStoreList(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, store KVStore) {
		ctx := context.Background()

		keys := []string{
			"pending/channel/b", "pending/channel/a",
			"confirmed/channel/a", "pending/channelz",
			"pending/chan",
		}
		for _, key := range keys {
			require.NoError(t, store.Put(ctx, key, []byte(key)))
		}

		kvs, err := store.List(ctx, "pending/channel/")
		require.NoError(t, err)
		require.Len(t, kvs, 2)
		require.Equal(t, "pending/channel/a", kvs[0].Key)
		require.Equal(t, "pending/channel/b", kvs[1].Key)
		require.Equal(t, []byte("pending/channel/b"), kvs[1].Value)

		kvs, err = store.List(ctx, "unknown/")
		require.NoError(t, err)
		require.Empty(t, kvs)
	})
}

// TestKVStoreWriteBatch tests that a batch applies puts and deletes together.
func TestKVStoreWriteBatch(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, store KVStore) {
		ctx := context.Background()

		require.NoError(t, store.Put(ctx, "from", []byte("v")))

		err := store.WriteBatch(ctx, []Op{
			PutOp("to", []byte("v")),
			DeleteOp("from"),
		})
		require.NoError(t, err)

		_, err = store.Get(ctx, "from")
		require.ErrorIs(t, err, ErrNotFound)

		value, err := store.Get(ctx, "to")
		require.NoError(t, err)
		require.Equal(t, []byte("v"), value)
	})
}

// TestKVStoreConcurrentBatches makes sure concurrent batches don't lose
// writes.
func TestKVStoreConcurrentBatches(t *testing.T) {
	t.Parallel()

	forEachBackend(t, func(t *testing.T, store KVStore) {
		ctx := context.Background()

		const numWriters = 10

		var (
			wg   sync.WaitGroup
			errs = make(chan error, numWriters)
		)
		for i := 0; i < numWriters; i++ {
			i := i

			wg.Add(1)
			go func() {
				defer wg.Done()

				key := fmt.Sprintf("batch/%02d", i)
				errs <- store.WriteBatch(ctx, []Op{
					PutOp(key, []byte{byte(i)}),
					PutOp("batch/shared", []byte{byte(i)}),
				})
			}()
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			require.NoError(t, err)
		}

		kvs, err := store.List(ctx, "batch/")
		require.NoError(t, err)
		require.Len(t, kvs, numWriters+1)
	})
}

// TestStorageErrorWrapping makes sure only real failures are wrapped.
func TestStorageErrorWrapping(t *testing.T) {
	t.Parallel()

	require.NoError(t, storageErr("k", nil))

	notFound := fmt.Errorf("%w: k", ErrNotFound)
	require.Equal(t, notFound, storageErr("k", notFound))

	err := storageErr("k", errors.New("disk on fire"))
	require.NotErrorIs(t, err, ErrNotFound)
	require.ErrorContains(t, err, "disk on fire")
}
