package rgbdb

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lightninglabs/rgb-lightning/fn"
	"github.com/redis/go-redis/v9"
)

const (
	// defaultRedisNamespace is the key prefix used if none is configured.
	defaultRedisNamespace = "rgbld"

	// redisScanCount is the number of keys requested per SCAN round trip.
	redisScanCount = 256
)

// RedisConfig holds the configuration of the redis store.
//
// nolint:lll
type RedisConfig struct {
	// URL is the redis connection URL, for example
	// redis://localhost:6379/0.
	URL string `long:"url" description:"The redis connection URL."`

	// Namespace is prepended to every key so several daemons can share
	// one redis instance.
	Namespace string `long:"namespace" description:"The key namespace of this daemon."`
}

// RedisStore is a KVStore backed by redis. Batches are applied with
// WATCH/MULTI/EXEC and retried if a watched key changed concurrently.
type RedisStore struct {
	rdb *redis.Client

	namespace string

	retryCfg fn.RetryConfig
}

// NewRedisStore connects to the configured redis server.
func NewRedisStore(ctx context.Context, cfg *RedisConfig) (*RedisStore,
	error) {

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("unable to reach redis: %w", err)
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = defaultRedisNamespace
	}

	return &RedisStore{
		rdb:       rdb,
		namespace: namespace + ":",
		retryCfg:  fn.DefaultRetryConfig(),
	}, nil
}

// key returns the namespaced redis key.
func (r *RedisStore) key(k string) string {
	return r.namespace + k
}

// Get returns the value stored under key.
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.rdb.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, key)
	}

	return value, err
}

// Put stores value under key.
func (r *RedisStore) Put(ctx context.Context, key string,
	value []byte) error {

	return r.rdb.Set(ctx, r.key(key), value, 0).Err()
}

// Delete removes key.
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, r.key(key)).Err()
}

// List returns all pairs with the given key prefix.
func (r *RedisStore) List(ctx context.Context, prefix string) ([]KV, error) {
	var (
		keys   []string
		cursor uint64
		match  = r.key(escapeGlob(prefix)) + "*"
	)
	for {
		batch, next, err := r.rdb.Scan(
			ctx, cursor, match, redisScanCount,
		).Result()
		if err != nil {
			return nil, err
		}

		keys = append(keys, batch...)
		if next == 0 {
			break
		}
		cursor = next
	}

	if len(keys) == 0 {
		return nil, nil
	}

	values, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	kvs := make([]KV, 0, len(keys))
	for i, value := range values {
		// The key might have been removed between SCAN and MGET.
		str, ok := value.(string)
		if !ok {
			continue
		}

		kvs = append(kvs, KV{
			Key:   strings.TrimPrefix(keys[i], r.namespace),
			Value: []byte(str),
		})
	}
	sortKVs(kvs)

	return kvs, nil
}

// WriteBatch applies all operations in a single MULTI/EXEC transaction.
func (r *RedisStore) WriteBatch(ctx context.Context, ops []Op) error {
	keys := fn.Map(ops, func(op Op) string {
		return r.key(op.Key)
	})

	isTxFailure := func(err error) bool {
		return errors.Is(err, redis.TxFailedErr)
	}

	_, err := fn.RetryFuncN(ctx, r.retryCfg, isTxFailure, func() (any,
		error) {

		return nil, r.rdb.Watch(ctx, func(tx *redis.Tx) error {
			_, err := tx.TxPipelined(
				ctx, func(pipe redis.Pipeliner) error {
					for i, op := range ops {
						if op.Delete {
							pipe.Del(ctx, keys[i])
							continue
						}

						pipe.Set(ctx, keys[i], op.Value, 0)
					}

					return nil
				},
			)
			return err
		}, keys...)
	})
	if err != nil {
		return fmt.Errorf("unable to apply redis batch: %w", err)
	}

	return nil
}

// Close closes the redis client.
func (r *RedisStore) Close() error {
	return r.rdb.Close()
}

// escapeGlob escapes the characters that have a special meaning in redis
// MATCH patterns.
func escapeGlob(s string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`,
	)
	return replacer.Replace(s)
}

// A compile-time assertion to ensure RedisStore meets the KVStore interface.
var _ KVStore = (*RedisStore)(nil)
