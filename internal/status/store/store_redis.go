package store

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"protokoll/pkg/platform/sentinel"
)

var batchDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "protokoll_store_batch_duration_ms",
	Help:    "Latency of transactional status store batches in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
})

const (
	// Redis key prefix for status documents.
	docKeyPrefix = "protokoll:doc:"

	// getOrCreateRetries bounds optimistic retry under WATCH contention.
	getOrCreateRetries = 3
)

// RedisStore persists each document as one redis hash with JSON-encoded
// field values. Integer fields use plain decimal encoding, so HINCRBY
// operates on them directly.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a redis-backed document store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func docKey(key string) string { return docKeyPrefix + key }

func (s *RedisStore) Get(ctx context.Context, key string, dest any) error {
	fields, err := s.client.HGetAll(ctx, docKey(key)).Result()
	if err != nil {
		return fmt.Errorf("hgetall %s: %w", key, err)
	}
	if len(fields) == 0 {
		return sentinel.ErrNotFound
	}
	return decodeDoc(fields, dest)
}

func (s *RedisStore) Set(ctx context.Context, key string, doc any) error {
	fields, err := encodeDoc(doc)
	if err != nil {
		return err
	}
	// Replace, not merge: clear stale fields in the same transaction.
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, docKey(key))
	pipe.HSet(ctx, docKey(key), toAnyMap(fields))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Update(ctx context.Context, key string, fields map[string]any) error {
	encoded := make(map[string]any, len(fields))
	for f, v := range fields {
		ev, err := encodeValue(v)
		if err != nil {
			return err
		}
		encoded[f] = ev
	}
	if err := s.client.HSet(ctx, docKey(key), encoded).Err(); err != nil {
		return fmt.Errorf("update %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Increment(ctx context.Context, key, field string, delta int64) (int64, error) {
	v, err := s.client.HIncrBy(ctx, docKey(key), field, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("hincrby %s.%s: %w", key, field, err)
	}
	return v, nil
}

// GetOrCreate is first-writer-wins: the defaults are written inside a WATCH
// transaction that aborts when a competing writer lands first, in which case
// the competitor's document is returned.
func (s *RedisStore) GetOrCreate(ctx context.Context, key string, defaults, dest any) (bool, error) {
	fields, err := encodeDoc(defaults)
	if err != nil {
		return false, err
	}

	created := false
	for attempt := 0; attempt < getOrCreateRetries; attempt++ {
		err = s.client.Watch(ctx, func(tx *redis.Tx) error {
			existing, err := tx.HGetAll(ctx, docKey(key)).Result()
			if err != nil {
				return err
			}
			if len(existing) > 0 {
				created = false
				return decodeDoc(existing, dest)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, docKey(key), toAnyMap(fields))
				return nil
			})
			if err != nil {
				return err
			}
			created = true
			return decodeDoc(fields, dest)
		}, docKey(key))
		if err != redis.TxFailedErr {
			break
		}
	}
	if err != nil {
		return false, fmt.Errorf("get-or-create %s: %w", key, err)
	}
	return created, nil
}

// Batch commits all queued writes in one MULTI/EXEC transaction.
func (s *RedisStore) Batch(ctx context.Context, fn func(Batch) error) error {
	start := time.Now()
	defer func() {
		batchDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	pipe := s.client.TxPipeline()
	b := &redisBatch{ctx: ctx, pipe: pipe}
	if err := fn(b); err != nil {
		return err
	}
	if b.err != nil {
		return b.err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("batch exec: %w", err)
	}
	return nil
}

type redisBatch struct {
	ctx  context.Context
	pipe redis.Pipeliner
	err  error
}

func (b *redisBatch) Set(key string, doc any) {
	fields, err := encodeDoc(doc)
	if err != nil {
		b.fail(err)
		return
	}
	b.pipe.Del(b.ctx, docKey(key))
	b.pipe.HSet(b.ctx, docKey(key), toAnyMap(fields))
}

func (b *redisBatch) Update(key string, fields map[string]any) {
	encoded := make(map[string]any, len(fields))
	for f, v := range fields {
		ev, err := encodeValue(v)
		if err != nil {
			b.fail(err)
			return
		}
		encoded[f] = ev
	}
	b.pipe.HSet(b.ctx, docKey(key), encoded)
}

func (b *redisBatch) Increment(key, field string, delta int64) {
	b.pipe.HIncrBy(b.ctx, docKey(key), field, delta)
}

func (b *redisBatch) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

func toAnyMap(fields map[string]string) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
