package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the state of one run in a single Redis hash so that a
// worker restart or a second process can inspect it. The hash expires after
// TTL and is deleted by Clear.
type RedisStore struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// NewRedisStore scopes a store to runID.
func NewRedisStore(client redis.UniversalClient, runID string, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		key:    fmt.Sprintf("deepresearch:run:%s:state", runID),
		ttl:    ttl,
	}
}

// HashKey is the Redis key holding this run's state.
func (r *RedisStore) HashKey() string { return r.key }

func (r *RedisStore) Get(ctx context.Context, key string, dst any) error {
	raw, err := r.client.HGet(ctx, r.key, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("state %q: redis get: %w", key, err)
	}
	return decode(key, raw, dst)
}

func (r *RedisStore) Set(ctx context.Context, key string, value any) error {
	raw, err := encode(key, value)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.key, key, raw)
	if r.ttl > 0 {
		pipe.Expire(ctx, r.key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("state %q: redis set: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.HDel(ctx, r.key, key).Err(); err != nil {
		return fmt.Errorf("state %q: redis delete: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("state: redis clear: %w", err)
	}
	return nil
}
