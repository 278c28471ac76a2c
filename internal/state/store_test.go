package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type plan struct {
	Objective string `json:"objective"`
}

func (p plan) Validate() error {
	if p.Objective == "" {
		return errors.New("objective is required")
	}
	return nil
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "run-1", time.Hour), mr
}

func eachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("redis", func(t *testing.T) {
		s, _ := newRedisStore(t)
		fn(t, s)
	})
}

func TestStoreGetMissing(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		var v string
		err := s.Get(context.Background(), KeyLatestResearchReport, &v)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStoreOverwriteKeepsOnlyLatest(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, KeyLatestResearchReport, "draft one"))
		require.NoError(t, s.Set(ctx, KeyLatestResearchReport, "draft two"))

		got, err := GetString(ctx, s, KeyLatestResearchReport)
		require.NoError(t, err)
		assert.Equal(t, "draft two", got)
	})
}

func TestStoreStructRoundTrip(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, KeyResearchPlan, plan{Objective: "compare"}))
		var got plan
		require.NoError(t, s.Get(ctx, KeyResearchPlan, &got))
		assert.Equal(t, "compare", got.Objective)
	})
}

func TestStoreRejectsInvalidValue(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		err := s.Set(context.Background(), KeyResearchPlan, plan{})
		assert.ErrorContains(t, err, "objective is required")
	})
}

func TestStoreDeleteAndClear(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, KeyIterationCount, 1))
		require.NoError(t, s.Set(ctx, KeyLatestResearchReport, "body"))

		require.NoError(t, s.Delete(ctx, KeyIterationCount))
		n, err := GetInt(ctx, s, KeyIterationCount, 0)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		require.NoError(t, s.Clear(ctx))
		_, err = GetString(ctx, s, KeyLatestResearchReport)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryStoreMetadata(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, KeyIterationCount, 1))
	require.NoError(t, s.Set(ctx, KeyIterationCount, 2))

	meta, ok := s.Metadata(KeyIterationCount)
	require.True(t, ok)
	assert.Equal(t, 2, meta.UpdateCount)
	assert.ElementsMatch(t, []string{KeyIterationCount}, s.Keys())
}

func TestRedisStoreSetsTTL(t *testing.T) {
	s, mr := newRedisStore(t)
	require.NoError(t, s.Set(context.Background(), KeyIterationCount, 1))
	assert.Equal(t, time.Hour, mr.TTL(s.HashKey()))

	mr.FastForward(2 * time.Hour)
	_, err := GetInt(context.Background(), s, KeyIterationCount, -1)
	assert.NoError(t, err)
	assert.False(t, mr.Exists(s.HashKey()))
}
