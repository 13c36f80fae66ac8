package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisDelayQueue(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{
		Addr: s.Addr(),
	})
	defer client.Close()

	q := NewRedisDelayQueue(client, "test:jobs")
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)

	t.Run("PopsOnlyDueKeysInOrder", func(t *testing.T) {
		require.NoError(t, q.Add(ctx, "late", now.Add(time.Minute)))
		require.NoError(t, q.Add(ctx, "second", now.Add(-time.Second)))
		require.NoError(t, q.Add(ctx, "first", now.Add(-time.Minute)))

		keys, err := q.PopDue(ctx, now, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"first", "second"}, keys)

		n, err := q.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		keys, err = q.PopDue(ctx, now, 10)
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("AddSameKeyReplacesRunAt", func(t *testing.T) {
		require.NoError(t, q.Add(ctx, "late", now.Add(-time.Minute)))
		keys, err := q.PopDue(ctx, now, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"late"}, keys)
	})

	t.Run("RespectsLimit", func(t *testing.T) {
		for _, k := range []string{"a", "b", "c"} {
			require.NoError(t, q.Add(ctx, k, now.Add(-time.Hour)))
		}
		keys, err := q.PopDue(ctx, now, 2)
		require.NoError(t, err)
		assert.Len(t, keys, 2)

		keys, err = q.PopDue(ctx, now, 2)
		require.NoError(t, err)
		assert.Len(t, keys, 1)
	})

	t.Run("Remove", func(t *testing.T) {
		require.NoError(t, q.Add(ctx, "gone", now.Add(-time.Hour)))
		require.NoError(t, q.Remove(ctx, "gone"))
		keys, err := q.PopDue(ctx, now, 10)
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, Ping(ctx, client))
	})
}

func TestRedisDelayQueue_ServerDown(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: s.Addr(), MaxRetries: -1})
	defer client.Close()
	s.Close()

	q := NewRedisDelayQueue(client, "test:jobs")
	assert.Error(t, q.Add(context.Background(), "k", time.Now()))
}
