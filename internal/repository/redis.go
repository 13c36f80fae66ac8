package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"courtbook/internal/config"

	"github.com/redis/go-redis/v9"
)

// RedisDelayQueue keeps job keys in a sorted set scored by run time in
// milliseconds.
type RedisDelayQueue struct {
	client *redis.Client
	key    string
}

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisDelayQueue(client *redis.Client, key string) *RedisDelayQueue {
	return &RedisDelayQueue{client: client, key: key}
}

func (q *RedisDelayQueue) Add(ctx context.Context, key string, runAt time.Time) error {
	if q.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	member := redis.Z{Score: float64(runAt.UnixMilli()), Member: key}
	if err := q.client.ZAdd(ctx, q.key, member).Err(); err != nil {
		return fmt.Errorf("failed to add job to redis queue: %w", err)
	}
	return nil
}

func (q *RedisDelayQueue) Remove(ctx context.Context, key string) error {
	if q.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := q.client.ZRem(ctx, q.key, key).Err(); err != nil {
		return fmt.Errorf("failed to remove job from redis queue: %w", err)
	}
	return nil
}

// PopDue removes and returns keys due at now. A key is returned only to the
// caller whose ZREM removed it, so concurrent workers never both get it.
func (q *RedisDelayQueue) PopDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if q.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	keys, err := q.client.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read due jobs from redis: %w", err)
	}

	due := make([]string, 0, len(keys))
	for _, key := range keys {
		removed, err := q.client.ZRem(ctx, q.key, key).Result()
		if err != nil {
			return due, fmt.Errorf("failed to pop job from redis queue: %w", err)
		}
		if removed == 1 {
			due = append(due, key)
		}
	}
	return due, nil
}

// Len returns the number of indexed keys.
func (q *RedisDelayQueue) Len(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.key).Result()
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
