package cacher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	lockTTL        = 10 * time.Second
	waitTimeout    = 10 * time.Second
	initialBackoff = 10 * time.Millisecond
	maxBackoff     = 250 * time.Millisecond
)

// releaseScript deletes the lock only if this caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisCacher stores JSON-encoded values in redis so that several server
// processes sharing a replay database also share listing snapshots. A
// SETNX lock keeps concurrent misses from fetching more than once.
type RedisCacher[T any] struct {
	client *redis.Client
	prefix string
}

// NewRedisCacher creates a RedisCacher whose keys are namespaced by prefix.
func NewRedisCacher[T any](client *redis.Client, prefix string) *RedisCacher[T] {
	return &RedisCacher[T]{client: client, prefix: prefix}
}

// GetOrFetch reads key from Redis, falling back to fetchFn on a miss. The
// fetched value is stored as JSON with ttl.
func (c *RedisCacher[T]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc[T]) (T, error) {
	var zero T
	key = c.prefix + key

	v, found, err := c.get(ctx, key)
	if err != nil || found {
		return v, err
	}

	lockKey := key + ":lock"
	token := strconv.FormatInt(time.Now().UnixNano(), 10)

	acquired, err := c.client.SetNX(ctx, lockKey, token, lockTTL).Result()
	if err != nil {
		return zero, fmt.Errorf("failed to acquire lock: %w", err)
	}

	if !acquired {
		return c.wait(ctx, key, lockKey)
	}

	defer releaseScript.Run(context.Background(), c.client, []string{lockKey}, token)

	fetched, err := fetchFn(ctx)
	if err != nil {
		return zero, fmt.Errorf("fetch function failed: %w", err)
	}

	data, err := json.Marshal(fetched)
	if err != nil {
		return zero, fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return zero, fmt.Errorf("failed to cache result: %w", err)
	}

	return fetched, nil
}

// Delete removes key from Redis.
func (c *RedisCacher[T]) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}

	return nil
}

func (c *RedisCacher[T]) get(ctx context.Context, key string) (T, bool, error) {
	var zero T

	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}

	if err != nil {
		return zero, false, fmt.Errorf("redis get error: %w", err)
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}

	return v, true, nil
}

// wait polls with exponential backoff until the lock holder populates key.
func (c *RedisCacher[T]) wait(ctx context.Context, key, lockKey string) (T, error) {
	var zero T

	backoff := initialBackoff
	deadline := time.Now().Add(waitTimeout)

	for time.Now().Before(deadline) {
		v, found, err := c.get(ctx, key)
		if err != nil || found {
			return v, err
		}

		exists, err := c.client.Exists(ctx, lockKey).Result()
		if err != nil {
			return zero, fmt.Errorf("failed to check lock existence: %w", err)
		}

		if exists == 0 {
			if v, found, err := c.get(ctx, key); err != nil || found {
				return v, err
			}

			return zero, errors.New("fetch operation failed or cache not populated")
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}

		backoff = min(backoff*2, maxBackoff)
	}

	return zero, errors.New("timeout waiting for cache")
}
