package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupeKeyPrefix = "attempt:"

// RedisDuplicateFilter claims attempt keys with SetNX so duplicate
// submissions are rejected across service instances. Best effort: if Redis
// is down the caller falls through to the storage-level lock.
type RedisDuplicateFilter struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDuplicateFilter(client *redis.Client, ttl time.Duration) *RedisDuplicateFilter {
	return &RedisDuplicateFilter{client: client, ttl: ttl}
}

func (f *RedisDuplicateFilter) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := f.client.SetNX(ctx, dedupeKeyPrefix+key, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return ok, nil
}

func (f *RedisDuplicateFilter) Release(ctx context.Context, key string) error {
	return f.client.Del(ctx, dedupeKeyPrefix+key).Err()
}
