package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "zyteapi:payment:"

// RedisStore is a Store backed by Redis, so that authorization
// requirements are shared between processes and survive restarts. Pricing
// can change server-side, so entries carry a TTL; a stale entry simply
// causes one extra challenge round-trip.
type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisStore creates a Redis-backed store. A ttl of 0 means entries
// never expire (refresh on stale 402 still updates them).
func NewRedisStore(redisClient *redis.Client, ttl time.Duration) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{redis: redisClient, ttl: ttl}
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, fp Fingerprint) (*Entry, error) {
	data, err := s.redis.Get(ctx, redisKeyPrefix+string(fp)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrStoreMiss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal payment entry: %w", err)
	}
	return &entry, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, fp Fingerprint, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("payment entry cannot be nil")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal payment entry: %w", err)
	}

	if err := s.redis.Set(ctx, redisKeyPrefix+string(fp), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Clear implements Store.
func (s *RedisStore) Clear(ctx context.Context) error {
	iter := s.redis.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.redis.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	return nil
}
