package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "dashboard:session:"

// KV is the subset of the redis client the store needs.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore keeps the credential of one dashboard browser session in redis.
type RedisStore struct {
	kv  KV
	key string
	ttl time.Duration
}

// NewRedisStore scopes the stored token to the browser session sid. Each Save
// refreshes the ttl.
func NewRedisStore(kv KV, sid string, ttl time.Duration) *RedisStore {
	return &RedisStore{kv: kv, key: TokenKey(sid), ttl: ttl}
}

// TokenKey returns the redis key holding a browser session's token.
func TokenKey(sid string) string { return keyPrefix + sid + ":token" }

func (s *RedisStore) Load(ctx context.Context) (string, error) {
	tok, err := s.kv.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get: %w", err)
	}
	return tok, nil
}

func (s *RedisStore) Save(ctx context.Context, token string) error {
	if err := s.kv.Set(ctx, s.key, token, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.kv.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
