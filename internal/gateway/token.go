package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenCache stores provider access tokens keyed by audience.
type TokenCache interface {
	Get(ctx context.Context, audience string) (string, bool, error)
	Set(ctx context.Context, audience, token string, ttl time.Duration) error
	Delete(ctx context.Context, audience string) error
}

type memoryToken struct {
	value     string
	expiresAt time.Time
}

// MemoryTokenCache keeps tokens in process memory.
type MemoryTokenCache struct {
	mu      sync.Mutex
	entries map[string]memoryToken
	now     func() time.Time
}

func NewMemoryTokenCache() *MemoryTokenCache {
	return &MemoryTokenCache{entries: map[string]memoryToken{}, now: time.Now}
}

func (c *MemoryTokenCache) Get(_ context.Context, audience string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[audience]
	if !ok {
		return "", false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, audience)
		return "", false, nil
	}
	return entry.value, true, nil
}

func (c *MemoryTokenCache) Set(_ context.Context, audience, token string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[audience] = memoryToken{value: token, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *MemoryTokenCache) Delete(_ context.Context, audience string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, audience)
	return nil
}

const redisTokenPrefix = "provider_token"

// RedisTokenCache shares tokens across replicas; expiry is delegated to the Redis TTL.
type RedisTokenCache struct {
	client redis.Cmdable
}

func NewRedisTokenCache(client redis.Cmdable) *RedisTokenCache {
	return &RedisTokenCache{client: client}
}

func (c *RedisTokenCache) Get(ctx context.Context, audience string) (string, bool, error) {
	val, err := c.client.Get(ctx, redisTokenKey(audience)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *RedisTokenCache) Set(ctx context.Context, audience, token string, ttl time.Duration) error {
	return c.client.Set(ctx, redisTokenKey(audience), token, ttl).Err()
}

func (c *RedisTokenCache) Delete(ctx context.Context, audience string) error {
	return c.client.Del(ctx, redisTokenKey(audience)).Err()
}

func redisTokenKey(audience string) string {
	return redisTokenPrefix + ":" + audience
}
