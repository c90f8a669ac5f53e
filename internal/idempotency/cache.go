package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "idempotency:"

// responseCache keeps completed responses in redis. Every failure degrades to a
// miss; the key table stays authoritative.
type responseCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

type cachedResponse struct {
	Key         string `json:"key"`
	Hash        string `json:"hash"`
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
	ContentType string `json:"content_type"`
}

func newResponseCache(client redis.Cmdable, ttl time.Duration) *responseCache {
	return &responseCache{client: client, ttl: ttl}
}

func (c *responseCache) get(ctx context.Context, key string) (*Record, bool) {
	if c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, cacheKeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Warn("idempotency cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	var cached cachedResponse
	if err := json.Unmarshal(raw, &cached); err != nil {
		zap.L().Warn("idempotency cache entry unreadable", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &Record{
		Key:  cached.Key,
		Hash: cached.Hash,
		Response: Response{
			Status:      cached.Status,
			Body:        cached.Body,
			ContentType: cached.ContentType,
		},
		Source: SourceCache,
	}, true
}

func (c *responseCache) put(ctx context.Context, rec *Record) {
	if c.client == nil {
		return
	}
	payload, err := json.Marshal(cachedResponse{
		Key:         rec.Key,
		Hash:        rec.Hash,
		Status:      rec.Status,
		Body:        rec.Body,
		ContentType: rec.ContentType,
	})
	if err != nil {
		zap.L().Warn("idempotency cache encode failed", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, cacheKeyPrefix+rec.Key, payload, c.ttl).Err(); err != nil {
		zap.L().Warn("idempotency cache write failed", zap.String("key", rec.Key), zap.Error(err))
	}
}
