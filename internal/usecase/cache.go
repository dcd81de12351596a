package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrCacheMiss is returned by a ResultCache that holds nothing for the key.
var ErrCacheMiss = errors.New("cache miss")

// ResultCache keeps recently produced scan results for quick retrieval.
type ResultCache interface {
	Put(ctx context.Context, scanID string, payload []byte, ttl time.Duration) error
	Fetch(ctx context.Context, scanID string) ([]byte, error)
}

// RedisCache is a ResultCache backed by go-redis.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache constructs a new Redis-backed cache adapter.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: "scan:"}
}

// Put stores payload under the scan id until ttl expires.
func (c *RedisCache) Put(ctx context.Context, scanID string, payload []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.prefix+scanID, payload, ttl).Err()
}

// Fetch returns the cached payload or ErrCacheMiss.
func (c *RedisCache) Fetch(ctx context.Context, scanID string) ([]byte, error) {
	payload, err := c.client.Get(ctx, c.prefix+scanID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return payload, err
}
