package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultDedupTTL is how long a claimed message ID is remembered in the cache.
const DefaultDedupTTL = 24 * time.Hour

// DedupCache is a fast first-pass filter for redelivered inbound messages.
// The messages table stays the source of truth.
type DedupCache interface {
	// Claim returns true the first time a message ID is seen.
	Claim(ctx context.Context, messageID string) (bool, error)
	// Release forgets a claim so a redelivery is processed again.
	Release(ctx context.Context, messageID string) error
	Close() error
}

// RedisDedup implements DedupCache with SETNX.
type RedisDedup struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// Compile-time check that RedisDedup implements DedupCache.
var _ DedupCache = (*RedisDedup)(nil)

// NewRedisDedup connects to the Redis server at url (redis://host:port/db).
func NewRedisDedup(ctx context.Context, url string, ttl time.Duration) (*RedisDedup, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	slog.Debug("RedisDedup connected", "addr", opts.Addr, "ttl", ttl)
	return &RedisDedup{client: client, prefix: "replog:inbound:", ttl: ttl}, nil
}

func (d *RedisDedup) Claim(ctx context.Context, messageID string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+messageID, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis claim %s: %w", messageID, err)
	}
	return ok, nil
}

func (d *RedisDedup) Release(ctx context.Context, messageID string) error {
	if err := d.client.Del(ctx, d.prefix+messageID).Err(); err != nil {
		return fmt.Errorf("redis release %s: %w", messageID, err)
	}
	return nil
}

// Close closes the Redis client.
func (d *RedisDedup) Close() error {
	return d.client.Close()
}
