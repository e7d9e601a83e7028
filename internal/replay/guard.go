// Package replay rejects webhook deliveries that were already accepted.
package replay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL = 24 * time.Hour
	keyPrefix  = "lemonsqueezy:webhook:"
)

// Guard records payload digests in Redis. A nil *Guard accepts everything.
type Guard struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to redisURL and verifies the connection.
func New(ctx context.Context, redisURL string, ttl time.Duration) (*Guard, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("replay: parse redis url: %w", err)
	}

	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("replay: redis ping: %w", err)
	}

	return NewWithClient(client, ttl), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Guard{client: client, ttl: ttl}
}

// FirstSeen reports whether payload has not been seen within the TTL and
// records it. Errors are returned alongside true so callers can fail open.
func (g *Guard) FirstSeen(ctx context.Context, payload []byte) (bool, error) {
	if g == nil || g.client == nil {
		return true, nil
	}

	sum := sha256.Sum256(payload)
	key := keyPrefix + hex.EncodeToString(sum[:])

	ok, err := g.client.SetNX(ctx, key, time.Now().Unix(), g.ttl).Result()
	if err != nil {
		return true, fmt.Errorf("replay: setnx: %w", err)
	}
	return ok, nil
}

// Forget removes a recorded payload so a failed delivery can be retried.
func (g *Guard) Forget(ctx context.Context, payload []byte) error {
	if g == nil || g.client == nil {
		return nil
	}
	sum := sha256.Sum256(payload)
	if err := g.client.Del(ctx, keyPrefix+hex.EncodeToString(sum[:])).Err(); err != nil {
		return fmt.Errorf("replay: del: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (g *Guard) Ping(ctx context.Context) error {
	if g == nil || g.client == nil {
		return nil
	}
	return g.client.Ping(ctx).Err()
}

func (g *Guard) Close() error {
	if g == nil || g.client == nil {
		return nil
	}
	return g.client.Close()
}
