package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/fjod/go_cart/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultCartTTL = 15 * time.Minute

	cartKeyPrefix = "storefront:cart:"
	// bump when domain.Cart changes shape; older entries then read as misses
	cartSchemaVersion = 2
)

// cartEntry is the stored form of a cached cart.
type cartEntry struct {
	Version  int          `json:"v"`
	CachedAt time.Time    `json:"cached_at"`
	Cart     *domain.Cart `json:"cart"`
}

// RedisCache is a read-through cart cache. It works against a single node
// or a cluster client.
type RedisCache struct {
	client  redis.Cmdable
	baseTTL time.Duration
	jitter  func(max time.Duration) time.Duration
}

func NewRedisCache(client redis.Cmdable, baseTTL time.Duration) *RedisCache {
	if baseTTL <= 0 {
		baseTTL = DefaultCartTTL
	}
	return &RedisCache{
		client:  client,
		baseTTL: baseTTL,
		jitter: func(max time.Duration) time.Duration {
			return time.Duration(rand.Int63n(int64(max) + 1))
		},
	}
}

func (r *RedisCache) Get(ctx context.Context, sessionID string) (*domain.Cart, error) {
	data, err := r.client.Get(ctx, cartKey(sessionID)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, ErrCacheMiss
	case err != nil:
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var entry cartEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	if entry.Version != cartSchemaVersion || entry.Cart == nil {
		return nil, ErrCacheMiss
	}
	return entry.Cart, nil
}

// Set stores the cart for baseTTL plus up to a third of it again, so carts
// cached in the same burst do not all expire at once.
func (r *RedisCache) Set(ctx context.Context, sessionID string, cart *domain.Cart) error {
	data, err := json.Marshal(cartEntry{Version: cartSchemaVersion, CachedAt: time.Now().UTC(), Cart: cart})
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	ttl := r.baseTTL + r.jitter(r.baseTTL/3)
	if err := r.client.Set(ctx, cartKey(sessionID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete is a no-op for sessions without a cached cart.
func (r *RedisCache) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, cartKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func cartKey(sessionID string) string {
	return cartKeyPrefix + sessionID
}
