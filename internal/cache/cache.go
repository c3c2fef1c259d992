package cache

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/internal/domain"
)

type CartCache interface {
	Get(ctx context.Context, sessionID string) (*domain.Cart, error)
	Set(ctx context.Context, sessionID string, cart *domain.Cart) error
	Delete(ctx context.Context, sessionID string) error
}

// IdempotencyStore guards a client-supplied key for the duration of one request
// and afterwards maps it to the produced resource id.
type IdempotencyStore interface {
	TryLock(ctx context.Context, scope, key string) (bool, error)
	Release(ctx context.Context, scope, key string) error
	Remember(ctx context.Context, scope, key, value string) error
	Recall(ctx context.Context, scope, key string) (string, bool, error)
}

var ErrCacheMiss = errors.New("cache miss")
