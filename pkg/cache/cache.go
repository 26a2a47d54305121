package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned when the key is not cached.
var ErrMiss = errors.New("cache miss")

// store is the subset of pkg/redis.Client used by the cache.
type store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	CacheKey(scope, id string) string
}

// JSON caches values as JSON documents under a single key scope.
type JSON[T any] struct {
	store store
	scope string
	ttl   time.Duration
}

// NewJSON builds a cache for the given scope. A zero ttl keeps entries until invalidated.
func NewJSON[T any](client store, scope string, ttl time.Duration) (*JSON[T], error) {
	if client == nil {
		return nil, errors.New("cache store required")
	}
	if scope == "" {
		return nil, errors.New("cache scope required")
	}
	return &JSON[T]{store: client, scope: scope, ttl: ttl}, nil
}

// Get loads the cached value for id, returning ErrMiss if absent.
func (c *JSON[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	raw, err := c.store.Get(ctx, c.store.CacheKey(c.scope, id))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, ErrMiss
		}
		return zero, fmt.Errorf("cache get %s: %w", c.scope, err)
	}
	var value T
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return zero, fmt.Errorf("cache decode %s: %w", c.scope, err)
	}
	return value, nil
}

// Set stores value for id.
func (c *JSON[T]) Set(ctx context.Context, id string, value T) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", c.scope, err)
	}
	if err := c.store.Set(ctx, c.store.CacheKey(c.scope, id), string(payload), c.ttl); err != nil {
		return fmt.Errorf("cache set %s: %w", c.scope, err)
	}
	return nil
}

// Invalidate drops the entries for ids.
func (c *JSON[T]) Invalidate(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, c.store.CacheKey(c.scope, id))
	}
	return c.store.Del(ctx, keys...)
}
