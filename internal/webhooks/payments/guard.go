package paymentwebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/redis"
)

// InFlightGuard marks a payment reference while one delivery is being
// applied, so a concurrent redelivery does not call the gateway twice.
type InFlightGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

func NewInFlightGuard(store redis.IdempotencyStore, ttl time.Duration, scope string) (*InFlightGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &InFlightGuard{
		store: store,
		ttl:   ttl,
		scope: scope,
	}, nil
}

// Acquire reports false when another delivery of reference holds the mark.
func (g *InFlightGuard) Acquire(ctx context.Context, reference string) (bool, error) {
	if reference == "" {
		return false, errors.New("payment reference is required")
	}
	key := g.store.IdempotencyKey(g.scope, reference)
	set, err := g.store.SetNX(ctx, key, "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set in-flight key: %w", err)
	}
	return set, nil
}

func (g *InFlightGuard) Release(ctx context.Context, reference string) error {
	if reference == "" {
		return errors.New("payment reference is required")
	}
	return g.store.Del(ctx, g.store.IdempotencyKey(g.scope, reference))
}
