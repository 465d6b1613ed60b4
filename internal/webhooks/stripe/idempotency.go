package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hubbridge/hubbridge-backend/pkg/redis"
)

// GuardScope namespaces processed Stripe event ids in the idempotency store.
const GuardScope = "stripe_webhook"

// IdempotencyGuard remembers processed event ids so redelivered webhooks
// are dropped before any CRM call. The mark is written before the delivery
// is acknowledged and deleted again if the detached handling fails, so an
// operator resending the event from the Stripe dashboard gets a fresh run.
type IdempotencyGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

// NewIdempotencyGuard builds a guard over the given store. The TTL bounds
// how long an event id is remembered; it only needs to outlive Stripe's
// redelivery window.
func NewIdempotencyGuard(store redis.IdempotencyStore, ttl time.Duration, scope string) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &IdempotencyGuard{
		store: store,
		ttl:   ttl,
		scope: scope,
	}, nil
}

// CheckAndMark atomically marks the event id as seen. It reports true when
// the id was already marked, i.e. this delivery is a duplicate.
func (g *IdempotencyGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	key := g.store.IdempotencyKey(g.scope, eventID)
	set, err := g.store.SetNX(ctx, key, "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set idempotency key: %w", err)
	}
	return !set, nil
}

// Delete removes the processed mark so a failed event can be handled again
// on redelivery.
func (g *IdempotencyGuard) Delete(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	key := g.store.IdempotencyKey(g.scope, eventID)
	return g.store.Del(ctx, key)
}
