package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tienda-labs/checkout-core/internal/application/checkout"
)

// AttemptStore persists checkout attempts as JSON values with a TTL, so
// every instance behind a load balancer sees the same attempt history.
// The TTL only needs to outlive the longest reconciliation window.
type AttemptStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewAttemptStore(rdb *redis.Client, ttl time.Duration) *AttemptStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AttemptStore{rdb: rdb, ttl: ttl}
}

func key(id string) string {
	return fmt.Sprintf("checkout:attempt:%s", id)
}

func (s *AttemptStore) Get(ctx context.Context, id string) (*checkout.Attempt, error) {
	raw, err := s.rdb.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, checkout.ErrAttemptNotFound
	}
	if err != nil {
		return nil, err
	}

	var a checkout.Attempt
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("attempt store: decode %s: %w", id, err)
	}
	return &a, nil
}

func (s *AttemptStore) Put(ctx context.Context, a *checkout.Attempt) error {
	if a == nil || a.ID == "" {
		return checkout.ErrAttemptNotFound
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("attempt store: encode %s: %w", a.ID, err)
	}
	return s.rdb.Set(ctx, key(a.ID), raw, s.ttl).Err()
}
