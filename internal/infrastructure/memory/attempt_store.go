package memory

import (
	"context"
	"sync"

	"github.com/tienda-labs/checkout-core/internal/application/checkout"
	"github.com/tienda-labs/checkout-core/internal/domain/order"
)

// AttemptStore keeps checkout attempts in memory. Suitable for a single
// process; the redis adapter covers multi-instance deployments.
type AttemptStore struct {
	mu       sync.RWMutex
	attempts map[string]checkout.Attempt
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{attempts: make(map[string]checkout.Attempt)}
}

func (s *AttemptStore) Get(ctx context.Context, id string) (*checkout.Attempt, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.attempts[id]
	if !ok {
		return nil, checkout.ErrAttemptNotFound
	}
	clone := a
	clone.Lines = append([]order.Line(nil), a.Lines...)
	return &clone, nil
}

func (s *AttemptStore) Put(ctx context.Context, a *checkout.Attempt) error {
	_ = ctx
	if a == nil || a.ID == "" {
		return checkout.ErrAttemptNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *a
	clone.Lines = append([]order.Line(nil), a.Lines...)
	s.attempts[a.ID] = clone
	return nil
}
