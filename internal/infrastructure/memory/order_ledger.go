package memory

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/tienda-labs/checkout-core/internal/domain/order"
)

// OrderLedger is the in-memory Ledger. Appends are idempotent on order id;
// status only moves forward.
type OrderLedger struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order
}

func NewOrderLedger() *OrderLedger {
	return &OrderLedger{orders: make(map[string]*domain.Order)}
}

func (l *OrderLedger) Append(ctx context.Context, o *domain.Order) (string, error) {
	_ = ctx
	if o == nil || o.ID == "" {
		return "", fmt.Errorf("order ledger: id is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.orders[o.ID]; ok {
		// Same attempt retrying its append lands here; anything else is a
		// genuine conflict.
		if existing.AttemptID == o.AttemptID {
			return existing.ID, nil
		}
		return "", domain.ErrConflict
	}

	l.orders[o.ID] = o.Clone()
	return o.ID, nil
}

func (l *OrderLedger) UpdateStatus(ctx context.Context, id string, to domain.Status) error {
	_ = ctx

	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	return o.Transition(to)
}

func (l *OrderLedger) Get(ctx context.Context, id string) (*domain.Order, error) {
	_ = ctx

	l.mu.RLock()
	defer l.mu.RUnlock()

	o, ok := l.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return o.Clone(), nil
}
