package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	domain "github.com/tienda-labs/checkout-core/internal/domain/inventory"
)

// InventoryStore keeps products and reservations under one mutex, which makes
// CheckAndReserve cart-wide atomic by construction: concurrent checkouts for
// overlapping products serialize on the lock and no interleaving can drive
// Available below zero.
type InventoryStore struct {
	mu           sync.Mutex
	products     map[string]*domain.Product
	reservations map[string]*reservation
	byAttempt    map[string]string
	holdWindow   time.Duration
	now          func() time.Time
}

type reservationState int

const (
	stateHeld reservationState = iota
	stateReleased
	stateCommitted
)

type reservation struct {
	domain.Reservation
	state reservationState
}

func NewInventoryStore(holdWindow time.Duration) *InventoryStore {
	if holdWindow <= 0 {
		holdWindow = 15 * time.Minute
	}
	return &InventoryStore{
		products:     make(map[string]*domain.Product),
		reservations: make(map[string]*reservation),
		byAttempt:    make(map[string]string),
		holdWindow:   holdWindow,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Seed loads or replaces products. Intended for bootstrap and tests.
func (s *InventoryStore) Seed(products ...domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range products {
		clone := p
		clone.UpdatedAt = s.now()
		s.products[p.ID] = &clone
	}
}

// Available reports current free stock for a product.
func (s *InventoryStore) Available(ctx context.Context, productID string) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return 0, &domain.UnknownProductError{ProductID: productID}
	}
	return p.Available, nil
}

func (s *InventoryStore) CheckAndReserve(ctx context.Context, attemptID string, lines []domain.CartLine) (*domain.Reservation, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	// Idempotency short-circuit: an attempt that already holds stock gets
	// its reservation back instead of a second decrement.
	if resID, ok := s.byAttempt[attemptID]; ok {
		if res, found := s.reservations[resID]; found && res.state == stateHeld {
			return cloneReservation(res), nil
		}
	}

	// First pass checks every line so a failure mid-cart changes nothing.
	for _, l := range lines {
		if err := l.Validate(); err != nil {
			return nil, err
		}
		p, ok := s.products[l.ProductID]
		if !ok {
			return nil, &domain.UnknownProductError{ProductID: l.ProductID}
		}
		if p.Available < l.Quantity {
			return nil, &domain.InsufficientStockError{
				ProductID: l.ProductID,
				Requested: l.Quantity,
				Available: p.Available,
			}
		}
	}
	if len(lines) == 0 {
		return nil, domain.ErrInvalidQuantity
	}

	now := s.now()
	res := &reservation{
		Reservation: domain.Reservation{
			ID:        uuid.NewString(),
			AttemptID: attemptID,
			CreatedAt: now,
			ExpiresAt: now.Add(s.holdWindow),
		},
		state: stateHeld,
	}
	for _, l := range lines {
		p := s.products[l.ProductID]
		p.Available -= l.Quantity
		p.UpdatedAt = now
		res.Lines = append(res.Lines, domain.ReservedLine{
			ProductID:      l.ProductID,
			Quantity:       l.Quantity,
			UnitPriceCents: p.UnitPriceCents,
		})
		res.TotalCents += int64(l.Quantity) * p.UnitPriceCents
	}

	s.reservations[res.ID] = res
	s.byAttempt[attemptID] = res.ID
	return cloneReservation(res), nil
}

func (s *InventoryStore) Release(ctx context.Context, reservationID string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked(reservationID)
	return nil
}

// releaseLocked is a no-op for unknown, released, or committed reservations.
func (s *InventoryStore) releaseLocked(reservationID string) bool {
	res, ok := s.reservations[reservationID]
	if !ok || res.state != stateHeld {
		return false
	}
	now := s.now()
	for _, l := range res.Lines {
		if p, found := s.products[l.ProductID]; found {
			p.Available += l.Quantity
			p.UpdatedAt = now
		}
	}
	res.state = stateReleased
	return true
}

func (s *InventoryStore) Commit(ctx context.Context, reservationID string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.reservations[reservationID]
	if !ok || res.state == stateReleased {
		return domain.ErrUnknownReservation
	}
	res.state = stateCommitted
	return nil
}

func (s *InventoryStore) ReleaseExpired(ctx context.Context, now time.Time) ([]domain.Reservation, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	var released []domain.Reservation
	for id, res := range s.reservations {
		if res.state != stateHeld || !res.Expired(now) {
			continue
		}
		if s.releaseLocked(id) {
			released = append(released, *cloneReservation(res))
		}
	}
	return released, nil
}

func cloneReservation(r *reservation) *domain.Reservation {
	clone := r.Reservation
	clone.Lines = append([]domain.ReservedLine(nil), r.Lines...)
	return &clone
}
