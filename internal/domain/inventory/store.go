package inventory

import (
	"context"
	"time"
)

// Store holds per-product available quantity and is the only synchronization
// point between concurrent checkouts.
type Store interface {
	// CheckAndReserve verifies every line against available stock and, if all
	// pass, subtracts every quantity as a single all-or-nothing operation
	// across the whole cart. On any shortage nothing is changed and an
	// *InsufficientStockError names the first failing line in cart order.
	// Calling it again with an attempt id that already holds an active
	// reservation returns that reservation unchanged.
	CheckAndReserve(ctx context.Context, attemptID string, lines []CartLine) (*Reservation, error)

	// Release re-adds a reservation's quantities to available stock.
	// Releasing an already-released, committed, or unknown reservation is a
	// no-op.
	Release(ctx context.Context, reservationID string) error

	// Commit finalizes a reservation: the subtracted quantities become a sale
	// and the hold leaves the sweeper's scope. Committing an unknown or
	// released reservation is an error; committing twice is a no-op.
	Commit(ctx context.Context, reservationID string) error

	// ReleaseExpired releases every active reservation whose hold window has
	// passed and returns the reservations it released.
	ReleaseExpired(ctx context.Context, now time.Time) ([]Reservation, error)
}
