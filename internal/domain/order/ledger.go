package order

import "context"

// Ledger durably stores committed orders. It is append-only from the
// coordinator's perspective: existing records never change except for
// forward status transitions.
type Ledger interface {
	// Append persists a new order and returns its id. It fails closed: no id
	// means nothing durable exists. Appending an order whose id is already
	// present returns the existing id without error, which is what makes a
	// reconciliation retry with the same attempt safe.
	Append(ctx context.Context, o *Order) (string, error)

	// UpdateStatus applies a forward transition; downgrades are rejected
	// with ErrInvalidTransition.
	UpdateStatus(ctx context.Context, id string, to Status) error

	// Get serves the read-only status publication consumed by listing/admin
	// views.
	Get(ctx context.Context, id string) (*Order, error)
}
