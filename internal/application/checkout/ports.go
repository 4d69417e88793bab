package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/tienda-labs/checkout-core/internal/domain/order"
	"github.com/tienda-labs/checkout-core/internal/domain/payment"
)

var ErrAttemptNotFound = errors.New("checkout: attempt not found")

// AttemptState tracks how far one checkout attempt got. It is what makes a
// retried request with the same attempt id safe to repeat.
type AttemptState string

const (
	// AttemptSettling is recorded just before the gateway call, the point of
	// no return: a crash after this leaves an attempt that must be resolved,
	// never silently restarted.
	AttemptSettling AttemptState = "settling"
	// AttemptCommitted means order appended, reservation committed, done.
	AttemptCommitted AttemptState = "committed"
	// AttemptDeclined means the gateway definitively refused the charge and
	// the reservation was released.
	AttemptDeclined AttemptState = "declined"
	// AttemptAmbiguous means the gateway call ended without a knowable
	// outcome. The reservation stays held until resolved or expired.
	AttemptAmbiguous AttemptState = "ambiguous"
	// AttemptOrphaned means the charge settled but the ledger append failed.
	// The reservation is committed (the stock is sold) and reconciliation
	// owns the refund-or-late-append decision.
	AttemptOrphaned AttemptState = "orphaned"
	// AttemptExpired means the sweeper released an ambiguous hold whose
	// window passed without resolution.
	AttemptExpired AttemptState = "expired"
)

// Attempt is the durable record of one checkout attempt keyed by the
// caller-stable attempt id.
type Attempt struct {
	ID            string
	BuyerID       string
	ReservationID string
	OrderID       string
	AmountCents   int64
	State         AttemptState
	// Lines are the priced reserved lines, recorded once settlement
	// succeeds so a late ledger append can rebuild the order.
	Lines     []order.Line
	Outcome   *payment.Outcome
	UpdatedAt time.Time
}

// AttemptStore persists attempts. Put overwrites; Get returns
// ErrAttemptNotFound for unknown ids.
type AttemptStore interface {
	Get(ctx context.Context, id string) (*Attempt, error)
	Put(ctx context.Context, a *Attempt) error
}

// IDGenerator mints order ids.
type IDGenerator interface {
	NewID() string
}
