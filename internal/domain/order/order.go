package order

import (
	"errors"
	"time"

	"github.com/tienda-labs/checkout-core/internal/domain/payment"
)

var (
	ErrNotFound          = errors.New("order: not found")
	ErrConflict          = errors.New("order: already exists")
	ErrInvalidTransition = errors.New("order: invalid status transition")
	ErrNotSettled        = errors.New("order: payment outcome is not settled")
	ErrNoLines           = errors.New("order: at least one line is required")
)

// Line is one sold position. Lines are fixed at creation and never mutate.
type Line struct {
	ProductID      string
	Quantity       int
	UnitPriceCents int64
}

// Order is the durable record of one committed checkout. Only Status moves
// after creation; Lines and Payment are immutable.
type Order struct {
	ID        string
	BuyerID   string
	AttemptID string
	Lines     []Line
	Payment   payment.Outcome
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// New builds an order for a settled payment outcome. An order is never
// created for a failed or ambiguous payment, so a non-settled outcome is
// rejected here.
func New(id, buyerID, attemptID string, lines []Line, outcome payment.Outcome) (*Order, error) {
	if len(lines) == 0 {
		return nil, ErrNoLines
	}
	if !outcome.Settled {
		return nil, ErrNotSettled
	}

	now := time.Now().UTC()
	return &Order{
		ID:        id,
		BuyerID:   buyerID,
		AttemptID: attemptID,
		Lines:     append([]Line(nil), lines...),
		Payment:   outcome,
		Status:    StatusPendingPayment,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// TotalCents is the sum of line totals; it always equals Payment.AmountCents
// for orders this package constructs.
func (o *Order) TotalCents() int64 {
	var total int64
	for _, l := range o.Lines {
		total += int64(l.Quantity) * l.UnitPriceCents
	}
	return total
}

// Transition moves the order forward. Downgrades and unknown states are
// rejected with ErrInvalidTransition.
func (o *Order) Transition(to Status) error {
	if !isValidStatus(to) || !CanTransition(o.Status, to) {
		return ErrInvalidTransition
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// Clone returns a deep copy safe to hand across goroutines.
func (o *Order) Clone() *Order {
	clone := *o
	clone.Lines = append([]Line(nil), o.Lines...)
	return &clone
}
