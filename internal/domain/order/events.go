package order

import "time"

const (
	OrderSettledEventName  = "order.settled"
	OrderOrphanedEventName = "order.orphaned_payment"
)

// OrderSettledEvent is emitted after a checkout commits: the order exists,
// payment is settled, and the stock decrement is final. The excluded
// listing/admin side consumes it read-only.
type OrderSettledEvent struct {
	OrderID     string
	BuyerID     string
	AttemptID   string
	AmountCents int64
	OccurredAt  time.Time
}

func (OrderSettledEvent) EventName() string { return OrderSettledEventName }

func NewOrderSettledEvent(o *Order) OrderSettledEvent {
	return OrderSettledEvent{
		OrderID:     o.ID,
		BuyerID:     o.BuyerID,
		AttemptID:   o.AttemptID,
		AmountCents: o.Payment.AmountCents,
		OccurredAt:  time.Now().UTC(),
	}
}

// OrderOrphanedEvent flags a settled charge with no durable order record.
// It is the reconciliation trigger for the refund-or-late-append workflow.
type OrderOrphanedEvent struct {
	AttemptID     string
	BuyerID       string
	TransactionID string
	AmountCents   int64
	OccurredAt    time.Time
}

func (OrderOrphanedEvent) EventName() string { return OrderOrphanedEventName }
