package payment

import "context"

// Gateway wraps the external settlement service. Implementations perform a
// single remote call bounded by the context deadline and never retry
// internally; retry policy belongs to the coordinator. The attempt id is the
// idempotency key: settling the same attempt twice must not produce two
// distinct charges.
type Gateway interface {
	Settle(ctx context.Context, attemptID string, amountCents int64, token string) (*Outcome, error)
}
