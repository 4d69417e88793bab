package inventory

import "time"

// ReservedLine is a cart line priced at reservation time from the store's
// authoritative unit price.
type ReservedLine struct {
	ProductID      string
	Quantity       int
	UnitPriceCents int64
}

// Reservation is a materialized hold: the quantities are already subtracted
// from Available. It stays releasable (and sweepable once ExpiresAt passes)
// until Commit or Release resolves it.
type Reservation struct {
	ID         string
	AttemptID  string
	Lines      []ReservedLine
	TotalCents int64
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the hold window has passed.
func (r *Reservation) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}
