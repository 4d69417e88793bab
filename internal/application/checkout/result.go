package checkout

import (
	"errors"
	"fmt"
)

// ResultState is the coordinator's terminal outcome for one attempt.
// Business failures are states, not errors, so callers branch
// deterministically.
type ResultState string

const (
	StateCommitted         ResultState = "committed"
	StateInsufficientStock ResultState = "insufficient_stock"
	StateUnknownProduct    ResultState = "unknown_product"
	StatePaymentDeclined   ResultState = "payment_declined"
	StateAmbiguousHold     ResultState = "ambiguous_hold"
	StateOrphanedPayment   ResultState = "orphaned_payment"
)

// Result reports how a checkout attempt ended.
type Result struct {
	State     ResultState
	AttemptID string
	// OrderID is set only for StateCommitted.
	OrderID string
	// ProductID is set for the stock/product failure states and names the
	// first offending line in cart order.
	ProductID string
	// DeclineReason is set for StatePaymentDeclined when the gateway gave one.
	DeclineReason string
}

// ValidationError rejects malformed input before any side effect.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("checkout: invalid request: %s", e.Reason)
}

// IsValidation reports whether err is a pre-side-effect input rejection.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
