package payment

import (
	"errors"
	"fmt"
)

// ErrAmbiguousSettlement marks a settlement attempt whose outcome (charged or
// not) cannot be determined from the gateway's response. It is never folded
// into success or decline.
var ErrAmbiguousSettlement = errors.New("payment: settlement outcome unknown")

// AmbiguousError carries the attempt whose settlement is unresolved so the
// caller can key reconciliation on it.
type AmbiguousError struct {
	AttemptID string
	Cause     error
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("payment: settlement for attempt %s is ambiguous: %v", e.AttemptID, e.Cause)
}

func (e *AmbiguousError) Unwrap() error { return ErrAmbiguousSettlement }

// Outcome is produced once per settlement attempt and is immutable.
// Settled=false with a nil error is a definite decline, an expected business
// outcome rather than a fault.
type Outcome struct {
	TransactionID    string
	Settled          bool
	AmountCents      int64
	GatewayReference string
	DeclineReason    string
}
