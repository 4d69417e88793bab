package order

// Status enumerates the order lifecycle. Transitions only ever move forward.
type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusSettled        Status = "settled"
	StatusFulfilled      Status = "fulfilled"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
)

var validNext = map[Status]map[Status]bool{
	StatusPendingPayment: {StatusSettled: true, StatusFailed: true, StatusCancelled: true},
	StatusSettled:        {StatusFulfilled: true, StatusCancelled: true},
	StatusFulfilled:      {},
	StatusFailed:         {},
	StatusCancelled:      {},
}

// CanTransition reports whether from -> to is a legal forward transition.
func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func isValidStatus(s Status) bool {
	_, ok := validNext[s]
	return ok
}
