// Package outbox defines the event contract between the checkout protocol
// and its side-effect consumers. Delivery is post-commit and best effort; the
// order ledger, not the outbox, is the source of truth.
package outbox

import "context"

// Event is a fact the checkout flow wants to announce, keyed by a stable
// name such as "order.settled".
type Event interface {
	EventName() string
}

// Handler consumes one delivered event. A returned error is logged by the
// bus; it never unwinds the checkout that produced the event.
type Handler func(ctx context.Context, e Event) error

// Publisher hands an event to the bus after the originating state change is
// durable.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Subscriber attaches a handler to every future event with the given name.
type Subscriber interface {
	Subscribe(eventName string, h Handler)
}
