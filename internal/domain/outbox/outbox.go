// Package outbox holds the event contract between the domain services and
// whatever carries their events. Services publish facts like order.created or
// inventory.stock_low through Publisher; workers attach to them through
// Subscriber. Neither side knows the bus behind the interfaces.
package outbox

import "context"

// Event is a domain fact; EventName keys subscription routing.
type Event interface {
	EventName() string
}

// Handler consumes one delivered event.
type Handler func(ctx context.Context, e Event) error

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type Subscriber interface {
	Subscribe(eventName string, h Handler)
}
