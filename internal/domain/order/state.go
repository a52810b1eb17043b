package order

import "errors"

var ErrInvalidTransition = errors.New("order: invalid status transition")

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// transitions is the fixed lifecycle table. Refunded has no inbound edge
// here: it is set exclusively by the payment ledger via MarkRefunded.
var transitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped},
	StatusShipped:    {StatusDelivered},
	StatusDelivered:  {},
	StatusCancelled:  {},
	StatusRefunded:   {},
}

func ValidStatus(s Status) bool {
	_, ok := transitions[s]
	return ok
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionTo moves the order to the target status or fails with
// ErrInvalidTransition, leaving the order unchanged.
func (o *Order) TransitionTo(to Status) error {
	if !CanTransition(o.Status, to) {
		return ErrInvalidTransition
	}
	o.Status = to
	o.touch()
	return nil
}

// Cancellable reports whether stock held by this order can still be returned.
func (o *Order) Cancellable() bool {
	return CanTransition(o.Status, StatusCancelled)
}
