package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderCreatedEvent is a domain event emitted when a new order is persisted.
type OrderCreatedEvent struct {
	OrderID     string
	OrderNumber string
	UserID      string
	TotalItems  int
	TotalAmount decimal.Decimal
	OccurredAt  time.Time
}

func (OrderCreatedEvent) EventName() string { return "order.created" }

func NewOrderCreatedEvent(o *Order) OrderCreatedEvent {
	return OrderCreatedEvent{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		TotalItems:  o.TotalItems(),
		TotalAmount: o.TotalAmount,
		OccurredAt:  time.Now().UTC(),
	}
}

// OrderPaidEvent is emitted when a completed transaction flips the order to paid.
type OrderPaidEvent struct {
	OrderID     string
	OrderNumber string
	Amount      decimal.Decimal
	OccurredAt  time.Time
}

func (OrderPaidEvent) EventName() string { return "order.paid" }

func NewOrderPaidEvent(o *Order) OrderPaidEvent {
	return OrderPaidEvent{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		Amount:      o.TotalAmount,
		OccurredAt:  time.Now().UTC(),
	}
}

// OrderCancelledEvent is emitted after a cancellation released its stock.
type OrderCancelledEvent struct {
	OrderID     string
	OrderNumber string
	OccurredAt  time.Time
}

func (OrderCancelledEvent) EventName() string { return "order.cancelled" }

func NewOrderCancelledEvent(o *Order) OrderCancelledEvent {
	return OrderCancelledEvent{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		OccurredAt:  time.Now().UTC(),
	}
}
