package inventory

import "time"

// StockLowEvent is emitted when a reservation drops available stock to or
// below the product's minimum stock level.
type StockLowEvent struct {
	ProductID  string
	Quantity   int
	MinLevel   int
	OccurredAt time.Time
}

func (StockLowEvent) EventName() string { return "inventory.stock_low" }

func NewStockLowEvent(l *Level) StockLowEvent {
	return StockLowEvent{
		ProductID:  l.ProductID,
		Quantity:   l.Quantity,
		MinLevel:   l.MinLevel,
		OccurredAt: time.Now().UTC(),
	}
}
