package cart

import (
	"context"

	"github.com/shopspring/decimal"
)

type IDGenerator interface {
	NewID() string
}

// Stock reserves and releases inventory; cart lines always hold a matching
// reservation.
type Stock interface {
	Reserve(ctx context.Context, productID string, quantity int) error
	Release(ctx context.Context, productID string, quantity int) error
}

// Pricer resolves the price to snapshot for a product at add time, flash
// sales included.
type Pricer interface {
	EffectivePrice(ctx context.Context, productID string, base decimal.Decimal) (decimal.Decimal, bool, error)
}
