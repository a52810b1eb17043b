package payment

import (
	"context"

	dompayment "github.com/smartshop/commerce/internal/domain/payment"
)

type IDGenerator interface {
	NewID() string
	NewReference() string
}

// Gateways resolves a configured gateway adapter by name.
type Gateways interface {
	Resolve(name string) (dompayment.Gateway, bool)
}

// Stock returns reserved inventory when a full refund restocks an order.
type Stock interface {
	Release(ctx context.Context, productID string, quantity int) error
}

// Promotions returns flash-sale allocations when a full refund unwinds an
// order that bought at the sale price.
type Promotions interface {
	ReleaseFlashSale(ctx context.Context, productID string, quantity int) error
}
