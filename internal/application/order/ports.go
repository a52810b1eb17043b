package order

import (
	"context"

	"github.com/shopspring/decimal"

	domcart "github.com/smartshop/commerce/internal/domain/cart"
)

type IDGenerator interface {
	NewID() string
	NewOrderNumber() string
}

// Stock is the inventory ledger gate used for direct-item orders and for
// returning stock on cancellation.
type Stock interface {
	Reserve(ctx context.Context, productID string, quantity int) error
	Release(ctx context.Context, productID string, quantity int) error
}

// Promotions evaluates coupons and flash sales during order creation.
type Promotions interface {
	ValidateCoupon(ctx context.Context, code, userID string, orderTotal decimal.Decimal) (decimal.Decimal, error)
	RedeemCoupon(ctx context.Context, code, userID string) error
	ReleaseCoupon(ctx context.Context, code, userID string) error
	EffectivePrice(ctx context.Context, productID string, base decimal.Decimal) (decimal.Decimal, bool, error)
	CommitFlashSale(ctx context.Context, productID string, quantity int) (bool, error)
	ReleaseFlashSale(ctx context.Context, productID string, quantity int) error
}

// CartCheckout hands over the cart's lines at checkout. Snapshot leaves the
// cart's reservations in place; ClearAfterCheckout empties the cart once the
// order durably owns them.
type CartCheckout interface {
	Snapshot(ctx context.Context, owner domcart.Owner) ([]domcart.Item, error)
	ClearAfterCheckout(ctx context.Context, owner domcart.Owner) error
}
