package promotion

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrCouponNotFound   = errors.New("promotion: coupon not found")
	ErrCouponInactive   = errors.New("promotion: coupon not active")
	ErrCouponNotStarted = errors.New("promotion: coupon not yet valid")
	ErrCouponExpired    = errors.New("promotion: coupon expired")
	ErrCouponExhausted  = errors.New("promotion: coupon usage limit reached")
	ErrCouponMinimum    = errors.New("promotion: minimum order amount not met")
	ErrCouponUserLimit  = errors.New("promotion: per-user usage limit reached")
	ErrCouponConflict   = errors.New("promotion: coupon already exists")
	ErrVersionConflict  = errors.New("promotion: version conflict")
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// Coupon is a redeemable discount. UsedCount mutations go through Redeem and
// are version-guarded at the repository, mirroring the inventory ledger.
type Coupon struct {
	Code               string
	Name               string
	DiscountType       DiscountType
	DiscountValue      decimal.Decimal
	UsageLimit         *int
	PerUserLimit       *int
	UsedCount          int
	ValidFrom          time.Time
	ValidUntil         time.Time
	MinimumOrderAmount decimal.Decimal
	IsActive           bool
	Version            int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ValidateAt checks everything but the per-user limit, which needs the
// caller's redemption count.
func (c *Coupon) ValidateAt(now time.Time, orderTotal decimal.Decimal) error {
	if !c.IsActive {
		return ErrCouponInactive
	}
	if now.Before(c.ValidFrom) {
		return ErrCouponNotStarted
	}
	if now.After(c.ValidUntil) {
		return ErrCouponExpired
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return ErrCouponExhausted
	}
	if orderTotal.LessThan(c.MinimumOrderAmount) {
		return ErrCouponMinimum
	}
	return nil
}

// CalculateDiscount never discounts below zero: percentage and fixed amounts
// are both capped at the order total.
func (c *Coupon) CalculateDiscount(orderTotal decimal.Decimal) decimal.Decimal {
	var discount decimal.Decimal
	switch c.DiscountType {
	case DiscountPercentage:
		discount = orderTotal.Mul(c.DiscountValue).Div(decimal.NewFromInt(100)).Round(2)
	default:
		discount = c.DiscountValue
	}
	if discount.GreaterThan(orderTotal) {
		return orderTotal
	}
	if discount.IsNegative() {
		return decimal.Zero
	}
	return discount
}

// Redeem increments the usage counter, failing when the cap is reached.
func (c *Coupon) Redeem() error {
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return ErrCouponExhausted
	}
	c.UsedCount++
	c.touch()
	return nil
}

// Unredeem compensates a redemption after a failed checkout.
func (c *Coupon) Unredeem() {
	if c.UsedCount > 0 {
		c.UsedCount--
		c.touch()
	}
}

func (c *Coupon) Clone() *Coupon {
	if c == nil {
		return nil
	}
	clone := *c
	if c.UsageLimit != nil {
		limit := *c.UsageLimit
		clone.UsageLimit = &limit
	}
	if c.PerUserLimit != nil {
		limit := *c.PerUserLimit
		clone.PerUserLimit = &limit
	}
	return &clone
}

func (c *Coupon) touch() {
	c.UpdatedAt = time.Now().UTC()
}
