package order

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound        = errors.New("order: not found")
	ErrConflict        = errors.New("order: already exists")
	ErrNoItems         = errors.New("order: at least one item is required")
	ErrInvalidQuantity = errors.New("order: quantity must be greater than zero")
	ErrInvalidAmount   = errors.New("order: amount must be zero or greater")
)

type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

// Item is a line captured at creation time. The unit price is a snapshot and
// never tracks later product price changes. FlashSaleQuantity records how many
// units were counted against a flash-sale allocation, so cancellation and
// refunds return exactly what this order consumed.
type Item struct {
	ID                string
	ProductID         string
	Quantity          int
	UnitPrice         decimal.Decimal
	FlashSaleQuantity int
}

func (i Item) TotalPrice() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Address struct {
	Street     string
	City       string
	State      string
	Country    string
	PostalCode string
}

type Order struct {
	ID             string
	OrderNumber    string
	UserID         string
	Status         Status
	PaymentStatus  PaymentStatus
	Items          []Item
	Subtotal       decimal.Decimal
	TaxAmount      decimal.Decimal
	ShippingCost   decimal.Decimal
	DiscountAmount decimal.Decimal
	TotalAmount    decimal.Decimal
	CouponCode     string
	ShippingTo     Address
	BillingTo      Address
	Notes          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// New builds an order with its immutable items and derived totals:
// subtotal = sum(qty x unit price), tax = subtotal x taxRate,
// total = subtotal + tax + shipping - discount.
func New(id, orderNumber, userID string, items []Item, shipping, billing Address,
	shippingCost, taxRate, discount decimal.Decimal, couponCode, notes string,
) (*Order, error) {
	if id == "" {
		return nil, errors.New("order: id is required")
	}
	if userID == "" {
		return nil, errors.New("order: user id is required")
	}
	if len(items) == 0 {
		return nil, ErrNoItems
	}

	subtotal := decimal.Zero
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		if item.UnitPrice.IsNegative() {
			return nil, ErrInvalidAmount
		}
		subtotal = subtotal.Add(item.TotalPrice())
	}

	if discount.IsNegative() {
		return nil, ErrInvalidAmount
	}
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}

	tax := subtotal.Mul(taxRate).Round(2)
	total := subtotal.Add(tax).Add(shippingCost).Sub(discount)
	if total.IsNegative() {
		return nil, ErrInvalidAmount
	}

	now := time.Now().UTC()
	lines := make([]Item, len(items))
	copy(lines, items)

	return &Order{
		ID:             id,
		OrderNumber:    orderNumber,
		UserID:         userID,
		Status:         StatusPending,
		PaymentStatus:  PaymentUnpaid,
		Items:          lines,
		Subtotal:       subtotal,
		TaxAmount:      tax,
		ShippingCost:   shippingCost,
		DiscountAmount: discount,
		TotalAmount:    total,
		CouponCode:     couponCode,
		ShippingTo:     shipping,
		BillingTo:      billing,
		Notes:          notes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// MarkPaid records a completed payment: payment status flips to paid and a
// pending order advances to confirmed. Callers guarantee idempotence.
func (o *Order) MarkPaid() error {
	if o.PaymentStatus == PaymentPaid {
		return nil
	}
	if o.Status == StatusPending {
		if err := o.TransitionTo(StatusConfirmed); err != nil {
			return err
		}
	}
	o.PaymentStatus = PaymentPaid
	o.touch()
	return nil
}

// MarkRefunded is reachable only through the refund flow; the status table
// deliberately has no edge into refunded.
func (o *Order) MarkRefunded() {
	o.Status = StatusRefunded
	o.PaymentStatus = PaymentRefunded
	o.touch()
}

func (o *Order) TotalItems() int {
	count := 0
	for _, item := range o.Items {
		count += item.Quantity
	}
	return count
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Items = make([]Item, len(o.Items))
	copy(clone.Items, o.Items)
	return &clone
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now().UTC()
}
