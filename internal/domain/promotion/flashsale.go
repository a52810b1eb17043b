package promotion

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrFlashSaleNotFound = errors.New("promotion: flash sale not found")
	ErrFlashSaleSoldOut  = errors.New("promotion: flash sale sold out")
)

// FlashSale overrides a product's price inside a time window for a bounded
// quantity. QuantitySold mutations go through Commit under the same version
// guard as coupon usage.
type FlashSale struct {
	ID            string
	ProductID     string
	Name          string
	OriginalPrice decimal.Decimal
	SalePrice     decimal.Decimal
	StartTime     time.Time
	EndTime       time.Time
	MaxQuantity   int
	QuantitySold  int
	IsActive      bool
	Version       int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ActiveAt reports whether the sale price applies: window open, sale active,
// and units remaining.
func (f *FlashSale) ActiveAt(now time.Time) bool {
	return f.IsActive &&
		!now.Before(f.StartTime) && !now.After(f.EndTime) &&
		f.QuantitySold < f.MaxQuantity
}

func (f *FlashSale) ItemsRemaining() int {
	remaining := f.MaxQuantity - f.QuantitySold
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (f *FlashSale) SoldOut() bool {
	return f.QuantitySold >= f.MaxQuantity
}

// Commit consumes quantity units of the sale allocation, failing with
// ErrFlashSaleSoldOut when the increment would exceed MaxQuantity.
func (f *FlashSale) Commit(quantity int) error {
	if quantity <= 0 {
		return errors.New("promotion: quantity must be greater than zero")
	}
	if f.QuantitySold+quantity > f.MaxQuantity {
		return ErrFlashSaleSoldOut
	}
	f.QuantitySold += quantity
	f.touch()
	return nil
}

// Release compensates a committed purchase after a failed checkout.
func (f *FlashSale) Release(quantity int) {
	if quantity <= 0 {
		return
	}
	f.QuantitySold -= quantity
	if f.QuantitySold < 0 {
		f.QuantitySold = 0
	}
	f.touch()
}

func (f *FlashSale) Clone() *FlashSale {
	if f == nil {
		return nil
	}
	clone := *f
	return &clone
}

func (f *FlashSale) touch() {
	f.UpdatedAt = time.Now().UTC()
}
