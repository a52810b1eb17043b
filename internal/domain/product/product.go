package product

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("product: not found")
	ErrInactive = errors.New("product: not active")
	ErrConflict = errors.New("product: already exists")
)

type Product struct {
	ID            string
	SKU           string
	Name          string
	Price         decimal.Decimal
	DiscountPrice *decimal.Decimal
	TaxRate       decimal.Decimal
	StockQuantity int
	MinStockLevel int
	ShippingCost  decimal.Decimal
	IsActive      bool
	Version       int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func New(id, sku, name string, price decimal.Decimal, stock int) (*Product, error) {
	if id == "" {
		return nil, errors.New("product: id is required")
	}
	if price.IsNegative() {
		return nil, errors.New("product: price must be zero or greater")
	}
	if stock < 0 {
		return nil, errors.New("product: stock must be zero or greater")
	}

	now := time.Now().UTC()
	return &Product{
		ID:            id,
		SKU:           sku,
		Name:          name,
		Price:         price,
		StockQuantity: stock,
		MinStockLevel: 10,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// FinalPrice is the discount price when set, otherwise the list price.
func (p *Product) FinalPrice() decimal.Decimal {
	if p.DiscountPrice != nil {
		return *p.DiscountPrice
	}
	return p.Price
}

func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	clone := *p
	if p.DiscountPrice != nil {
		dp := *p.DiscountPrice
		clone.DiscountPrice = &dp
	}
	return &clone
}
