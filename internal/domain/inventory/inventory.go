package inventory

import (
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("inventory: product not found")
	ErrInvalidQuantity   = errors.New("inventory: quantity must be greater than zero")
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	ErrVersionConflict   = errors.New("inventory: version conflict")
)

// Level is the stock ledger row for a single product. Version guards every
// mutation: a save only succeeds when the stored version still matches, so
// concurrent read-modify-write cycles cannot silently lose an update.
type Level struct {
	ProductID string
	Quantity  int
	MinLevel  int
	Version   int
	UpdatedAt time.Time
}

func NewLevel(productID string, quantity, minLevel int) (*Level, error) {
	if productID == "" {
		return nil, errors.New("inventory: product id is required")
	}
	if quantity < 0 {
		return nil, ErrInvalidQuantity
	}
	return &Level{
		ProductID: productID,
		Quantity:  quantity,
		MinLevel:  minLevel,
		UpdatedAt: time.Now().UTC(),
	}, nil
}

// Reserve deducts quantity from available stock. The level is left untouched
// when stock is insufficient.
func (l *Level) Reserve(quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if quantity > l.Quantity {
		return ErrInsufficientStock
	}
	l.Quantity -= quantity
	l.touch()
	return nil
}

// Release returns previously reserved stock.
func (l *Level) Release(quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	l.Quantity += quantity
	l.touch()
	return nil
}

// Low reports whether available stock is at or below the alert threshold.
func (l *Level) Low() bool {
	return l.Quantity <= l.MinLevel
}

func (l *Level) Clone() *Level {
	if l == nil {
		return nil
	}
	clone := *l
	return &clone
}

func (l *Level) touch() {
	l.UpdatedAt = time.Now().UTC()
}
