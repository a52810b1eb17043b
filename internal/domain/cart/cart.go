package cart

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound        = errors.New("cart: not found")
	ErrItemNotFound    = errors.New("cart: item not found")
	ErrInvalidOwner    = errors.New("cart: exactly one of user id or session key must be set")
	ErrInvalidQuantity = errors.New("cart: quantity must be greater than zero")
	ErrEmpty           = errors.New("cart: cart is empty")
	ErrVersionConflict = errors.New("cart: version conflict")
)

// Owner identifies who the cart belongs to: an authenticated user or a guest
// session, never both and never neither.
type Owner struct {
	UserID     string
	SessionKey string
}

func (o Owner) Validate() error {
	if (o.UserID == "") == (o.SessionKey == "") {
		return ErrInvalidOwner
	}
	return nil
}

type Item struct {
	ID        string
	ProductID string
	Quantity  int
	// UnitPrice is the effective price captured when the item was added;
	// it becomes the order's snapshot price at checkout.
	UnitPrice decimal.Decimal
	AddedAt   time.Time
}

func (i Item) TotalPrice() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Cart carries a Version so concurrent saves for the same owner
// compare-and-swap instead of overwriting each other's lines.
type Cart struct {
	ID        string
	Owner     Owner
	Items     []Item
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

func New(id string, owner Owner) (*Cart, error) {
	if id == "" {
		return nil, errors.New("cart: id is required")
	}
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &Cart{
		ID:        id,
		Owner:     owner,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Upsert adds a line for the product or increments the existing one. Lines
// stay unique per product.
func (c *Cart) Upsert(itemID, productID string, quantity int, unitPrice decimal.Decimal) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	for idx := range c.Items {
		if c.Items[idx].ProductID == productID {
			c.Items[idx].Quantity += quantity
			c.touch()
			return nil
		}
	}
	c.Items = append(c.Items, Item{
		ID:        itemID,
		ProductID: productID,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		AddedAt:   time.Now().UTC(),
	})
	c.touch()
	return nil
}

func (c *Cart) Item(itemID string) (Item, error) {
	for _, item := range c.Items {
		if item.ID == itemID {
			return item, nil
		}
	}
	return Item{}, ErrItemNotFound
}

func (c *Cart) SetQuantity(itemID string, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	for idx := range c.Items {
		if c.Items[idx].ID == itemID {
			c.Items[idx].Quantity = quantity
			c.touch()
			return nil
		}
	}
	return ErrItemNotFound
}

func (c *Cart) Remove(itemID string) error {
	for idx := range c.Items {
		if c.Items[idx].ID == itemID {
			c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
			c.touch()
			return nil
		}
	}
	return ErrItemNotFound
}

func (c *Cart) Clear() {
	c.Items = nil
	c.touch()
}

func (c *Cart) TotalCost() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.TotalPrice())
	}
	return total
}

func (c *Cart) TotalItems() int {
	count := 0
	for _, item := range c.Items {
		count += item.Quantity
	}
	return count
}

// Snapshot returns an immutable copy of the line items for order creation.
func (c *Cart) Snapshot() ([]Item, error) {
	if len(c.Items) == 0 {
		return nil, ErrEmpty
	}
	items := make([]Item, len(c.Items))
	copy(items, c.Items)
	return items, nil
}

func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Items = make([]Item, len(c.Items))
	copy(clone.Items, c.Items)
	return &clone
}

func (c *Cart) touch() {
	c.UpdatedAt = time.Now().UTC()
}
