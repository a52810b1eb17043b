package cart

import "context"

type Repository interface {
	FindByOwner(ctx context.Context, owner Owner) (*Cart, error)
	// Save persists the cart only when its Version matches the stored one
	// and returns ErrVersionConflict otherwise.
	Save(ctx context.Context, c *Cart) error
}
