package inventory

import "context"

type Repository interface {
	Get(ctx context.Context, productID string) (*Level, error)
	// Create inserts a new level; fails when one already exists for the product.
	Create(ctx context.Context, level *Level) error
	// Save persists the level conditionally: it succeeds only when the stored
	// version still equals level.Version, bumping the stored version by one.
	// ErrVersionConflict signals a concurrent writer won the race.
	Save(ctx context.Context, level *Level) error
}
