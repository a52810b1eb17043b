package memory

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/smartshop/commerce/internal/domain/cart"
)

type CartRepository struct {
	mu    sync.RWMutex
	carts map[string]*domain.Cart
}

func NewCartRepository() *CartRepository {
	return &CartRepository{
		carts: make(map[string]*domain.Cart),
	}
}

func (r *CartRepository) FindByOwner(ctx context.Context, owner domain.Owner) (*domain.Cart, error) {
	_ = ctx
	if err := owner.Validate(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.carts[ownerKey(owner)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return c.Clone(), nil
}

// Save mirrors a conditional UPDATE on the version column. A cart saved at
// version zero only lands when the owner has no cart yet, so two first-touch
// writers cannot silently replace each other either.
func (r *CartRepository) Save(ctx context.Context, c *domain.Cart) error {
	_ = ctx
	if c == nil || c.ID == "" {
		return fmt.Errorf("cart repository: id is required")
	}
	if err := c.Owner.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := ownerKey(c.Owner)
	current, exists := r.carts[key]
	if !exists {
		if c.Version != 0 {
			return domain.ErrVersionConflict
		}
		stored := c.Clone()
		stored.Version = 1
		r.carts[key] = stored
		c.Version = stored.Version
		return nil
	}
	if current.Version != c.Version {
		return domain.ErrVersionConflict
	}
	stored := c.Clone()
	stored.Version = current.Version + 1
	r.carts[key] = stored
	c.Version = stored.Version
	return nil
}

func ownerKey(owner domain.Owner) string {
	if owner.UserID != "" {
		return "user:" + owner.UserID
	}
	return "session:" + owner.SessionKey
}
