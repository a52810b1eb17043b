package memory

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/smartshop/commerce/internal/domain/inventory"
)

// InventoryRepository keeps ledger rows in memory. Save mirrors a conditional
// UPDATE: it only lands when the caller read the current version, which gives
// concurrent reservations compare-and-swap semantics.
type InventoryRepository struct {
	mu     sync.RWMutex
	levels map[string]*domain.Level
}

func NewInventoryRepository() *InventoryRepository {
	return &InventoryRepository{
		levels: make(map[string]*domain.Level),
	}
}

func (r *InventoryRepository) Get(ctx context.Context, productID string) (*domain.Level, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	level, ok := r.levels[productID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return level.Clone(), nil
}

func (r *InventoryRepository) Create(ctx context.Context, level *domain.Level) error {
	_ = ctx
	if level == nil || level.ProductID == "" {
		return fmt.Errorf("inventory repository: product id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.levels[level.ProductID]; exists {
		return domain.ErrVersionConflict
	}
	stored := level.Clone()
	stored.Version = 1
	r.levels[level.ProductID] = stored
	level.Version = stored.Version
	return nil
}

func (r *InventoryRepository) Save(ctx context.Context, level *domain.Level) error {
	_ = ctx
	if level == nil || level.ProductID == "" {
		return fmt.Errorf("inventory repository: product id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.levels[level.ProductID]
	if !ok {
		return domain.ErrNotFound
	}
	if current.Version != level.Version {
		return domain.ErrVersionConflict
	}
	stored := level.Clone()
	stored.Version = current.Version + 1
	r.levels[level.ProductID] = stored
	level.Version = stored.Version
	return nil
}
