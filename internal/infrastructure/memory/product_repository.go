package memory

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/smartshop/commerce/internal/domain/product"
)

type ProductRepository struct {
	mu       sync.RWMutex
	products map[string]*domain.Product
}

func NewProductRepository() *ProductRepository {
	return &ProductRepository{
		products: make(map[string]*domain.Product),
	}
}

func (r *ProductRepository) Get(ctx context.Context, id string) (*domain.Product, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.products[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return product.Clone(), nil
}

func (r *ProductRepository) Save(ctx context.Context, product *domain.Product) error {
	_ = ctx
	if product == nil || product.ID == "" {
		return fmt.Errorf("product repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.products[product.ID] = product.Clone()
	return nil
}
