package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	domain "github.com/smartshop/commerce/internal/domain/order"
)

type OrderRepository struct {
	mu      sync.RWMutex
	orders  map[string]*domain.Order
	numbers map[string]string
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders:  make(map[string]*domain.Order),
		numbers: make(map[string]string),
	}
}

func (r *OrderRepository) Insert(ctx context.Context, order *domain.Order) error {
	_ = ctx
	if order == nil || order.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return domain.ErrConflict
	}
	if number := order.OrderNumber; number != "" {
		if _, exists := r.numbers[number]; exists {
			return domain.ErrConflict
		}
	}

	r.orders[order.ID] = order.Clone()
	if number := order.OrderNumber; number != "" {
		r.numbers[number] = order.ID
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return order.Clone(), nil
}

func (r *OrderRepository) Update(ctx context.Context, order *domain.Order) error {
	_ = ctx
	if order == nil || order.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; !exists {
		return domain.ErrNotFound
	}
	r.orders[order.ID] = order.Clone()
	return nil
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Order, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	var list []*domain.Order
	for _, order := range r.orders {
		if order.UserID == userID {
			list = append(list, order.Clone())
		}
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list, nil
}
