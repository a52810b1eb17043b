package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	domain "github.com/smartshop/commerce/internal/domain/payment"
)

type TransactionRepository struct {
	mu         sync.RWMutex
	txns       map[string]*domain.Transaction
	references map[string]string
}

func NewTransactionRepository() *TransactionRepository {
	return &TransactionRepository{
		txns:       make(map[string]*domain.Transaction),
		references: make(map[string]string),
	}
}

func (r *TransactionRepository) Insert(ctx context.Context, txn *domain.Transaction) error {
	_ = ctx
	if txn == nil || txn.ID == "" {
		return fmt.Errorf("transaction repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.txns[txn.ID]; exists {
		return domain.ErrDuplicateReference
	}
	if _, exists := r.references[txn.Reference]; exists {
		return domain.ErrDuplicateReference
	}

	stored := txn.Clone()
	stored.Version = 1
	r.txns[txn.ID] = stored
	r.references[txn.Reference] = txn.ID
	txn.Version = stored.Version
	return nil
}

func (r *TransactionRepository) Get(ctx context.Context, id string) (*domain.Transaction, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	txn, ok := r.txns[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	return txn.Clone(), nil
}

// Update mirrors a conditional UPDATE on the version column: it only lands
// when the caller read the current version, so concurrent refunds and result
// recordings compare-and-swap instead of overwriting each other.
func (r *TransactionRepository) Update(ctx context.Context, txn *domain.Transaction) error {
	_ = ctx
	if txn == nil || txn.ID == "" {
		return fmt.Errorf("transaction repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.txns[txn.ID]
	if !exists {
		return domain.ErrTransactionNotFound
	}
	if current.Version != txn.Version {
		return domain.ErrVersionConflict
	}
	stored := txn.Clone()
	stored.Version = current.Version + 1
	r.txns[txn.ID] = stored
	txn.Version = stored.Version
	return nil
}

func (r *TransactionRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Transaction, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	var list []*domain.Transaction
	for _, txn := range r.txns {
		if txn.UserID == userID {
			list = append(list, txn.Clone())
		}
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list, nil
}

type RefundRepository struct {
	mu      sync.RWMutex
	refunds map[string]*domain.Refund
}

func NewRefundRepository() *RefundRepository {
	return &RefundRepository{
		refunds: make(map[string]*domain.Refund),
	}
}

func (r *RefundRepository) Insert(ctx context.Context, refund *domain.Refund) error {
	_ = ctx
	if refund == nil || refund.ID == "" {
		return fmt.Errorf("refund repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.refunds[refund.ID]; exists {
		return fmt.Errorf("refund repository: duplicate id %s", refund.ID)
	}
	r.refunds[refund.ID] = refund.Clone()
	return nil
}

func (r *RefundRepository) Update(ctx context.Context, refund *domain.Refund) error {
	_ = ctx
	if refund == nil || refund.ID == "" {
		return fmt.Errorf("refund repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.refunds[refund.ID]; !exists {
		return domain.ErrRefundNotFound
	}
	r.refunds[refund.ID] = refund.Clone()
	return nil
}

func (r *RefundRepository) ListByTransaction(ctx context.Context, transactionID string) ([]*domain.Refund, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	var list []*domain.Refund
	for _, refund := range r.refunds {
		if refund.TransactionID == transactionID {
			list = append(list, refund.Clone())
		}
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].RequestedAt.Before(list[j].RequestedAt)
	})
	return list, nil
}
