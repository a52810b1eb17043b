package payment

import "context"

type TransactionRepository interface {
	Insert(ctx context.Context, txn *Transaction) error
	Get(ctx context.Context, id string) (*Transaction, error)
	// Update persists the transaction only when its Version matches the
	// stored one and returns ErrVersionConflict otherwise.
	Update(ctx context.Context, txn *Transaction) error
	ListByUser(ctx context.Context, userID string) ([]*Transaction, error)
}

type RefundRepository interface {
	Insert(ctx context.Context, refund *Refund) error
	// ListByTransaction returns all refunds recorded against a transaction,
	// including rejected attempts kept for audit.
	ListByTransaction(ctx context.Context, transactionID string) ([]*Refund, error)
	Update(ctx context.Context, refund *Refund) error
}
