package payment

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrTransactionNotFound      = errors.New("payment: transaction not found")
	ErrRefundNotFound           = errors.New("payment: refund not found")
	ErrDuplicateReference       = errors.New("payment: duplicate transaction reference")
	ErrAmountMismatch           = errors.New("payment: amount does not match order total")
	ErrAmountExceedsTransaction = errors.New("payment: refund amount exceeds refundable amount")
	ErrTransactionNotRefundable = errors.New("payment: transaction is not eligible for refund")
	ErrInvalidStatusChange      = errors.New("payment: invalid transaction status change")
	ErrGatewayUnsupported       = errors.New("payment: gateway not supported")
	ErrVersionConflict          = errors.New("payment: version conflict")
)

type TransactionStatus string

const (
	TransactionPending    TransactionStatus = "pending"
	TransactionProcessing TransactionStatus = "processing"
	TransactionCompleted  TransactionStatus = "completed"
	TransactionFailed     TransactionStatus = "failed"
	TransactionRefunded   TransactionStatus = "refunded"
	TransactionCancelled  TransactionStatus = "cancelled"
)

type RefundStatus string

const (
	RefundRequested  RefundStatus = "requested"
	RefundApproved   RefundStatus = "approved"
	RefundProcessing RefundStatus = "processing"
	RefundCompleted  RefundStatus = "completed"
	RefundRejected   RefundStatus = "rejected"
)

// Transaction is one payment attempt against an order. An order may carry
// several transactions (retries); each keeps the raw gateway response for audit.
// RefundedAmount accumulates completed refunds and is guarded by Version, so
// concurrent refunds serialize through the repository's conditional save.
type Transaction struct {
	ID              string
	OrderID         string
	UserID          string
	Gateway         string
	Status          TransactionStatus
	Reference       string
	Amount          decimal.Decimal
	RefundedAmount  decimal.Decimal
	GatewayResponse map[string]any
	Description     string
	Version         int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

func NewTransaction(id, orderID, userID, gateway, reference string, amount decimal.Decimal, description string) (*Transaction, error) {
	if id == "" || orderID == "" || reference == "" {
		return nil, errors.New("payment: id, order id, and reference are required")
	}
	if amount.IsNegative() {
		return nil, errors.New("payment: amount must be zero or greater")
	}
	now := time.Now().UTC()
	return &Transaction{
		ID:             id,
		OrderID:        orderID,
		UserID:         userID,
		Gateway:        gateway,
		Status:         TransactionPending,
		Reference:      reference,
		Amount:         amount,
		RefundedAmount: decimal.Zero,
		Description:    description,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Complete records a successful gateway outcome. A transaction never returns
// to pending; completing an already completed transaction is a no-op so that
// replays stay idempotent.
func (t *Transaction) Complete(response map[string]any) error {
	if t.Status == TransactionCompleted {
		return nil
	}
	if t.Status != TransactionPending && t.Status != TransactionProcessing {
		return ErrInvalidStatusChange
	}
	now := time.Now().UTC()
	t.Status = TransactionCompleted
	t.GatewayResponse = response
	t.CompletedAt = &now
	t.UpdatedAt = now
	return nil
}

// Fail records a declined or errored gateway outcome.
func (t *Transaction) Fail(response map[string]any) error {
	if t.Status == TransactionFailed {
		return nil
	}
	if t.Status != TransactionPending && t.Status != TransactionProcessing {
		return ErrInvalidStatusChange
	}
	t.Status = TransactionFailed
	t.GatewayResponse = response
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkRefunded flips a fully refunded transaction.
func (t *Transaction) MarkRefunded() error {
	if t.Status != TransactionCompleted {
		return ErrInvalidStatusChange
	}
	t.Status = TransactionRefunded
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (t *Transaction) Refundable() bool {
	return t.Status == TransactionCompleted
}

// Remaining is the amount still open for refunds.
func (t *Transaction) Remaining() decimal.Decimal {
	return t.Amount.Sub(t.RefundedAmount)
}

// ApplyRefund books a refund against the transaction. The cumulative refunded
// amount never exceeds the transaction amount; a refund that settles the whole
// amount flips the transaction to refunded.
func (t *Transaction) ApplyRefund(amount decimal.Decimal) error {
	if !t.Refundable() {
		return ErrTransactionNotRefundable
	}
	if amount.GreaterThan(t.Remaining()) {
		return ErrAmountExceedsTransaction
	}
	t.RefundedAmount = t.RefundedAmount.Add(amount)
	if t.Remaining().IsZero() {
		t.Status = TransactionRefunded
	}
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	clone := *t
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		clone.CompletedAt = &at
	}
	if t.GatewayResponse != nil {
		resp := make(map[string]any, len(t.GatewayResponse))
		for k, v := range t.GatewayResponse {
			resp[k] = v
		}
		clone.GatewayResponse = resp
	}
	return &clone
}

// Refund is a (possibly partial) reversal of a completed transaction.
// Across all refunds of a transaction, refunded amounts never exceed the
// transaction amount.
type Refund struct {
	ID              string
	TransactionID   string
	OrderID         string
	UserID          string
	Reason          string
	Status          RefundStatus
	RequestedAmount decimal.Decimal
	RefundedAmount  decimal.Decimal
	GatewayRefundID string
	RequestedAt     time.Time
	ProcessedAt     *time.Time
	CompletedAt     *time.Time
}

func NewRefund(id string, txn *Transaction, reason string, amount decimal.Decimal) (*Refund, error) {
	if id == "" {
		return nil, errors.New("payment: refund id is required")
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("payment: refund amount must be greater than zero")
	}
	return &Refund{
		ID:              id,
		TransactionID:   txn.ID,
		OrderID:         txn.OrderID,
		UserID:          txn.UserID,
		Reason:          reason,
		Status:          RefundRequested,
		RequestedAmount: amount,
		RefundedAmount:  decimal.Zero,
		RequestedAt:     time.Now().UTC(),
	}, nil
}

// Complete advances the refund to completed with the amount actually returned.
func (r *Refund) Complete(gatewayRefundID string, amount decimal.Decimal) {
	now := time.Now().UTC()
	r.Status = RefundCompleted
	r.RefundedAmount = amount
	r.GatewayRefundID = gatewayRefundID
	r.ProcessedAt = &now
	r.CompletedAt = &now
}

func (r *Refund) Reject() {
	now := time.Now().UTC()
	r.Status = RefundRejected
	r.ProcessedAt = &now
}

func (r *Refund) Clone() *Refund {
	if r == nil {
		return nil
	}
	clone := *r
	if r.ProcessedAt != nil {
		at := *r.ProcessedAt
		clone.ProcessedAt = &at
	}
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		clone.CompletedAt = &at
	}
	return &clone
}
