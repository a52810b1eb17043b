package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

// ChargeRequest carries everything an adapter needs to charge a payment.
type ChargeRequest struct {
	OrderID   string
	Reference string
	Amount    decimal.Decimal
	Metadata  map[string]string
}

// ChargeResult is the adapter outcome. Raw is the gateway response verbatim
// and is stored on the transaction for audit.
type ChargeResult struct {
	Succeeded bool
	Message   string
	Raw       map[string]any
}

// Gateway is the capability boundary to an external payment processor. The
// ledger depends only on this interface and never branches per gateway.
type Gateway interface {
	Name() string
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}
