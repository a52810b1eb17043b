package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	dompayment "github.com/smartshop/commerce/internal/domain/payment"
)

const paypalName = "paypal"

// PayPal is the second simulated processor; same contract as Stripe with a
// PayPal-shaped response payload.
type PayPal struct {
	mu          sync.Mutex
	rng         *rand.Rand
	successRate float64
}

type PayPalOption func(*PayPal)

func PayPalWithSuccessRate(rate float64) PayPalOption {
	return func(g *PayPal) { g.successRate = rate }
}

func PayPalWithSeed(seed int64) PayPalOption {
	return func(g *PayPal) { g.rng = rand.New(rand.NewSource(seed)) }
}

func NewPayPal(opts ...PayPalOption) *PayPal {
	g := &PayPal{
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		successRate: defaultSuccessPct,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *PayPal) Name() string { return paypalName }

func (g *PayPal) Charge(ctx context.Context, req dompayment.ChargeRequest) (dompayment.ChargeResult, error) {
	if err := ctx.Err(); err != nil {
		return dompayment.ChargeResult{}, err
	}

	switch req.Metadata["test_outcome"] {
	case "error":
		return dompayment.ChargeResult{}, fmt.Errorf("paypal: gateway timeout")
	case "decline":
		return g.declined(req), nil
	case "success":
		return g.succeeded(req), nil
	}

	g.mu.Lock()
	roll := g.rng.Float64()
	g.mu.Unlock()
	if roll >= g.successRate {
		return g.declined(req), nil
	}
	return g.succeeded(req), nil
}

func (g *PayPal) succeeded(req dompayment.ChargeRequest) dompayment.ChargeResult {
	paymentID := "PAY-" + strings.TrimPrefix(req.Reference, "TXN-")
	return dompayment.ChargeResult{
		Succeeded: true,
		Message:   "payment approved",
		Raw: map[string]any{
			"id":     paymentID,
			"intent": "sale",
			"state":  "approved",
			"transactions": []map[string]any{
				{"amount": map[string]any{"total": req.Amount.String(), "currency": "USD"}},
			},
			"custom": req.OrderID,
		},
	}
}

func (g *PayPal) declined(req dompayment.ChargeRequest) dompayment.ChargeResult {
	return dompayment.ChargeResult{
		Succeeded: false,
		Message:   "instrument declined",
		Raw: map[string]any{
			"name":    "INSTRUMENT_DECLINED",
			"message": "The instrument presented was either declined by the processor or bank.",
			"state":   "failed",
			"custom":  req.OrderID,
		},
	}
}
