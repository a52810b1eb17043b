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

const (
	stripeName        = "stripe"
	defaultSuccessPct = 0.9
)

// Stripe is a simulated card processor. Outcomes are random at the
// configured success rate unless the charge metadata forces one with
// "test_outcome": "decline" or "error".
type Stripe struct {
	mu          sync.Mutex
	rng         *rand.Rand
	successRate float64
}

type StripeOption func(*Stripe)

func StripeWithSuccessRate(rate float64) StripeOption {
	return func(g *Stripe) { g.successRate = rate }
}

func StripeWithSeed(seed int64) StripeOption {
	return func(g *Stripe) { g.rng = rand.New(rand.NewSource(seed)) }
}

func NewStripe(opts ...StripeOption) *Stripe {
	g := &Stripe{
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		successRate: defaultSuccessPct,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Stripe) Name() string { return stripeName }

func (g *Stripe) Charge(ctx context.Context, req dompayment.ChargeRequest) (dompayment.ChargeResult, error) {
	if err := ctx.Err(); err != nil {
		return dompayment.ChargeResult{}, err
	}

	switch req.Metadata["test_outcome"] {
	case "error":
		return dompayment.ChargeResult{}, fmt.Errorf("stripe: connection reset")
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

func (g *Stripe) succeeded(req dompayment.ChargeRequest) dompayment.ChargeResult {
	chargeID := "ch_" + strings.ToLower(strings.TrimPrefix(req.Reference, "TXN-"))
	return dompayment.ChargeResult{
		Succeeded: true,
		Message:   "charge succeeded",
		Raw: map[string]any{
			"id":       chargeID,
			"object":   "charge",
			"status":   "succeeded",
			"amount":   req.Amount.String(),
			"currency": "usd",
			"metadata": map[string]any{"order_id": req.OrderID},
		},
	}
}

func (g *Stripe) declined(req dompayment.ChargeRequest) dompayment.ChargeResult {
	return dompayment.ChargeResult{
		Succeeded: false,
		Message:   "card declined",
		Raw: map[string]any{
			"object": "charge",
			"status": "failed",
			"error": map[string]any{
				"code":    "card_declined",
				"message": "Your card was declined.",
			},
			"metadata": map[string]any{"order_id": req.OrderID},
		},
	}
}
