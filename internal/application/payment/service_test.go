package payment_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	appinv "github.com/smartshop/commerce/internal/application/inventory"
	apppayment "github.com/smartshop/commerce/internal/application/payment"
	appprom "github.com/smartshop/commerce/internal/application/promotion"
	dominv "github.com/smartshop/commerce/internal/domain/inventory"
	domorder "github.com/smartshop/commerce/internal/domain/order"
	domoutbox "github.com/smartshop/commerce/internal/domain/outbox"
	dompayment "github.com/smartshop/commerce/internal/domain/payment"
	domprom "github.com/smartshop/commerce/internal/domain/promotion"
	"github.com/smartshop/commerce/internal/infrastructure/gateway"
	"github.com/smartshop/commerce/internal/infrastructure/idgen"
	"github.com/smartshop/commerce/internal/infrastructure/memory"
)

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, domoutbox.Event) error { return nil }

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type fixture struct {
	txns    *memory.TransactionRepository
	refunds *memory.RefundRepository
	orders  *memory.OrderRepository
	levels  *memory.InventoryRepository
	sales   *memory.FlashSaleRepository
	svc     *apppayment.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	txns := memory.NewTransactionRepository()
	refunds := memory.NewRefundRepository()
	orders := memory.NewOrderRepository()
	levels := memory.NewInventoryRepository()
	sales := memory.NewFlashSaleRepository()

	stock := appinv.NewService(levels, nopPublisher{}, 0, nil)
	promos := appprom.NewService(memory.NewCouponRepository(), sales, 0, nil)
	gateways := gateway.NewRegistry(gateway.NewStripe(), gateway.NewPayPal())

	return &fixture{
		txns:    txns,
		refunds: refunds,
		orders:  orders,
		levels:  levels,
		sales:   sales,
		svc: apppayment.NewService(
			txns, refunds, orders, gateways, stock, promos, nopPublisher{}, idgen.New(), 0, nil,
		),
	}
}

// seedOrder persists a pending order for user-1 with one line of two units
// at 25.00 and no tax or shipping, so the payable total is 50.00.
func (f *fixture) seedOrder(t *testing.T) *domorder.Order {
	t.Helper()
	ctx := context.Background()

	o, err := domorder.New("order-1", "ORD-TEST00000001", "user-1",
		[]domorder.Item{{ID: "line-1", ProductID: "prod-1", Quantity: 2, UnitPrice: dec("25.00")}},
		domorder.Address{}, domorder.Address{},
		decimal.Zero, decimal.Zero, decimal.Zero, "", "",
	)
	require.NoError(t, err)
	require.NoError(t, f.orders.Insert(ctx, o))

	level, err := dominv.NewLevel("prod-1", 8, 0)
	require.NoError(t, err)
	require.NoError(t, f.levels.Create(ctx, level))
	return o
}

func forced(outcome string) map[string]string {
	return map[string]string{"test_outcome": outcome}
}

func TestProcessPaymentSuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.seedOrder(t)

	txn, err := f.svc.ProcessPayment(ctx, apppayment.ProcessInput{
		UserID:      "user-1",
		OrderID:     o.ID,
		GatewayName: "stripe",
		Amount:      dec("50.00"),
		Metadata:    forced("success"),
	})
	require.NoError(t, err)
	require.NotNil(t, txn)

	assert.Equal(t, dompayment.TransactionCompleted, txn.Status)
	assert.NotNil(t, txn.CompletedAt)
	assert.Equal(t, "succeeded", txn.GatewayResponse["status"])

	paid, err := f.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domorder.PaymentPaid, paid.PaymentStatus)
	assert.Equal(t, domorder.StatusConfirmed, paid.Status)
}

func TestProcessPaymentDeclineKeepsLedgerEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.seedOrder(t)

	txn, err := f.svc.ProcessPayment(ctx, apppayment.ProcessInput{
		UserID:      "user-1",
		OrderID:     o.ID,
		GatewayName: "stripe",
		Amount:      dec("50.00"),
		Metadata:    forced("decline"),
	})
	assert.ErrorIs(t, err, apppayment.ErrChargeFailed)
	require.NotNil(t, txn, "the declined attempt stays on the ledger")
	assert.Equal(t, dompayment.TransactionFailed, txn.Status)

	unpaid, err := f.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domorder.PaymentUnpaid, unpaid.PaymentStatus)

	// a retry opens a fresh transaction and can still succeed
	retry, err := f.svc.ProcessPayment(ctx, apppayment.ProcessInput{
		UserID:      "user-1",
		OrderID:     o.ID,
		GatewayName: "stripe",
		Amount:      dec("50.00"),
		Metadata:    forced("success"),
	})
	require.NoError(t, err)
	assert.NotEqual(t, txn.ID, retry.ID)

	history, err := f.svc.ListTransactions(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestProcessPaymentGatewayError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.seedOrder(t)

	txn, err := f.svc.ProcessPayment(ctx, apppayment.ProcessInput{
		UserID:      "user-1",
		OrderID:     o.ID,
		GatewayName: "stripe",
		Amount:      dec("50.00"),
		Metadata:    forced("error"),
	})
	assert.ErrorIs(t, err, apppayment.ErrChargeFailed)
	require.NotNil(t, txn)
	assert.Equal(t, dompayment.TransactionFailed, txn.Status)
	assert.NotEmpty(t, txn.GatewayResponse["error"])
}

func TestProcessPaymentRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.seedOrder(t)

	_, err := f.svc.ProcessPayment(ctx, apppayment.ProcessInput{
		UserID: "user-1", OrderID: o.ID, GatewayName: "stripe", Amount: dec("49.99"),
	})
	assert.ErrorIs(t, err, dompayment.ErrAmountMismatch)

	_, err = f.svc.ProcessPayment(ctx, apppayment.ProcessInput{
		UserID: "user-1", OrderID: o.ID, GatewayName: "square", Amount: dec("50.00"),
	})
	assert.ErrorIs(t, err, dompayment.ErrGatewayUnsupported)

	_, err = f.svc.ProcessPayment(ctx, apppayment.ProcessInput{
		UserID: "user-2", OrderID: o.ID, GatewayName: "stripe", Amount: dec("50.00"),
	})
	assert.ErrorIs(t, err, domorder.ErrNotFound)

	_, err = f.svc.ProcessPayment(ctx, apppayment.ProcessInput{
		UserID: "user-1", OrderID: "missing", GatewayName: "stripe", Amount: dec("50.00"),
	})
	assert.ErrorIs(t, err, domorder.ErrNotFound)
}

func TestProcessPaymentRejectsPaidOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.seedOrder(t)

	_, err := f.svc.ProcessPayment(ctx, apppayment.ProcessInput{
		UserID: "user-1", OrderID: o.ID, GatewayName: "paypal",
		Amount: dec("50.00"), Metadata: forced("success"),
	})
	require.NoError(t, err)

	_, err = f.svc.ProcessPayment(ctx, apppayment.ProcessInput{
		UserID: "user-1", OrderID: o.ID, GatewayName: "paypal",
		Amount: dec("50.00"), Metadata: forced("success"),
	})
	assert.ErrorIs(t, err, apppayment.ErrOrderAlreadyPaid)
}

func TestRecordResultIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.seedOrder(t)

	txn, err := f.svc.ProcessPayment(ctx, apppayment.ProcessInput{
		UserID: "user-1", OrderID: o.ID, GatewayName: "stripe",
		Amount: dec("50.00"), Metadata: forced("success"),
	})
	require.NoError(t, err)
	first := *txn.CompletedAt

	require.NoError(t, f.svc.RecordResult(ctx, txn.ID, true, map[string]any{"status": "succeeded"}))

	replayed, err := f.txns.Get(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, first, *replayed.CompletedAt)

	// a completed transaction cannot be flipped to failed
	err = f.svc.RecordResult(ctx, txn.ID, false, nil)
	assert.ErrorIs(t, err, dompayment.ErrInvalidStatusChange)
}

func TestRefundCapAndFullSettlement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.seedOrder(t)

	txn, err := f.svc.ProcessPayment(ctx, apppayment.ProcessInput{
		UserID: "user-1", OrderID: o.ID, GatewayName: "stripe",
		Amount: dec("50.00"), Metadata: forced("success"),
	})
	require.NoError(t, err)

	partial, err := f.svc.RequestRefund(ctx, apppayment.RefundInput{
		UserID: "user-1", TransactionID: txn.ID, Reason: "damaged item", Amount: dec("20.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, dompayment.RefundCompleted, partial.Status)
	assert.True(t, partial.RefundedAmount.Equal(dec("20.00")))

	_, err = f.svc.RequestRefund(ctx, apppayment.RefundInput{
		UserID: "user-1", TransactionID: txn.ID, Reason: "too much", Amount: dec("40.00"),
	})
	assert.ErrorIs(t, err, dompayment.ErrAmountExceedsTransaction)

	// refunding the remainder settles the whole transaction
	_, err = f.svc.RequestRefund(ctx, apppayment.RefundInput{
		UserID: "user-1", TransactionID: txn.ID, Reason: "order cancelled", Amount: dec("30.00"),
	})
	require.NoError(t, err)

	settled, err := f.txns.Get(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, dompayment.TransactionRefunded, settled.Status)

	refunded, err := f.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusRefunded, refunded.Status)
	assert.Equal(t, domorder.PaymentRefunded, refunded.PaymentStatus)

	level, err := f.levels.Get(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 10, level.Quantity, "full refund restocks the order lines")

	// nothing left to refund
	_, err = f.svc.RequestRefund(ctx, apppayment.RefundInput{
		UserID: "user-1", TransactionID: txn.ID, Reason: "again", Amount: dec("1.00"),
	})
	assert.ErrorIs(t, err, dompayment.ErrTransactionNotRefundable)
}

func TestConcurrentRefundsNeverExceedTransaction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.seedOrder(t)

	txn, err := f.svc.ProcessPayment(ctx, apppayment.ProcessInput{
		UserID: "user-1", OrderID: o.ID, GatewayName: "stripe",
		Amount: dec("50.00"), Metadata: forced("success"),
	})
	require.NoError(t, err)

	// two racing 30.00 refunds on a 50.00 capture; only one may land
	results := make(chan error, 2)
	var g errgroup.Group
	for i := 0; i < 2; i++ {
		g.Go(func() error {
			_, rerr := f.svc.RequestRefund(ctx, apppayment.RefundInput{
				UserID: "user-1", TransactionID: txn.ID,
				Reason: "changed mind", Amount: dec("30.00"),
			})
			results <- rerr
			return nil
		})
	}
	require.NoError(t, g.Wait())
	close(results)

	successes, exceeded := 0, 0
	for rerr := range results {
		switch {
		case rerr == nil:
			successes++
		case errors.Is(rerr, dompayment.ErrAmountExceedsTransaction):
			exceeded++
		default:
			t.Fatalf("unexpected refund error: %v", rerr)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, exceeded)

	settled, err := f.txns.Get(ctx, txn.ID)
	require.NoError(t, err)
	assert.True(t, settled.RefundedAmount.Equal(dec("30.00")),
		"refunded total stays within the transaction amount")
	assert.Equal(t, dompayment.TransactionCompleted, settled.Status)

	completed := decimal.Zero
	prior, err := f.refunds.ListByTransaction(ctx, txn.ID)
	require.NoError(t, err)
	for _, r := range prior {
		if r.Status == dompayment.RefundCompleted {
			completed = completed.Add(r.RefundedAmount)
		}
	}
	assert.True(t, completed.LessThanOrEqual(settled.Amount))
}

func TestFullRefundReleasesFlashSaleAllocation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	now := time.Now().UTC()
	require.NoError(t, f.sales.Create(ctx, &domprom.FlashSale{
		ID:            "sale-1",
		ProductID:     "prod-1",
		OriginalPrice: dec("40.00"),
		SalePrice:     dec("25.00"),
		StartTime:     now.Add(-time.Hour),
		EndTime:       now.Add(time.Hour),
		MaxQuantity:   5,
		QuantitySold:  2,
		IsActive:      true,
	}))

	o, err := domorder.New("order-1", "ORD-TEST00000001", "user-1",
		[]domorder.Item{{
			ID: "line-1", ProductID: "prod-1", Quantity: 2,
			UnitPrice: dec("25.00"), FlashSaleQuantity: 2,
		}},
		domorder.Address{}, domorder.Address{},
		decimal.Zero, decimal.Zero, decimal.Zero, "", "",
	)
	require.NoError(t, err)
	require.NoError(t, f.orders.Insert(ctx, o))

	level, err := dominv.NewLevel("prod-1", 8, 0)
	require.NoError(t, err)
	require.NoError(t, f.levels.Create(ctx, level))

	txn, err := f.svc.ProcessPayment(ctx, apppayment.ProcessInput{
		UserID: "user-1", OrderID: o.ID, GatewayName: "stripe",
		Amount: dec("50.00"), Metadata: forced("success"),
	})
	require.NoError(t, err)

	_, err = f.svc.RequestRefund(ctx, apppayment.RefundInput{
		UserID: "user-1", TransactionID: txn.ID,
		Reason: "order returned", Amount: dec("50.00"),
	})
	require.NoError(t, err)

	sale, err := f.sales.Get(ctx, "sale-1")
	require.NoError(t, err)
	assert.Equal(t, 0, sale.QuantitySold, "refund returns the order's sale units")

	restocked, err := f.levels.Get(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 10, restocked.Quantity)

	refunded, err := f.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusRefunded, refunded.Status)
}

func TestRefundRequiresOwnership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.seedOrder(t)

	txn, err := f.svc.ProcessPayment(ctx, apppayment.ProcessInput{
		UserID: "user-1", OrderID: o.ID, GatewayName: "stripe",
		Amount: dec("50.00"), Metadata: forced("success"),
	})
	require.NoError(t, err)

	_, err = f.svc.RequestRefund(ctx, apppayment.RefundInput{
		UserID: "user-2", TransactionID: txn.ID, Reason: "not mine", Amount: dec("10.00"),
	})
	assert.ErrorIs(t, err, dompayment.ErrTransactionNotFound)
}

func TestRefundRequiresCompletedTransaction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.seedOrder(t)

	txn, err := f.svc.ProcessPayment(ctx, apppayment.ProcessInput{
		UserID: "user-1", OrderID: o.ID, GatewayName: "stripe",
		Amount: dec("50.00"), Metadata: forced("decline"),
	})
	assert.ErrorIs(t, err, apppayment.ErrChargeFailed)
	require.NotNil(t, txn)

	_, err = f.svc.RequestRefund(ctx, apppayment.RefundInput{
		UserID: "user-1", TransactionID: txn.ID, Reason: "never captured", Amount: dec("10.00"),
	})
	assert.ErrorIs(t, err, dompayment.ErrTransactionNotRefundable)
}
