package order_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartshop/commerce/internal/domain/order"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestOrder(t *testing.T, discount decimal.Decimal) *order.Order {
	t.Helper()
	o, err := order.New("order-1", "ORD-AAA111BBB222", "user-1",
		[]order.Item{
			{ID: "line-1", ProductID: "prod-1", Quantity: 2, UnitPrice: dec("19.99")},
			{ID: "line-2", ProductID: "prod-2", Quantity: 1, UnitPrice: dec("5.00")},
		},
		order.Address{City: "Lisbon"}, order.Address{City: "Lisbon"},
		dec("4.50"), dec("0.10"), discount, "", "",
	)
	require.NoError(t, err)
	return o
}

func TestNewComputesTotals(t *testing.T) {
	o := newTestOrder(t, decimal.Zero)

	assert.True(t, o.Subtotal.Equal(dec("44.98")), "subtotal %s", o.Subtotal)
	assert.True(t, o.TaxAmount.Equal(dec("4.50")), "tax %s", o.TaxAmount)
	assert.True(t, o.TotalAmount.Equal(dec("53.98")), "total %s", o.TotalAmount)
	assert.Equal(t, order.StatusPending, o.Status)
	assert.Equal(t, order.PaymentUnpaid, o.PaymentStatus)
}

func TestNewClampsDiscountToSubtotal(t *testing.T) {
	o := newTestOrder(t, dec("999"))

	assert.True(t, o.DiscountAmount.Equal(o.Subtotal))
	// total = subtotal + tax + shipping - subtotal = tax + shipping
	assert.True(t, o.TotalAmount.Equal(o.TaxAmount.Add(o.ShippingCost)))
}

func TestNewRejectsBadItems(t *testing.T) {
	_, err := order.New("order-1", "ORD-X", "user-1", nil,
		order.Address{}, order.Address{}, decimal.Zero, decimal.Zero, decimal.Zero, "", "")
	assert.ErrorIs(t, err, order.ErrNoItems)

	_, err = order.New("order-1", "ORD-X", "user-1",
		[]order.Item{{ID: "l", ProductID: "p", Quantity: 0, UnitPrice: dec("1")}},
		order.Address{}, order.Address{}, decimal.Zero, decimal.Zero, decimal.Zero, "", "")
	assert.ErrorIs(t, err, order.ErrInvalidQuantity)
}

func TestTransitionTable(t *testing.T) {
	allowed := []struct {
		from, to order.Status
	}{
		{order.StatusPending, order.StatusConfirmed},
		{order.StatusPending, order.StatusCancelled},
		{order.StatusConfirmed, order.StatusProcessing},
		{order.StatusConfirmed, order.StatusCancelled},
		{order.StatusProcessing, order.StatusShipped},
		{order.StatusShipped, order.StatusDelivered},
	}
	for _, tc := range allowed {
		assert.True(t, order.CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	denied := []struct {
		from, to order.Status
	}{
		{order.StatusPending, order.StatusShipped},
		{order.StatusPending, order.StatusDelivered},
		{order.StatusProcessing, order.StatusCancelled},
		{order.StatusShipped, order.StatusCancelled},
		{order.StatusDelivered, order.StatusPending},
		{order.StatusCancelled, order.StatusConfirmed},
		{order.StatusRefunded, order.StatusPending},
		// refunded is only reachable through the refund flow
		{order.StatusDelivered, order.StatusRefunded},
		{order.StatusConfirmed, order.StatusRefunded},
	}
	for _, tc := range denied {
		assert.False(t, order.CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTransitionToLeavesOrderUnchangedOnFailure(t *testing.T) {
	o := newTestOrder(t, decimal.Zero)
	before := o.UpdatedAt

	err := o.TransitionTo(order.StatusShipped)
	assert.ErrorIs(t, err, order.ErrInvalidTransition)
	assert.Equal(t, order.StatusPending, o.Status)
	assert.Equal(t, before, o.UpdatedAt)
}

func TestMarkPaidConfirmsPendingOrder(t *testing.T) {
	o := newTestOrder(t, decimal.Zero)

	require.NoError(t, o.MarkPaid())
	assert.Equal(t, order.StatusConfirmed, o.Status)
	assert.Equal(t, order.PaymentPaid, o.PaymentStatus)

	// replay is a no-op
	require.NoError(t, o.MarkPaid())
	assert.Equal(t, order.StatusConfirmed, o.Status)
}

func TestMarkRefunded(t *testing.T) {
	o := newTestOrder(t, decimal.Zero)
	require.NoError(t, o.MarkPaid())

	o.MarkRefunded()
	assert.Equal(t, order.StatusRefunded, o.Status)
	assert.Equal(t, order.PaymentRefunded, o.PaymentStatus)
	assert.False(t, o.Cancellable())
}
