package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domcart "github.com/smartshop/commerce/internal/domain/cart"
	dominv "github.com/smartshop/commerce/internal/domain/inventory"
	domorder "github.com/smartshop/commerce/internal/domain/order"
	dompayment "github.com/smartshop/commerce/internal/domain/payment"
	domprom "github.com/smartshop/commerce/internal/domain/promotion"
	"github.com/smartshop/commerce/internal/infrastructure/memory"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestInventorySaveIsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewInventoryRepository()

	level, err := dominv.NewLevel("prod-1", 10, 2)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, level))
	assert.Equal(t, 1, level.Version)

	first, err := repo.Get(ctx, "prod-1")
	require.NoError(t, err)
	second, err := repo.Get(ctx, "prod-1")
	require.NoError(t, err)

	require.NoError(t, first.Reserve(3))
	require.NoError(t, repo.Save(ctx, first))
	assert.Equal(t, 2, first.Version)

	// the second reader holds a stale version and must lose
	require.NoError(t, second.Reserve(3))
	assert.ErrorIs(t, repo.Save(ctx, second), dominv.ErrVersionConflict)

	stored, err := repo.Get(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 7, stored.Quantity)
}

func TestInventoryCreateRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewInventoryRepository()

	level, err := dominv.NewLevel("prod-1", 10, 2)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, level))

	dup, err := dominv.NewLevel("prod-1", 5, 0)
	require.NoError(t, err)
	assert.ErrorIs(t, repo.Create(ctx, dup), dominv.ErrVersionConflict)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, dominv.ErrNotFound)
}

func TestCouponSaveIsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewCouponRepository()

	now := time.Now().UTC()
	limit := 1
	require.NoError(t, repo.Create(ctx, &domprom.Coupon{
		Code:       "LAST",
		UsageLimit: &limit,
		ValidFrom:  now.Add(-time.Hour),
		ValidUntil: now.Add(time.Hour),
		IsActive:   true,
	}))

	first, err := repo.GetByCode(ctx, "LAST")
	require.NoError(t, err)
	second, err := repo.GetByCode(ctx, "LAST")
	require.NoError(t, err)

	require.NoError(t, first.Redeem())
	require.NoError(t, repo.Save(ctx, first))

	require.NoError(t, second.Redeem())
	assert.ErrorIs(t, repo.Save(ctx, second), domprom.ErrVersionConflict)

	stored, err := repo.GetByCode(ctx, "LAST")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.UsedCount)
}

func TestCouponUserRedemptionsFloorAtZero(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewCouponRepository()

	require.NoError(t, repo.RecordUserRedemption(ctx, "SAVE", "user-1", 1))
	used, err := repo.UserRedemptions(ctx, "SAVE", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, used)

	require.NoError(t, repo.RecordUserRedemption(ctx, "SAVE", "user-1", -1))
	require.NoError(t, repo.RecordUserRedemption(ctx, "SAVE", "user-1", -1))
	used, err = repo.UserRedemptions(ctx, "SAVE", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, used)
}

func TestFlashSaleFindActiveByProduct(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewFlashSaleRepository()

	now := time.Now().UTC()
	require.NoError(t, repo.Create(ctx, &domprom.FlashSale{
		ID:          "sale-1",
		ProductID:   "prod-1",
		SalePrice:   dec("9.99"),
		StartTime:   now.Add(-time.Hour),
		EndTime:     now.Add(time.Hour),
		MaxQuantity: 2,
		IsActive:    true,
	}))

	sale, err := repo.FindActiveByProduct(ctx, "prod-1", now)
	require.NoError(t, err)
	assert.Equal(t, "sale-1", sale.ID)

	_, err = repo.FindActiveByProduct(ctx, "prod-1", now.Add(2*time.Hour))
	assert.ErrorIs(t, err, domprom.ErrFlashSaleNotFound)

	// a sold out sale inside its window is still found
	sale.QuantitySold = 2
	require.NoError(t, repo.Save(ctx, sale))
	found, err := repo.FindActiveByProduct(ctx, "prod-1", now)
	require.NoError(t, err)
	assert.True(t, found.SoldOut())
}

func newOrder(t *testing.T, id, number, userID string) *domorder.Order {
	t.Helper()
	o, err := domorder.New(id, number, userID,
		[]domorder.Item{{ID: "line-1", ProductID: "prod-1", Quantity: 1, UnitPrice: dec("10")}},
		domorder.Address{}, domorder.Address{},
		decimal.Zero, decimal.Zero, decimal.Zero, "", "",
	)
	require.NoError(t, err)
	return o
}

func TestOrderInsertEnforcesUniqueness(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()

	require.NoError(t, repo.Insert(ctx, newOrder(t, "order-1", "ORD-A", "user-1")))

	assert.ErrorIs(t, repo.Insert(ctx, newOrder(t, "order-1", "ORD-B", "user-1")), domorder.ErrConflict)
	assert.ErrorIs(t, repo.Insert(ctx, newOrder(t, "order-2", "ORD-A", "user-1")), domorder.ErrConflict)

	require.NoError(t, repo.Insert(ctx, newOrder(t, "order-2", "ORD-B", "user-1")))
}

func TestOrderListByUserNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()

	older := newOrder(t, "order-1", "ORD-A", "user-1")
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, repo.Insert(ctx, older))
	require.NoError(t, repo.Insert(ctx, newOrder(t, "order-2", "ORD-B", "user-1")))
	require.NoError(t, repo.Insert(ctx, newOrder(t, "order-3", "ORD-C", "user-2")))

	list, err := repo.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "order-2", list[0].ID)
	assert.Equal(t, "order-1", list[1].ID)
}

func TestTransactionReferenceUniqueness(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewTransactionRepository()

	txn, err := dompayment.NewTransaction("txn-1", "order-1", "user-1", "stripe", "TXN-A", dec("10"), "")
	require.NoError(t, err)
	require.NoError(t, repo.Insert(ctx, txn))

	sameRef, err := dompayment.NewTransaction("txn-2", "order-1", "user-1", "stripe", "TXN-A", dec("10"), "")
	require.NoError(t, err)
	assert.ErrorIs(t, repo.Insert(ctx, sameRef), dompayment.ErrDuplicateReference)

	sameID, err := dompayment.NewTransaction("txn-1", "order-1", "user-1", "stripe", "TXN-B", dec("10"), "")
	require.NoError(t, err)
	assert.ErrorIs(t, repo.Insert(ctx, sameID), dompayment.ErrDuplicateReference)
}

func TestTransactionUpdateIsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewTransactionRepository()

	txn, err := dompayment.NewTransaction("txn-1", "order-1", "user-1", "stripe", "TXN-A", dec("100"), "")
	require.NoError(t, err)
	require.NoError(t, repo.Insert(ctx, txn))
	assert.Equal(t, 1, txn.Version)

	first, err := repo.Get(ctx, "txn-1")
	require.NoError(t, err)
	second, err := repo.Get(ctx, "txn-1")
	require.NoError(t, err)

	require.NoError(t, first.Complete(nil))
	require.NoError(t, first.ApplyRefund(dec("60")))
	require.NoError(t, repo.Update(ctx, first))
	assert.Equal(t, 2, first.Version)

	// the second reader's view is stale and its write must not land
	require.NoError(t, second.Complete(nil))
	require.NoError(t, second.ApplyRefund(dec("60")))
	assert.ErrorIs(t, repo.Update(ctx, second), dompayment.ErrVersionConflict)

	stored, err := repo.Get(ctx, "txn-1")
	require.NoError(t, err)
	assert.True(t, stored.RefundedAmount.Equal(dec("60")))
}

func TestCartSaveIsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewCartRepository()

	c, err := domcart.New("cart-1", domcart.Owner{UserID: "alpha"})
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, c))
	assert.Equal(t, 1, c.Version)

	first, err := repo.FindByOwner(ctx, domcart.Owner{UserID: "alpha"})
	require.NoError(t, err)
	second, err := repo.FindByOwner(ctx, domcart.Owner{UserID: "alpha"})
	require.NoError(t, err)

	require.NoError(t, first.Upsert("item-1", "prod-1", 1, dec("10")))
	require.NoError(t, repo.Save(ctx, first))

	require.NoError(t, second.Upsert("item-2", "prod-2", 1, dec("20")))
	assert.ErrorIs(t, repo.Save(ctx, second), domcart.ErrVersionConflict)

	stored, err := repo.FindByOwner(ctx, domcart.Owner{UserID: "alpha"})
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, "prod-1", stored.Items[0].ProductID)

	// a first-touch save races the same way
	late, err := domcart.New("cart-2", domcart.Owner{UserID: "alpha"})
	require.NoError(t, err)
	assert.ErrorIs(t, repo.Save(ctx, late), domcart.ErrVersionConflict)
}

func TestCartRepositoryKeysByOwner(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewCartRepository()

	userCart, err := domcart.New("cart-1", domcart.Owner{UserID: "alpha"})
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, userCart))

	sessionCart, err := domcart.New("cart-2", domcart.Owner{SessionKey: "alpha"})
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, sessionCart))

	// a user id and a session key with the same value are distinct owners
	byUser, err := repo.FindByOwner(ctx, domcart.Owner{UserID: "alpha"})
	require.NoError(t, err)
	assert.Equal(t, "cart-1", byUser.ID)

	bySession, err := repo.FindByOwner(ctx, domcart.Owner{SessionKey: "alpha"})
	require.NoError(t, err)
	assert.Equal(t, "cart-2", bySession.ID)

	_, err = repo.FindByOwner(ctx, domcart.Owner{UserID: "beta"})
	assert.ErrorIs(t, err, domcart.ErrNotFound)
	_, err = repo.FindByOwner(ctx, domcart.Owner{})
	assert.ErrorIs(t, err, domcart.ErrInvalidOwner)
}

func TestRepositoriesReturnDetachedCopies(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	require.NoError(t, repo.Insert(ctx, newOrder(t, "order-1", "ORD-A", "user-1")))

	read, err := repo.Get(ctx, "order-1")
	require.NoError(t, err)
	read.Items[0].Quantity = 99
	read.Notes = "mutated"

	again, err := repo.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, 1, again.Items[0].Quantity)
	assert.Empty(t, again.Notes)
}
