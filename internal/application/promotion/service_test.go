package promotion_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	appprom "github.com/smartshop/commerce/internal/application/promotion"
	domprom "github.com/smartshop/commerce/internal/domain/promotion"
	"github.com/smartshop/commerce/internal/infrastructure/cache/memorycache"
	"github.com/smartshop/commerce/internal/infrastructure/memory"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func intPtr(n int) *int { return &n }

type fixture struct {
	coupons *memory.CouponRepository
	sales   *memory.FlashSaleRepository
	svc     *appprom.Service
}

func newFixture(t *testing.T, opts ...appprom.Option) *fixture {
	t.Helper()
	coupons := memory.NewCouponRepository()
	sales := memory.NewFlashSaleRepository()
	return &fixture{
		coupons: coupons,
		sales:   sales,
		svc:     appprom.NewService(coupons, sales, 0, nil, opts...),
	}
}

func (f *fixture) seedCoupon(t *testing.T, c *domprom.Coupon) {
	t.Helper()
	require.NoError(t, f.coupons.Create(context.Background(), c))
}

func (f *fixture) seedSale(t *testing.T, s *domprom.FlashSale) {
	t.Helper()
	require.NoError(t, f.sales.Create(context.Background(), s))
}

func coupon(code string) *domprom.Coupon {
	now := time.Now().UTC()
	return &domprom.Coupon{
		Code:          code,
		Name:          code,
		DiscountType:  domprom.DiscountPercentage,
		DiscountValue: dec("10"),
		ValidFrom:     now.Add(-time.Hour),
		ValidUntil:    now.Add(time.Hour),
		IsActive:      true,
	}
}

func sale(productID string, maxQty int) *domprom.FlashSale {
	now := time.Now().UTC()
	return &domprom.FlashSale{
		ID:            "sale-" + productID,
		ProductID:     productID,
		Name:          "flash " + productID,
		OriginalPrice: dec("100"),
		SalePrice:     dec("59.99"),
		StartTime:     now.Add(-time.Hour),
		EndTime:       now.Add(time.Hour),
		MaxQuantity:   maxQty,
		IsActive:      true,
	}
}

func TestValidateCoupon(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedCoupon(t, coupon("SAVE10"))

	discount, err := f.svc.ValidateCoupon(ctx, "SAVE10", "user-1", dec("80"))
	require.NoError(t, err)
	assert.True(t, discount.Equal(dec("8")), "discount %s", discount)

	_, err = f.svc.ValidateCoupon(ctx, "NOPE", "user-1", dec("80"))
	assert.ErrorIs(t, err, domprom.ErrCouponNotFound)

	_, err = f.svc.ValidateCoupon(ctx, "", "user-1", dec("80"))
	assert.Error(t, err)
}

func TestRedeemCouponPerUserLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := coupon("ONCE")
	c.PerUserLimit = intPtr(1)
	f.seedCoupon(t, c)

	require.NoError(t, f.svc.RedeemCoupon(ctx, "ONCE", "user-1"))

	err := f.svc.RedeemCoupon(ctx, "ONCE", "user-1")
	assert.ErrorIs(t, err, domprom.ErrCouponUserLimit)
	_, err = f.svc.ValidateCoupon(ctx, "ONCE", "user-1", dec("80"))
	assert.ErrorIs(t, err, domprom.ErrCouponUserLimit)

	// another user is unaffected
	require.NoError(t, f.svc.RedeemCoupon(ctx, "ONCE", "user-2"))
}

func TestReleaseCouponRestoresUse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := coupon("LAST")
	c.UsageLimit = intPtr(1)
	f.seedCoupon(t, c)

	require.NoError(t, f.svc.RedeemCoupon(ctx, "LAST", "user-1"))
	assert.ErrorIs(t, f.svc.RedeemCoupon(ctx, "LAST", "user-2"), domprom.ErrCouponExhausted)

	require.NoError(t, f.svc.ReleaseCoupon(ctx, "LAST", "user-1"))
	require.NoError(t, f.svc.RedeemCoupon(ctx, "LAST", "user-2"))
}

// Two buyers racing for the last use of a coupon: the version guard lets
// exactly one redemption land.
func TestRedeemCouponLastUseRace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := coupon("LASTONE")
	c.UsageLimit = intPtr(1)
	f.seedCoupon(t, c)

	const workers = 8
	var mu sync.Mutex
	successes := 0

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			if err := f.svc.RedeemCoupon(gctx, "LASTONE", ""); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, successes)
	stored, err := f.coupons.GetByCode(ctx, "LASTONE")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.UsedCount)
}

func TestEffectivePrice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedSale(t, sale("prod-1", 5))

	price, onSale, err := f.svc.EffectivePrice(ctx, "prod-1", dec("100"))
	require.NoError(t, err)
	assert.True(t, onSale)
	assert.True(t, price.Equal(dec("59.99")))

	price, onSale, err = f.svc.EffectivePrice(ctx, "prod-2", dec("100"))
	require.NoError(t, err)
	assert.False(t, onSale)
	assert.True(t, price.Equal(dec("100")))
}

func TestCommitFlashSale(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedSale(t, sale("prod-1", 3))

	committed, err := f.svc.CommitFlashSale(ctx, "prod-1", 2)
	require.NoError(t, err)
	assert.True(t, committed)

	// no sale on this product is not an error
	committed, err = f.svc.CommitFlashSale(ctx, "prod-2", 1)
	require.NoError(t, err)
	assert.False(t, committed)

	_, err = f.svc.CommitFlashSale(ctx, "prod-1", 2)
	assert.ErrorIs(t, err, domprom.ErrFlashSaleSoldOut)

	require.NoError(t, f.svc.ReleaseFlashSale(ctx, "prod-1", 2))
	committed, err = f.svc.CommitFlashSale(ctx, "prod-1", 3)
	require.NoError(t, err)
	assert.True(t, committed)
}

// Concurrent checkouts racing for a bounded sale allocation must never
// oversell it.
func TestCommitFlashSaleRace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedSale(t, sale("prod-1", 3))

	const workers = 10
	var mu sync.Mutex
	commits := 0

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			committed, err := f.svc.CommitFlashSale(gctx, "prod-1", 1)
			if err == nil && committed {
				mu.Lock()
				commits++
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 3, commits)
	stored, err := f.sales.Get(ctx, "sale-prod-1")
	require.NoError(t, err)
	assert.Equal(t, 3, stored.QuantitySold)
}

func TestListActiveServesFromCacheWithinTTL(t *testing.T) {
	ctx := context.Background()

	current := time.Now().UTC()
	clock := func() time.Time { return current }
	cache := memorycache.NewWithClock(clock)

	f := newFixture(t,
		appprom.WithCache(cache, 30*time.Second),
		appprom.WithClock(clock),
	)
	f.seedCoupon(t, coupon("SAVE10"))
	f.seedSale(t, sale("prod-1", 5))

	first, err := f.svc.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, first.Coupons, 1)
	require.Len(t, first.FlashSales, 1)
	assert.Equal(t, 5, first.FlashSales[0].ItemsRemaining)

	// a repository change inside the TTL is not visible yet
	_, err = f.svc.CommitFlashSale(ctx, "prod-1", 2)
	require.NoError(t, err)

	cached, err := f.svc.ListActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, cached.FlashSales[0].ItemsRemaining)

	current = current.Add(31 * time.Second)
	fresh, err := f.svc.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, fresh.FlashSales, 1)
	assert.Equal(t, 3, fresh.FlashSales[0].ItemsRemaining)
}
