package promotion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/smartshop/commerce/internal/application"
	domprom "github.com/smartshop/commerce/internal/domain/promotion"
	"github.com/smartshop/commerce/internal/observability"
)

const (
	serviceName          = "promotion-service"
	useCaseValidate      = "promotion.validate_coupon"
	useCaseRedeem        = "promotion.redeem_coupon"
	useCaseRelease       = "promotion.release_coupon"
	useCaseCommitSale    = "promotion.commit_flash_sale"
	useCaseReleaseSale   = "promotion.release_flash_sale"
	useCaseActive        = "promotion.list_active"
	activePromotionsKey  = "promotions:active"
	defaultActiveListTTL = 30 * time.Second
)

// Service evaluates coupons and flash sales. Usage counters share the
// version-guard discipline of the stock ledger: read, mutate, conditional
// save, bounded retry.
type Service struct {
	coupons  domprom.CouponRepository
	sales    domprom.FlashSaleRepository
	cache    Cache
	cacheTTL time.Duration
	attempts int
	now      func() time.Time

	ins         *application.Instrumenter
	redemptions observability.Counter
}

type Option func(*Service)

func WithCache(cache Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = cache
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(coupons domprom.CouponRepository, sales domprom.FlashSaleRepository, attempts int, tel observability.Telemetry, opts ...Option) *Service {
	if attempts <= 0 {
		attempts = application.DefaultRetryAttempts
	}
	if tel == nil {
		tel = observability.NopTelemetry()
	}
	s := &Service{
		coupons:     coupons,
		sales:       sales,
		cacheTTL:    defaultActiveListTTL,
		attempts:    attempts,
		now:         func() time.Time { return time.Now().UTC() },
		ins:         application.NewInstrumenter(tel, serviceName),
		redemptions: tel.Counter(observability.MCouponRedemptions),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateCoupon checks a coupon against the window, activity, usage caps,
// and order minimum, and returns the discount it would grant. It never
// mutates the coupon.
func (s *Service) ValidateCoupon(ctx context.Context, code, userID string, orderTotal decimal.Decimal) (_ decimal.Decimal, err error) {
	ctx, obs := s.ins.Begin(ctx, useCaseValidate,
		attribute.String("coupon.code", code),
	)
	defer func() { obs.Done(err) }()

	if code == "" {
		obs.Fail("CODE_REQUIRED")
		return decimal.Zero, application.Validationf("coupon code is required")
	}

	coupon, err := s.coupons.GetByCode(ctx, code)
	if err != nil {
		obs.Fail("COUPON_NOT_FOUND")
		return decimal.Zero, fmt.Errorf("promotion: validate %s: %w", code, err)
	}
	if err = coupon.ValidateAt(s.now(), orderTotal); err != nil {
		obs.Fail("COUPON_INVALID")
		return decimal.Zero, fmt.Errorf("promotion: validate %s: %w", code, err)
	}
	if coupon.PerUserLimit != nil && userID != "" {
		used, uerr := s.coupons.UserRedemptions(ctx, code, userID)
		if uerr != nil {
			obs.Fail("USER_REDEMPTIONS_LOOKUP_FAILED")
			err = fmt.Errorf("promotion: validate %s: %w", code, uerr)
			return decimal.Zero, err
		}
		if used >= *coupon.PerUserLimit {
			obs.Fail("PER_USER_LIMIT")
			err = fmt.Errorf("promotion: validate %s: %w", code, domprom.ErrCouponUserLimit)
			return decimal.Zero, err
		}
	}
	return coupon.CalculateDiscount(orderTotal), nil
}

// RedeemCoupon consumes one use of the coupon for the user. The counter
// increment is version-guarded; losing every retry surfaces
// application.ErrConcurrencyConflict.
func (s *Service) RedeemCoupon(ctx context.Context, code, userID string) (err error) {
	ctx, obs := s.ins.Begin(ctx, useCaseRedeem,
		attribute.String("coupon.code", code),
	)
	defer func() { obs.Done(err) }()

	err = application.RetryConflicts(ctx, s.attempts, s.isConflict, func(ctx context.Context) error {
		coupon, getErr := s.coupons.GetByCode(ctx, code)
		if getErr != nil {
			return getErr
		}
		if coupon.PerUserLimit != nil && userID != "" {
			used, uerr := s.coupons.UserRedemptions(ctx, code, userID)
			if uerr != nil {
				return uerr
			}
			if used >= *coupon.PerUserLimit {
				return domprom.ErrCouponUserLimit
			}
		}
		if rerr := coupon.Redeem(); rerr != nil {
			return rerr
		}
		if serr := s.coupons.Save(ctx, coupon); serr != nil {
			return serr
		}
		if userID != "" {
			return s.coupons.RecordUserRedemption(ctx, code, userID, 1)
		}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, domprom.ErrCouponNotFound):
			obs.Fail("COUPON_NOT_FOUND")
		case errors.Is(err, domprom.ErrCouponExhausted):
			obs.Fail("COUPON_EXHAUSTED")
		case errors.Is(err, domprom.ErrCouponUserLimit):
			obs.Fail("PER_USER_LIMIT")
		case errors.Is(err, application.ErrConcurrencyConflict):
			obs.Fail("VERSION_CONFLICT_EXHAUSTED")
		default:
			obs.Fail("REDEEM_FAILED")
		}
		return fmt.Errorf("promotion: redeem %s: %w", code, err)
	}

	s.redemptions.Add(1, observability.L("code", code))
	return nil
}

// ReleaseCoupon compensates a redemption after a downstream failure, so an
// aborted checkout does not burn a use.
func (s *Service) ReleaseCoupon(ctx context.Context, code, userID string) (err error) {
	ctx, obs := s.ins.Begin(ctx, useCaseRelease,
		attribute.String("coupon.code", code),
	)
	defer func() { obs.Done(err) }()

	err = application.RetryConflicts(ctx, s.attempts, s.isConflict, func(ctx context.Context) error {
		coupon, getErr := s.coupons.GetByCode(ctx, code)
		if getErr != nil {
			return getErr
		}
		coupon.Unredeem()
		if serr := s.coupons.Save(ctx, coupon); serr != nil {
			return serr
		}
		if userID != "" {
			return s.coupons.RecordUserRedemption(ctx, code, userID, -1)
		}
		return nil
	})
	if err != nil {
		obs.Fail("RELEASE_FAILED")
		return fmt.Errorf("promotion: release %s: %w", code, err)
	}
	return nil
}

// EffectivePrice returns the price a buyer pays for the product right now:
// the flash-sale price while a sale is open and not sold out, the product's
// final price otherwise.
func (s *Service) EffectivePrice(ctx context.Context, productID string, base decimal.Decimal) (decimal.Decimal, bool, error) {
	sale, err := s.sales.FindActiveByProduct(ctx, productID, s.now())
	switch {
	case errors.Is(err, domprom.ErrFlashSaleNotFound):
		return base, false, nil
	case err != nil:
		return base, false, fmt.Errorf("promotion: effective price %s: %w", productID, err)
	}
	return sale.SalePrice, true, nil
}

// CommitFlashSale consumes quantity units of the product's active sale
// allocation. It reports false without error when no sale applies.
func (s *Service) CommitFlashSale(ctx context.Context, productID string, quantity int) (committed bool, err error) {
	ctx, obs := s.ins.Begin(ctx, useCaseCommitSale,
		attribute.String("product.id", productID),
		attribute.Int("quantity", quantity),
	)
	defer func() { obs.Done(err) }()

	err = application.RetryConflicts(ctx, s.attempts, s.isConflict, func(ctx context.Context) error {
		sale, getErr := s.sales.FindActiveByProduct(ctx, productID, s.now())
		if getErr != nil {
			return getErr
		}
		if cerr := sale.Commit(quantity); cerr != nil {
			return cerr
		}
		if serr := s.sales.Save(ctx, sale); serr != nil {
			return serr
		}
		committed = true
		return nil
	})
	switch {
	case errors.Is(err, domprom.ErrFlashSaleNotFound):
		obs.Fail("NO_ACTIVE_SALE")
		return false, nil
	case errors.Is(err, domprom.ErrFlashSaleSoldOut):
		obs.Fail("SOLD_OUT")
		return false, fmt.Errorf("promotion: commit sale %s: %w", productID, err)
	case err != nil:
		obs.Fail("COMMIT_FAILED")
		return false, fmt.Errorf("promotion: commit sale %s: %w", productID, err)
	}
	return committed, nil
}

// ReleaseFlashSale compensates a committed sale quantity.
func (s *Service) ReleaseFlashSale(ctx context.Context, saleProductID string, quantity int) (err error) {
	ctx, obs := s.ins.Begin(ctx, useCaseReleaseSale,
		attribute.String("product.id", saleProductID),
		attribute.Int("quantity", quantity),
	)
	defer func() { obs.Done(err) }()

	err = application.RetryConflicts(ctx, s.attempts, s.isConflict, func(ctx context.Context) error {
		sale, getErr := s.sales.FindActiveByProduct(ctx, saleProductID, s.now())
		if getErr != nil {
			return getErr
		}
		sale.Release(quantity)
		return s.sales.Save(ctx, sale)
	})
	if errors.Is(err, domprom.ErrFlashSaleNotFound) {
		obs.Fail("NO_ACTIVE_SALE")
		return nil
	}
	if err != nil {
		obs.Fail("RELEASE_FAILED")
		return fmt.Errorf("promotion: release sale %s: %w", saleProductID, err)
	}
	return nil
}

// ActiveCoupon is the public shape of a currently redeemable coupon.
type ActiveCoupon struct {
	Code               string          `json:"code"`
	Name               string          `json:"name"`
	DiscountType       string          `json:"discount_type"`
	DiscountValue      decimal.Decimal `json:"discount_value"`
	MinimumOrderAmount decimal.Decimal `json:"minimum_order_amount"`
	ValidUntil         time.Time       `json:"valid_until"`
}

// ActiveFlashSale is the public shape of a running flash sale.
type ActiveFlashSale struct {
	ID             string          `json:"id"`
	ProductID      string          `json:"product_id"`
	Name           string          `json:"name"`
	OriginalPrice  decimal.Decimal `json:"original_price"`
	SalePrice      decimal.Decimal `json:"sale_price"`
	EndTime        time.Time       `json:"end_time"`
	ItemsRemaining int             `json:"items_remaining"`
}

type ActivePromotions struct {
	Coupons    []ActiveCoupon    `json:"coupons"`
	FlashSales []ActiveFlashSale `json:"flash_sales"`
}

// ListActive returns everything currently redeemable, served from the cache
// within its TTL. Cache failures degrade to repository reads.
func (s *Service) ListActive(ctx context.Context) (_ *ActivePromotions, err error) {
	ctx, obs := s.ins.Begin(ctx, useCaseActive)
	defer func() { obs.Done(err) }()

	if s.cache != nil {
		raw, ok, cerr := s.cache.Get(ctx, activePromotionsKey)
		if cerr != nil {
			obs.Annotate(observability.F("cache_get_error", cerr.Error()))
		} else if ok {
			var cached ActivePromotions
			if uerr := json.Unmarshal(raw, &cached); uerr == nil {
				obs.Annotate(observability.F("cache_hit", true))
				return &cached, nil
			}
		}
	}

	now := s.now()
	coupons, err := s.coupons.ListActive(ctx, now)
	if err != nil {
		obs.Fail("COUPON_LIST_FAILED")
		return nil, fmt.Errorf("promotion: list active: %w", err)
	}
	sales, err := s.sales.ListActive(ctx, now)
	if err != nil {
		obs.Fail("SALE_LIST_FAILED")
		return nil, fmt.Errorf("promotion: list active: %w", err)
	}

	result := &ActivePromotions{
		Coupons:    make([]ActiveCoupon, 0, len(coupons)),
		FlashSales: make([]ActiveFlashSale, 0, len(sales)),
	}
	for _, c := range coupons {
		result.Coupons = append(result.Coupons, ActiveCoupon{
			Code:               c.Code,
			Name:               c.Name,
			DiscountType:       string(c.DiscountType),
			DiscountValue:      c.DiscountValue,
			MinimumOrderAmount: c.MinimumOrderAmount,
			ValidUntil:         c.ValidUntil,
		})
	}
	for _, f := range sales {
		result.FlashSales = append(result.FlashSales, ActiveFlashSale{
			ID:             f.ID,
			ProductID:      f.ProductID,
			Name:           f.Name,
			OriginalPrice:  f.OriginalPrice,
			SalePrice:      f.SalePrice,
			EndTime:        f.EndTime,
			ItemsRemaining: f.ItemsRemaining(),
		})
	}

	if s.cache != nil {
		if raw, merr := json.Marshal(result); merr == nil {
			if cerr := s.cache.Set(ctx, activePromotionsKey, raw, s.cacheTTL); cerr != nil {
				obs.Annotate(observability.F("cache_set_error", cerr.Error()))
			}
		}
	}
	return result, nil
}

func (s *Service) isConflict(err error) bool {
	return errors.Is(err, domprom.ErrVersionConflict)
}
