package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	domain "github.com/smartshop/commerce/internal/domain/promotion"
)

// CouponRepository keeps coupons and per-user redemption counts in memory.
// Save carries the same version guard as the inventory ledger so concurrent
// redemptions of the last use cannot both land.
type CouponRepository struct {
	mu          sync.RWMutex
	coupons     map[string]*domain.Coupon
	redemptions map[string]map[string]int
}

func NewCouponRepository() *CouponRepository {
	return &CouponRepository{
		coupons:     make(map[string]*domain.Coupon),
		redemptions: make(map[string]map[string]int),
	}
}

func (r *CouponRepository) GetByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	coupon, ok := r.coupons[code]
	if !ok {
		return nil, domain.ErrCouponNotFound
	}
	return coupon.Clone(), nil
}

func (r *CouponRepository) Create(ctx context.Context, coupon *domain.Coupon) error {
	_ = ctx
	if coupon == nil || coupon.Code == "" {
		return fmt.Errorf("coupon repository: code is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.coupons[coupon.Code]; exists {
		return domain.ErrCouponConflict
	}
	stored := coupon.Clone()
	stored.Version = 1
	r.coupons[coupon.Code] = stored
	coupon.Version = stored.Version
	return nil
}

func (r *CouponRepository) Save(ctx context.Context, coupon *domain.Coupon) error {
	_ = ctx
	if coupon == nil || coupon.Code == "" {
		return fmt.Errorf("coupon repository: code is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.coupons[coupon.Code]
	if !ok {
		return domain.ErrCouponNotFound
	}
	if current.Version != coupon.Version {
		return domain.ErrVersionConflict
	}
	stored := coupon.Clone()
	stored.Version = current.Version + 1
	r.coupons[coupon.Code] = stored
	coupon.Version = stored.Version
	return nil
}

func (r *CouponRepository) UserRedemptions(ctx context.Context, code, userID string) (int, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.redemptions[code][userID], nil
}

func (r *CouponRepository) RecordUserRedemption(ctx context.Context, code, userID string, delta int) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	byUser, ok := r.redemptions[code]
	if !ok {
		byUser = make(map[string]int)
		r.redemptions[code] = byUser
	}
	byUser[userID] += delta
	if byUser[userID] < 0 {
		byUser[userID] = 0
	}
	return nil
}

func (r *CouponRepository) ListActive(ctx context.Context, now time.Time) ([]*domain.Coupon, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	var list []*domain.Coupon
	for _, coupon := range r.coupons {
		if coupon.ValidateAt(now, coupon.MinimumOrderAmount) == nil {
			list = append(list, coupon.Clone())
		}
	}
	return list, nil
}

type FlashSaleRepository struct {
	mu    sync.RWMutex
	sales map[string]*domain.FlashSale
}

func NewFlashSaleRepository() *FlashSaleRepository {
	return &FlashSaleRepository{
		sales: make(map[string]*domain.FlashSale),
	}
}

func (r *FlashSaleRepository) Get(ctx context.Context, id string) (*domain.FlashSale, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	sale, ok := r.sales[id]
	if !ok {
		return nil, domain.ErrFlashSaleNotFound
	}
	return sale.Clone(), nil
}

// FindActiveByProduct matches on the window and activity flag only; a sold
// out sale is still returned so callers surface ErrFlashSaleSoldOut instead
// of silently charging full price mid-checkout.
func (r *FlashSaleRepository) FindActiveByProduct(ctx context.Context, productID string, now time.Time) (*domain.FlashSale, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, sale := range r.sales {
		if sale.ProductID != productID || !sale.IsActive {
			continue
		}
		if now.Before(sale.StartTime) || now.After(sale.EndTime) {
			continue
		}
		return sale.Clone(), nil
	}
	return nil, domain.ErrFlashSaleNotFound
}

func (r *FlashSaleRepository) Create(ctx context.Context, sale *domain.FlashSale) error {
	_ = ctx
	if sale == nil || sale.ID == "" {
		return fmt.Errorf("flash sale repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sales[sale.ID]; exists {
		return domain.ErrVersionConflict
	}
	stored := sale.Clone()
	stored.Version = 1
	r.sales[sale.ID] = stored
	sale.Version = stored.Version
	return nil
}

func (r *FlashSaleRepository) Save(ctx context.Context, sale *domain.FlashSale) error {
	_ = ctx
	if sale == nil || sale.ID == "" {
		return fmt.Errorf("flash sale repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sales[sale.ID]
	if !ok {
		return domain.ErrFlashSaleNotFound
	}
	if current.Version != sale.Version {
		return domain.ErrVersionConflict
	}
	stored := sale.Clone()
	stored.Version = current.Version + 1
	r.sales[sale.ID] = stored
	sale.Version = stored.Version
	return nil
}

func (r *FlashSaleRepository) ListActive(ctx context.Context, now time.Time) ([]*domain.FlashSale, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	var list []*domain.FlashSale
	for _, sale := range r.sales {
		if sale.ActiveAt(now) {
			list = append(list, sale.Clone())
		}
	}
	return list, nil
}
