package promotion

import (
	"context"
	"time"
)

type CouponRepository interface {
	GetByCode(ctx context.Context, code string) (*Coupon, error)
	Create(ctx context.Context, coupon *Coupon) error
	// Save is conditional on the stored version matching coupon.Version,
	// bumping it on success. ErrVersionConflict signals a lost race.
	Save(ctx context.Context, coupon *Coupon) error
	// UserRedemptions returns how many times the user has redeemed the coupon.
	UserRedemptions(ctx context.Context, code, userID string) (int, error)
	RecordUserRedemption(ctx context.Context, code, userID string, delta int) error
	ListActive(ctx context.Context, now time.Time) ([]*Coupon, error)
}

type FlashSaleRepository interface {
	Get(ctx context.Context, id string) (*FlashSale, error)
	// FindActiveByProduct returns the flash sale applying to the product at
	// the given instant, or ErrFlashSaleNotFound.
	FindActiveByProduct(ctx context.Context, productID string, now time.Time) (*FlashSale, error)
	Create(ctx context.Context, sale *FlashSale) error
	// Save carries the same version-guard contract as CouponRepository.Save.
	Save(ctx context.Context, sale *FlashSale) error
	ListActive(ctx context.Context, now time.Time) ([]*FlashSale, error)
}
