package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/smartshop/commerce/internal/application"
	dominv "github.com/smartshop/commerce/internal/domain/inventory"
	domoutbox "github.com/smartshop/commerce/internal/domain/outbox"
	"github.com/smartshop/commerce/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	serviceName    = "inventory-service"
	useCaseReserve = "inventory.reserve"
	useCaseRelease = "inventory.release"
	useCaseRestock = "inventory.restock"
)

// Service is the single gate for stock mutations. Every change runs a
// read-modify-write cycle against the version-guarded repository and retries
// on conflict, so concurrent reservations serialize per product.
type Service struct {
	levels    dominv.Repository
	publisher domoutbox.Publisher
	attempts  int

	ins       *application.Instrumenter
	conflicts observability.Counter
}

func NewService(levels dominv.Repository, publisher domoutbox.Publisher, attempts int, tel observability.Telemetry) *Service {
	if attempts <= 0 {
		attempts = application.DefaultRetryAttempts
	}
	if tel == nil {
		tel = observability.NopTelemetry()
	}
	return &Service{
		levels:    levels,
		publisher: publisher,
		attempts:  attempts,
		ins:       application.NewInstrumenter(tel, serviceName),
		conflicts: tel.Counter(observability.MStockConflicts),
	}
}

// Reserve deducts quantity from the product's available stock. Insufficient
// stock fails without mutation; retry exhaustion surfaces
// application.ErrConcurrencyConflict.
func (s *Service) Reserve(ctx context.Context, productID string, quantity int) (err error) {
	ctx, obs := s.ins.Begin(ctx, useCaseReserve,
		attribute.String("product.id", productID),
		attribute.Int("quantity", quantity),
	)
	defer func() { obs.Done(err) }()

	if productID == "" {
		obs.Fail("PRODUCT_ID_REQUIRED")
		return application.Validationf("product id is required")
	}
	if quantity <= 0 {
		obs.Fail("QUANTITY_INVALID")
		return application.Validationf("quantity must be greater than zero")
	}

	var lowEvent *dominv.StockLowEvent
	err = application.RetryConflicts(ctx, s.attempts, s.isConflict, func(ctx context.Context) error {
		level, getErr := s.levels.Get(ctx, productID)
		if getErr != nil {
			return getErr
		}
		wasLow := level.Low()
		if rerr := level.Reserve(quantity); rerr != nil {
			return rerr
		}
		if serr := s.levels.Save(ctx, level); serr != nil {
			return serr
		}
		if level.Low() && !wasLow {
			e := dominv.NewStockLowEvent(level)
			lowEvent = &e
		}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, dominv.ErrNotFound):
			obs.Fail("PRODUCT_NOT_FOUND")
		case errors.Is(err, dominv.ErrInsufficientStock):
			obs.Fail("INSUFFICIENT_STOCK")
		case errors.Is(err, application.ErrConcurrencyConflict):
			obs.Fail("VERSION_CONFLICT_EXHAUSTED")
		default:
			obs.Fail("RESERVE_FAILED")
		}
		return fmt.Errorf("inventory: reserve %s: %w", productID, err)
	}

	if lowEvent != nil {
		if pubErr := s.ins.Publish(ctx, s.publisher, *lowEvent); pubErr != nil {
			obs.Annotate(observability.F("stock_low_event_error", pubErr.Error()))
		}
	}
	return nil
}

// Release returns previously reserved stock, for removed cart lines and
// cancelled or refunded orders.
func (s *Service) Release(ctx context.Context, productID string, quantity int) (err error) {
	ctx, obs := s.ins.Begin(ctx, useCaseRelease,
		attribute.String("product.id", productID),
		attribute.Int("quantity", quantity),
	)
	defer func() { obs.Done(err) }()

	if productID == "" {
		obs.Fail("PRODUCT_ID_REQUIRED")
		return application.Validationf("product id is required")
	}
	if quantity <= 0 {
		obs.Fail("QUANTITY_INVALID")
		return application.Validationf("quantity must be greater than zero")
	}

	err = application.RetryConflicts(ctx, s.attempts, s.isConflict, func(ctx context.Context) error {
		level, getErr := s.levels.Get(ctx, productID)
		if getErr != nil {
			return getErr
		}
		if rerr := level.Release(quantity); rerr != nil {
			return rerr
		}
		return s.levels.Save(ctx, level)
	})
	if err != nil {
		if errors.Is(err, dominv.ErrNotFound) {
			obs.Fail("PRODUCT_NOT_FOUND")
		} else {
			obs.Fail("RELEASE_FAILED")
		}
		return fmt.Errorf("inventory: release %s: %w", productID, err)
	}
	return nil
}

// Restock sets up or tops up a product's ledger row.
func (s *Service) Restock(ctx context.Context, productID string, quantity, minLevel int) (err error) {
	ctx, obs := s.ins.Begin(ctx, useCaseRestock,
		attribute.String("product.id", productID),
		attribute.Int("quantity", quantity),
	)
	defer func() { obs.Done(err) }()

	err = application.RetryConflicts(ctx, s.attempts, s.isConflict, func(ctx context.Context) error {
		level, getErr := s.levels.Get(ctx, productID)
		if errors.Is(getErr, dominv.ErrNotFound) {
			fresh, nerr := dominv.NewLevel(productID, quantity, minLevel)
			if nerr != nil {
				return nerr
			}
			return s.levels.Create(ctx, fresh)
		}
		if getErr != nil {
			return getErr
		}
		if rerr := level.Release(quantity); rerr != nil {
			return rerr
		}
		level.MinLevel = minLevel
		return s.levels.Save(ctx, level)
	})
	if err != nil {
		obs.Fail("RESTOCK_FAILED")
		return fmt.Errorf("inventory: restock %s: %w", productID, err)
	}
	return nil
}

// Level reads the current ledger row.
func (s *Service) Level(ctx context.Context, productID string) (*dominv.Level, error) {
	level, err := s.levels.Get(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("inventory: level %s: %w", productID, err)
	}
	return level, nil
}

func (s *Service) isConflict(err error) bool {
	if errors.Is(err, dominv.ErrVersionConflict) {
		s.conflicts.Add(1, observability.L("service", serviceName))
		return true
	}
	return false
}
