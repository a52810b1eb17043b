package cart

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/smartshop/commerce/internal/application"
	domcart "github.com/smartshop/commerce/internal/domain/cart"
	domproduct "github.com/smartshop/commerce/internal/domain/product"
	"github.com/smartshop/commerce/internal/observability"
)

const (
	serviceName       = "cart-service"
	useCaseGet        = "cart.get"
	useCaseAddItem    = "cart.add_item"
	useCaseUpdateItem = "cart.update_item"
	useCaseRemoveItem = "cart.remove_item"
	useCaseClear      = "cart.clear"
)

// Service manages the cart aggregate. Stock is reserved when a line is added
// and released when it shrinks, so a line in the cart always has its quantity
// held in the ledger. Saves are version-guarded and retried, so concurrent
// writers to the same cart never drop each other's lines.
type Service struct {
	carts    domcart.Repository
	products domproduct.Repository
	stock    Stock
	pricer   Pricer
	idGen    IDGenerator
	attempts int

	ins *application.Instrumenter
}

func NewService(carts domcart.Repository, products domproduct.Repository, stock Stock, pricer Pricer, idGen IDGenerator, attempts int, tel observability.Telemetry) *Service {
	return &Service{
		carts:    carts,
		products: products,
		stock:    stock,
		pricer:   pricer,
		idGen:    idGen,
		attempts: attempts,
		ins:      application.NewInstrumenter(tel, serviceName),
	}
}

// Get returns the owner's cart, creating an empty one on first touch.
func (s *Service) Get(ctx context.Context, owner domcart.Owner) (_ *domcart.Cart, err error) {
	ctx, obs := s.ins.Begin(ctx, useCaseGet)
	defer func() { obs.Done(err) }()

	c, err := s.getOrCreate(ctx, owner)
	if err != nil {
		obs.Fail(failStatus(err))
		return nil, err
	}
	return c, nil
}

// AddItem reserves stock for the requested quantity, snapshots the effective
// price, and upserts the cart line. The reservation is rolled back when the
// cart cannot be saved.
func (s *Service) AddItem(ctx context.Context, owner domcart.Owner, productID string, quantity int) (_ *domcart.Cart, err error) {
	ctx, obs := s.ins.Begin(ctx, useCaseAddItem,
		attribute.String("product.id", productID),
		attribute.Int("quantity", quantity),
	)
	defer func() { obs.Done(err) }()

	if quantity <= 0 {
		obs.Fail("QUANTITY_INVALID")
		return nil, fmt.Errorf("%w: %w", application.ErrValidation, domcart.ErrInvalidQuantity)
	}

	prod, err := s.products.Get(ctx, productID)
	if err != nil {
		obs.Fail("PRODUCT_NOT_FOUND")
		return nil, fmt.Errorf("cart: add item: %w", err)
	}
	if !prod.IsActive {
		obs.Fail("PRODUCT_INACTIVE")
		return nil, fmt.Errorf("cart: add item: %w", domproduct.ErrInactive)
	}

	unitPrice := prod.FinalPrice()
	if s.pricer != nil {
		price, onSale, perr := s.pricer.EffectivePrice(ctx, productID, unitPrice)
		if perr != nil {
			obs.Fail("PRICE_LOOKUP_FAILED")
			return nil, fmt.Errorf("cart: add item: %w", perr)
		}
		unitPrice = price
		if onSale {
			obs.Annotate(observability.F("flash_sale_price", true))
		}
	}

	if err = owner.Validate(); err != nil {
		obs.Fail("OWNER_INVALID")
		return nil, fmt.Errorf("%w: %w", application.ErrValidation, err)
	}

	if err = s.stock.Reserve(ctx, productID, quantity); err != nil {
		obs.Fail("RESERVE_FAILED")
		return nil, fmt.Errorf("cart: add item: %w", err)
	}

	var c *domcart.Cart
	err = application.RetryConflicts(ctx, s.attempts, isConflict, func(ctx context.Context) error {
		fresh, gerr := s.getOrCreate(ctx, owner)
		if gerr != nil {
			return gerr
		}
		if uerr := fresh.Upsert(s.idGen.NewID(), productID, quantity, unitPrice); uerr != nil {
			return uerr
		}
		if serr := s.carts.Save(ctx, fresh); serr != nil {
			return serr
		}
		c = fresh
		return nil
	})
	if err != nil {
		s.compensateRelease(ctx, obs, productID, quantity)
		obs.Fail("SAVE_FAILED")
		return nil, fmt.Errorf("cart: add item: %w", err)
	}
	return c, nil
}

// UpdateItem sets a line to the requested quantity, reserving or releasing
// the difference. Quantity zero removes the line.
func (s *Service) UpdateItem(ctx context.Context, owner domcart.Owner, itemID string, quantity int) (_ *domcart.Cart, err error) {
	ctx, obs := s.ins.Begin(ctx, useCaseUpdateItem,
		attribute.String("cart.item_id", itemID),
		attribute.Int("quantity", quantity),
	)
	defer func() { obs.Done(err) }()

	if quantity < 0 {
		obs.Fail("QUANTITY_INVALID")
		return nil, fmt.Errorf("%w: %w", application.ErrValidation, domcart.ErrInvalidQuantity)
	}
	if quantity == 0 {
		return s.remove(ctx, obs, owner, itemID)
	}

	// Growth reserves before the save lands so the hold is never unbacked;
	// shrinkage releases only after the save lands so the hold is never lost.
	var c *domcart.Cart
	var settled domcart.Item
	var delta int
	err = application.RetryConflicts(ctx, s.attempts, isConflict, func(ctx context.Context) error {
		fresh, ferr := s.find(ctx, owner)
		if ferr != nil {
			return ferr
		}
		item, ierr := fresh.Item(itemID)
		if ierr != nil {
			return ierr
		}
		delta = quantity - item.Quantity
		if delta > 0 {
			if rerr := s.stock.Reserve(ctx, item.ProductID, delta); rerr != nil {
				return rerr
			}
		}
		if qerr := fresh.SetQuantity(itemID, quantity); qerr != nil {
			return qerr
		}
		if serr := s.carts.Save(ctx, fresh); serr != nil {
			if delta > 0 {
				s.compensateRelease(ctx, obs, item.ProductID, delta)
			}
			return serr
		}
		c = fresh
		settled = item
		return nil
	})
	if err != nil {
		obs.Fail(updateFailStatus(err))
		return nil, fmt.Errorf("cart: update item: %w", err)
	}
	if delta < 0 {
		if rerr := s.stock.Release(ctx, settled.ProductID, -delta); rerr != nil {
			obs.Annotate(observability.F("release_error", rerr.Error()))
		}
	}
	return c, nil
}

func updateFailStatus(err error) string {
	switch {
	case errors.Is(err, domcart.ErrItemNotFound):
		return "ITEM_NOT_FOUND"
	case errors.Is(err, domcart.ErrNotFound):
		return "CART_NOT_FOUND"
	case errors.Is(err, application.ErrValidation):
		return "OWNER_INVALID"
	case errors.Is(err, application.ErrConcurrencyConflict):
		return "SAVE_CONFLICT"
	default:
		return "SAVE_FAILED"
	}
}

// RemoveItem drops a line and releases its reservation.
func (s *Service) RemoveItem(ctx context.Context, owner domcart.Owner, itemID string) (_ *domcart.Cart, err error) {
	ctx, obs := s.ins.Begin(ctx, useCaseRemoveItem,
		attribute.String("cart.item_id", itemID),
	)
	defer func() { obs.Done(err) }()
	return s.remove(ctx, obs, owner, itemID)
}

// Clear empties the cart and releases every reservation it held.
func (s *Service) Clear(ctx context.Context, owner domcart.Owner) (err error) {
	ctx, obs := s.ins.Begin(ctx, useCaseClear)
	defer func() { obs.Done(err) }()

	// The emptied cart lands first; the lines captured by the winning save
	// are the ones whose reservations come back.
	var cleared []domcart.Item
	err = application.RetryConflicts(ctx, s.attempts, isConflict, func(ctx context.Context) error {
		c, ferr := s.find(ctx, owner)
		if ferr != nil {
			return ferr
		}
		items := make([]domcart.Item, len(c.Items))
		copy(items, c.Items)
		c.Clear()
		if serr := s.carts.Save(ctx, c); serr != nil {
			return serr
		}
		cleared = items
		return nil
	})
	if errors.Is(err, domcart.ErrNotFound) {
		return nil
	}
	if err != nil {
		obs.Fail(failStatus(err))
		return fmt.Errorf("cart: clear: %w", err)
	}

	for _, item := range cleared {
		if rerr := s.stock.Release(ctx, item.ProductID, item.Quantity); rerr != nil {
			obs.Annotate(observability.F("release_error", rerr.Error()))
		}
	}
	return nil
}

// Snapshot returns the cart's line items for checkout without touching stock:
// the reservations made at add time carry over to the order.
func (s *Service) Snapshot(ctx context.Context, owner domcart.Owner) ([]domcart.Item, error) {
	c, err := s.find(ctx, owner)
	if err != nil {
		return nil, err
	}
	items, err := c.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("cart: snapshot: %w", err)
	}
	return items, nil
}

// ClearAfterCheckout empties the cart while leaving the ledger alone; the
// order now owns the reservations.
func (s *Service) ClearAfterCheckout(ctx context.Context, owner domcart.Owner) error {
	err := application.RetryConflicts(ctx, s.attempts, isConflict, func(ctx context.Context) error {
		c, ferr := s.find(ctx, owner)
		if ferr != nil {
			return ferr
		}
		c.Clear()
		return s.carts.Save(ctx, c)
	})
	if err != nil {
		return fmt.Errorf("cart: clear after checkout: %w", err)
	}
	return nil
}

func (s *Service) remove(ctx context.Context, obs *application.Observation, owner domcart.Owner, itemID string) (*domcart.Cart, error) {
	var c *domcart.Cart
	var dropped domcart.Item
	err := application.RetryConflicts(ctx, s.attempts, isConflict, func(ctx context.Context) error {
		fresh, ferr := s.find(ctx, owner)
		if ferr != nil {
			return ferr
		}
		item, ierr := fresh.Item(itemID)
		if ierr != nil {
			return ierr
		}
		if rerr := fresh.Remove(itemID); rerr != nil {
			return rerr
		}
		if serr := s.carts.Save(ctx, fresh); serr != nil {
			return serr
		}
		c = fresh
		dropped = item
		return nil
	})
	if err != nil {
		obs.Fail(updateFailStatus(err))
		return nil, fmt.Errorf("cart: remove item: %w", err)
	}
	if rerr := s.stock.Release(ctx, dropped.ProductID, dropped.Quantity); rerr != nil {
		obs.Annotate(observability.F("release_error", rerr.Error()))
	}
	return c, nil
}

func (s *Service) getOrCreate(ctx context.Context, owner domcart.Owner) (*domcart.Cart, error) {
	if err := owner.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", application.ErrValidation, err)
	}
	c, err := s.carts.FindByOwner(ctx, owner)
	if errors.Is(err, domcart.ErrNotFound) {
		fresh, nerr := domcart.New(s.idGen.NewID(), owner)
		if nerr != nil {
			return nil, fmt.Errorf("cart: create: %w", nerr)
		}
		serr := s.carts.Save(ctx, fresh)
		if errors.Is(serr, domcart.ErrVersionConflict) {
			// lost the first-touch race; the winner's cart is the cart
			return s.carts.FindByOwner(ctx, owner)
		}
		if serr != nil {
			return nil, fmt.Errorf("cart: create: %w", serr)
		}
		return fresh, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cart: find: %w", err)
	}
	return c, nil
}

func (s *Service) find(ctx context.Context, owner domcart.Owner) (*domcart.Cart, error) {
	if err := owner.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", application.ErrValidation, err)
	}
	c, err := s.carts.FindByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("cart: find: %w", err)
	}
	return c, nil
}

func (s *Service) compensateRelease(ctx context.Context, obs *application.Observation, productID string, quantity int) {
	if rerr := s.stock.Release(ctx, productID, quantity); rerr != nil {
		obs.Annotate(observability.F("compensation_release_error", rerr.Error()))
	}
}

func isConflict(err error) bool {
	return errors.Is(err, domcart.ErrVersionConflict)
}

func failStatus(err error) string {
	switch {
	case errors.Is(err, application.ErrValidation):
		return "OWNER_INVALID"
	case errors.Is(err, domcart.ErrNotFound):
		return "CART_NOT_FOUND"
	default:
		return "REPOSITORY_FAILED"
	}
}
