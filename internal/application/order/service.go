package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/smartshop/commerce/internal/application"
	domcart "github.com/smartshop/commerce/internal/domain/cart"
	domorder "github.com/smartshop/commerce/internal/domain/order"
	domoutbox "github.com/smartshop/commerce/internal/domain/outbox"
	domproduct "github.com/smartshop/commerce/internal/domain/product"
	"github.com/smartshop/commerce/internal/observability"
)

const (
	serviceName   = "order-service"
	useCaseCreate = "order.create"
	useCaseUpdate = "order.update_status"
	useCaseGet    = "order.get"
	useCaseList   = "order.list"
)

// Service drives the order lifecycle. Creation is compensating: every
// reservation, coupon redemption, and flash-sale commit made during an
// attempt is undone when a later step fails.
type Service struct {
	orders    domorder.Repository
	products  domproduct.Repository
	stock     Stock
	promos    Promotions
	cart      CartCheckout
	publisher domoutbox.Publisher
	ids       IDGenerator

	taxRate      decimal.Decimal
	flatShipping decimal.Decimal

	ins *application.Instrumenter
}

func NewService(
	orders domorder.Repository,
	products domproduct.Repository,
	stock Stock,
	promos Promotions,
	cartCheckout CartCheckout,
	publisher domoutbox.Publisher,
	ids IDGenerator,
	taxRate, flatShipping decimal.Decimal,
	tel observability.Telemetry,
) *Service {
	return &Service{
		orders:       orders,
		products:     products,
		stock:        stock,
		promos:       promos,
		cart:         cartCheckout,
		publisher:    publisher,
		ids:          ids,
		taxRate:      taxRate,
		flatShipping: flatShipping,
		ins:          application.NewInstrumenter(tel, serviceName),
	}
}

type ItemInput struct {
	ProductID string
	Quantity  int
}

type CreateOrderInput struct {
	UserID     string
	FromCart   bool
	Items      []ItemInput
	CouponCode string
	Shipping   domorder.Address
	Billing    domorder.Address
	Notes      string
}

// attempt tracks the side effects of one creation flow for compensation.
type attempt struct {
	reservations map[string]int
	saleCommits  map[string]int
	couponCode   string
	couponUser   string
}

// CreateOrder builds and persists an order either from the caller's cart or
// from an explicit item list. Cart lines arrive with their stock already
// held; direct items are reserved here.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (_ *domorder.Order, err error) {
	ctx, obs := s.ins.Begin(ctx, useCaseCreate,
		attribute.Bool("order.from_cart", in.FromCart),
	)
	defer func() { obs.Done(err) }()

	if in.UserID == "" {
		obs.Fail("USER_ID_REQUIRED")
		return nil, application.Validationf("user id is required")
	}

	att := &attempt{reservations: map[string]int{}, saleCommits: map[string]int{}}
	defer func() {
		if err != nil {
			s.compensate(ctx, obs, att)
		}
	}()

	var lines []domorder.Item
	owner := domcart.Owner{UserID: in.UserID}
	if in.FromCart {
		lines, err = s.linesFromCart(ctx, owner)
	} else {
		lines, err = s.linesFromItems(ctx, in.Items, att)
	}
	if err != nil {
		obs.Fail(createFailStatus(err))
		return nil, err
	}

	for idx := range lines {
		committed, serr := s.promos.CommitFlashSale(ctx, lines[idx].ProductID, lines[idx].Quantity)
		if serr != nil {
			obs.Fail("FLASH_SALE_SOLD_OUT")
			err = fmt.Errorf("order: create: %w", serr)
			return nil, err
		}
		if committed {
			att.saleCommits[lines[idx].ProductID] += lines[idx].Quantity
			lines[idx].FlashSaleQuantity = lines[idx].Quantity
		}
	}

	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.TotalPrice())
	}

	discount := decimal.Zero
	if in.CouponCode != "" {
		discount, err = s.promos.ValidateCoupon(ctx, in.CouponCode, in.UserID, subtotal)
		if err != nil {
			obs.Fail("COUPON_INVALID")
			return nil, fmt.Errorf("order: create: %w", err)
		}
		if err = s.promos.RedeemCoupon(ctx, in.CouponCode, in.UserID); err != nil {
			obs.Fail("COUPON_REDEEM_FAILED")
			return nil, fmt.Errorf("order: create: %w", err)
		}
		att.couponCode = in.CouponCode
		att.couponUser = in.UserID
	}

	shipping, err := s.shippingCost(ctx, lines)
	if err != nil {
		obs.Fail("SHIPPING_LOOKUP_FAILED")
		return nil, fmt.Errorf("order: create: %w", err)
	}

	entity, err := domorder.New(
		s.ids.NewID(), s.ids.NewOrderNumber(), in.UserID,
		lines, in.Shipping, in.Billing,
		shipping, s.taxRate, discount, in.CouponCode, in.Notes,
	)
	if err != nil {
		obs.Fail("DOMAIN_CONSTRUCTION_FAILED")
		return nil, fmt.Errorf("order: create: %w", err)
	}
	if err = s.orders.Insert(ctx, entity); err != nil {
		obs.Fail("REPO_INSERT_FAILED")
		return nil, fmt.Errorf("order: create: %w", err)
	}

	if in.FromCart {
		if cerr := s.cart.ClearAfterCheckout(ctx, owner); cerr != nil {
			obs.Annotate(observability.F("cart_clear_error", cerr.Error()))
		}
	}

	if pubErr := s.ins.Publish(ctx, s.publisher, domorder.NewOrderCreatedEvent(entity)); pubErr != nil {
		obs.Annotate(observability.F("event_publish_error", pubErr.Error()))
	}

	obs.Span().SetAttributes(attribute.String("order.number", entity.OrderNumber))
	obs.Span().AddEvent("order.created",
		trace.WithAttributes(attribute.String("order.id", entity.ID)),
	)
	return entity, nil
}

type UpdateStatusInput struct {
	UserID        string
	OrderID       string
	Status        *domorder.Status
	PaymentStatus *domorder.PaymentStatus
	Notes         *string
}

// UpdateStatus applies a table-checked status transition and note edits.
// Payment status is owned by the payment ledger and cannot be set here.
// Cancellation returns the order's stock and flash-sale allocations.
func (s *Service) UpdateStatus(ctx context.Context, in UpdateStatusInput) (_ *domorder.Order, err error) {
	ctx, obs := s.ins.Begin(ctx, useCaseUpdate,
		attribute.String("order.id", in.OrderID),
	)
	defer func() { obs.Done(err) }()

	entity, err := s.authorized(ctx, in.UserID, in.OrderID)
	if err != nil {
		obs.Fail("ORDER_NOT_FOUND")
		return nil, err
	}

	if in.PaymentStatus != nil && *in.PaymentStatus != entity.PaymentStatus {
		obs.Fail("PAYMENT_STATUS_IMMUTABLE")
		return nil, application.Validationf("payment status is managed by the payment ledger")
	}

	if in.Status != nil && *in.Status != entity.Status {
		if !domorder.ValidStatus(*in.Status) {
			obs.Fail("STATUS_UNKNOWN")
			return nil, application.Validationf("unknown status %q", string(*in.Status))
		}
		if err = entity.TransitionTo(*in.Status); err != nil {
			obs.Fail("INVALID_TRANSITION")
			return nil, fmt.Errorf("order: update status: %w", err)
		}
	}
	if in.Notes != nil {
		entity.Notes = *in.Notes
	}

	if err = s.orders.Update(ctx, entity); err != nil {
		obs.Fail("REPO_UPDATE_FAILED")
		return nil, fmt.Errorf("order: update status: %w", err)
	}

	if in.Status != nil && *in.Status == domorder.StatusCancelled {
		s.releaseAfterCancel(ctx, obs, entity)
		if pubErr := s.ins.Publish(ctx, s.publisher, domorder.NewOrderCancelledEvent(entity)); pubErr != nil {
			obs.Annotate(observability.F("event_publish_error", pubErr.Error()))
		}
	}
	return entity, nil
}

// Get returns the order when it belongs to the user; anything else reads as
// not found so order numbers cannot be probed.
func (s *Service) Get(ctx context.Context, userID, orderID string) (_ *domorder.Order, err error) {
	ctx, obs := s.ins.Begin(ctx, useCaseGet,
		attribute.String("order.id", orderID),
	)
	defer func() { obs.Done(err) }()

	entity, err := s.authorized(ctx, userID, orderID)
	if err != nil {
		obs.Fail("ORDER_NOT_FOUND")
		return nil, err
	}
	return entity, nil
}

func (s *Service) List(ctx context.Context, userID string) (_ []*domorder.Order, err error) {
	ctx, obs := s.ins.Begin(ctx, useCaseList)
	defer func() { obs.Done(err) }()

	if userID == "" {
		obs.Fail("USER_ID_REQUIRED")
		return nil, application.Validationf("user id is required")
	}
	list, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		obs.Fail("REPO_LIST_FAILED")
		return nil, fmt.Errorf("order: list: %w", err)
	}
	return list, nil
}

func (s *Service) authorized(ctx context.Context, userID, orderID string) (*domorder.Order, error) {
	entity, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("order: get %s: %w", orderID, err)
	}
	if userID == "" || entity.UserID != userID {
		return nil, fmt.Errorf("order: get %s: %w", orderID, domorder.ErrNotFound)
	}
	return entity, nil
}

func (s *Service) linesFromCart(ctx context.Context, owner domcart.Owner) ([]domorder.Item, error) {
	items, err := s.cart.Snapshot(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("order: create: %w", err)
	}
	lines := make([]domorder.Item, 0, len(items))
	for _, item := range items {
		lines = append(lines, domorder.Item{
			ID:        s.ids.NewID(),
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return lines, nil
}

// linesFromItems prices and reserves explicit items, recording reservations
// for compensation.
func (s *Service) linesFromItems(ctx context.Context, items []ItemInput, att *attempt) ([]domorder.Item, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: %w", application.ErrValidation, domorder.ErrNoItems)
	}
	lines := make([]domorder.Item, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: %w", application.ErrValidation, domorder.ErrInvalidQuantity)
		}
		prod, err := s.products.Get(ctx, item.ProductID)
		if err != nil {
			return nil, fmt.Errorf("order: create: %w", err)
		}
		if !prod.IsActive {
			return nil, fmt.Errorf("order: create: %w", domproduct.ErrInactive)
		}
		price, _, err := s.promos.EffectivePrice(ctx, item.ProductID, prod.FinalPrice())
		if err != nil {
			return nil, fmt.Errorf("order: create: %w", err)
		}
		if err := s.stock.Reserve(ctx, item.ProductID, item.Quantity); err != nil {
			return nil, fmt.Errorf("order: create: %w", err)
		}
		att.reservations[item.ProductID] += item.Quantity
		lines = append(lines, domorder.Item{
			ID:        s.ids.NewID(),
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: price,
		})
	}
	return lines, nil
}

// shippingCost is the configured flat rate plus each distinct product's own
// shipping cost.
func (s *Service) shippingCost(ctx context.Context, lines []domorder.Item) (decimal.Decimal, error) {
	total := s.flatShipping
	seen := map[string]bool{}
	for _, line := range lines {
		if seen[line.ProductID] {
			continue
		}
		seen[line.ProductID] = true
		prod, err := s.products.Get(ctx, line.ProductID)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(prod.ShippingCost)
	}
	return total, nil
}

func (s *Service) compensate(ctx context.Context, obs *application.Observation, att *attempt) {
	for productID, qty := range att.reservations {
		if rerr := s.stock.Release(ctx, productID, qty); rerr != nil {
			obs.Annotate(observability.F("compensation_release_error", rerr.Error()))
		}
	}
	for productID, qty := range att.saleCommits {
		if rerr := s.promos.ReleaseFlashSale(ctx, productID, qty); rerr != nil {
			obs.Annotate(observability.F("compensation_sale_error", rerr.Error()))
		}
	}
	if att.couponCode != "" {
		if rerr := s.promos.ReleaseCoupon(ctx, att.couponCode, att.couponUser); rerr != nil {
			obs.Annotate(observability.F("compensation_coupon_error", rerr.Error()))
		}
	}
}

// releaseAfterCancel returns stock held by a cancelled order, plus exactly
// the flash-sale units the order committed at creation. Lines that priced
// outside a sale window leave the sale counter alone.
func (s *Service) releaseAfterCancel(ctx context.Context, obs *application.Observation, entity *domorder.Order) {
	for _, line := range entity.Items {
		if rerr := s.stock.Release(ctx, line.ProductID, line.Quantity); rerr != nil {
			obs.Annotate(observability.F("cancel_release_error", rerr.Error()))
		}
		if line.FlashSaleQuantity > 0 {
			if rerr := s.promos.ReleaseFlashSale(ctx, line.ProductID, line.FlashSaleQuantity); rerr != nil {
				obs.Annotate(observability.F("cancel_sale_release_error", rerr.Error()))
			}
		}
	}
}

func createFailStatus(err error) string {
	switch {
	case errors.Is(err, domcart.ErrEmpty):
		return "CART_EMPTY"
	case errors.Is(err, domcart.ErrNotFound):
		return "CART_NOT_FOUND"
	case errors.Is(err, application.ErrValidation):
		return "ITEMS_INVALID"
	case errors.Is(err, domproduct.ErrNotFound):
		return "PRODUCT_NOT_FOUND"
	case errors.Is(err, domproduct.ErrInactive):
		return "PRODUCT_INACTIVE"
	default:
		return "CREATE_FAILED"
	}
}
