package httppresentation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/smartshop/commerce/internal/application"
	appCart "github.com/smartshop/commerce/internal/application/cart"
	appOrder "github.com/smartshop/commerce/internal/application/order"
	appPayment "github.com/smartshop/commerce/internal/application/payment"
	appPromotion "github.com/smartshop/commerce/internal/application/promotion"
	domainCart "github.com/smartshop/commerce/internal/domain/cart"
	domainInventory "github.com/smartshop/commerce/internal/domain/inventory"
	domainOrder "github.com/smartshop/commerce/internal/domain/order"
	domainPayment "github.com/smartshop/commerce/internal/domain/payment"
	domainProduct "github.com/smartshop/commerce/internal/domain/product"
	domainPromotion "github.com/smartshop/commerce/internal/domain/promotion"
	"github.com/smartshop/commerce/internal/observability"
	"github.com/smartshop/commerce/internal/observability/logctx"
)

type Handler struct {
	cartService      *appCart.Service
	orderService     *appOrder.Service
	paymentService   *appPayment.Service
	promotionService *appPromotion.Service
	log              observability.Logger
	tel              observability.Telemetry
}

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
	headerUserID         = "X-User-ID"
	headerSessionKey     = "X-Session-Key"
)

func NewHandler(
	cartSvc *appCart.Service,
	orderSvc *appOrder.Service,
	paymentSvc *appPayment.Service,
	promotionSvc *appPromotion.Service,
	logger observability.Logger,
	tel observability.Telemetry,
) *Handler {
	baseLogger := logger
	if baseLogger == nil {
		baseLogger = observability.NopLogger()
	}
	return &Handler{
		cartService:      cartSvc,
		orderService:     orderSvc,
		paymentService:   paymentSvc,
		promotionService: promotionSvc,
		log:              baseLogger.With(observability.F("component", componentHTTPHandler)),
		tel:              tel,
	}
}

func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	// Wire each route with middlewares:
	// Trace → ObservabilityMiddleware (request logger) → HTTP metrics → Access log → Handler
	h.muxHandle(mux, http.MethodGet, "/cart", h.handleGetCart)
	h.muxHandle(mux, http.MethodPost, "/cart/add", h.handleAddToCart)
	h.muxHandle(mux, http.MethodPut, "/cart/item/{id}", h.handleUpdateCartItem)
	h.muxHandle(mux, http.MethodDelete, "/cart/item/{id}/remove", h.handleRemoveCartItem)
	h.muxHandle(mux, http.MethodDelete, "/cart/clear", h.handleClearCart)

	h.muxHandle(mux, http.MethodPost, "/orders/create", h.handleCreateOrder)
	h.muxHandle(mux, http.MethodGet, "/orders", h.handleListOrders)
	h.muxHandle(mux, http.MethodGet, "/orders/{id}", h.handleGetOrder)
	h.muxHandle(mux, http.MethodPatch, "/orders/{id}/update", h.handleUpdateOrder)

	h.muxHandle(mux, http.MethodPost, "/payments/process", h.handleProcessPayment)
	h.muxHandle(mux, http.MethodPost, "/payments/refund", h.handleRefund)
	h.muxHandle(mux, http.MethodGet, "/payments/transactions", h.handleListTransactions)

	h.muxHandle(mux, http.MethodPost, "/promotions/apply-coupon", h.handleApplyCoupon)
	h.muxHandle(mux, http.MethodGet, "/promotions/active", h.handleActivePromotions)

	h.muxHandle(mux, http.MethodGet, "/health", h.handleHealth)

	return mux
}

func (h *Handler) muxHandle(mux *http.ServeMux, method, pattern string, handler http.HandlerFunc) {
	route := method + " " + pattern
	mux.HandleFunc(route, func(w http.ResponseWriter, r *http.Request) {
		// Store stable route template for low-cardinality labels
		ctx := contextWithRoute(r.Context(), route)
		r = r.WithContext(ctx)

		// Wrap: Trace → Request Logger → Metrics → Access Log → Handler
		wrapped := h.withTrace(
			ObservabilityMiddleware(
				logctx.FromOr(ctx, h.log),
				func(r *http.Request) string {
					return r.Header.Get(headerRequestID)
				},
				func(r *http.Request) string {
					return r.Header.Get(headerUserID)
				},
				h.tel,
			)(
				h.withAccessLog(
					h.withHTTPMetrics(http.HandlerFunc(handler)),
				),
			),
		)
		wrapped.ServeHTTP(w, r)
	})
}

// --- cart ---

type cartItemResponse struct {
	ID         string          `json:"id"`
	ProductID  string          `json:"product_id"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

type cartResponse struct {
	ID         string             `json:"id"`
	Items      []cartItemResponse `json:"items"`
	TotalCost  decimal.Decimal    `json:"total_cost"`
	TotalItems int                `json:"total_items"`
}

func toCartResponse(c *domainCart.Cart) cartResponse {
	items := make([]cartItemResponse, 0, len(c.Items))
	for _, item := range c.Items {
		items = append(items, cartItemResponse{
			ID:         item.ID,
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			TotalPrice: item.TotalPrice(),
		})
	}
	return cartResponse{
		ID:         c.ID,
		Items:      items,
		TotalCost:  c.TotalCost(),
		TotalItems: c.TotalItems(),
	}
}

func (h *Handler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	c, err := h.cartService.Get(r.Context(), owner)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

type addToCartRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) handleAddToCart(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req addToCartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	c, err := h.cartService.AddItem(r.Context(), owner, req.ProductID, req.Quantity)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCartResponse(c))
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) handleUpdateCartItem(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req updateCartItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	c, err := h.cartService.UpdateItem(r.Context(), owner, r.PathValue("id"), req.Quantity)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

func (h *Handler) handleRemoveCartItem(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	c, err := h.cartService.RemoveItem(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

func (h *Handler) handleClearCart(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.cartService.Clear(r.Context(), owner); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// --- orders ---

type addressPayload struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	Country    string `json:"country"`
	PostalCode string `json:"postal_code"`
}

func (a addressPayload) toDomain() domainOrder.Address {
	return domainOrder.Address{
		Street:     a.Street,
		City:       a.City,
		State:      a.State,
		Country:    a.Country,
		PostalCode: a.PostalCode,
	}
}

func toAddressPayload(a domainOrder.Address) addressPayload {
	return addressPayload{
		Street:     a.Street,
		City:       a.City,
		State:      a.State,
		Country:    a.Country,
		PostalCode: a.PostalCode,
	}
}

type orderItemPayload struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type createOrderRequest struct {
	FromCart        bool               `json:"from_cart"`
	Items           []orderItemPayload `json:"items"`
	CouponCode      string             `json:"coupon_code"`
	ShippingAddress addressPayload     `json:"shipping_address"`
	BillingAddress  addressPayload     `json:"billing_address"`
	Notes           string             `json:"notes"`
}

type orderItemResponse struct {
	ID         string          `json:"id"`
	ProductID  string          `json:"product_id"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

type orderResponse struct {
	ID              string              `json:"id"`
	OrderNumber     string              `json:"order_number"`
	Status          string              `json:"status"`
	PaymentStatus   string              `json:"payment_status"`
	Items           []orderItemResponse `json:"items"`
	Subtotal        decimal.Decimal     `json:"subtotal"`
	TaxAmount       decimal.Decimal     `json:"tax_amount"`
	ShippingCost    decimal.Decimal     `json:"shipping_cost"`
	DiscountAmount  decimal.Decimal     `json:"discount_amount"`
	TotalAmount     decimal.Decimal     `json:"total_amount"`
	CouponCode      string              `json:"coupon_code,omitempty"`
	ShippingAddress addressPayload      `json:"shipping_address"`
	BillingAddress  addressPayload      `json:"billing_address"`
	Notes           string              `json:"notes,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
}

func toOrderResponse(o *domainOrder.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, orderItemResponse{
			ID:         item.ID,
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			TotalPrice: item.TotalPrice(),
		})
	}
	return orderResponse{
		ID:              o.ID,
		OrderNumber:     o.OrderNumber,
		Status:          string(o.Status),
		PaymentStatus:   string(o.PaymentStatus),
		Items:           items,
		Subtotal:        o.Subtotal,
		TaxAmount:       o.TaxAmount,
		ShippingCost:    o.ShippingCost,
		DiscountAmount:  o.DiscountAmount,
		TotalAmount:     o.TotalAmount,
		CouponCode:      o.CouponCode,
		ShippingAddress: toAddressPayload(o.ShippingTo),
		BillingAddress:  toAddressPayload(o.BillingTo),
		Notes:           o.Notes,
		CreatedAt:       o.CreatedAt,
	}
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, err := userFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	items := make([]appOrder.ItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, appOrder.ItemInput{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	entity, err := h.orderService.CreateOrder(r.Context(), appOrder.CreateOrderInput{
		UserID:     userID,
		FromCart:   req.FromCart,
		Items:      items,
		CouponCode: req.CouponCode,
		Shipping:   req.ShippingAddress.toDomain(),
		Billing:    req.BillingAddress.toDomain(),
		Notes:      req.Notes,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(entity))
}

func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	userID, err := userFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	list, err := h.orderService.List(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	responses := make([]orderResponse, 0, len(list))
	for _, o := range list {
		responses = append(responses, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": responses})
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	userID, err := userFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	entity, err := h.orderService.Get(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(entity))
}

type updateOrderRequest struct {
	Status        *string `json:"status"`
	PaymentStatus *string `json:"payment_status"`
	Notes         *string `json:"notes"`
}

func (h *Handler) handleUpdateOrder(w http.ResponseWriter, r *http.Request) {
	userID, err := userFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req updateOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	input := appOrder.UpdateStatusInput{
		UserID:  userID,
		OrderID: r.PathValue("id"),
		Notes:   req.Notes,
	}
	if req.Status != nil {
		status := domainOrder.Status(*req.Status)
		input.Status = &status
	}
	if req.PaymentStatus != nil {
		paymentStatus := domainOrder.PaymentStatus(*req.PaymentStatus)
		input.PaymentStatus = &paymentStatus
	}

	entity, err := h.orderService.UpdateStatus(r.Context(), input)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(entity))
}

// --- payments ---

type processPaymentRequest struct {
	OrderID     string            `json:"order_id"`
	GatewayName string            `json:"gateway_name"`
	Amount      decimal.Decimal   `json:"amount"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata"`
}

type transactionResponse struct {
	ID             string          `json:"id"`
	OrderID        string          `json:"order_id"`
	Gateway        string          `json:"gateway"`
	Status         string          `json:"status"`
	Reference      string          `json:"reference"`
	Amount         decimal.Decimal `json:"amount"`
	RefundedAmount decimal.Decimal `json:"refunded_amount"`
	Description    string          `json:"description,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

func toTransactionResponse(t *domainPayment.Transaction) transactionResponse {
	return transactionResponse{
		ID:             t.ID,
		OrderID:        t.OrderID,
		Gateway:        t.Gateway,
		Status:         string(t.Status),
		Reference:      t.Reference,
		Amount:         t.Amount,
		RefundedAmount: t.RefundedAmount,
		Description:    t.Description,
		CreatedAt:      t.CreatedAt,
		CompletedAt:    t.CompletedAt,
	}
}

type processPaymentResponse struct {
	Success     bool                 `json:"success"`
	Transaction *transactionResponse `json:"transaction,omitempty"`
	Error       string               `json:"error,omitempty"`
}

func (h *Handler) handleProcessPayment(w http.ResponseWriter, r *http.Request) {
	userID, err := userFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req processPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	txn, err := h.paymentService.ProcessPayment(r.Context(), appPayment.ProcessInput{
		UserID:      userID,
		OrderID:     req.OrderID,
		GatewayName: req.GatewayName,
		Amount:      req.Amount,
		Description: req.Description,
		Metadata:    req.Metadata,
	})
	if err != nil {
		if errors.Is(err, appPayment.ErrChargeFailed) {
			resp := processPaymentResponse{Success: false, Error: err.Error()}
			if txn != nil {
				t := toTransactionResponse(txn)
				resp.Transaction = &t
			}
			writeJSON(w, http.StatusBadGateway, resp)
			return
		}
		writeDomainError(w, err)
		return
	}
	t := toTransactionResponse(txn)
	writeJSON(w, http.StatusOK, processPaymentResponse{Success: true, Transaction: &t})
}

type refundRequest struct {
	TransactionID string          `json:"transaction_id"`
	Reason        string          `json:"reason"`
	Amount        decimal.Decimal `json:"amount"`
}

type refundResponse struct {
	ID              string          `json:"id"`
	TransactionID   string          `json:"transaction_id"`
	OrderID         string          `json:"order_id"`
	Status          string          `json:"status"`
	RequestedAmount decimal.Decimal `json:"requested_amount"`
	RefundedAmount  decimal.Decimal `json:"refunded_amount"`
	GatewayRefundID string          `json:"gateway_refund_id,omitempty"`
	RequestedAt     time.Time       `json:"requested_at"`
}

func (h *Handler) handleRefund(w http.ResponseWriter, r *http.Request) {
	userID, err := userFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req refundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	refund, err := h.paymentService.RequestRefund(r.Context(), appPayment.RefundInput{
		UserID:        userID,
		TransactionID: req.TransactionID,
		Reason:        req.Reason,
		Amount:        req.Amount,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refundResponse{
		ID:              refund.ID,
		TransactionID:   refund.TransactionID,
		OrderID:         refund.OrderID,
		Status:          string(refund.Status),
		RequestedAmount: refund.RequestedAmount,
		RefundedAmount:  refund.RefundedAmount,
		GatewayRefundID: refund.GatewayRefundID,
		RequestedAt:     refund.RequestedAt,
	})
}

func (h *Handler) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, err := userFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	list, err := h.paymentService.ListTransactions(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	responses := make([]transactionResponse, 0, len(list))
	for _, txn := range list {
		responses = append(responses, toTransactionResponse(txn))
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": responses})
}

// --- promotions ---

type applyCouponRequest struct {
	CouponCode string          `json:"coupon_code"`
	OrderTotal decimal.Decimal `json:"order_total"`
}

type applyCouponResponse struct {
	Valid          bool            `json:"valid"`
	DiscountAmount decimal.Decimal `json:"discount_amount,omitempty"`
	NewTotal       decimal.Decimal `json:"new_total,omitempty"`
	Error          string          `json:"error,omitempty"`
}

func (h *Handler) handleApplyCoupon(w http.ResponseWriter, r *http.Request) {
	var req applyCouponRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	discount, err := h.promotionService.ValidateCoupon(r.Context(), req.CouponCode, r.Header.Get(headerUserID), req.OrderTotal)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, applyCouponResponse{Valid: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, applyCouponResponse{
		Valid:          true,
		DiscountAmount: discount,
		NewTotal:       req.OrderTotal.Sub(discount),
	})
}

func (h *Handler) handleActivePromotions(w http.ResponseWriter, r *http.Request) {
	result, err := h.promotionService.ListActive(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// --- middleware ---

// withAccessLog writes a single access log after the handler completes.
// It relies on the request-scoped logger already injected by ObservabilityMiddleware.
func (h *Handler) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(lrw, r)

		logctx.FromOr(r.Context(), h.log).Info("http_access",
			observability.F("method", r.Method),
			observability.F("route", routeFromContext(r.Context())),
			observability.F("path", r.URL.Path),
			observability.F("status", lrw.status),
			observability.F("latency_ms", time.Since(start).Milliseconds()),
		)
	})
}

// withTrace creates a server span for the request using OTel and W3C propagation.
func (h *Handler) withTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tracer := otel.Tracer("smartshop.http")
		parentCtx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		route := routeFromContext(parentCtx)
		spanName := route
		if spanName == "unknown" {
			spanName = r.Method + " " + r.URL.Path
		}
		template := route
		if idx := strings.Index(template, " "); idx >= 0 {
			template = template[idx+1:]
		}
		if template == "unknown" || template == "" {
			template = r.URL.Path
		}

		ctxWithSpan, span := tracer.Start(parentCtx,
			spanName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", template),
				attribute.String("http.target", r.URL.Path),
				attribute.String("http.user_agent", r.UserAgent()),
			),
		)
		defer span.End()

		next.ServeHTTP(w, r.WithContext(ctxWithSpan))
	})
}

// withHTTPMetrics records RED-ish HTTP metrics using injected vectors.
// DO NOT new metrics inside the middleware.
func (h *Handler) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(lrw, r)

		if h.tel != nil {
			h.tel.Counter(observability.MHTTPRequests).Add(1,
				observability.L("method", r.Method),
				observability.L("route", routeFromContext(r.Context())),
				observability.L("status", strconv.Itoa(lrw.status)),
			)
			h.tel.Histogram(observability.MHTTPRequestDuration).Observe(time.Since(start).Seconds(),
				observability.L("method", r.Method),
				observability.L("route", routeFromContext(r.Context())),
			)
		}
	})
}

// --- helpers ---

func ownerFromRequest(r *http.Request) (domainCart.Owner, error) {
	owner := domainCart.Owner{
		UserID:     r.Header.Get(headerUserID),
		SessionKey: r.Header.Get(headerSessionKey),
	}
	if err := owner.Validate(); err != nil {
		return domainCart.Owner{}, err
	}
	return owner, nil
}

func userFromRequest(r *http.Request) (string, error) {
	userID := r.Header.Get(headerUserID)
	if userID == "" {
		return "", errors.New("X-User-ID header is required")
	}
	return userID, nil
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domainOrder.ErrNotFound),
		errors.Is(err, domainProduct.ErrNotFound),
		errors.Is(err, domainCart.ErrNotFound),
		errors.Is(err, domainCart.ErrItemNotFound),
		errors.Is(err, domainInventory.ErrNotFound),
		errors.Is(err, domainPayment.ErrTransactionNotFound),
		errors.Is(err, domainPayment.ErrRefundNotFound),
		errors.Is(err, domainPayment.ErrTransactionNotRefundable):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, application.ErrConcurrencyConflict):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, application.ErrValidation),
		errors.Is(err, domainCart.ErrInvalidQuantity),
		errors.Is(err, domainCart.ErrInvalidOwner),
		errors.Is(err, domainCart.ErrEmpty),
		errors.Is(err, domainProduct.ErrInactive),
		errors.Is(err, domainInventory.ErrInvalidQuantity),
		errors.Is(err, domainInventory.ErrInsufficientStock),
		errors.Is(err, domainOrder.ErrInvalidTransition),
		errors.Is(err, domainOrder.ErrNoItems),
		errors.Is(err, domainOrder.ErrInvalidQuantity),
		errors.Is(err, domainOrder.ErrInvalidAmount),
		errors.Is(err, domainPayment.ErrAmountMismatch),
		errors.Is(err, domainPayment.ErrAmountExceedsTransaction),
		errors.Is(err, domainPayment.ErrGatewayUnsupported),
		errors.Is(err, appPayment.ErrOrderAlreadyPaid),
		errors.Is(err, domainPromotion.ErrCouponNotFound),
		errors.Is(err, domainPromotion.ErrCouponInactive),
		errors.Is(err, domainPromotion.ErrCouponNotStarted),
		errors.Is(err, domainPromotion.ErrCouponExpired),
		errors.Is(err, domainPromotion.ErrCouponExhausted),
		errors.Is(err, domainPromotion.ErrCouponMinimum),
		errors.Is(err, domainPromotion.ErrCouponUserLimit),
		errors.Is(err, domainPromotion.ErrFlashSaleSoldOut):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

type routeKey struct{}

// contextWithRoute stores the stable route template in the context so downstream
// metrics/logging can rely on low-cardinality values.
func contextWithRoute(ctx context.Context, route string) context.Context {
	if route == "" {
		return ctx
	}
	return context.WithValue(ctx, routeKey{}, route)
}

func routeFromContext(ctx context.Context) string {
	if ctx == nil {
		return "unknown"
	}
	if route, ok := ctx.Value(routeKey{}).(string); ok && route != "" {
		return route
	}
	return "unknown"
}
