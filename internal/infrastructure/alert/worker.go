package alert

import (
	"context"

	dominv "github.com/smartshop/commerce/internal/domain/inventory"
	domorder "github.com/smartshop/commerce/internal/domain/order"
	domoutbox "github.com/smartshop/commerce/internal/domain/outbox"
	"github.com/smartshop/commerce/internal/observability"
	"github.com/smartshop/commerce/internal/observability/logctx"
	workerpresentation "github.com/smartshop/commerce/internal/presentation/worker"

	"go.opentelemetry.io/otel/trace"
)

// Worker listens for operational events on the bus: low-stock warnings from
// the ledger and paid orders from the payment flow. It logs them with event
// context; delivery channels (email, chat) are out of scope.
type Worker struct {
	subscriber domoutbox.Subscriber
	log        observability.Logger
	tel        observability.Telemetry
}

func New(subscriber domoutbox.Subscriber, tel observability.Telemetry) *Worker {
	if tel == nil {
		tel = observability.NopTelemetry()
	}
	return &Worker{
		subscriber: subscriber,
		log:        tel.Logger().With(observability.F("component", "alert_worker")),
		tel:        tel,
	}
}

func (w *Worker) Start() {
	w.subscriber.Subscribe(dominv.StockLowEvent{}.EventName(), w.handleStockLow)
	w.subscriber.Subscribe(domorder.OrderPaidEvent{}.EventName(), w.handleOrderPaid)
}

func (w *Worker) handleStockLow(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(dominv.StockLowEvent)
	if !ok {
		return nil
	}

	ctx = w.eventContext(ctx, e.EventName())
	logctx.FromOr(ctx, w.log).Warn("stock_low_alert",
		observability.F("product_id", evt.ProductID),
		observability.F("quantity", evt.Quantity),
		observability.F("min_level", evt.MinLevel),
	)
	return nil
}

func (w *Worker) handleOrderPaid(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(domorder.OrderPaidEvent)
	if !ok {
		return nil
	}

	ctx = w.eventContext(ctx, e.EventName())
	logctx.FromOr(ctx, w.log).Info("order_paid_alert",
		observability.F("order_id", evt.OrderID),
		observability.F("order_number", evt.OrderNumber),
		observability.F("amount", evt.Amount.String()),
	)
	return nil
}

func (w *Worker) eventContext(ctx context.Context, event string) context.Context {
	sc := trace.SpanContextFromContext(ctx)
	return workerpresentation.WithEventContext(ctx, w.log, w.tel, sc.TraceID(), sc.SpanID(), map[string]string{
		"event": event,
	})
}
