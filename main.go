package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	appCart "github.com/smartshop/commerce/internal/application/cart"
	appInventory "github.com/smartshop/commerce/internal/application/inventory"
	appOrder "github.com/smartshop/commerce/internal/application/order"
	appPayment "github.com/smartshop/commerce/internal/application/payment"
	appPromotion "github.com/smartshop/commerce/internal/application/promotion"
	"github.com/smartshop/commerce/internal/infrastructure/alert"
	"github.com/smartshop/commerce/internal/infrastructure/cache/memorycache"
	"github.com/smartshop/commerce/internal/infrastructure/cache/rediscache"
	"github.com/smartshop/commerce/internal/infrastructure/config"
	"github.com/smartshop/commerce/internal/infrastructure/gateway"
	"github.com/smartshop/commerce/internal/infrastructure/idgen"
	"github.com/smartshop/commerce/internal/infrastructure/memory"
	"github.com/smartshop/commerce/internal/infrastructure/observability/oteltrace"
	"github.com/smartshop/commerce/internal/infrastructure/observability/prometrics"
	"github.com/smartshop/commerce/internal/infrastructure/observability/telemetry"
	"github.com/smartshop/commerce/internal/infrastructure/observability/zaplogger"
	"github.com/smartshop/commerce/internal/infrastructure/outbox"
	"github.com/smartshop/commerce/internal/observability"
	httppresentation "github.com/smartshop/commerce/internal/presentation/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	baseLogger := zaplogger.New(
		observability.F("service", "smartshop"),
		observability.F("env", cfg.Env),
	)

	registry := prometrics.New("smartshop", "")
	tel := telemetry.New(
		oteltrace.New("smartshop"),
		baseLogger,
		map[observability.MetricKey]observability.Counter{
			observability.MUsecaseRequests:   registry.Counter(string(observability.MUsecaseRequests), "Total number of use case invocations.", "use_case", "outcome"),
			observability.MHTTPRequests:      registry.Counter(string(observability.MHTTPRequests), "Total number of HTTP requests.", "method", "route", "status"),
			observability.MExternalRequests:  registry.Counter(string(observability.MExternalRequests), "Total number of external calls.", "peer", "endpoint", "outcome"),
			observability.MStockConflicts:    registry.Counter(string(observability.MStockConflicts), "Total number of version conflicts on stock updates.", "service"),
			observability.MCouponRedemptions: registry.Counter(string(observability.MCouponRedemptions), "Total number of coupon redemptions.", "code"),
			observability.MPayments:          registry.Counter(string(observability.MPayments), "Total number of payment attempts.", "gateway", "outcome"),
		},
		map[observability.MetricKey]observability.Histogram{
			observability.MUsecaseDuration:         registry.Histogram(string(observability.MUsecaseDuration), "Duration of use case execution in seconds.", prometheus.DefBuckets, "use_case"),
			observability.MHTTPRequestDuration:     registry.Histogram(string(observability.MHTTPRequestDuration), "Duration of HTTP requests in seconds.", prometheus.DefBuckets, "method", "route"),
			observability.MExternalRequestDuration: registry.Histogram(string(observability.MExternalRequestDuration), "Duration of external calls in seconds.", prometheus.DefBuckets, "peer", "endpoint"),
		},
	)

	productRepo := memory.NewProductRepository()
	inventoryRepo := memory.NewInventoryRepository()
	cartRepo := memory.NewCartRepository()
	orderRepo := memory.NewOrderRepository()
	txnRepo := memory.NewTransactionRepository()
	refundRepo := memory.NewRefundRepository()
	couponRepo := memory.NewCouponRepository()
	flashSaleRepo := memory.NewFlashSaleRepository()

	ids := idgen.New()

	// In-memory event bus (acts as outbox/event publisher for demo)
	bus := outbox.NewBus(baseLogger, tel)
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	var promoCache appPromotion.Cache = memorycache.New()
	if cfg.RedisAddr != "" {
		promoCache = rediscache.New(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
	}

	inventoryService := appInventory.NewService(inventoryRepo, bus, cfg.RetryAttempts, tel)
	promotionService := appPromotion.NewService(couponRepo, flashSaleRepo, cfg.RetryAttempts, tel,
		appPromotion.WithCache(promoCache, cfg.PromoCacheTTL),
	)
	cartService := appCart.NewService(cartRepo, productRepo, inventoryService, promotionService, ids, cfg.RetryAttempts, tel)
	orderService := appOrder.NewService(
		orderRepo, productRepo, inventoryService, promotionService, cartService,
		bus, ids, cfg.TaxRate, cfg.FlatShipping, tel,
	)
	paymentService := appPayment.NewService(
		txnRepo, refundRepo, orderRepo,
		gateway.NewRegistry(gateway.NewStripe(), gateway.NewPayPal()),
		inventoryService, promotionService, bus, ids, cfg.RetryAttempts, tel,
	)

	alertWorker := alert.New(bus, tel)
	alertWorker.Start()

	handler := httppresentation.NewHandler(
		cartService, orderService, paymentService, promotionService,
		baseLogger, tel,
	)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		baseLogger.Info("http_server_start",
			observability.F("addr", server.Addr),
		)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			baseLogger.Error("http_server_error",
				observability.F("error", err.Error()),
			)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		baseLogger.Error("http_server_shutdown_error",
			observability.F("error", err.Error()),
		)
	} else {
		baseLogger.Info("http_server_stopped")
	}
}
