package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	appcheckout "github.com/tienda-labs/checkout-core/internal/application/checkout"
	"github.com/tienda-labs/checkout-core/internal/config"
	dominv "github.com/tienda-labs/checkout-core/internal/domain/inventory"
	domorder "github.com/tienda-labs/checkout-core/internal/domain/order"
	dompay "github.com/tienda-labs/checkout-core/internal/domain/payment"
	"github.com/tienda-labs/checkout-core/internal/infrastructure/gateway"
	"github.com/tienda-labs/checkout-core/internal/infrastructure/id"
	"github.com/tienda-labs/checkout-core/internal/infrastructure/kafka"
	"github.com/tienda-labs/checkout-core/internal/infrastructure/memory"
	infraobs "github.com/tienda-labs/checkout-core/internal/infrastructure/observability"
	"github.com/tienda-labs/checkout-core/internal/infrastructure/observability/oteltrace"
	"github.com/tienda-labs/checkout-core/internal/infrastructure/observability/prometrics"
	"github.com/tienda-labs/checkout-core/internal/infrastructure/observability/zaplogger"
	"github.com/tienda-labs/checkout-core/internal/infrastructure/outbox"
	"github.com/tienda-labs/checkout-core/internal/infrastructure/postgres"
	"github.com/tienda-labs/checkout-core/internal/infrastructure/redisx"
	"github.com/tienda-labs/checkout-core/internal/observability"
	"github.com/tienda-labs/checkout-core/internal/pkg/logging"
	httppresentation "github.com/tienda-labs/checkout-core/internal/presentation/http"
)

func main() {
	cfg := config.Load()

	baseLogger := logging.MustNewLogger(cfg.ServiceName, cfg.Env)
	defer func() { _ = baseLogger.Sync() }()
	zap.ReplaceGlobals(baseLogger)

	tel := buildObservability(cfg, baseLogger)
	logger := tel.Logger().With(observability.F("component", "main"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, ledger, err := buildStores(ctx, cfg, tel)
	if err != nil {
		logger.Error("store_init_failed", observability.F("error", err.Error()))
		os.Exit(1)
	}

	attempts, err := buildAttemptStore(ctx, cfg)
	if err != nil {
		logger.Error("attempt_store_init_failed", observability.F("error", err.Error()))
		os.Exit(1)
	}

	bus := outbox.NewBus(tel.Logger())
	bus.Start(ctx)
	defer bus.Stop(context.Background())

	if len(cfg.KafkaBrokers) > 0 {
		forwarder := kafka.NewForwarder(cfg.KafkaBrokers, cfg.KafkaTopic, tel.Logger())
		defer func() { _ = forwarder.Close() }()
		bus.Subscribe(domorder.OrderSettledEventName, forwarder.Handle)
		bus.Subscribe(domorder.OrderOrphanedEventName, forwarder.Handle)
	}

	coordinator := appcheckout.NewCoordinator(
		store,
		buildGateway(cfg, tel),
		ledger,
		attempts,
		id.NewUUIDGenerator(),
		bus,
		tel,
	)

	sweeper := appcheckout.NewSweeper(store, attempts, cfg.SweepInterval, tel)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	handler := httppresentation.NewHandler(coordinator, ledger, tel)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		logger.Info("http_server_start",
			observability.F("addr", server.Addr),
		)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_server_error", observability.F("error", err.Error()))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http_server_shutdown_error", observability.F("error", err.Error()))
	} else {
		logger.Info("http_server_stopped")
	}
}

func buildObservability(cfg config.Config, base *zap.Logger) observability.Observability {
	registry := prometrics.New("", "")

	counters := map[observability.MetricKey]observability.Counter{
		observability.MUsecaseRequests: registry.Counter(
			string(observability.MUsecaseRequests),
			"Total number of use case invocations.",
			"use_case", "outcome",
		),
		observability.MHTTPRequests: registry.Counter(
			string(observability.MHTTPRequests),
			"Total number of HTTP requests.",
			"method", "route", "status",
		),
		observability.MExternalRequests: registry.Counter(
			string(observability.MExternalRequests),
			"Total number of calls to external collaborators.",
			"peer", "endpoint", "outcome",
		),
		observability.MAmbiguousHolds: registry.Counter(
			string(observability.MAmbiguousHolds),
			"Checkout attempts parked with an ambiguous settlement outcome.",
		),
		observability.MOrphanedPayments: registry.Counter(
			string(observability.MOrphanedPayments),
			"Settled payments without a durable order, awaiting reconciliation.",
		),
		observability.MHoldsReleased: registry.Counter(
			string(observability.MHoldsReleased),
			"Expired inventory holds returned to stock by the sweeper.",
		),
	}
	histograms := map[observability.MetricKey]observability.Histogram{
		observability.MUsecaseDuration: registry.Histogram(
			string(observability.MUsecaseDuration),
			"Duration of use case execution in seconds.",
			prometheus.DefBuckets,
			"use_case",
		),
		observability.MHTTPRequestDuration: registry.Histogram(
			string(observability.MHTTPRequestDuration),
			"Duration of HTTP request handling in seconds.",
			prometheus.DefBuckets,
			"method", "route",
		),
		observability.MExternalRequestDuration: registry.Histogram(
			string(observability.MExternalRequestDuration),
			"Duration of external calls in seconds.",
			prometheus.DefBuckets,
			"peer", "endpoint",
		),
	}

	return infraobs.New(
		oteltrace.New(cfg.ServiceName),
		zaplogger.New(base),
		counters,
		histograms,
	)
}

func buildStores(ctx context.Context, cfg config.Config, tel observability.Observability) (dominv.Store, domorder.Ledger, error) {
	if cfg.PostgresDSN == "" {
		store := memory.NewInventoryStore(cfg.HoldWindow)
		store.Seed(demoCatalog()...)
		return store, memory.NewOrderLedger(), nil
	}

	pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		return nil, nil, err
	}
	return postgres.NewInventoryStore(pool, cfg.HoldWindow, tel.Logger()),
		postgres.NewOrderLedger(pool, tel.Logger()),
		nil
}

func buildAttemptStore(ctx context.Context, cfg config.Config) (appcheckout.AttemptStore, error) {
	if cfg.RedisAddr == "" {
		return memory.NewAttemptStore(), nil
	}
	rdb, err := redisx.New(ctx, cfg.RedisAddr)
	if err != nil {
		return nil, err
	}
	return redisx.NewAttemptStore(rdb, cfg.AttemptTTL), nil
}

func buildGateway(cfg config.Config, tel observability.Observability) dompay.Gateway {
	if cfg.GatewayURL == "" {
		return gateway.NewSimulated()
	}
	return gateway.NewHTTPGateway(cfg.GatewayURL, cfg.GatewayTimeout, tel.Logger())
}

func demoCatalog() []dominv.Product {
	now := time.Now().UTC()
	return []dominv.Product{
		{ID: "sku-espresso", Name: "Espresso Beans 1kg", UnitPriceCents: 1850, Available: 40, UpdatedAt: now},
		{ID: "sku-grinder", Name: "Burr Grinder", UnitPriceCents: 12900, Available: 12, UpdatedAt: now},
		{ID: "sku-kettle", Name: "Gooseneck Kettle", UnitPriceCents: 6400, Available: 5, UpdatedAt: now},
	}
}
