// Package app собирает зависимости витрины и управляет жизненным циклом процесса.
package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/cart"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/notification"
	"github.com/vladislavdragonenkov/storefront/internal/service/orderquery"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/stock"
	"github.com/vladislavdragonenkov/storefront/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run поднимает HTTP API, служебный сервер метрик и фоновые воркеры; блокируется до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return err
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	pricingCfg, err := cfg.PricingConfig()
	if err != nil {
		return err
	}

	storefrontMetrics := metrics.NewStorefront()
	trackingCache, redisCache := initTrackingCache(ctx, cfg.Redis, logger)
	if redisCache != nil {
		defer func() { _ = redisCache.Close() }()
	}

	queries := orderquery.NewService(deps.orders, deps.timelineRepo, trackingCache, log.WithField("component", "orderquery"))
	dispatcher := notification.NewDispatcher(
		initMailer(cfg.Notification, logger),
		notification.WithTrackingBaseURL(cfg.Notification.TrackingBaseURL),
		notification.WithMetrics(storefrontMetrics),
		notification.WithLogger(log.WithField("component", "notification")),
	)

	checkoutSvc := checkout.NewService(
		deps.txm,
		stock.NewLedger(log.WithField("component", "stock-ledger")),
		pricingCfg,
		checkout.WithLogger(log.WithField("component", "checkout")),
		checkout.WithMetrics(storefrontMetrics),
		checkout.WithNotifier(dispatcher),
		checkout.WithTimeline(deps.timelineRepo),
		checkout.WithInvalidator(queries),
		checkout.WithRetry(cfg.RetryConfig()),
	)

	gatewayCfg, gateway := initGateway(cfg, logger)
	adapter := payment.NewAdapter(gatewayCfg, gateway, payment.Deps{
		Orders:      deps.orders,
		Outbox:      deps.outboxRepo,
		Notifier:    dispatcher,
		Timeline:    deps.timelineRepo,
		Invalidator: queries,
		Metrics:     storefrontMetrics,
		Logger:      log.WithField("component", "payment-adapter"),
	})

	gin.SetMode(gin.ReleaseMode)
	router := httpapi.NewRouter(httpapi.Deps{
		Cart:           cart.NewService(deps.carts, deps.catalog, log.WithField("component", "cart")),
		Checkout:       checkoutSvc,
		Payments:       adapter,
		Orders:         queries,
		Guard:          idempotency.NewGuard(deps.idempotencyRepo, cfg.Idempotency.TTL, log.WithField("component", "idempotency-guard")),
		Identity:       httpapi.NewIdentityParser(cfg.Auth.JWTSecret),
		Logger:         log.WithField("component", "http"),
		RequestTimeout: cfg.HTTP.RequestTimeout,
	})

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", healthcheck.NewPingChecker("storage", deps.storage))
	if redisCache != nil {
		healthHandler.RegisterChecker("redis", healthcheck.NewOptionalPingChecker("redis", redisCache))
	}

	producer := initKafkaProducer(cfg.Kafka, logger)
	defer closeKafka(producer, logger)

	var wg sync.WaitGroup
	workersCtx, stopWorkers := context.WithCancel(ctx)
	defer func() {
		stopWorkers()
		wg.Wait()
	}()

	outboxWorker := newOutboxWorker(cfg, deps, producer)
	cleanupWorker := idempotency.NewCleanupWorker(
		deps.idempotencyRepo,
		idempotency.WithLogger(log.WithField("component", "idempotency-cleanup")),
		idempotency.WithMetrics(metrics.NewIdempotencyCleanup()),
		idempotency.WithInterval(cfg.Idempotency.CleanupInterval),
		idempotency.WithBatchSize(cfg.Idempotency.CleanupBatchSize),
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		outboxWorker.Run(workersCtx)
	}()
	go func() {
		defer wg.Done()
		cleanupWorker.Run(workersCtx)
	}()

	metricsSrv := startMetricsServer(ctx, cfg.Metrics.Addr, logger, healthHandler)
	defer shutdownHTTP(metricsSrv, logger)

	apiSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("version", version.String()).Infof("HTTP API слушает %s", cfg.HTTP.Addr)
		errCh <- apiSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP API")
		shutdownHTTP(apiSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// newOutboxWorker публикует события в Kafka; без брокеров события только логируются.
func newOutboxWorker(cfg Config, deps *runtimeDependencies, producer *kafka.Producer) *outbox.Worker {
	workerLogger := log.WithField("component", "outbox-worker")
	options := []outbox.Option{
		outbox.WithLogger(workerLogger),
		outbox.WithMetrics(metrics.NewOutbox()),
		outbox.WithPollInterval(cfg.Outbox.PollInterval),
		outbox.WithBatchSize(cfg.Outbox.BatchSize),
		outbox.WithMaxAttempts(cfg.Outbox.MaxAttempts),
		outbox.WithRetryBaseDelay(cfg.Outbox.RetryBaseDelay),
	}

	if producer == nil {
		return outbox.NewWorker(deps.outboxRepo, logPublisher{logger: workerLogger}, options...)
	}
	options = append(options, outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, cfg.Kafka.DLQTopic)))
	return outbox.NewWorker(deps.outboxRepo, kafka.NewOutboxPublisher(producer, cfg.Kafka.Topic), options...)
}

// startMetricsServer запускает служебный HTTP-сервер: /metrics, /healthz, /readyz, /livez.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/readyz, %s/livez", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
