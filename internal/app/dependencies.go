package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/service/notification"
	"github.com/vladislavdragonenkov/storefront/internal/service/orderquery"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

// runtimeDependencies — хранилище, выбранное по storage.driver.
type runtimeDependencies struct {
	txm             domain.TxManager
	storage         health.Pinger
	orders          domain.OrderRepository
	catalog         domain.ProductRepository
	carts           domain.CartRepository
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository
	closeFn         func() error
}

func (d *runtimeDependencies) Close() error {
	if d == nil || d.closeFn == nil {
		return nil
	}
	return d.closeFn()
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.Storage.Driver {
	case "", StorageDriverMemory:
		outboxRepo := memory.NewOutboxRepository()
		store := memory.NewStore(outboxRepo)
		logger.Info("используется in-memory хранилище")
		return &runtimeDependencies{
			txm:             store,
			storage:         store,
			orders:          memory.NewOrderRepository(store),
			catalog:         memory.NewProductRepository(store),
			carts:           memory.NewCartRepository(store),
			outboxRepo:      outboxRepo,
			timelineRepo:    memory.NewTimelineRepository(),
			idempotencyRepo: memory.NewIdempotencyRepository(),
		}, nil

	case StorageDriverPostgres:
		dsn := strings.TrimSpace(cfg.Postgres.DSN)
		if dsn == "" {
			return nil, errors.New("postgres.dsn is required for postgres storage")
		}
		store, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		if cfg.Postgres.AutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("миграции PostgreSQL применены")
		}
		logger.Info("используется PostgreSQL хранилище")
		return &runtimeDependencies{
			txm:             store,
			storage:         store,
			orders:          postgres.NewOrderRepository(store),
			catalog:         postgres.NewProductRepository(store),
			carts:           postgres.NewCartRepository(store),
			outboxRepo:      postgres.NewOutboxRepository(store),
			timelineRepo:    postgres.NewTimelineRepository(store),
			idempotencyRepo: postgres.NewIdempotencyRepository(store),
			closeFn:         store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}

// initTrackingCache возвращает Redis-кеш, а при пустом redis.addr кеш в памяти процесса.
// Недоступный Redis не мешает старту: кеш необязателен.
func initTrackingCache(ctx context.Context, cfg RedisConfig, logger *log.Entry) (orderquery.Cache, *orderquery.RedisCache) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return orderquery.NewMemoryCache(
			orderquery.WithMemoryTTL(cfg.TrackingTTL),
			orderquery.WithMaxEntries(cfg.MaxTrackingViews),
		), nil
	}
	cache := orderquery.NewRedisCache(orderquery.RedisConfig{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		TTL:      cfg.TrackingTTL,
	})
	if err := cache.Ping(ctx); err != nil {
		logger.WithError(err).WithField("addr", cfg.Addr).Warn("redis недоступен, кеш tracking будет работать в деградированном режиме")
	} else {
		logger.WithField("addr", cfg.Addr).Info("redis кеш подключён")
	}
	return cache, cache
}

func initMailer(cfg NotificationConfig, logger *log.Entry) notification.Mailer {
	if cfg.Driver == NotificationDriverSMTP {
		return notification.NewSMTPMailer(notification.SMTPConfig{
			Addr:     cfg.SMTPAddr,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.From,
		})
	}
	return notification.NewLogMailer(logger.WithField("component", "log-mailer"))
}

// initGateway выбирает шлюз: fake для разработки, HTTP-клиент за circuit breaker, либо ничего.
func initGateway(cfg Config, logger *log.Entry) (payment.Config, payment.Gateway) {
	gatewayCfg := cfg.GatewayConfig()
	switch {
	case cfg.Payment.Fake:
		gatewayCfg.Enabled = true
		if gatewayCfg.SecretKey == "" {
			gatewayCfg.SecretKey = "sk_fake"
		}
		logger.Warn("используется fake платёжный шлюз")
		return gatewayCfg, payment.NewFakeGateway()
	case gatewayCfg.Enabled:
		client := &http.Client{Timeout: gatewayCfg.Timeout}
		breaker := payment.NewCircuitBreaker(gatewayCfg.BreakerFailures, gatewayCfg.BreakerReset, logger.WithField("component", "payment-breaker"))
		return gatewayCfg, payment.WithBreaker(payment.NewStripeGateway(gatewayCfg, client, logger.WithField("component", "stripe")), breaker)
	default:
		logger.Warn("платёжный шлюз выключен, оплата картой недоступна")
		return gatewayCfg, nil
	}
}

// initKafkaProducer создаёт producer, если заданы brokers. Ошибка подключения не останавливает сервис:
// события копятся в outbox до следующего запуска.
func initKafkaProducer(cfg KafkaConfig, logger *log.Entry) *kafka.Producer {
	if len(cfg.Brokers) == 0 {
		return nil
	}
	producer, err := kafka.NewProducer(cfg.Brokers, cfg.ClientID, logger.WithField("component", "kafka-producer"))
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil
	}
	logger.WithField("brokers", cfg.Brokers).Info("kafka producer initialized")
	return producer
}

func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
		return
	}
	logger.Info("kafka producer closed")
}

// logPublisher отмечает события отправленными, только записывая их в лог.
// Используется, когда Kafka не настроена, чтобы outbox не рос бесконечно.
type logPublisher struct {
	logger *log.Entry
}

func (p logPublisher) Publish(event domain.OutboxMessage) error {
	p.logger.WithFields(log.Fields{
		"outbox_id":    event.ID,
		"event_type":   event.EventType,
		"aggregate_id": event.AggregateID,
	}).Debug("outbox event dropped: kafka is not configured")
	return nil
}
