package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/vladislavdragonenkov/storefront/internal/pricing"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"

	NotificationDriverLog  = "log"
	NotificationDriverSMTP = "smtp"

	// ConfigPathEnv — путь к YAML-файлу конфигурации.
	ConfigPathEnv = "STOREFRONT_CONFIG"
	envPrefix     = "STOREFRONT"
)

type HTTPConfig struct {
	Addr           string        `mapstructure:"addr"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type PostgresConfig struct {
	DSN         string `mapstructure:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// PricingConfig хранит суммы строками: decimal не декодируется из env напрямую.
type PricingConfig struct {
	TaxRate               string `mapstructure:"tax_rate"`
	FreeShippingThreshold string `mapstructure:"free_shipping_threshold"`
	StandardShippingCost  string `mapstructure:"standard_shipping_cost"`
}

type CheckoutConfig struct {
	OrderNumberAttempts int           `mapstructure:"order_number_attempts"`
	OrderNumberBackoff  time.Duration `mapstructure:"order_number_backoff"`
}

type PaymentConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Fake             bool          `mapstructure:"fake"`
	APIBaseURL       string        `mapstructure:"api_base_url"`
	SecretKey        string        `mapstructure:"secret_key"`
	WebhookSecret    string        `mapstructure:"webhook_secret"`
	Currency         string        `mapstructure:"currency"`
	WebhookTolerance time.Duration `mapstructure:"webhook_tolerance"`
	Timeout          time.Duration `mapstructure:"timeout"`
	BreakerFailures  int           `mapstructure:"breaker_failures"`
	BreakerReset     time.Duration `mapstructure:"breaker_reset"`
}

type NotificationConfig struct {
	Driver          string `mapstructure:"driver"`
	SMTPAddr        string `mapstructure:"smtp_addr"`
	SMTPUsername    string `mapstructure:"smtp_username"`
	SMTPPassword    string `mapstructure:"smtp_password"`
	From            string `mapstructure:"from"`
	TrackingBaseURL string `mapstructure:"tracking_base_url"`
}

// RedisConfig — кеш tracking-представлений. При пустом Addr используется
// кеш в памяти процесса с тем же TTL и лимитом MaxTrackingViews.
type RedisConfig struct {
	Addr             string        `mapstructure:"addr"`
	Password         string        `mapstructure:"password"`
	DB               int           `mapstructure:"db"`
	TrackingTTL      time.Duration `mapstructure:"tracking_ttl"`
	MaxTrackingViews int           `mapstructure:"max_tracking_views"`
}

type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	ClientID string   `mapstructure:"client_id"`
	Topic    string   `mapstructure:"topic"`
	DLQTopic string   `mapstructure:"dlq_topic"`
}

type OutboxConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	BatchSize      int           `mapstructure:"batch_size"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
}

type IdempotencyConfig struct {
	TTL              time.Duration `mapstructure:"ttl"`
	CleanupInterval  time.Duration `mapstructure:"cleanup_interval"`
	CleanupBatchSize int           `mapstructure:"cleanup_batch_size"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// Config — полная конфигурация процесса.
type Config struct {
	HTTP         HTTPConfig         `mapstructure:"http"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Log          LogConfig          `mapstructure:"log"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Postgres     PostgresConfig     `mapstructure:"postgres"`
	Pricing      PricingConfig      `mapstructure:"pricing"`
	Checkout     CheckoutConfig     `mapstructure:"checkout"`
	Payment      PaymentConfig      `mapstructure:"payment"`
	Notification NotificationConfig `mapstructure:"notification"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Outbox       OutboxConfig       `mapstructure:"outbox"`
	Idempotency  IdempotencyConfig  `mapstructure:"idempotency"`
	Auth         AuthConfig         `mapstructure:"auth"`
}

var defaults = map[string]any{
	"http.addr":                       ":8080",
	"http.request_timeout":            15 * time.Second,
	"metrics.addr":                    ":9090",
	"log.level":                       "info",
	"log.format":                      "text",
	"storage.driver":                  StorageDriverMemory,
	"postgres.dsn":                    "",
	"postgres.auto_migrate":           true,
	"pricing.tax_rate":                "0.21",
	"pricing.free_shipping_threshold": "50.00",
	"pricing.standard_shipping_cost":  "3.99",
	"checkout.order_number_attempts":  3,
	"checkout.order_number_backoff":   20 * time.Millisecond,
	"payment.enabled":                 false,
	"payment.fake":                    false,
	"payment.api_base_url":            "https://api.stripe.com",
	"payment.secret_key":              "",
	"payment.webhook_secret":          "",
	"payment.currency":                "eur",
	"payment.webhook_tolerance":       5 * time.Minute,
	"payment.timeout":                 10 * time.Second,
	"payment.breaker_failures":        5,
	"payment.breaker_reset":           30 * time.Second,
	"notification.driver":             NotificationDriverLog,
	"notification.smtp_addr":          "",
	"notification.smtp_username":      "",
	"notification.smtp_password":      "",
	"notification.from":               "orders@storefront.local",
	"notification.tracking_base_url":  "",
	"redis.addr":                      "",
	"redis.password":                  "",
	"redis.db":                        0,
	"redis.tracking_ttl":              2 * time.Minute,
	"redis.max_tracking_views":       10000,
	"kafka.brokers":                   []string{},
	"kafka.client_id":                 "storefront",
	"kafka.topic":                     "storefront.order.events",
	"kafka.dlq_topic":                 "storefront.dlq",
	"outbox.poll_interval":            time.Second,
	"outbox.batch_size":               100,
	"outbox.max_attempts":             3,
	"outbox.retry_base_delay":         50 * time.Millisecond,
	"idempotency.ttl":                 24 * time.Hour,
	"idempotency.cleanup_interval":    10 * time.Minute,
	"idempotency.cleanup_batch_size":  500,
	"auth.jwt_secret":                 "",
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// DefaultConfig возвращает конфигурацию без файла и переменных окружения.
func DefaultConfig() Config {
	var cfg Config
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return cfg
}

// LoadConfig читает .env (если есть), YAML-файл path (или STOREFRONT_CONFIG) и переменные STOREFRONT_*.
// Переменные окружения имеют приоритет над файлом.
func LoadConfig(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := newViper()
	if path == "" {
		path = strings.TrimSpace(os.Getenv(ConfigPathEnv))
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)
	return cfg, nil
}

// splitList поддерживает как YAML-список, так и строку "a,b" из окружения.
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate проверяет конфигурацию до создания зависимостей.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}

	switch c.Storage.Driver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			errs = append(errs, errors.New("postgres.dsn is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage.driver %q", c.Storage.Driver))
	}

	if _, err := c.PricingConfig(); err != nil {
		errs = append(errs, err)
	}
	if c.Checkout.OrderNumberAttempts <= 0 {
		errs = append(errs, errors.New("checkout.order_number_attempts must be positive"))
	}
	if !c.Payment.Fake {
		if err := c.GatewayConfig().Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	switch c.Notification.Driver {
	case NotificationDriverLog:
	case NotificationDriverSMTP:
		if c.Notification.SMTPAddr == "" || c.Notification.From == "" {
			errs = append(errs, errors.New("notification.smtp_addr and notification.from are required for smtp"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported notification.driver %q", c.Notification.Driver))
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("unsupported log.format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// PricingConfig переводит строки из конфигурации в параметры расчёта.
func (c Config) PricingConfig() (pricing.Config, error) {
	parse := func(key, raw string) (decimal.Decimal, error) {
		d, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return decimal.Zero, fmt.Errorf("pricing.%s: %w", key, err)
		}
		return d, nil
	}

	tax, err := parse("tax_rate", c.Pricing.TaxRate)
	if err != nil {
		return pricing.Config{}, err
	}
	threshold, err := parse("free_shipping_threshold", c.Pricing.FreeShippingThreshold)
	if err != nil {
		return pricing.Config{}, err
	}
	shipping, err := parse("standard_shipping_cost", c.Pricing.StandardShippingCost)
	if err != nil {
		return pricing.Config{}, err
	}

	cfg := pricing.Config{TaxRate: tax, FreeShippingThreshold: threshold, StandardShippingCost: shipping}
	return cfg, cfg.Validate()
}

// GatewayConfig — явное значение конфигурации для адаптера платёжного шлюза.
func (c Config) GatewayConfig() payment.Config {
	return payment.Config{
		Enabled:          c.Payment.Enabled,
		APIBaseURL:       c.Payment.APIBaseURL,
		SecretKey:        c.Payment.SecretKey,
		WebhookSecret:    c.Payment.WebhookSecret,
		Currency:         c.Payment.Currency,
		WebhookTolerance: c.Payment.WebhookTolerance,
		Timeout:          c.Payment.Timeout,
		BreakerFailures:  c.Payment.BreakerFailures,
		BreakerReset:     c.Payment.BreakerReset,
	}
}

func (c Config) RetryConfig() checkout.RetryConfig {
	retry := checkout.DefaultRetryConfig()
	retry.MaxAttempts = c.Checkout.OrderNumberAttempts
	retry.InitialDelay = c.Checkout.OrderNumberBackoff
	return retry
}

// SetupLogger настраивает глобальный logrus по секции log.
func SetupLogger(cfg LogConfig) error {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	}
	log.SetOutput(os.Stdout)
	return nil
}
