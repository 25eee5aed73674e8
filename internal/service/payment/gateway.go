// Package payment связывает заказы с payment intents внешнего платёжного шлюза.
package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Gateway — узкий интерфейс к API payment intents.
type Gateway interface {
	CreateIntent(ctx context.Context, params IntentParams) (domain.PaymentIntent, error)
	RetrieveIntent(ctx context.Context, intentID string) (domain.PaymentIntent, error)
	UpdateIntentAmount(ctx context.Context, intentID string, amountMinor int64) (domain.PaymentIntent, error)
}

// IntentParams — параметры создания intent.
type IntentParams struct {
	AmountMinor    int64
	Currency       string
	Metadata       map[string]string
	IdempotencyKey string
}

// Config — конфигурация шлюза, передаётся адаптеру явно при старте.
type Config struct {
	Enabled          bool
	APIBaseURL       string
	SecretKey        string
	WebhookSecret    string
	Currency         string
	WebhookTolerance time.Duration
	Timeout          time.Duration
	BreakerFailures  int
	BreakerReset     time.Duration
}

// DefaultConfig возвращает выключенный шлюз с безопасными значениями.
func DefaultConfig() Config {
	return Config{
		APIBaseURL:       "https://api.stripe.com",
		Currency:         "eur",
		WebhookTolerance: 5 * time.Minute,
		Timeout:          10 * time.Second,
		BreakerFailures:  5,
		BreakerReset:     30 * time.Second,
	}
}

// Validate проверяет, что включённый шлюз полностью настроен.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	var missing []string
	if strings.TrimSpace(c.SecretKey) == "" {
		missing = append(missing, "secret_key")
	}
	if strings.TrimSpace(c.WebhookSecret) == "" {
		missing = append(missing, "webhook_secret")
	}
	if strings.TrimSpace(c.Currency) == "" {
		missing = append(missing, "currency")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", domain.ErrGatewayMisconfigured, strings.Join(missing, ", "))
	}
	return nil
}
