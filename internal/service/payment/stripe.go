package payment

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// StripeGateway обращается к payment intents через stripe-go.
// Ретраи SDK выключены: повторами и отказами управляет CircuitBreaker.
type StripeGateway struct {
	intents *paymentintent.Client
}

// NewStripeGateway создаёт клиента; httpClient == nil заменяется клиентом с cfg.Timeout.
func NewStripeGateway(cfg Config, httpClient *http.Client, logger *log.Entry) *StripeGateway {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = log.WithField("component", "stripe")
	}
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		LeveledLogger:     logger,
		MaxNetworkRetries: stripe.Int64(0),
	}
	if base := strings.TrimSpace(cfg.APIBaseURL); base != "" {
		backendCfg.URL = stripe.String(base)
	}
	return &StripeGateway{
		intents: &paymentintent.Client{
			B:   stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
			Key: cfg.SecretKey,
		},
	}
}

func (g *StripeGateway) CreateIntent(ctx context.Context, params IntentParams) (domain.PaymentIntent, error) {
	req := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(params.AmountMinor),
		Currency: stripe.String(strings.ToLower(params.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	req.Context = ctx
	for key, value := range params.Metadata {
		req.AddMetadata(key, value)
	}
	if params.IdempotencyKey != "" {
		req.SetIdempotencyKey(params.IdempotencyKey)
	}

	intent, err := g.intents.New(req)
	if err != nil {
		return domain.PaymentIntent{}, fmt.Errorf("create payment intent: %w", err)
	}
	return intentToDomain(intent), nil
}

// RetrieveIntent раскрывает latest_charge, чтобы получить receipt_url.
func (g *StripeGateway) RetrieveIntent(ctx context.Context, intentID string) (domain.PaymentIntent, error) {
	req := &stripe.PaymentIntentParams{}
	req.Context = ctx
	req.AddExpand("latest_charge")

	intent, err := g.intents.Get(intentID, req)
	if err != nil {
		return domain.PaymentIntent{}, fmt.Errorf("retrieve payment intent %s: %w", intentID, err)
	}
	return intentToDomain(intent), nil
}

func (g *StripeGateway) UpdateIntentAmount(ctx context.Context, intentID string, amountMinor int64) (domain.PaymentIntent, error) {
	req := &stripe.PaymentIntentParams{Amount: stripe.Int64(amountMinor)}
	req.Context = ctx

	intent, err := g.intents.Update(intentID, req)
	if err != nil {
		return domain.PaymentIntent{}, fmt.Errorf("update payment intent %s: %w", intentID, err)
	}
	return intentToDomain(intent), nil
}

// intentToDomain оставляет от ответа SDK только поля, которые нужны заказу.
func intentToDomain(intent *stripe.PaymentIntent) domain.PaymentIntent {
	if intent == nil {
		return domain.PaymentIntent{}
	}
	out := domain.PaymentIntent{
		ID:           intent.ID,
		Status:       domain.IntentStatus(intent.Status),
		AmountMinor:  intent.Amount,
		Currency:     string(intent.Currency),
		ClientSecret: intent.ClientSecret,
		Metadata:     intent.Metadata,
	}
	if charge := intent.LatestCharge; charge != nil {
		out.LatestChargeID = charge.ID
		out.ReceiptURL = charge.ReceiptURL
	}
	return out
}

var _ Gateway = (*StripeGateway)(nil)
