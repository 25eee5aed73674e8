package payment

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// SignatureHeader — заголовок с подписью вебхука.
const SignatureHeader = "Stripe-Signature"

// VerifySignature проверяет подпись вебхука средствами stripe-go.
// Подпись старше tolerance отвергается; tolerance <= 0 отключает проверку времени.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return domain.ErrSignatureMissing
	}
	if secret == "" {
		return domain.ErrGatewayMisconfigured
	}

	var err error
	if tolerance > 0 {
		err = webhook.ValidatePayloadWithTolerance(payload, header, secret, tolerance)
	} else {
		err = webhook.ValidatePayloadIgnoringTolerance(payload, header, secret)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSignatureInvalid, err)
	}
	return nil
}

// SignPayload строит заголовок подписи; нужен для тестов и локальной отладки вебхуков.
func SignPayload(payload []byte, secret string, at time.Time) string {
	signature := webhook.ComputeSignature(at, payload, secret)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(signature))
}

// ParseEvent разбирает проверенное тело вебхука; data.object читается как payment intent.
func ParseEvent(payload []byte) (domain.WebhookEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return domain.WebhookEvent{}, fmt.Errorf("%w: %v", domain.ErrWebhookPayload, err)
	}
	if event.Type == "" {
		return domain.WebhookEvent{}, fmt.Errorf("%w: event type is empty", domain.ErrWebhookPayload)
	}

	var intent stripe.PaymentIntent
	if event.Data != nil && len(event.Data.Raw) > 0 {
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return domain.WebhookEvent{}, fmt.Errorf("%w: data.object: %v", domain.ErrWebhookPayload, err)
		}
	}
	return domain.WebhookEvent{
		ID:     event.ID,
		Type:   domain.WebhookEventType(event.Type),
		Intent: intentToDomain(&intent),
	}, nil
}
