package payment

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func newStripeTestGateway(t *testing.T, handler http.HandlerFunc) *StripeGateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.APIBaseURL = srv.URL + "/"
	cfg.SecretKey = "sk_test_123"
	return NewStripeGateway(cfg, srv.Client(), log.NewEntry(log.New()))
}

func TestStripeGateway_CreateIntent(t *testing.T) {
	gw := newStripeTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
		assert.Equal(t, "order-42", r.Header.Get("Idempotency-Key"))

		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		form, err := url.ParseQuery(string(raw))
		require.NoError(t, err)
		assert.Equal(t, "7647", form.Get("amount"))
		assert.Equal(t, "eur", form.Get("currency"))
		assert.Equal(t, "true", form.Get("automatic_payment_methods[enabled]"))
		assert.Equal(t, "42", form.Get("metadata[order_id]"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"pi_1","object":"payment_intent","status":"requires_payment_method","amount":7647,"currency":"eur","client_secret":"pi_1_secret","metadata":{"order_id":"42"},"latest_charge":null}`)
	})

	intent, err := gw.CreateIntent(context.Background(), IntentParams{
		AmountMinor:    7647,
		Currency:       "EUR",
		Metadata:       map[string]string{"order_id": "42"},
		IdempotencyKey: "order-42",
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_1", intent.ID)
	assert.Equal(t, domain.IntentStatusRequiresPaymentMethod, intent.Status)
	assert.Equal(t, int64(7647), intent.AmountMinor)
	assert.Equal(t, "eur", intent.Currency)
	assert.Equal(t, "pi_1_secret", intent.ClientSecret)
	assert.Equal(t, "42", intent.Metadata["order_id"])
	assert.Empty(t, intent.LatestChargeID)
}

func TestStripeGateway_RetrieveIntentExpandsCharge(t *testing.T) {
	gw := newStripeTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/payment_intents/pi_2", r.URL.Path)
		assert.Contains(t, r.URL.RawQuery, "latest_charge")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"pi_2","object":"payment_intent","status":"succeeded","amount":1000,"currency":"eur","latest_charge":{"id":"ch_2","object":"charge","receipt_url":"https://pay/receipt/2"}}`)
	})

	intent, err := gw.RetrieveIntent(context.Background(), "pi_2")
	require.NoError(t, err)
	assert.True(t, intent.Succeeded())
	assert.Equal(t, "ch_2", intent.LatestChargeID)
	assert.Equal(t, "https://pay/receipt/2", intent.ReceiptURL)
}

func TestStripeGateway_UpdateAmountWithUnexpandedCharge(t *testing.T) {
	gw := newStripeTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payment_intents/pi_3", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "500", r.PostForm.Get("amount"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"pi_3","object":"payment_intent","status":"succeeded","amount":500,"latest_charge":"ch_3"}`)
	})

	intent, err := gw.UpdateIntentAmount(context.Background(), "pi_3", 500)
	require.NoError(t, err)
	assert.Equal(t, int64(500), intent.AmountMinor)
	assert.Equal(t, "ch_3", intent.LatestChargeID)
	assert.Empty(t, intent.ReceiptURL)
}

func TestStripeGateway_CardDeclined(t *testing.T) {
	gw := newStripeTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = io.WriteString(w, `{"error":{"type":"card_error","code":"card_declined","message":"Your card was declined."}}`)
	})

	_, err := gw.RetrieveIntent(context.Background(), "pi_4")
	var stripeErr *stripe.Error
	require.ErrorAs(t, err, &stripeErr)
	assert.Equal(t, http.StatusPaymentRequired, stripeErr.HTTPStatusCode)
	assert.Equal(t, stripe.ErrorCodeCardDeclined, stripeErr.Code)
	assert.Contains(t, err.Error(), "pi_4")
}

func TestIntentToDomainNil(t *testing.T) {
	assert.Equal(t, domain.PaymentIntent{}, intentToDomain(nil))
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"id":"evt"}`)
	now := time.Now()
	header := SignPayload(payload, "secret", now)

	assert.NoError(t, VerifySignature(payload, header, "secret", time.Minute))
	assert.ErrorIs(t, VerifySignature(payload, header, "other", time.Minute), domain.ErrSignatureInvalid)
	assert.ErrorIs(t, VerifySignature([]byte(`{"id":"evt2"}`), header, "secret", time.Minute), domain.ErrSignatureInvalid)
	assert.ErrorIs(t, VerifySignature(payload, "v1=abc", "secret", time.Minute), domain.ErrSignatureInvalid)
	assert.ErrorIs(t, VerifySignature(payload, "  ", "secret", time.Minute), domain.ErrSignatureMissing)
	assert.ErrorIs(t, VerifySignature(payload, header, "", time.Minute), domain.ErrGatewayMisconfigured)

	stale := SignPayload(payload, "secret", now.Add(-time.Hour))
	assert.ErrorIs(t, VerifySignature(payload, stale, "secret", time.Minute), domain.ErrSignatureInvalid)
	assert.NoError(t, VerifySignature(payload, stale, "secret", 0))
}

func TestParseEvent(t *testing.T) {
	event, err := ParseEvent([]byte(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","object":"payment_intent","status":"succeeded","amount":100,"metadata":{"order_id":"o1"},"latest_charge":"ch_1"}}}`))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, domain.WebhookPaymentSucceeded, event.Type)
	assert.Equal(t, "pi_1", event.Intent.ID)
	assert.Equal(t, int64(100), event.Intent.AmountMinor)
	assert.Equal(t, "ch_1", event.Intent.LatestChargeID)
	assert.Equal(t, "o1", event.Intent.Metadata[domain.IntentMetadataOrderID])

	_, err = ParseEvent([]byte(`{"id":"evt_1"}`))
	assert.ErrorIs(t, err, domain.ErrWebhookPayload)

	_, err = ParseEvent([]byte(`{not json`))
	assert.ErrorIs(t, err, domain.ErrWebhookPayload)
}
