package domain

import (
	"github.com/shopspring/decimal"
)

// IntentStatus — статус payment intent на стороне шлюза.
type IntentStatus string

const (
	IntentStatusRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentStatusRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentStatusRequiresAction        IntentStatus = "requires_action"
	IntentStatusProcessing            IntentStatus = "processing"
	IntentStatusRequiresCapture       IntentStatus = "requires_capture"
	IntentStatusCanceled              IntentStatus = "canceled"
	IntentStatusSucceeded             IntentStatus = "succeeded"
	// IntentStatusPaymentFailed фиксируется локально по событию payment_failed.
	IntentStatusPaymentFailed IntentStatus = "payment_failed"
)

// Metadata-ключи, которые шлюз хранит на intent.
const (
	IntentMetadataOrderID     = "order_id"
	IntentMetadataOrderNumber = "order_number"
)

// PaymentIntent — адаптер над ответом шлюза: только нужные системе поля.
type PaymentIntent struct {
	ID             string
	Status         IntentStatus
	AmountMinor    int64
	Currency       string
	LatestChargeID string
	ReceiptURL     string
	ClientSecret   string
	Metadata       map[string]string
}

// Succeeded сообщает, что платёж завершён успешно.
func (i PaymentIntent) Succeeded() bool {
	return i.Status == IntentStatusSucceeded
}

// PaymentInfo переносит поля intent в платёжную информацию заказа.
func (i PaymentIntent) PaymentInfo() PaymentInfo {
	return PaymentInfo{
		IntentID:   i.ID,
		ChargeID:   i.LatestChargeID,
		Status:     string(i.Status),
		ReceiptURL: i.ReceiptURL,
	}
}

// WebhookEventType — тип события вебхука.
type WebhookEventType string

const (
	WebhookPaymentSucceeded WebhookEventType = "payment_intent.succeeded"
	WebhookPaymentFailed    WebhookEventType = "payment_intent.payment_failed"
	WebhookPaymentCanceled  WebhookEventType = "payment_intent.canceled"
)

// WebhookEvent — проверенное событие от шлюза.
type WebhookEvent struct {
	ID     string
	Type   WebhookEventType
	Intent PaymentIntent
}

var hundred = decimal.NewFromInt(100)

// AmountToMinor переводит сумму в целые минимальные единицы (центы) с округлением half-up.
func AmountToMinor(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}
