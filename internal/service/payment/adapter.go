package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// Источники финализации для метрик и таймлайна.
const (
	SourceEnsure  = "ensure_intent"
	SourceWebhook = "webhook"
	SourceManual  = "manual"
)

// Deps — зависимости адаптера.
type Deps struct {
	Orders      domain.OrderRepository
	Outbox      domain.OutboxRepository
	Notifier    domain.Notifier
	Timeline    domain.TimelineRepository
	Invalidator domain.OrderViewInvalidator
	Metrics     *metrics.Storefront
	Logger      *log.Entry
}

// Adapter согласует статус заказа с payment intent шлюза.
type Adapter struct {
	cfg         Config
	gateway     Gateway
	orders      domain.OrderRepository
	outbox      domain.OutboxRepository
	notifier    domain.Notifier
	timeline    domain.TimelineRepository
	invalidator domain.OrderViewInvalidator
	metrics     *metrics.Storefront
	logger      *log.Entry
	now         func() time.Time
}

// NewAdapter создаёт адаптер. gateway может быть nil, если шлюз выключен.
func NewAdapter(cfg Config, gateway Gateway, deps Deps) *Adapter {
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "payment-adapter")
	}
	return &Adapter{
		cfg:         cfg,
		gateway:     gateway,
		orders:      deps.Orders,
		outbox:      deps.Outbox,
		notifier:    deps.Notifier,
		timeline:    deps.Timeline,
		invalidator: deps.Invalidator,
		metrics:     deps.Metrics,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// EnsureIntentByNumber находит заказ, проверяет владельца и вызывает EnsureIntent.
func (a *Adapter) EnsureIntentByNumber(ctx context.Context, number string, identity domain.CustomerIdentity) (domain.PaymentIntent, error) {
	order, err := a.orders.GetByNumber(ctx, number)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	if !identity.Owns(order) {
		return domain.PaymentIntent{}, domain.ErrForbidden
	}
	return a.EnsureIntent(ctx, order)
}

// EnsureIntent создаёт intent на сумму заказа или сверяет сумму существующего.
// Если intent уже succeeded, заказ сразу финализируется.
func (a *Adapter) EnsureIntent(ctx context.Context, order domain.Order) (domain.PaymentIntent, error) {
	if err := a.ready(); err != nil {
		return domain.PaymentIntent{}, a.gatewayError("ensure_intent", order, "", err)
	}
	if !order.PaymentMethod.IsCard() {
		return domain.PaymentIntent{}, domain.ErrNotCardPayment
	}
	if order.Status == domain.OrderStatusCancelled {
		return domain.PaymentIntent{}, fmt.Errorf("%w: order is cancelled", domain.ErrInvalidTransition)
	}

	amount := domain.AmountToMinor(order.Total)
	var intent domain.PaymentIntent

	if order.Payment.IntentID == "" {
		created, err := a.createIntent(ctx, order, amount)
		if err != nil {
			return domain.PaymentIntent{}, err
		}
		if err := a.orders.SetPaymentIntent(ctx, order.ID, created.ID); err != nil {
			return domain.PaymentIntent{}, fmt.Errorf("store intent id: %w", err)
		}
		order.Payment.IntentID = created.ID
		intent = created
	} else {
		existing, err := a.retrieve(ctx, order, order.Payment.IntentID)
		if err != nil {
			return domain.PaymentIntent{}, err
		}
		if existing.AmountMinor != amount && !existing.Succeeded() {
			start := time.Now()
			updated, err := a.gateway.UpdateIntentAmount(ctx, existing.ID, amount)
			a.metrics.GatewayCall("update_intent", time.Since(start))
			if err != nil {
				return domain.PaymentIntent{}, a.gatewayError("update_intent", order, existing.ID, err)
			}
			a.logger.WithFields(log.Fields{
				"order_id":   order.ID,
				"intent_id":  existing.ID,
				"old_amount": existing.AmountMinor,
				"new_amount": amount,
			}).Info("payment intent amount updated")
			existing = updated
		}
		intent = existing
	}

	if intent.Succeeded() {
		if _, err := a.FinalizePaymentSuccess(ctx, order, intent, SourceEnsure); err != nil {
			return domain.PaymentIntent{}, err
		}
		return intent, nil
	}

	if err := a.orders.SyncPayment(ctx, order.ID, intent.PaymentInfo()); err != nil {
		return domain.PaymentIntent{}, fmt.Errorf("sync payment: %w", err)
	}
	a.invalidate(ctx, order.TrackingToken)
	return intent, nil
}

// FinalizePaymentSuccess переводит заказ pending -> processing ровно один раз.
// Платёжные поля синхронизируются всегда; уведомление уходит только на переходе.
func (a *Adapter) FinalizePaymentSuccess(ctx context.Context, order domain.Order, intent domain.PaymentIntent, source string) (bool, error) {
	logger := a.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"order_number": order.Number,
		"intent_id":    intent.ID,
		"source":       source,
	})

	if err := a.orders.SyncPayment(ctx, order.ID, intent.PaymentInfo()); err != nil {
		return false, fmt.Errorf("sync payment: %w", err)
	}

	changed, err := a.orders.TransitionStatus(ctx, order.ID, domain.OrderStatusPending, domain.OrderStatusProcessing)
	if err != nil {
		return false, fmt.Errorf("transition order status: %w", err)
	}
	a.invalidate(ctx, order.TrackingToken)

	if !changed {
		a.metrics.PaymentFinalized(source, "already_processed")
		logger.Debug("payment already finalized")
		return false, nil
	}

	a.metrics.PaymentFinalized(source, "confirmed")
	logger.Info("payment confirmed, order is processing")

	paid, err := a.orders.GetByID(ctx, order.ID)
	if err != nil {
		logger.WithError(err).Warn("failed to reload paid order")
		paid = order
		paid.Status = domain.OrderStatusProcessing
		paid.Payment = intent.PaymentInfo()
	}

	a.enqueue(domain.EventOrderPaid, paid, source)
	a.appendTimeline(paid.ID, domain.TimelineStatusChanged, "payment confirmed via "+source)

	if a.notifier != nil {
		sent := a.notifier.NotifyOrderConfirmed(ctx, paid)
		a.metrics.Notification(sent)
		if sent {
			a.appendTimeline(paid.ID, domain.TimelineNotification, "confirmation sent")
		}
	}
	return true, nil
}

// HandleWebhookEvent проверяет подпись и применяет событие.
// Возвращает false, если событие принято, но не относится ни к одному заказу или имеет неизвестный тип.
func (a *Adapter) HandleWebhookEvent(ctx context.Context, payload []byte, signatureHeader string) (bool, error) {
	if a.cfg.WebhookSecret == "" {
		return false, &domain.PaymentGatewayError{Op: "webhook", Err: domain.ErrGatewayMisconfigured}
	}
	if err := VerifySignature(payload, signatureHeader, a.cfg.WebhookSecret, a.cfg.WebhookTolerance); err != nil {
		a.metrics.WebhookEvent("unknown", "rejected")
		a.logger.WithError(err).Warn("webhook rejected")
		return false, &domain.PaymentGatewayError{Op: "webhook", Err: err}
	}

	event, err := ParseEvent(payload)
	if err != nil {
		a.metrics.WebhookEvent("unknown", "rejected")
		return false, &domain.PaymentGatewayError{Op: "webhook", Err: err}
	}

	logger := a.logger.WithFields(log.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
		"intent_id":  event.Intent.ID,
	})

	switch event.Type {
	case domain.WebhookPaymentSucceeded:
		order, err := a.resolveOrder(ctx, event.Intent)
		if errors.Is(err, domain.ErrOrderNotFound) {
			logger.Warn("webhook references unknown order")
			a.metrics.WebhookEvent(string(event.Type), "unknown_order")
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if _, err := a.FinalizePaymentSuccess(ctx, order, event.Intent, SourceWebhook); err != nil {
			return false, err
		}
		a.metrics.WebhookEvent(string(event.Type), "processed")
		return true, nil

	case domain.WebhookPaymentFailed, domain.WebhookPaymentCanceled:
		order, err := a.resolveOrder(ctx, event.Intent)
		if errors.Is(err, domain.ErrOrderNotFound) {
			logger.Warn("webhook references unknown order")
			a.metrics.WebhookEvent(string(event.Type), "unknown_order")
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if err := a.recordFailure(ctx, order, event); err != nil {
			return false, err
		}
		a.metrics.WebhookEvent(string(event.Type), "processed")
		return true, nil

	default:
		logger.Debug("webhook event type ignored")
		a.metrics.WebhookEvent(string(event.Type), "ignored")
		return false, nil
	}
}

// ConfirmIntentManually финализирует заказ по intent, который клиент подтвердил сам.
func (a *Adapter) ConfirmIntentManually(ctx context.Context, intentID string) (domain.Order, error) {
	if err := a.ready(); err != nil {
		return domain.Order{}, &domain.PaymentGatewayError{Op: "confirm_intent", IntentID: intentID, Err: err}
	}

	start := time.Now()
	intent, err := a.gateway.RetrieveIntent(ctx, intentID)
	a.metrics.GatewayCall("retrieve_intent", time.Since(start))
	if err != nil {
		return domain.Order{}, a.gatewayError("confirm_intent", domain.Order{}, intentID, err)
	}
	if !intent.Succeeded() {
		a.metrics.PaymentFinalized(SourceManual, "not_succeeded")
		return domain.Order{}, &domain.PaymentGatewayError{
			Op:       "confirm_intent",
			IntentID: intentID,
			Err:      fmt.Errorf("%w: status %s", domain.ErrIntentNotSucceeded, intent.Status),
		}
	}

	order, err := a.resolveOrder(ctx, intent)
	if errors.Is(err, domain.ErrOrderNotFound) {
		a.metrics.PaymentFinalized(SourceManual, "unknown_order")
		return domain.Order{}, &domain.PaymentGatewayError{Op: "confirm_intent", IntentID: intentID, Err: domain.ErrOrderNotFound}
	}
	if err != nil {
		return domain.Order{}, err
	}
	if _, err := a.FinalizePaymentSuccess(ctx, order, intent, SourceManual); err != nil {
		return domain.Order{}, err
	}
	return a.orders.GetByID(ctx, order.ID)
}

func (a *Adapter) ready() error {
	if !a.cfg.Enabled || a.gateway == nil {
		return domain.ErrGatewayMisconfigured
	}
	return nil
}

func (a *Adapter) createIntent(ctx context.Context, order domain.Order, amount int64) (domain.PaymentIntent, error) {
	start := time.Now()
	intent, err := a.gateway.CreateIntent(ctx, IntentParams{
		AmountMinor: amount,
		Currency:    a.cfg.Currency,
		Metadata: map[string]string{
			domain.IntentMetadataOrderID:     order.ID,
			domain.IntentMetadataOrderNumber: order.Number,
		},
		IdempotencyKey: "order-" + order.ID,
	})
	a.metrics.GatewayCall("create_intent", time.Since(start))
	if err != nil {
		return domain.PaymentIntent{}, a.gatewayError("create_intent", order, "", err)
	}
	a.logger.WithFields(log.Fields{
		"order_id":  order.ID,
		"intent_id": intent.ID,
		"amount":    amount,
	}).Info("payment intent created")
	return intent, nil
}

func (a *Adapter) retrieve(ctx context.Context, order domain.Order, intentID string) (domain.PaymentIntent, error) {
	start := time.Now()
	intent, err := a.gateway.RetrieveIntent(ctx, intentID)
	a.metrics.GatewayCall("retrieve_intent", time.Since(start))
	if err != nil {
		return domain.PaymentIntent{}, a.gatewayError("retrieve_intent", order, intentID, err)
	}
	return intent, nil
}

// resolveOrder ищет заказ по metadata: сначала id, затем номер, затем id intent.
func (a *Adapter) resolveOrder(ctx context.Context, intent domain.PaymentIntent) (domain.Order, error) {
	if id := intent.Metadata[domain.IntentMetadataOrderID]; id != "" {
		order, err := a.orders.GetByID(ctx, id)
		if err == nil || !errors.Is(err, domain.ErrOrderNotFound) {
			return order, err
		}
	}
	if number := intent.Metadata[domain.IntentMetadataOrderNumber]; number != "" {
		order, err := a.orders.GetByNumber(ctx, number)
		if err == nil || !errors.Is(err, domain.ErrOrderNotFound) {
			return order, err
		}
	}
	if intent.ID != "" {
		return a.orders.GetByIntentID(ctx, intent.ID)
	}
	return domain.Order{}, domain.ErrOrderNotFound
}

// recordFailure фиксирует неуспешный платёж, не трогая статус заказа.
func (a *Adapter) recordFailure(ctx context.Context, order domain.Order, event domain.WebhookEvent) error {
	info := event.Intent.PaymentInfo()
	if event.Type == domain.WebhookPaymentFailed {
		info.Status = string(domain.IntentStatusPaymentFailed)
	} else {
		info.Status = string(domain.IntentStatusCanceled)
	}
	if err := a.orders.SyncPayment(ctx, order.ID, info); err != nil {
		return fmt.Errorf("sync payment: %w", err)
	}
	a.invalidate(ctx, order.TrackingToken)

	order.Payment.Status = info.Status
	a.enqueue(domain.EventPaymentFailed, order, string(event.Type))
	a.appendTimeline(order.ID, domain.TimelinePaymentStatus, info.Status)
	a.logger.WithFields(log.Fields{
		"order_id":       order.ID,
		"intent_id":      event.Intent.ID,
		"payment_status": info.Status,
	}).Warn("payment not completed")
	return nil
}

func (a *Adapter) gatewayError(op string, order domain.Order, intentID string, err error) error {
	if intentID == "" {
		intentID = order.Payment.IntentID
	}
	wrapped := &domain.PaymentGatewayError{Op: op, OrderID: order.ID, IntentID: intentID, Err: err}
	a.logger.WithError(err).WithFields(log.Fields{
		"operation": op,
		"order_id":  order.ID,
		"intent_id": intentID,
	}).Error("payment gateway call failed")
	return wrapped
}

func (a *Adapter) enqueue(eventType string, order domain.Order, reason string) {
	if a.outbox == nil {
		return
	}
	msg, err := domain.NewOrderEventMessage(eventType, order, reason, a.now())
	if err == nil {
		_, err = a.outbox.Enqueue(msg)
	}
	if err != nil {
		a.logger.WithError(err).WithFields(log.Fields{
			"order_id":   order.ID,
			"event_type": eventType,
		}).Warn("failed to enqueue payment event")
	}
}

func (a *Adapter) appendTimeline(orderID, eventType, reason string) {
	if a.timeline == nil {
		return
	}
	err := a.timeline.Append(domain.TimelineEvent{OrderID: orderID, Type: eventType, Reason: reason, Occurred: a.now()})
	if err != nil {
		a.logger.WithError(err).WithField("order_id", orderID).Warn("failed to append timeline event")
		return
	}
	a.metrics.TimelineEvent()
}

func (a *Adapter) invalidate(ctx context.Context, token string) {
	if a.invalidator != nil && token != "" {
		a.invalidator.Invalidate(ctx, token)
	}
}
