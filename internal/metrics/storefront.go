package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты оформления для лейбла result.
const (
	ResultCreated           = "created"
	ResultEmptyCart         = "empty_cart"
	ResultInsufficientStock = "insufficient_stock"
	ResultUnavailable       = "product_unavailable"
	ResultCollision         = "number_collision"
	ResultInvalid           = "invalid"
	ResultError             = "error"
)

// Storefront — метрики оформления, оплаты и уведомлений.
type Storefront struct {
	checkouts        *prometheus.CounterVec
	checkoutDuration prometheus.Histogram
	numberRetries    prometheus.Counter
	cancellations    prometheus.Counter

	payments        *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
	webhooks        *prometheus.CounterVec

	notifications *prometheus.CounterVec

	timelineEvents prometheus.Counter
	inFlight       prometheus.Gauge
}

// NewStorefront регистрирует метрики в default registry.
func NewStorefront() *Storefront {
	return NewStorefrontWithRegisterer(prometheus.DefaultRegisterer)
}

// NewStorefrontWithRegisterer позволяет тестам использовать собственный registry.
func NewStorefrontWithRegisterer(r prometheus.Registerer) *Storefront {
	return &Storefront{
		checkouts: counterVec(r, prometheus.CounterOpts{
			Name: "storefront_checkouts_total",
			Help: "Checkout attempts grouped by result.",
		}, "result"),
		checkoutDuration: histogram(r, prometheus.HistogramOpts{
			Name:    "storefront_checkout_duration_seconds",
			Help:    "Duration of the checkout transaction including retries.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		numberRetries: counter(r, prometheus.CounterOpts{
			Name: "storefront_order_number_retries_total",
			Help: "Checkout retries caused by order number collisions.",
		}),
		cancellations: counter(r, prometheus.CounterOpts{
			Name: "storefront_order_cancellations_total",
			Help: "Orders cancelled with stock returned.",
		}),
		payments: counterVec(r, prometheus.CounterOpts{
			Name: "storefront_payment_finalizations_total",
			Help: "Payment finalization outcomes grouped by source and result.",
		}, "source", "result"),
		gatewayDuration: histogramVec(r, prometheus.HistogramOpts{
			Name:    "storefront_gateway_request_duration_seconds",
			Help:    "Payment gateway call duration grouped by operation.",
			Buckets: prometheus.DefBuckets,
		}, "operation"),
		webhooks: counterVec(r, prometheus.CounterOpts{
			Name: "storefront_webhook_events_total",
			Help: "Webhook events grouped by type and outcome.",
		}, "type", "outcome"),
		notifications: counterVec(r, prometheus.CounterOpts{
			Name: "storefront_notifications_total",
			Help: "Order confirmation emails grouped by result.",
		}, "result"),
		timelineEvents: counter(r, prometheus.CounterOpts{
			Name: "storefront_timeline_events_total",
			Help: "Order timeline events recorded.",
		}),
		inFlight: gauge(r, prometheus.GaugeOpts{
			Name: "storefront_checkouts_in_flight",
			Help: "Checkouts currently being processed.",
		}),
	}
}

// CheckoutStarted отмечает начало оформления; вызывающий обязан вызвать CheckoutFinished.
func (m *Storefront) CheckoutStarted() time.Time {
	if m == nil {
		return time.Now()
	}
	m.inFlight.Inc()
	return time.Now()
}

// CheckoutFinished фиксирует результат и длительность оформления.
func (m *Storefront) CheckoutFinished(started time.Time, result string) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.checkouts.WithLabelValues(result).Inc()
	m.checkoutDuration.Observe(time.Since(started).Seconds())
}

func (m *Storefront) OrderNumberRetry() {
	if m == nil {
		return
	}
	m.numberRetries.Inc()
}

func (m *Storefront) OrderCancelled() {
	if m == nil {
		return
	}
	m.cancellations.Inc()
}

// PaymentFinalized: source принимает webhook или manual, result принимает confirmed, already_processed, not_succeeded или unknown_order.
func (m *Storefront) PaymentFinalized(source, result string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(source, result).Inc()
}

func (m *Storefront) GatewayCall(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.gatewayDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Storefront) WebhookEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(eventType, outcome).Inc()
}

func (m *Storefront) Notification(sent bool) {
	if m == nil {
		return
	}
	result := "failed"
	if sent {
		result = "sent"
	}
	m.notifications.WithLabelValues(result).Inc()
}

func (m *Storefront) TimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}
