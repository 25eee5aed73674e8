package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	var m dto.Metric
	require.NoError(t, (<-ch).Write(&m))
	if m.Counter != nil {
		return m.Counter.GetValue()
	}
	return m.Gauge.GetValue()
}

func TestStorefront_CheckoutLifecycle(t *testing.T) {
	m := NewStorefrontWithRegisterer(prometheus.NewRegistry())

	started := m.CheckoutStarted()
	assert.Equal(t, 1.0, counterValue(t, m.inFlight))

	m.CheckoutFinished(started, ResultCreated)
	assert.Equal(t, 0.0, counterValue(t, m.inFlight))
	assert.Equal(t, 1.0, counterValue(t, m.checkouts.WithLabelValues(ResultCreated)))

	m.OrderNumberRetry()
	m.OrderCancelled()
	assert.Equal(t, 1.0, counterValue(t, m.numberRetries))
	assert.Equal(t, 1.0, counterValue(t, m.cancellations))
}

func TestStorefront_PaymentsAndNotifications(t *testing.T) {
	m := NewStorefrontWithRegisterer(prometheus.NewRegistry())

	m.PaymentFinalized("webhook", "confirmed")
	m.PaymentFinalized("webhook", "confirmed")
	m.WebhookEvent("payment_intent.succeeded", "processed")
	m.Notification(true)
	m.Notification(false)
	m.GatewayCall("create_intent", 20*time.Millisecond)

	assert.Equal(t, 2.0, counterValue(t, m.payments.WithLabelValues("webhook", "confirmed")))
	assert.Equal(t, 1.0, counterValue(t, m.webhooks.WithLabelValues("payment_intent.succeeded", "processed")))
	assert.Equal(t, 1.0, counterValue(t, m.notifications.WithLabelValues("sent")))
	assert.Equal(t, 1.0, counterValue(t, m.notifications.WithLabelValues("failed")))
}

func TestStorefront_NilReceiverIsNoop(t *testing.T) {
	var m *Storefront
	assert.NotPanics(t, func() {
		m.CheckoutFinished(m.CheckoutStarted(), ResultError)
		m.PaymentFinalized("manual", "confirmed")
		m.Notification(true)
		m.TimelineEvent()
	})
}

func TestRegister_ReusesAlreadyRegisteredCollector(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := NewStorefrontWithRegisterer(registry)
	second := NewStorefrontWithRegisterer(registry)

	first.OrderCancelled()
	second.OrderCancelled()
	assert.Equal(t, 2.0, counterValue(t, first.cancellations))
}

func TestOutbox_Backlog(t *testing.T) {
	m := NewOutboxWithRegisterer(prometheus.NewRegistry())

	m.Backlog(3, time.Now().Add(-time.Minute))
	assert.Equal(t, 3.0, counterValue(t, m.pending))
	assert.GreaterOrEqual(t, counterValue(t, m.oldestPendingAge), 59.0)

	m.Backlog(0, time.Time{})
	assert.Equal(t, 0.0, counterValue(t, m.oldestPendingAge))

	m.Attempt("sent")
	assert.Equal(t, 1.0, counterValue(t, m.attempts.WithLabelValues("sent")))
}
