package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outbox — метрики публикации transactional outbox.
type Outbox struct {
	attempts         *prometheus.CounterVec
	pending          prometheus.Gauge
	oldestPendingAge prometheus.Gauge
}

func NewOutbox() *Outbox {
	return NewOutboxWithRegisterer(prometheus.DefaultRegisterer)
}

func NewOutboxWithRegisterer(r prometheus.Registerer) *Outbox {
	return &Outbox{
		attempts: counterVec(r, prometheus.CounterOpts{
			Name: "storefront_outbox_publish_attempts_total",
			Help: "Outbox publish attempts grouped by result.",
		}, "result"),
		pending: gauge(r, prometheus.GaugeOpts{
			Name: "storefront_outbox_pending_records",
			Help: "Pending records in the transactional outbox.",
		}),
		oldestPendingAge: gauge(r, prometheus.GaugeOpts{
			Name: "storefront_outbox_oldest_pending_age_seconds",
			Help: "Age of the oldest pending outbox record.",
		}),
	}
}

// Attempt увеличивает счётчик попыток с результатом sent, retry_error, failed или dlq_failed.
func (m *Outbox) Attempt(result string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(result).Inc()
}

// Backlog обновляет размер backlog и возраст самого старого сообщения.
func (m *Outbox) Backlog(pending int, oldest time.Time) {
	if m == nil {
		return
	}
	m.pending.Set(float64(pending))
	if pending == 0 || oldest.IsZero() {
		m.oldestPendingAge.Set(0)
		return
	}
	age := time.Since(oldest).Seconds()
	if age < 0 {
		age = 0
	}
	m.oldestPendingAge.Set(age)
}

// IdempotencyCleanup — метрики очистки просроченных Idempotency-Key.
type IdempotencyCleanup struct {
	runs        *prometheus.CounterVec
	deleted     prometheus.Counter
	lastDeleted prometheus.Gauge
}

func NewIdempotencyCleanup() *IdempotencyCleanup {
	return NewIdempotencyCleanupWithRegisterer(prometheus.DefaultRegisterer)
}

func NewIdempotencyCleanupWithRegisterer(r prometheus.Registerer) *IdempotencyCleanup {
	return &IdempotencyCleanup{
		runs: counterVec(r, prometheus.CounterOpts{
			Name: "storefront_idempotency_cleanup_runs_total",
			Help: "Idempotency cleanup runs grouped by result.",
		}, "result"),
		deleted: counter(r, prometheus.CounterOpts{
			Name: "storefront_idempotency_cleanup_deleted_total",
			Help: "Expired idempotency records deleted.",
		}),
		lastDeleted: gauge(r, prometheus.GaugeOpts{
			Name: "storefront_idempotency_cleanup_last_deleted",
			Help: "Records deleted during the last cleanup run.",
		}),
	}
}

func (m *IdempotencyCleanup) Run(ok bool, deleted int) {
	if m == nil {
		return
	}
	if !ok {
		m.runs.WithLabelValues("error").Inc()
		return
	}
	m.runs.WithLabelValues("ok").Inc()
	m.lastDeleted.Set(float64(deleted))
}

func (m *IdempotencyCleanup) Deleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.deleted.Add(float64(n))
}
