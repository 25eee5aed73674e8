package domain

import "time"

// AggregateOrder — единственный тип агрегата, который пишет витрина.
const AggregateOrder = "order"

// События заказа, уходящие в топик storefront.order.events.
const (
	EventOrderCreated   = "order.created"
	EventOrderPaid      = "order.paid"
	EventOrderCancelled = "order.cancelled"
	EventOrderStatus    = "order.status_changed"
	EventPaymentFailed  = "payment.failed"
)

// OutboxMessage — событие заказа; Payload содержит JSON.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats — размер очереди неотправленных событий и возраст самого старого.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
