package domain

import (
	"context"
	"time"
)

// Notifier шлёт покупателю письмо о принятом заказе и сообщает, ушло ли оно.
type Notifier interface {
	NotifyOrderConfirmed(ctx context.Context, order Order) bool
}

// OrderViewInvalidator выкидывает из кеша страницу отслеживания после смены статуса.
type OrderViewInvalidator interface {
	Invalidate(ctx context.Context, trackingToken string)
}

// OutboxPublisher доставляет событие заказа во внешний брокер.
// Повторная доставка того же события допустима.
type OutboxPublisher interface {
	Publish(event OutboxMessage) error
}

// OutboxRepository — очередь событий заказа, записанных вместе с изменением заказа.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository ведёт историю заказа для страницы отслеживания.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository запоминает ответы на POST /checkout по заголовку Idempotency-Key.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	DeleteExpired(before time.Time, limit int) (int, error)
}
