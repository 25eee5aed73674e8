package domain

import "time"

// Типы событий таймлайна заказа.
const (
	TimelineOrderCreated   = "order_created"
	TimelineStatusChanged  = "status_changed"
	TimelinePaymentStatus  = "payment_status"
	TimelineOrderCancelled = "order_cancelled"
	TimelineNotification   = "notification"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}
