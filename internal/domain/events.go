package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// OrderEvent — полезная нагрузка событий заказа в outbox.
// Контактные данные покупателя в событие не попадают.
type OrderEvent struct {
	OrderID       string        `json:"order_id"`
	OrderNumber   string        `json:"order_number"`
	Status        OrderStatus   `json:"status"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	PaymentStatus string        `json:"payment_status,omitempty"`
	Total         string        `json:"total"`
	Reason        string        `json:"reason,omitempty"`
	OccurredAt    time.Time     `json:"occurred_at"`
}

// NewOrderEventMessage собирает сообщение outbox для события заказа.
func NewOrderEventMessage(eventType string, order Order, reason string, at time.Time) (OutboxMessage, error) {
	payload, err := json.Marshal(OrderEvent{
		OrderID:       order.ID,
		OrderNumber:   order.Number,
		Status:        order.Status,
		PaymentMethod: order.PaymentMethod,
		PaymentStatus: order.Payment.Status,
		Total:         order.Total.StringFixed(2),
		Reason:        reason,
		OccurredAt:    at.UTC(),
	})
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return OutboxMessage{
		AggregateType: AggregateOrder,
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       payload,
	}, nil
}
