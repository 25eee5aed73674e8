package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyCart возвращается, если в корзине нет ни одной позиции.
	ErrEmptyCart = errors.New("cart is empty")
	// Корзина владельца не найдена.
	ErrCartNotFound = errors.New("cart not found")
	// Товар из корзины больше не существует.
	ErrProductUnavailable = errors.New("product unavailable")
	// Запрошенное количество превышает остаток.
	ErrInsufficientStock = errors.New("insufficient stock")
	// Количество позиции должно быть больше нуля.
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")
	// Номер заказа уже занят; операцию можно повторить.
	ErrOrderNumberCollision = errors.New("order number collision")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// Заказ принадлежит другому аккаунту.
	ErrForbidden = errors.New("order belongs to another account")
	// Недопустимый переход статуса заказа.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// Неизвестный способ оплаты.
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	// Не указан адрес доставки.
	ErrDeliveryAddressRequired = errors.New("delivery address is required")
	// Не указан контактный телефон.
	ErrPhoneRequired = errors.New("phone is required")
	// Скидка не может быть отрицательной.
	ErrNegativeDiscount = errors.New("discount must be non-negative")
	// Денежные поля заказа не сходятся.
	ErrTotalsMismatch = errors.New("order totals do not add up")
	// Сумма строк не равна subtotal.
	ErrSubtotalMismatch = errors.New("order lines do not sum to subtotal")
	// Скидка больше subtotal.
	ErrDiscountExceedsSubtotal = errors.New("discount exceeds subtotal")

	// Базовая ошибка платёжного шлюза.
	ErrPaymentGateway = errors.New("payment gateway error")
	// Шлюз выключен или не задан секрет.
	ErrGatewayMisconfigured = errors.New("payment gateway is not configured")
	// У вебхука нет заголовка подписи.
	ErrSignatureMissing = errors.New("webhook signature header is missing")
	// Подпись вебхука не совпала.
	ErrSignatureInvalid = errors.New("webhook signature is invalid")
	// Тело вебхука не удалось разобрать.
	ErrWebhookPayload = errors.New("webhook payload is malformed")
	// Payment intent ещё не в статусе succeeded.
	ErrIntentNotSucceeded = errors.New("payment intent has not succeeded")
	// Заказ оплачивается не картой.
	ErrNotCardPayment = errors.New("order is not paid by card")
	// Circuit breaker не пропускает вызовы к шлюзу.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// Письмо не удалось доставить.
	ErrNotificationDelivery = errors.New("notification delivery failed")
	// У заказа нет адреса для уведомления.
	ErrNoRecipient = errors.New("no notification recipient")

	// Не передан idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// Не посчитан hash запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// Ключ уже использован тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// Ключ уже использован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// Запись по ключу не найдена.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")

	// Ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// InsufficientStockError описывает нехватку остатка по товару или размеру.
type InsufficientStockError struct {
	ProductID int64
	Variant   string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	if e.Variant != "" {
		return fmt.Sprintf("insufficient stock for product %d (size %s): available %d, requested %d",
			e.ProductID, e.Variant, e.Available, e.Requested)
	}
	return fmt.Sprintf("insufficient stock for product %d: available %d, requested %d",
		e.ProductID, e.Available, e.Requested)
}

// Is позволяет сравнивать с ErrInsufficientStock.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// ProductUnavailableError — товар из корзины исчез из каталога.
type ProductUnavailableError struct {
	ProductID int64
}

func (e *ProductUnavailableError) Error() string {
	return fmt.Sprintf("product %d is no longer available", e.ProductID)
}

func (e *ProductUnavailableError) Is(target error) bool {
	return target == ErrProductUnavailable
}

// PaymentGatewayError оборачивает ошибку шлюза с контекстом для ручного разбора.
type PaymentGatewayError struct {
	Op       string
	OrderID  string
	IntentID string
	Err      error
}

func (e *PaymentGatewayError) Error() string {
	msg := "payment gateway: " + e.Op
	if e.OrderID != "" {
		msg += " order=" + e.OrderID
	}
	if e.IntentID != "" {
		msg += " intent=" + e.IntentID
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PaymentGatewayError) Unwrap() error { return e.Err }

func (e *PaymentGatewayError) Is(target error) bool {
	return target == ErrPaymentGateway
}

// NotificationDeliveryError — ошибка отправки письма. Наружу не пробрасывается.
type NotificationDeliveryError struct {
	OrderNumber string
	Recipient   string
	Err         error
}

func (e *NotificationDeliveryError) Error() string {
	return fmt.Sprintf("deliver confirmation for order %s to %s: %v", e.OrderNumber, e.Recipient, e.Err)
}

func (e *NotificationDeliveryError) Unwrap() error { return e.Err }

func (e *NotificationDeliveryError) Is(target error) bool {
	return target == ErrNotificationDelivery
}

// IsRetryable сообщает, можно ли безопасно повторить операцию целиком.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrOrderNumberCollision)
}
