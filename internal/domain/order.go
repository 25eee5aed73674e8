package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа витрины.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, оплата ещё не подтверждена.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing — оплата подтверждена или заказ оплачивается при получении.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered — заказ вручён.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled — заказ отменён, остатки возвращены.
	OrderStatusCancelled OrderStatus = "cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
}

// Valid проверяет, что статус известен.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo проверяет допустимость перехода.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PaymentMethod — способ оплаты заказа.
type PaymentMethod string

const (
	PaymentMethodCard           PaymentMethod = "card"
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

// Valid проверяет способ оплаты.
func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodCard || m == PaymentMethodCashOnDelivery
}

// IsCard сообщает, что подтверждение откладывается до успешной оплаты.
func (m PaymentMethod) IsCard() bool {
	return m == PaymentMethodCard
}

// DeliveryMethod — способ доставки.
type DeliveryMethod string

const (
	DeliveryMethodStandard DeliveryMethod = "standard"
)

// PaymentInfo — идентификаторы и статус платежа на стороне шлюза.
type PaymentInfo struct {
	IntentID   string
	ChargeID   string
	Status     string
	ReceiptURL string
}

// OrderLine — зафиксированная позиция заказа. Цена не пересчитывается.
type OrderLine struct {
	ID          string
	ProductID   int64
	ProductName string
	Variant     string
	Quantity    int
	UnitPrice   decimal.Decimal
	LineTotal   decimal.Decimal
}

// Key возвращает ключ остатка строки.
func (l OrderLine) Key() StockKey {
	return StockKey{ProductID: l.ProductID, Variant: l.Variant}
}

// Order — неизменяемый снимок оформленной корзины.
type Order struct {
	ID             string
	Number         string
	AccountID      string
	AccountEmail   string
	Status         OrderStatus
	Subtotal       decimal.Decimal
	Tax            decimal.Decimal
	Shipping       decimal.Decimal
	Discount       decimal.Decimal
	Total          decimal.Decimal
	PaymentMethod  PaymentMethod
	DeliveryMethod DeliveryMethod
	// DeliveryAddress хранится денормализованным текстом.
	DeliveryAddress string
	Phone           string
	ContactEmail    string
	Payment         PaymentInfo
	// TrackingToken назначается один раз при создании и никогда не перегенерируется.
	TrackingToken string
	Lines         []OrderLine
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

var roundingUnit = decimal.New(1, -2)

// ValidateInvariants проверяет денежные инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if len(o.Lines) == 0 {
		errs = append(errs, ErrEmptyCart)
	}
	if o.Discount.IsNegative() {
		errs = append(errs, ErrNegativeDiscount)
	}
	if o.Discount.GreaterThan(o.Subtotal) {
		errs = append(errs, ErrDiscountExceedsSubtotal)
	}

	sum := decimal.Zero
	for _, line := range o.Lines {
		if line.Quantity <= 0 {
			errs = append(errs, ErrInvalidQuantity)
		}
		sum = sum.Add(line.LineTotal)
	}
	if !sum.Round(2).Equal(o.Subtotal) {
		errs = append(errs, ErrSubtotalMismatch)
	}

	expected := o.Subtotal.Add(o.Tax).Add(o.Shipping).Sub(o.Discount)
	if expected.Sub(o.Total).Abs().GreaterThan(roundingUnit) {
		errs = append(errs, ErrTotalsMismatch)
	}

	return errs
}

// RecipientEmail выбирает адрес для уведомления: контактный, иначе email аккаунта.
func (o Order) RecipientEmail() string {
	if email := strings.TrimSpace(o.ContactEmail); email != "" {
		return email
	}
	if o.AccountID != "" {
		return strings.TrimSpace(o.AccountEmail)
	}
	return ""
}

// MaskPhone заменяет все символы, кроме последних четырёх, на '*'.
func MaskPhone(phone string) string {
	runes := []rune(strings.TrimSpace(phone))
	if len(runes) <= 4 {
		return string(runes)
	}
	masked := make([]rune, len(runes))
	for i := range runes {
		if i < len(runes)-4 {
			masked[i] = '*'
			continue
		}
		masked[i] = runes[i]
	}
	return string(masked)
}
