package orderquery

import (
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// LineView — строка заказа в публичных ответах.
type LineView struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Variant     string `json:"variant,omitempty"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	LineTotal   string `json:"line_total"`
}

// Totals — денежная разбивка заказа.
type Totals struct {
	Subtotal string `json:"subtotal"`
	Tax      string `json:"tax"`
	Shipping string `json:"shipping"`
	Discount string `json:"discount"`
	Total    string `json:"total"`
}

// TrackingView — ответ на поиск по tracking token.
// Не содержит аккаунт, email, способ оплаты и телефон в открытом виде.
type TrackingView struct {
	Number          string     `json:"number"`
	Status          string     `json:"status"`
	DeliveryMethod  string     `json:"delivery_method"`
	DeliveryAddress string     `json:"delivery_address"`
	MaskedPhone     string     `json:"phone"`
	Totals          Totals     `json:"totals"`
	Lines           []LineView `json:"lines"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// DetailView — публичная карточка заказа по номеру. Платёжные и контактные поля не включаются.
type DetailView struct {
	Number          string     `json:"number"`
	Status          string     `json:"status"`
	DeliveryMethod  string     `json:"delivery_method"`
	DeliveryAddress string     `json:"delivery_address"`
	Totals          Totals     `json:"totals"`
	Lines           []LineView `json:"lines"`
	CreatedAt       time.Time  `json:"created_at"`
}

// TimelineEntry — событие таймлайна в ответе админки.
type TimelineEntry struct {
	Type       string    `json:"type"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func totalsOf(order domain.Order) Totals {
	return Totals{
		Subtotal: order.Subtotal.StringFixed(2),
		Tax:      order.Tax.StringFixed(2),
		Shipping: order.Shipping.StringFixed(2),
		Discount: order.Discount.StringFixed(2),
		Total:    order.Total.StringFixed(2),
	}
}

func linesOf(order domain.Order) []LineView {
	lines := make([]LineView, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, LineView{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Variant:     line.Variant,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice.StringFixed(2),
			LineTotal:   line.LineTotal.StringFixed(2),
		})
	}
	return lines
}

// NewTrackingView строит tracking-представление заказа.
func NewTrackingView(order domain.Order) TrackingView {
	return TrackingView{
		Number:          order.Number,
		Status:          string(order.Status),
		DeliveryMethod:  string(order.DeliveryMethod),
		DeliveryAddress: order.DeliveryAddress,
		MaskedPhone:     domain.MaskPhone(order.Phone),
		Totals:          totalsOf(order),
		Lines:           linesOf(order),
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
}

// NewDetailView строит публичную карточку заказа.
func NewDetailView(order domain.Order) DetailView {
	return DetailView{
		Number:          order.Number,
		Status:          string(order.Status),
		DeliveryMethod:  string(order.DeliveryMethod),
		DeliveryAddress: order.DeliveryAddress,
		Totals:          totalsOf(order),
		Lines:           linesOf(order),
		CreatedAt:       order.CreatedAt,
	}
}
