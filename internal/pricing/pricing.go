// Package pricing считает денежную разбивку заказа. Функции пакета чистые.
package pricing

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Places — число знаков после запятой у всех денежных полей.
const Places = 2

var (
	// ErrNegativeTaxRate — ставка налога не может быть отрицательной.
	ErrNegativeTaxRate = errors.New("tax rate must be non-negative")
	// ErrNegativeShipping — стоимость доставки и порог не могут быть отрицательными.
	ErrNegativeShipping = errors.New("shipping settings must be non-negative")
)

// Config — настраиваемые параметры расчёта.
type Config struct {
	TaxRate               decimal.Decimal
	FreeShippingThreshold decimal.Decimal
	StandardShippingCost  decimal.Decimal
}

// DefaultConfig: НДС 21%, бесплатная доставка от 50.00, иначе 3.99.
func DefaultConfig() Config {
	return Config{
		TaxRate:               decimal.RequireFromString("0.21"),
		FreeShippingThreshold: decimal.RequireFromString("50.00"),
		StandardShippingCost:  decimal.RequireFromString("3.99"),
	}
}

// Validate проверяет конфигурацию при старте.
func (c Config) Validate() error {
	if c.TaxRate.IsNegative() {
		return ErrNegativeTaxRate
	}
	if c.FreeShippingThreshold.IsNegative() || c.StandardShippingCost.IsNegative() {
		return ErrNegativeShipping
	}
	return nil
}

// Breakdown — результат расчёта; все поля округлены до 2 знаков.
type Breakdown struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Shipping decimal.Decimal `json:"shipping"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
}

// Round округляет half-up до копеек.
func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(Places)
}

// LineTotal возвращает unit price × quantity.
func LineTotal(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
}

// Calculate считает subtotal, скидку, доставку, налог и итог по суммам строк.
// Скидка больше subtotal молча урезается до subtotal; отрицательная скидка считается нулевой.
func Calculate(cfg Config, lineTotals []decimal.Decimal, discount decimal.Decimal) Breakdown {
	sum := decimal.Zero
	for _, total := range lineTotals {
		sum = sum.Add(total)
	}
	subtotal := Round(sum)

	discount = Round(discount)
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}

	shipping := Round(cfg.StandardShippingCost)
	if subtotal.GreaterThanOrEqual(cfg.FreeShippingThreshold) {
		shipping = decimal.Zero
	}

	tax := Round(subtotal.Sub(discount).Mul(cfg.TaxRate))
	total := Round(subtotal.Add(tax).Add(shipping).Sub(discount))

	return Breakdown{
		Subtotal: subtotal.Round(Places),
		Tax:      tax,
		Shipping: shipping.Round(Places),
		Discount: discount.Round(Places),
		Total:    total,
	}
}
