package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Product — товар каталога с общим остатком.
type Product struct {
	ID    int64
	Name  string
	Slug  string
	Price decimal.Decimal
	// SalePrice задан, если действует цена со скидкой.
	SalePrice decimal.NullDecimal
	Stock     int
}

// EffectivePrice возвращает цену со скидкой, если она есть, иначе базовую.
func (p Product) EffectivePrice() decimal.Decimal {
	if p.SalePrice.Valid {
		return p.SalePrice.Decimal
	}
	return p.Price
}

// Available вычисляется только из остатка.
func (p Product) Available() bool {
	return p.Stock > 0
}

// SizeVariant — остаток товара конкретного размера.
type SizeVariant struct {
	ProductID int64
	Label     string
	Stock     int
}

// StockKey адресует строку остатка: товар или товар+размер.
type StockKey struct {
	ProductID int64
	Variant   string
}

// NormalizeVariant убирает пробелы вокруг метки размера.
func NormalizeVariant(label string) string {
	return strings.TrimSpace(label)
}

// LessStockKey задаёт стабильный порядок блокировок: id товара, затем метка размера.
func LessStockKey(a, b StockKey) bool {
	if a.ProductID != b.ProductID {
		return a.ProductID < b.ProductID
	}
	return a.Variant < b.Variant
}
