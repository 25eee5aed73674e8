// Package stock ведёт остатки товаров и размеров под row-level блокировками.
package stock

import (
	"context"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Ledger резервирует и возвращает остатки внутри транзакции вызывающего.
type Ledger struct {
	logger *log.Entry
}

// NewLedger создаёт ledger.
func NewLedger(logger *log.Entry) *Ledger {
	if logger == nil {
		logger = log.WithField("component", "stock-ledger")
	}
	return &Ledger{logger: logger}
}

// Locked — заблокированные в транзакции строки остатков.
type Locked struct {
	products map[int64]domain.Product
	variants map[domain.StockKey]domain.SizeVariant
}

// Product возвращает заблокированный товар.
func (s *Locked) Product(id int64) (domain.Product, bool) {
	p, ok := s.products[id]
	return p, ok
}

// Resolve возвращает ключ, чей остаток управляет позицией:
// размер, если для него есть запись, иначе общий остаток товара.
func (s *Locked) Resolve(key domain.StockKey) domain.StockKey {
	if key.Variant != "" {
		if _, ok := s.variants[key]; ok {
			return key
		}
	}
	return domain.StockKey{ProductID: key.ProductID}
}

// Available возвращает текущий остаток для позиции.
func (s *Locked) Available(key domain.StockKey) int {
	resolved := s.Resolve(key)
	if resolved.Variant != "" {
		return s.variants[resolved].Stock
	}
	return s.products[resolved.ProductID].Stock
}

// Lock блокирует все товары, затем все размеры, в порядке (id товара, метка размера).
// Один порядок для всех транзакций исключает взаимные блокировки.
func (l *Ledger) Lock(ctx context.Context, tx domain.StockTx, keys []domain.StockKey) (*Locked, error) {
	productSet := make(map[int64]struct{}, len(keys))
	variantSet := make(map[domain.StockKey]struct{}, len(keys))
	for _, key := range keys {
		productSet[key.ProductID] = struct{}{}
		if key.Variant != "" {
			variantSet[key] = struct{}{}
		}
	}

	productIDs := make([]int64, 0, len(productSet))
	for id := range productSet {
		productIDs = append(productIDs, id)
	}
	sort.Slice(productIDs, func(i, j int) bool { return productIDs[i] < productIDs[j] })

	variantKeys := make([]domain.StockKey, 0, len(variantSet))
	for key := range variantSet {
		variantKeys = append(variantKeys, key)
	}
	sort.Slice(variantKeys, func(i, j int) bool { return domain.LessStockKey(variantKeys[i], variantKeys[j]) })

	products, err := tx.LockProducts(ctx, productIDs)
	if err != nil {
		return nil, fmt.Errorf("lock products: %w", err)
	}

	variants := map[domain.StockKey]domain.SizeVariant{}
	if len(variantKeys) > 0 {
		variants, err = tx.LockVariants(ctx, variantKeys)
		if err != nil {
			return nil, fmt.Errorf("lock variants: %w", err)
		}
	}

	return &Locked{products: products, variants: variants}, nil
}

// Check проверяет, что quantity не превышает остаток, без изменения данных.
func (l *Ledger) Check(locked *Locked, key domain.StockKey, quantity int) error {
	if quantity <= 0 {
		return domain.ErrInvalidQuantity
	}
	if _, ok := locked.products[key.ProductID]; !ok {
		return &domain.ProductUnavailableError{ProductID: key.ProductID}
	}
	if available := locked.Available(key); quantity > available {
		return &domain.InsufficientStockError{
			ProductID: key.ProductID,
			Variant:   key.Variant,
			Available: available,
			Requested: quantity,
		}
	}
	return nil
}

// Reserve списывает quantity с заблокированной строки остатка.
func (l *Ledger) Reserve(ctx context.Context, tx domain.StockTx, locked *Locked, key domain.StockKey, quantity int) error {
	if err := l.Check(locked, key, quantity); err != nil {
		return err
	}
	return l.apply(ctx, tx, locked, key, -quantity)
}

// Release возвращает quantity на строку остатка; результат не бывает отрицательным.
func (l *Ledger) Release(ctx context.Context, tx domain.StockTx, locked *Locked, key domain.StockKey, quantity int) error {
	if quantity <= 0 {
		return domain.ErrInvalidQuantity
	}
	if _, ok := locked.products[key.ProductID]; !ok {
		// Товар удалён из каталога: возвращать некуда.
		l.logger.WithField("product_id", key.ProductID).Warn("release skipped: product no longer exists")
		return nil
	}
	return l.apply(ctx, tx, locked, key, quantity)
}

// ReserveNow блокирует одну строку и сразу резервирует её.
func (l *Ledger) ReserveNow(ctx context.Context, tx domain.StockTx, key domain.StockKey, quantity int) error {
	locked, err := l.Lock(ctx, tx, []domain.StockKey{key})
	if err != nil {
		return err
	}
	return l.Reserve(ctx, tx, locked, key, quantity)
}

func (l *Ledger) apply(ctx context.Context, tx domain.StockTx, locked *Locked, key domain.StockKey, delta int) error {
	resolved := locked.Resolve(key)

	if resolved.Variant != "" {
		variant := locked.variants[resolved]
		variant.Stock = clamp(variant.Stock + delta)
		if err := tx.SetVariantStock(ctx, resolved, variant.Stock); err != nil {
			return fmt.Errorf("update variant stock: %w", err)
		}
		locked.variants[resolved] = variant
		return nil
	}

	product := locked.products[resolved.ProductID]
	product.Stock = clamp(product.Stock + delta)
	if err := tx.SetProductStock(ctx, resolved.ProductID, product.Stock); err != nil {
		return fmt.Errorf("update product stock: %w", err)
	}
	locked.products[resolved.ProductID] = product
	return nil
}

func clamp(stock int) int {
	if stock < 0 {
		return 0
	}
	return stock
}
