// Package cart управляет позициями корзины до оформления заказа.
package cart

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Service проверяет позиции по каталогу и хранит их в репозитории корзин.
// Корзина не резервирует остатки: списание происходит только при оформлении.
type Service struct {
	carts   domain.CartRepository
	catalog domain.ProductRepository
	logger  *log.Entry
}

func NewService(carts domain.CartRepository, catalog domain.ProductRepository, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "cart")
	}
	return &Service{carts: carts, catalog: catalog, logger: logger}
}

// Get возвращает корзину владельца; отсутствующая корзина считается пустой.
func (s *Service) Get(ctx context.Context, owner domain.CartOwner) (domain.Cart, error) {
	cart, err := s.carts.Get(ctx, owner)
	if errors.Is(err, domain.ErrCartNotFound) {
		return domain.Cart{Owner: owner}, nil
	}
	return cart, err
}

// AddLine прибавляет quantity к позиции (product, variant) или создаёт её.
func (s *Service) AddLine(ctx context.Context, owner domain.CartOwner, productID int64, variant string, quantity int) (domain.Cart, error) {
	if quantity <= 0 {
		return domain.Cart{}, domain.ErrInvalidQuantity
	}
	cart, err := s.carts.GetOrCreate(ctx, owner)
	if err != nil {
		return domain.Cart{}, err
	}

	key := domain.StockKey{ProductID: productID, Variant: domain.NormalizeVariant(variant)}
	total := quantity
	for _, line := range cart.Lines {
		if line.Key() == key {
			total += line.Quantity
			break
		}
	}
	return s.setLine(ctx, owner, cart.ID, key, total)
}

// UpdateLine задаёт количество позиции; quantity <= 0 удаляет её.
func (s *Service) UpdateLine(ctx context.Context, owner domain.CartOwner, productID int64, variant string, quantity int) (domain.Cart, error) {
	key := domain.StockKey{ProductID: productID, Variant: domain.NormalizeVariant(variant)}
	if quantity <= 0 {
		return s.RemoveLine(ctx, owner, key.ProductID, key.Variant)
	}
	cart, err := s.carts.GetOrCreate(ctx, owner)
	if err != nil {
		return domain.Cart{}, err
	}
	return s.setLine(ctx, owner, cart.ID, key, quantity)
}

// RemoveLine удаляет позицию; отсутствие позиции или корзины не ошибка.
func (s *Service) RemoveLine(ctx context.Context, owner domain.CartOwner, productID int64, variant string) (domain.Cart, error) {
	cart, err := s.carts.Get(ctx, owner)
	if errors.Is(err, domain.ErrCartNotFound) {
		return domain.Cart{Owner: owner}, nil
	}
	if err != nil {
		return domain.Cart{}, err
	}

	key := domain.StockKey{ProductID: productID, Variant: domain.NormalizeVariant(variant)}
	if err := s.carts.RemoveLine(ctx, cart.ID, key); err != nil {
		return domain.Cart{}, err
	}
	return s.carts.Get(ctx, owner)
}

func (s *Service) setLine(ctx context.Context, owner domain.CartOwner, cartID string, key domain.StockKey, quantity int) (domain.Cart, error) {
	available, err := s.available(ctx, key)
	if err != nil {
		return domain.Cart{}, err
	}
	if quantity > available {
		return domain.Cart{}, &domain.InsufficientStockError{
			ProductID: key.ProductID,
			Variant:   key.Variant,
			Available: available,
			Requested: quantity,
		}
	}

	line := domain.CartLine{ProductID: key.ProductID, Variant: key.Variant, Quantity: quantity}
	if err := s.carts.SetLine(ctx, cartID, line); err != nil {
		return domain.Cart{}, err
	}
	s.logger.WithFields(log.Fields{
		"cart_id":    cartID,
		"product_id": key.ProductID,
		"variant":    key.Variant,
		"quantity":   quantity,
	}).Debug("cart line updated")
	return s.carts.Get(ctx, owner)
}

// available читает остаток без блокировки: итоговую проверку делает оформление.
func (s *Service) available(ctx context.Context, key domain.StockKey) (int, error) {
	product, err := s.catalog.GetProduct(ctx, key.ProductID)
	if err != nil {
		return 0, err
	}
	if key.Variant != "" {
		variant, found, err := s.catalog.GetVariant(ctx, key)
		if err != nil {
			return 0, err
		}
		if found {
			return variant.Stock, nil
		}
	}
	return product.Stock, nil
}
