package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// CartRepository — корзины поверх общего Store.
type CartRepository struct {
	store *Store
}

// NewCartRepository создаёт in-memory репозиторий корзин.
func NewCartRepository(store *Store) *CartRepository {
	return &CartRepository{store: store}
}

func (r *CartRepository) Get(_ context.Context, owner domain.CartOwner) (domain.Cart, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	cart, ok := r.store.cartFor(owner)
	if !ok {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	return cloneCart(*cart), nil
}

func (r *CartRepository) GetOrCreate(_ context.Context, owner domain.CartOwner) (domain.Cart, error) {
	if owner.Empty() {
		return domain.Cart{}, domain.ErrCartNotFound
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if cart, ok := r.store.cartFor(owner); ok {
		return cloneCart(*cart), nil
	}

	now := nowUTC()
	cart := &domain.Cart{
		ID:        uuid.NewString(),
		Owner:     owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.store.carts[cart.ID] = cart
	r.store.cartByOwner[ownerKey(owner)] = cart.ID
	return cloneCart(*cart), nil
}

func (r *CartRepository) SetLine(_ context.Context, cartID string, line domain.CartLine) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	cart, ok := r.store.carts[cartID]
	if !ok {
		return domain.ErrCartNotFound
	}

	replaced := false
	for i := range cart.Lines {
		if cart.Lines[i].Key() == line.Key() {
			cart.Lines[i] = line
			replaced = true
			break
		}
	}
	if !replaced {
		cart.Lines = append(cart.Lines, line)
	}
	cart.UpdatedAt = nowUTC()
	return nil
}

func (r *CartRepository) RemoveLine(_ context.Context, cartID string, key domain.StockKey) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	cart, ok := r.store.carts[cartID]
	if !ok {
		return domain.ErrCartNotFound
	}

	lines := cart.Lines[:0]
	for _, line := range cart.Lines {
		if line.Key() != key {
			lines = append(lines, line)
		}
	}
	cart.Lines = lines
	cart.UpdatedAt = nowUTC()
	return nil
}

var _ domain.CartRepository = (*CartRepository)(nil)
