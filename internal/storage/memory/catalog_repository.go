package memory

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// ProductRepository — каталог поверх общего Store.
type ProductRepository struct {
	store *Store
}

// NewProductRepository создаёт in-memory каталог.
func NewProductRepository(store *Store) *ProductRepository {
	return &ProductRepository{store: store}
}

func (r *ProductRepository) GetProduct(_ context.Context, id int64) (domain.Product, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	product, ok := r.store.products[id]
	if !ok {
		return domain.Product{}, &domain.ProductUnavailableError{ProductID: id}
	}
	return product, nil
}

func (r *ProductRepository) GetVariant(_ context.Context, key domain.StockKey) (domain.SizeVariant, bool, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	variant, ok := r.store.variants[key]
	return variant, ok, nil
}

// UpsertProduct сохраняет товар; при ID == 0 назначает следующий id.
func (r *ProductRepository) UpsertProduct(_ context.Context, product domain.Product) (domain.Product, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if product.ID == 0 {
		r.store.nextProductID++
		product.ID = r.store.nextProductID
	} else if product.ID > r.store.nextProductID {
		r.store.nextProductID = product.ID
	}
	r.store.products[product.ID] = product
	return product, nil
}

func (r *ProductRepository) UpsertVariant(_ context.Context, variant domain.SizeVariant) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.products[variant.ProductID]; !ok {
		return &domain.ProductUnavailableError{ProductID: variant.ProductID}
	}
	r.store.variants[domain.StockKey{ProductID: variant.ProductID, Variant: variant.Label}] = variant
	return nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

var _ domain.ProductRepository = (*ProductRepository)(nil)
