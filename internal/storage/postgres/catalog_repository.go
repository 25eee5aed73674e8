package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const productColumns = `id, name, COALESCE(slug, ''), price, sale_price, stock`

type productRepository struct {
	db *sql.DB
}

// NewProductRepository создаёт PostgreSQL-реализацию каталога.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{db: store.DB()}
}

func (r *productRepository) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	product, err := scanProduct(r.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, &domain.ProductUnavailableError{ProductID: id}
		}
		return domain.Product{}, fmt.Errorf("get product: %w", err)
	}
	return product, nil
}

func (r *productRepository) GetVariant(ctx context.Context, key domain.StockKey) (domain.SizeVariant, bool, error) {
	variant := domain.SizeVariant{ProductID: key.ProductID, Label: key.Variant}
	err := r.db.QueryRowContext(ctx, `
		SELECT stock FROM product_variants WHERE product_id = $1 AND label = $2
	`, key.ProductID, key.Variant).Scan(&variant.Stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SizeVariant{}, false, nil
		}
		return domain.SizeVariant{}, false, fmt.Errorf("get variant: %w", err)
	}
	return variant, true, nil
}

// UpsertProduct вставляет товар или обновляет существующий по id.
// При явном id последовательность сдвигается, чтобы следующие вставки не конфликтовали.
func (r *productRepository) UpsertProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
	now := time.Now().UTC()

	if product.ID == 0 {
		err := r.db.QueryRowContext(ctx, `
			INSERT INTO products (name, slug, price, sale_price, stock, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$6)
			RETURNING id
		`, product.Name, nullIfEmpty(product.Slug), product.Price, product.SalePrice, product.Stock, now).Scan(&product.ID)
		if err != nil {
			return domain.Product{}, fmt.Errorf("insert product: %w", err)
		}
		return product, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Product{}, fmt.Errorf("begin upsert product tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO products (id, name, slug, price, sale_price, stock, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    slug = EXCLUDED.slug,
		    price = EXCLUDED.price,
		    sale_price = EXCLUDED.sale_price,
		    stock = EXCLUDED.stock,
		    updated_at = EXCLUDED.updated_at
	`, product.ID, product.Name, nullIfEmpty(product.Slug), product.Price, product.SalePrice, product.Stock, now); err != nil {
		return domain.Product{}, fmt.Errorf("upsert product: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		SELECT setval(pg_get_serial_sequence('products', 'id'), GREATEST((SELECT MAX(id) FROM products), 1))
	`); err != nil {
		return domain.Product{}, fmt.Errorf("advance product sequence: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Product{}, fmt.Errorf("commit upsert product: %w", err)
	}
	return product, nil
}

func (r *productRepository) UpsertVariant(ctx context.Context, variant domain.SizeVariant) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO product_variants (product_id, label, stock)
		VALUES ($1,$2,$3)
		ON CONFLICT (product_id, label) DO UPDATE SET stock = EXCLUDED.stock
	`, variant.ProductID, variant.Label, variant.Stock)
	if err != nil {
		if hasPgCode(err, foreignKeyViolationCode) {
			return &domain.ProductUnavailableError{ProductID: variant.ProductID}
		}
		return fmt.Errorf("upsert variant: %w", err)
	}
	return nil
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var product domain.Product
	err := row.Scan(
		&product.ID,
		&product.Name,
		&product.Slug,
		&product.Price,
		&product.SalePrice,
		&product.Stock,
	)
	return product, err
}

var _ domain.ProductRepository = (*productRepository)(nil)
