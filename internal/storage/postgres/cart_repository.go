package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type cartRepository struct {
	db *sql.DB
}

// NewCartRepository создаёт PostgreSQL-реализацию CartRepository.
func NewCartRepository(store *Store) domain.CartRepository {
	return &cartRepository{db: store.DB()}
}

func (r *cartRepository) Get(ctx context.Context, owner domain.CartOwner) (domain.Cart, error) {
	return loadCart(ctx, r.db, owner, false)
}

// GetOrCreate создаёт корзину владельца; гонка двух вставок разрешается уникальным индексом.
func (r *cartRepository) GetOrCreate(ctx context.Context, owner domain.CartOwner) (domain.Cart, error) {
	if owner.Empty() {
		return domain.Cart{}, domain.ErrCartNotFound
	}

	now := time.Now().UTC()
	var accountID, anonymousToken any
	if owner.AccountID != "" {
		accountID = owner.AccountID
	} else {
		anonymousToken = owner.AnonymousToken
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO carts (id, account_id, anonymous_token, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$4)
		ON CONFLICT DO NOTHING
	`, uuid.NewString(), accountID, anonymousToken, now)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("create cart: %w", err)
	}
	return loadCart(ctx, r.db, owner, false)
}

func (r *cartRepository) SetLine(ctx context.Context, cartID string, line domain.CartLine) error {
	now := time.Now().UTC()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set cart line tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE carts SET updated_at = $2 WHERE id = $1`, cartID, now)
	if err != nil {
		return fmt.Errorf("touch cart: %w", err)
	}
	if err := requireAffected(res, domain.ErrCartNotFound); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cart_lines (cart_id, product_id, variant, quantity, added_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (cart_id, product_id, variant) DO UPDATE SET quantity = EXCLUDED.quantity
	`, cartID, line.ProductID, line.Variant, line.Quantity, now); err != nil {
		if hasPgCode(err, foreignKeyViolationCode) {
			return &domain.ProductUnavailableError{ProductID: line.ProductID}
		}
		return fmt.Errorf("set cart line: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit set cart line: %w", err)
	}
	return nil
}

func (r *cartRepository) RemoveLine(ctx context.Context, cartID string, key domain.StockKey) error {
	now := time.Now().UTC()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin remove cart line tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE carts SET updated_at = $2 WHERE id = $1`, cartID, now)
	if err != nil {
		return fmt.Errorf("touch cart: %w", err)
	}
	if err := requireAffected(res, domain.ErrCartNotFound); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM cart_lines WHERE cart_id = $1 AND product_id = $2 AND variant = $3
	`, cartID, key.ProductID, key.Variant); err != nil {
		return fmt.Errorf("remove cart line: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit remove cart line: %w", err)
	}
	return nil
}

var _ domain.CartRepository = (*cartRepository)(nil)
