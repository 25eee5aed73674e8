package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// pgTx реализует domain.Tx поверх *sql.Tx.
// Блокировки берутся SELECT ... FOR UPDATE в порядке id товара, затем метки размера.
type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) LockProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	result := make(map[int64]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("lock products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan locked product: %w", err)
		}
		result[product.ID] = product
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate locked products: %w", err)
	}
	return result, nil
}

func (t *pgTx) LockVariants(ctx context.Context, keys []domain.StockKey) (map[domain.StockKey]domain.SizeVariant, error) {
	result := make(map[domain.StockKey]domain.SizeVariant, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	sorted := append([]domain.StockKey(nil), keys...)
	sort.Slice(sorted, func(i, j int) bool { return domain.LessStockKey(sorted[i], sorted[j]) })
	productIDs := make([]int64, len(sorted))
	labels := make([]string, len(sorted))
	for i, key := range sorted {
		productIDs[i] = key.ProductID
		labels[i] = key.Variant
	}

	// COLLATE "C" совпадает с побайтовым сравнением строк в LessStockKey.
	rows, err := t.tx.QueryContext(ctx, `
		SELECT v.product_id, v.label, v.stock
		FROM product_variants v
		JOIN unnest($1::bigint[], $2::text[]) AS k(product_id, label)
		  ON v.product_id = k.product_id AND v.label = k.label
		ORDER BY v.product_id, v.label COLLATE "C"
		FOR UPDATE OF v
	`, productIDs, labels)
	if err != nil {
		return nil, fmt.Errorf("lock variants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var variant domain.SizeVariant
		if err := rows.Scan(&variant.ProductID, &variant.Label, &variant.Stock); err != nil {
			return nil, fmt.Errorf("scan locked variant: %w", err)
		}
		result[domain.StockKey{ProductID: variant.ProductID, Variant: variant.Label}] = variant
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate locked variants: %w", err)
	}
	return result, nil
}

func (t *pgTx) SetProductStock(ctx context.Context, productID int64, stock int) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE products SET stock = $2, updated_at = $3 WHERE id = $1
	`, productID, stock, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set product stock: %w", err)
	}
	return requireAffected(res, &domain.ProductUnavailableError{ProductID: productID})
}

func (t *pgTx) SetVariantStock(ctx context.Context, key domain.StockKey, stock int) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE product_variants SET stock = $3 WHERE product_id = $1 AND label = $2
	`, key.ProductID, key.Variant, stock)
	if err != nil {
		return fmt.Errorf("set variant stock: %w", err)
	}
	return requireAffected(res, &domain.ProductUnavailableError{ProductID: key.ProductID})
}

// LoadCart блокирует строку корзины, чтобы параллельное оформление той же корзины ждало.
func (t *pgTx) LoadCart(ctx context.Context, owner domain.CartOwner) (domain.Cart, error) {
	return loadCart(ctx, t.tx, owner, true)
}

func (t *pgTx) ClearCart(ctx context.Context, cartID string, at time.Time) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM cart_lines WHERE cart_id = $1`, cartID); err != nil {
		return fmt.Errorf("clear cart lines: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, `UPDATE carts SET updated_at = $2 WHERE id = $1`, cartID, at)
	if err != nil {
		return fmt.Errorf("touch cart: %w", err)
	}
	return requireAffected(res, domain.ErrCartNotFound)
}

func (t *pgTx) InsertOrder(ctx context.Context, order domain.Order) error {
	if order.TrackingToken == "" {
		order.TrackingToken = uuid.NewString()
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, number, account_id, account_email, status,
			subtotal, tax, shipping, discount, total,
			payment_method, delivery_method, delivery_address, phone, contact_email,
			payment_intent_id, payment_charge_id, payment_status, payment_receipt_url,
			tracking_token, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
	`,
		order.ID,
		order.Number,
		nullIfEmpty(order.AccountID),
		order.AccountEmail,
		string(order.Status),
		order.Subtotal,
		order.Tax,
		order.Shipping,
		order.Discount,
		order.Total,
		string(order.PaymentMethod),
		string(order.DeliveryMethod),
		order.DeliveryAddress,
		order.Phone,
		order.ContactEmail,
		nullIfEmpty(order.Payment.IntentID),
		order.Payment.ChargeID,
		order.Payment.Status,
		order.Payment.ReceiptURL,
		order.TrackingToken,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		if isOrderNumberCollision(err) {
			return domain.ErrOrderNumberCollision
		}
		return fmt.Errorf("insert order %s: %w", order.Number, err)
	}

	for i, line := range order.Lines {
		if line.ID == "" {
			line.ID = uuid.NewString()
		}
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO order_lines (
				id, order_id, position, product_id, product_name, variant, quantity, unit_price, line_total
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`,
			line.ID,
			order.ID,
			i,
			line.ProductID,
			line.ProductName,
			line.Variant,
			line.Quantity,
			line.UnitPrice,
			line.LineTotal,
		); err != nil {
			return fmt.Errorf("insert order line %d: %w", i, err)
		}
	}
	return nil
}

func (t *pgTx) LockOrder(ctx context.Context, number string) (domain.Order, error) {
	return getOrder(ctx, t.tx, "number", number, true)
}

func (t *pgTx) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1
	`, orderID, string(status), at)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return requireAffected(res, domain.ErrOrderNotFound)
}

func (t *pgTx) EnqueueOutbox(ctx context.Context, msg domain.OutboxMessage) error {
	_, err := insertOutbox(ctx, t.tx, msg)
	return err
}

// loadCart читает корзину владельца и её позиции в порядке добавления.
func loadCart(ctx context.Context, q queryer, owner domain.CartOwner, forUpdate bool) (domain.Cart, error) {
	if owner.Empty() {
		return domain.Cart{}, domain.ErrCartNotFound
	}

	column, value := "anonymous_token", owner.AnonymousToken
	if owner.AccountID != "" {
		column, value = "account_id", owner.AccountID
	}
	query := `
		SELECT id, COALESCE(account_id, ''), COALESCE(anonymous_token, ''), created_at, updated_at
		FROM carts
		WHERE ` + column + ` = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var cart domain.Cart
	err := q.QueryRowContext(ctx, query, value).Scan(
		&cart.ID,
		&cart.Owner.AccountID,
		&cart.Owner.AnonymousToken,
		&cart.CreatedAt,
		&cart.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Cart{}, domain.ErrCartNotFound
		}
		return domain.Cart{}, fmt.Errorf("load cart: %w", err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT product_id, variant, quantity
		FROM cart_lines
		WHERE cart_id = $1
		ORDER BY added_at, product_id, variant
	`, cart.ID)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("load cart lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.CartLine
		if err := rows.Scan(&line.ProductID, &line.Variant, &line.Quantity); err != nil {
			return domain.Cart{}, fmt.Errorf("scan cart line: %w", err)
		}
		cart.Lines = append(cart.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return domain.Cart{}, fmt.Errorf("iterate cart lines: %w", err)
	}
	return cart, nil
}

var _ domain.Tx = (*pgTx)(nil)
