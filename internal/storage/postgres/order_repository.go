package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const orderColumns = `
	id, number, COALESCE(account_id, ''), account_email, status,
	subtotal, tax, shipping, discount, total,
	payment_method, delivery_method, delivery_address, phone, contact_email,
	COALESCE(payment_intent_id, ''), payment_charge_id, payment_status, payment_receipt_url,
	tracking_token, created_at, updated_at`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) GetByID(ctx context.Context, id string) (domain.Order, error) {
	return getOrder(ctx, r.db, "id", id, false)
}

func (r *orderRepository) GetByNumber(ctx context.Context, number string) (domain.Order, error) {
	return getOrder(ctx, r.db, "number", number, false)
}

func (r *orderRepository) GetByTrackingToken(ctx context.Context, token string) (domain.Order, error) {
	return getOrder(ctx, r.db, "tracking_token", token, false)
}

func (r *orderRepository) GetByIntentID(ctx context.Context, intentID string) (domain.Order, error) {
	if intentID == "" {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return getOrder(ctx, r.db, "payment_intent_id", intentID, false)
}

func (r *orderRepository) SetPaymentIntent(ctx context.Context, orderID, intentID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET payment_intent_id = $2,
		    updated_at = $3
		WHERE id = $1
	`, orderID, intentID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set payment intent: %w", err)
	}
	return requireAffected(res, domain.ErrOrderNotFound)
}

// SyncPayment перезаписывает только непустые поля info.
func (r *orderRepository) SyncPayment(ctx context.Context, orderID string, info domain.PaymentInfo) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET payment_intent_id = COALESCE(NULLIF($2, ''), payment_intent_id),
		    payment_charge_id = COALESCE(NULLIF($3, ''), payment_charge_id),
		    payment_status = COALESCE(NULLIF($4, ''), payment_status),
		    payment_receipt_url = COALESCE(NULLIF($5, ''), payment_receipt_url)
		WHERE id = $1
	`, orderID, info.IntentID, info.ChargeID, info.Status, info.ReceiptURL)
	if err != nil {
		return fmt.Errorf("sync payment: %w", err)
	}
	return requireAffected(res, domain.ErrOrderNotFound)
}

func (r *orderRepository) TransitionStatus(ctx context.Context, orderID string, from, to domain.OrderStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $3,
		    updated_at = $4
		WHERE id = $1 AND status = $2
	`, orderID, string(from), string(to), time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("transition order status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected for order transition: %w", err)
	}
	if affected > 0 {
		return true, nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check order existence: %w", err)
	}
	if !exists {
		return false, domain.ErrOrderNotFound
	}
	return false, nil
}

// getOrder читает заказ по уникальной колонке; forUpdate блокирует строку до конца транзакции.
// column подставляется только из констант этого пакета.
func getOrder(ctx context.Context, q queryer, column, value string, forUpdate bool) (domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE ` + column + ` = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	order, err := scanOrder(q.QueryRowContext(ctx, query, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("get order by %s: %w", column, err)
	}

	order.Lines, err = loadOrderLines(ctx, q, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order                                   domain.Order
		status, paymentMethod, deliveryMethod string
	)
	err := row.Scan(
		&order.ID,
		&order.Number,
		&order.AccountID,
		&order.AccountEmail,
		&status,
		&order.Subtotal,
		&order.Tax,
		&order.Shipping,
		&order.Discount,
		&order.Total,
		&paymentMethod,
		&deliveryMethod,
		&order.DeliveryAddress,
		&order.Phone,
		&order.ContactEmail,
		&order.Payment.IntentID,
		&order.Payment.ChargeID,
		&order.Payment.Status,
		&order.Payment.ReceiptURL,
		&order.TrackingToken,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	order.Status = domain.OrderStatus(status)
	if !order.Status.Valid() {
		return domain.Order{}, fmt.Errorf("invalid order status %q for order %s", status, order.ID)
	}
	order.PaymentMethod = domain.PaymentMethod(paymentMethod)
	order.DeliveryMethod = domain.DeliveryMethod(deliveryMethod)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

func loadOrderLines(ctx context.Context, q queryer, orderID string) ([]domain.OrderLine, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, product_id, product_name, variant, quantity, unit_price, line_total
		FROM order_lines
		WHERE order_id = $1
		ORDER BY position
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order lines: %w", err)
	}
	defer rows.Close()

	lines := make([]domain.OrderLine, 0)
	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(
			&line.ID,
			&line.ProductID,
			&line.ProductName,
			&line.Variant,
			&line.Quantity,
			&line.UnitPrice,
			&line.LineTotal,
		); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order lines: %w", err)
	}
	return lines, nil
}

func requireAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
