package memory

import (
	"context"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// OrderRepository — представление Store для чтения и платёжных обновлений заказов.
type OrderRepository struct {
	store *Store
}

// NewOrderRepository возвращает репозиторий заказов поверх общего Store.
func NewOrderRepository(store *Store) *OrderRepository {
	return &OrderRepository{store: store}
}

func (r *OrderRepository) GetByID(_ context.Context, id string) (domain.Order, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	order, ok := r.store.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (r *OrderRepository) GetByNumber(ctx context.Context, number string) (domain.Order, error) {
	return r.getByIndex(ctx, r.store.orderByNumber, number)
}

func (r *OrderRepository) GetByTrackingToken(ctx context.Context, token string) (domain.Order, error) {
	return r.getByIndex(ctx, r.store.orderByToken, token)
}

func (r *OrderRepository) GetByIntentID(ctx context.Context, intentID string) (domain.Order, error) {
	return r.getByIndex(ctx, r.store.orderByIntent, intentID)
}

func (r *OrderRepository) SetPaymentIntent(_ context.Context, orderID, intentID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	order, ok := r.store.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if order.Payment.IntentID != "" && order.Payment.IntentID != intentID {
		delete(r.store.orderByIntent, order.Payment.IntentID)
	}
	order.Payment.IntentID = intentID
	r.store.orders[orderID] = order
	r.store.orderByIntent[intentID] = orderID
	return nil
}

func (r *OrderRepository) SyncPayment(_ context.Context, orderID string, info domain.PaymentInfo) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	order, ok := r.store.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if info.IntentID != "" {
		order.Payment.IntentID = info.IntentID
		r.store.orderByIntent[info.IntentID] = orderID
	}
	if info.ChargeID != "" {
		order.Payment.ChargeID = info.ChargeID
	}
	if info.Status != "" {
		order.Payment.Status = info.Status
	}
	if info.ReceiptURL != "" {
		order.Payment.ReceiptURL = info.ReceiptURL
	}
	r.store.orders[orderID] = order
	return nil
}

func (r *OrderRepository) TransitionStatus(_ context.Context, orderID string, from, to domain.OrderStatus) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	order, ok := r.store.orders[orderID]
	if !ok {
		return false, domain.ErrOrderNotFound
	}
	if order.Status != from {
		return false, nil
	}
	order.Status = to
	order.UpdatedAt = nowUTC()
	r.store.orders[orderID] = order
	return true, nil
}

func (r *OrderRepository) getByIndex(_ context.Context, index map[string]string, key string) (domain.Order, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	id, ok := index[key]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(r.store.orders[id]), nil
}

var _ domain.OrderRepository = (*OrderRepository)(nil)
