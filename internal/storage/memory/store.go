package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Store — in-memory хранилище витрины для разработки и тестов.
// Транзакция держит эксклюзивную блокировку всего хранилища, поэтому
// конкурирующие оформления выполняются строго по очереди.
type Store struct {
	mu sync.RWMutex

	products      map[int64]domain.Product
	variants      map[domain.StockKey]domain.SizeVariant
	nextProductID int64

	carts       map[string]*domain.Cart
	cartByOwner map[string]string

	orders        map[string]domain.Order
	orderByNumber map[string]string
	orderByToken  map[string]string
	orderByIntent map[string]string

	outbox domain.OutboxRepository
}

// NewStore создаёт пустое хранилище. При outbox == nil события отбрасываются.
func NewStore(outbox domain.OutboxRepository) *Store {
	return &Store{
		products:      make(map[int64]domain.Product),
		variants:      make(map[domain.StockKey]domain.SizeVariant),
		carts:         make(map[string]*domain.Cart),
		cartByOwner:   make(map[string]string),
		orders:        make(map[string]domain.Order),
		orderByNumber: make(map[string]string),
		orderByToken:  make(map[string]string),
		orderByIntent: make(map[string]string),
		outbox:        outbox,
	}
}

// WithinTx выполняет fn атомарно: при ошибке или отмене ctx изменения откатываются.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		tx.rollback()
		return err
	}

	if s.outbox != nil {
		for _, msg := range tx.outbox {
			if _, err := s.outbox.Enqueue(msg); err != nil {
				tx.rollback()
				return err
			}
		}
	}
	return nil
}

// Ping всегда успешен; нужен для health checks.
func (s *Store) Ping(context.Context) error {
	return nil
}

type memTx struct {
	store  *Store
	undo   []func()
	outbox []domain.OutboxMessage
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.outbox = nil
}

func (t *memTx) LockProducts(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	result := make(map[int64]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := t.store.products[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (t *memTx) LockVariants(_ context.Context, keys []domain.StockKey) (map[domain.StockKey]domain.SizeVariant, error) {
	result := make(map[domain.StockKey]domain.SizeVariant, len(keys))
	for _, key := range keys {
		if v, ok := t.store.variants[key]; ok {
			result[key] = v
		}
	}
	return result, nil
}

func (t *memTx) SetProductStock(_ context.Context, productID int64, stock int) error {
	product, ok := t.store.products[productID]
	if !ok {
		return &domain.ProductUnavailableError{ProductID: productID}
	}
	previous := product
	product.Stock = stock
	t.store.products[productID] = product
	t.undo = append(t.undo, func() { t.store.products[productID] = previous })
	return nil
}

func (t *memTx) SetVariantStock(_ context.Context, key domain.StockKey, stock int) error {
	variant, ok := t.store.variants[key]
	if !ok {
		return &domain.ProductUnavailableError{ProductID: key.ProductID}
	}
	previous := variant
	variant.Stock = stock
	t.store.variants[key] = variant
	t.undo = append(t.undo, func() { t.store.variants[key] = previous })
	return nil
}

func (t *memTx) LoadCart(_ context.Context, owner domain.CartOwner) (domain.Cart, error) {
	cart, ok := t.store.cartFor(owner)
	if !ok {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	return cloneCart(*cart), nil
}

func (t *memTx) ClearCart(_ context.Context, cartID string, at time.Time) error {
	cart, ok := t.store.carts[cartID]
	if !ok {
		return domain.ErrCartNotFound
	}
	previous := cloneCart(*cart)
	cart.Lines = nil
	cart.UpdatedAt = at
	t.undo = append(t.undo, func() {
		restored := previous
		t.store.carts[cartID] = &restored
	})
	return nil
}

func (t *memTx) InsertOrder(_ context.Context, order domain.Order) error {
	s := t.store
	if _, exists := s.orders[order.ID]; exists {
		return domain.ErrOrderNumberCollision
	}
	if _, exists := s.orderByNumber[order.Number]; exists {
		return domain.ErrOrderNumberCollision
	}
	if order.TrackingToken == "" {
		order.TrackingToken = uuid.NewString()
	}

	s.orders[order.ID] = cloneOrder(order)
	s.orderByNumber[order.Number] = order.ID
	s.orderByToken[order.TrackingToken] = order.ID
	if order.Payment.IntentID != "" {
		s.orderByIntent[order.Payment.IntentID] = order.ID
	}

	t.undo = append(t.undo, func() {
		delete(s.orders, order.ID)
		delete(s.orderByNumber, order.Number)
		delete(s.orderByToken, order.TrackingToken)
		if order.Payment.IntentID != "" {
			delete(s.orderByIntent, order.Payment.IntentID)
		}
	})
	return nil
}

func (t *memTx) LockOrder(_ context.Context, number string) (domain.Order, error) {
	id, ok := t.store.orderByNumber[number]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(t.store.orders[id]), nil
}

func (t *memTx) UpdateOrderStatus(_ context.Context, orderID string, status domain.OrderStatus, at time.Time) error {
	order, ok := t.store.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	previous := order
	order.Status = status
	order.UpdatedAt = at
	t.store.orders[orderID] = order
	t.undo = append(t.undo, func() { t.store.orders[orderID] = previous })
	return nil
}

func (t *memTx) EnqueueOutbox(_ context.Context, msg domain.OutboxMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	t.outbox = append(t.outbox, msg)
	return nil
}

func ownerKey(owner domain.CartOwner) string {
	if owner.AccountID != "" {
		return "account:" + owner.AccountID
	}
	return "anonymous:" + owner.AnonymousToken
}

// cartFor вызывается под блокировкой хранилища.
func (s *Store) cartFor(owner domain.CartOwner) (*domain.Cart, bool) {
	if owner.Empty() {
		return nil, false
	}
	id, ok := s.cartByOwner[ownerKey(owner)]
	if !ok {
		return nil, false
	}
	cart, ok := s.carts[id]
	return cart, ok
}

func cloneCart(src domain.Cart) domain.Cart {
	dst := src
	dst.Lines = append([]domain.CartLine(nil), src.Lines...)
	return dst
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Lines = append([]domain.OrderLine(nil), src.Lines...)
	return dst
}

var (
	_ domain.TxManager = (*Store)(nil)
	_ domain.Tx        = (*memTx)(nil)
)
