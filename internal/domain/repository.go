package domain

import (
	"context"
	"time"
)

// StockTx — операции над остатками внутри транзакции.
// Lock* берут row-level блокировку до конца транзакции.
type StockTx interface {
	// LockProducts блокирует товары в порядке возрастания id и возвращает найденные.
	LockProducts(ctx context.Context, ids []int64) (map[int64]Product, error)
	// LockVariants блокирует размеры в порядке (id товара, метка) и возвращает найденные.
	LockVariants(ctx context.Context, keys []StockKey) (map[StockKey]SizeVariant, error)
	SetProductStock(ctx context.Context, productID int64, stock int) error
	SetVariantStock(ctx context.Context, key StockKey, stock int) error
}

// Tx — единица работы оформления заказа.
type Tx interface {
	StockTx

	// LoadCart читает корзину владельца; ErrCartNotFound, если её нет.
	LoadCart(ctx context.Context, owner CartOwner) (Cart, error)
	// ClearCart удаляет позиции корзины и обновляет её timestamp.
	ClearCart(ctx context.Context, cartID string, at time.Time) error
	// InsertOrder сохраняет заказ со строками; ErrOrderNumberCollision при дубле номера.
	InsertOrder(ctx context.Context, order Order) error
	// LockOrder блокирует заказ по номеру; ErrOrderNotFound, если его нет.
	LockOrder(ctx context.Context, number string) (Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status OrderStatus, at time.Time) error
	// EnqueueOutbox ставит событие в outbox той же транзакции.
	EnqueueOutbox(ctx context.Context, msg OutboxMessage) error
}

// TxManager выполняет fn в одной транзакции: ошибка fn откатывает всё.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// OrderRepository — чтение заказов и обновление платёжных полей вне транзакции оформления.
type OrderRepository interface {
	GetByID(ctx context.Context, id string) (Order, error)
	GetByNumber(ctx context.Context, number string) (Order, error)
	GetByTrackingToken(ctx context.Context, token string) (Order, error)
	GetByIntentID(ctx context.Context, intentID string) (Order, error)
	// SetPaymentIntent запоминает id intent; tracking token не трогается.
	SetPaymentIntent(ctx context.Context, orderID, intentID string) error
	// SyncPayment обновляет платёжные поля без изменения статуса.
	SyncPayment(ctx context.Context, orderID string, info PaymentInfo) error
	// TransitionStatus меняет статус только если текущий равен from. Возвращает true при изменении.
	TransitionStatus(ctx context.Context, orderID string, from, to OrderStatus) (bool, error)
}

// ProductRepository — каталог в объёме, нужном корзине и сидеру.
type ProductRepository interface {
	GetProduct(ctx context.Context, id int64) (Product, error)
	GetVariant(ctx context.Context, key StockKey) (SizeVariant, bool, error)
	UpsertProduct(ctx context.Context, product Product) (Product, error)
	UpsertVariant(ctx context.Context, variant SizeVariant) error
}

// CartRepository управляет корзинами вне оформления заказа.
type CartRepository interface {
	Get(ctx context.Context, owner CartOwner) (Cart, error)
	GetOrCreate(ctx context.Context, owner CartOwner) (Cart, error)
	// SetLine создаёт или заменяет позицию (cart, product, variant).
	SetLine(ctx context.Context, cartID string, line CartLine) error
	RemoveLine(ctx context.Context, cartID string, key StockKey) error
}
