package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// openPostgresStoreForIntegrationTest открывает базу из STOREFRONT_POSTGRES_TEST_DSN,
// применяет миграции и очищает таблицы. Без DSN тест пропускается.
func openPostgresStoreForIntegrationTest(t *testing.T) *Store {
	t.Helper()

	store := openRawPostgresStoreForIntegrationTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	truncateAllTablesForIntegrationTest(t, store)
	return store
}

func openRawPostgresStoreForIntegrationTest(t *testing.T) *Store {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("STOREFRONT_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("STOREFRONT_POSTGRES_TEST_DSN is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func truncateAllTablesForIntegrationTest(t *testing.T, store *Store) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := store.DB().ExecContext(ctx, `
		TRUNCATE TABLE
			idempotency_keys,
			outbox_messages,
			timeline_events,
			order_lines,
			orders,
			cart_lines,
			carts,
			product_variants,
			products
		RESTART IDENTITY CASCADE
	`); err != nil {
		t.Fatalf("truncate integration tables: %v", err)
	}
}

func seedProduct(t *testing.T, store *Store, name, price string, stock int) domain.Product {
	t.Helper()

	product, err := NewProductRepository(store).UpsertProduct(context.Background(), domain.Product{
		Name:  name,
		Price: decimal.RequireFromString(price),
		Stock: stock,
	})
	if err != nil {
		t.Fatalf("seed product %s: %v", name, err)
	}
	return product
}

func sampleOrder(product domain.Product, quantity int) domain.Order {
	now := time.Now().UTC().Truncate(time.Microsecond)
	lineTotal := product.Price.Mul(decimal.NewFromInt(int64(quantity)))
	return domain.Order{
		ID:              uuid.NewString(),
		Number:          "N-" + uuid.NewString()[:8],
		AccountID:       "acc-1",
		AccountEmail:    "owner@example.com",
		Status:          domain.OrderStatusPending,
		Subtotal:        lineTotal,
		Tax:             decimal.Zero,
		Shipping:        decimal.Zero,
		Discount:        decimal.Zero,
		Total:           lineTotal,
		PaymentMethod:   domain.PaymentMethodCard,
		DeliveryMethod:  domain.DeliveryMethodStandard,
		DeliveryAddress: "Calle Mayor 1, Madrid",
		Phone:           "+34600111222",
		TrackingToken:   uuid.NewString(),
		Lines: []domain.OrderLine{{
			ID:          uuid.NewString(),
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    quantity,
			UnitPrice:   product.Price,
			LineTotal:   lineTotal,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func insertOrderForIntegrationTest(t *testing.T, store *Store, order domain.Order) {
	t.Helper()
	if err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		return tx.InsertOrder(ctx, order)
	}); err != nil {
		t.Fatalf("insert order: %v", err)
	}
}
