package stock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type recordingTx struct {
	products map[int64]domain.Product
	variants map[domain.StockKey]domain.SizeVariant

	lockedProducts [][]int64
	lockedVariants [][]domain.StockKey
}

func newRecordingTx() *recordingTx {
	return &recordingTx{
		products: map[int64]domain.Product{},
		variants: map[domain.StockKey]domain.SizeVariant{},
	}
}

func (t *recordingTx) LockProducts(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	t.lockedProducts = append(t.lockedProducts, append([]int64(nil), ids...))
	out := map[int64]domain.Product{}
	for _, id := range ids {
		if p, ok := t.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (t *recordingTx) LockVariants(_ context.Context, keys []domain.StockKey) (map[domain.StockKey]domain.SizeVariant, error) {
	t.lockedVariants = append(t.lockedVariants, append([]domain.StockKey(nil), keys...))
	out := map[domain.StockKey]domain.SizeVariant{}
	for _, key := range keys {
		if v, ok := t.variants[key]; ok {
			out[key] = v
		}
	}
	return out, nil
}

func (t *recordingTx) SetProductStock(_ context.Context, id int64, stock int) error {
	p := t.products[id]
	p.Stock = stock
	t.products[id] = p
	return nil
}

func (t *recordingTx) SetVariantStock(_ context.Context, key domain.StockKey, stock int) error {
	v := t.variants[key]
	v.Stock = stock
	t.variants[key] = v
	return nil
}

func TestLedger_LocksInStableOrder(t *testing.T) {
	tx := newRecordingTx()
	ledger := NewLedger(nil)

	keys := []domain.StockKey{
		{ProductID: 9, Variant: "S"},
		{ProductID: 2},
		{ProductID: 9, Variant: "L"},
		{ProductID: 4, Variant: "M"},
		{ProductID: 2},
	}
	_, err := ledger.Lock(context.Background(), tx, keys)
	require.NoError(t, err)

	require.Len(t, tx.lockedProducts, 1)
	assert.Equal(t, []int64{2, 4, 9}, tx.lockedProducts[0])
	require.Len(t, tx.lockedVariants, 1)
	assert.Equal(t, []domain.StockKey{
		{ProductID: 4, Variant: "M"},
		{ProductID: 9, Variant: "L"},
		{ProductID: 9, Variant: "S"},
	}, tx.lockedVariants[0])
}

func TestLedger_SkipsVariantLockWithoutSizes(t *testing.T) {
	tx := newRecordingTx()
	_, err := NewLedger(nil).Lock(context.Background(), tx, []domain.StockKey{{ProductID: 1}})
	require.NoError(t, err)
	assert.Empty(t, tx.lockedVariants)
}

func TestLedger_VariantStockGovernsWhenPresent(t *testing.T) {
	ctx := context.Background()
	tx := newRecordingTx()
	tx.products[1] = domain.Product{ID: 1, Stock: 10}
	tx.variants[domain.StockKey{ProductID: 1, Variant: "M"}] = domain.SizeVariant{ProductID: 1, Label: "M", Stock: 2}
	ledger := NewLedger(nil)

	err := ledger.ReserveNow(ctx, tx, domain.StockKey{ProductID: 1, Variant: "M"}, 3)
	var shortage *domain.InsufficientStockError
	require.ErrorAs(t, err, &shortage)
	assert.Equal(t, 2, shortage.Available)
	assert.Equal(t, 3, shortage.Requested)
	assert.Equal(t, "M", shortage.Variant)

	require.NoError(t, ledger.ReserveNow(ctx, tx, domain.StockKey{ProductID: 1, Variant: "M"}, 2))
	assert.Equal(t, 0, tx.variants[domain.StockKey{ProductID: 1, Variant: "M"}].Stock)
	assert.Equal(t, 10, tx.products[1].Stock)
}

func TestLedger_FallsBackToProductStock(t *testing.T) {
	ctx := context.Background()
	tx := newRecordingTx()
	tx.products[1] = domain.Product{ID: 1, Stock: 4}
	ledger := NewLedger(nil)

	require.NoError(t, ledger.ReserveNow(ctx, tx, domain.StockKey{ProductID: 1, Variant: "XL"}, 3))
	assert.Equal(t, 1, tx.products[1].Stock)
}

func TestLedger_CheckErrors(t *testing.T) {
	ctx := context.Background()
	tx := newRecordingTx()
	tx.products[1] = domain.Product{ID: 1, Stock: 1}
	ledger := NewLedger(nil)

	locked, err := ledger.Lock(ctx, tx, []domain.StockKey{{ProductID: 1}, {ProductID: 2}})
	require.NoError(t, err)

	assert.ErrorIs(t, ledger.Check(locked, domain.StockKey{ProductID: 1}, 0), domain.ErrInvalidQuantity)
	assert.ErrorIs(t, ledger.Check(locked, domain.StockKey{ProductID: 2}, 1), domain.ErrProductUnavailable)
	assert.ErrorIs(t, ledger.Check(locked, domain.StockKey{ProductID: 1}, 2), domain.ErrInsufficientStock)
	assert.NoError(t, ledger.Check(locked, domain.StockKey{ProductID: 1}, 1))
}

func TestLedger_ReleaseRestocksAndSkipsMissingProducts(t *testing.T) {
	ctx := context.Background()
	tx := newRecordingTx()
	tx.products[1] = domain.Product{ID: 1, Stock: 0}
	ledger := NewLedger(nil)

	locked, err := ledger.Lock(ctx, tx, []domain.StockKey{{ProductID: 1}, {ProductID: 7}})
	require.NoError(t, err)

	require.NoError(t, ledger.Release(ctx, tx, locked, domain.StockKey{ProductID: 1}, 3))
	assert.Equal(t, 3, tx.products[1].Stock)
	p, ok := locked.Product(1)
	require.True(t, ok)
	assert.Equal(t, 3, p.Stock)

	require.NoError(t, ledger.Release(ctx, tx, locked, domain.StockKey{ProductID: 7}, 1))
	_, exists := tx.products[7]
	assert.False(t, exists)

	assert.ErrorIs(t, ledger.Release(ctx, tx, locked, domain.StockKey{ProductID: 1}, -1), domain.ErrInvalidQuantity)
}

func TestLedger_ReserveDecrementsLockedSnapshot(t *testing.T) {
	ctx := context.Background()
	tx := newRecordingTx()
	tx.products[1] = domain.Product{ID: 1, Stock: 5}
	ledger := NewLedger(nil)

	locked, err := ledger.Lock(ctx, tx, []domain.StockKey{{ProductID: 1}})
	require.NoError(t, err)
	require.NoError(t, ledger.Reserve(ctx, tx, locked, domain.StockKey{ProductID: 1}, 3))
	assert.Equal(t, 2, locked.Available(domain.StockKey{ProductID: 1}))
	assert.ErrorIs(t, ledger.Reserve(ctx, tx, locked, domain.StockKey{ProductID: 1}, 3), domain.ErrInsufficientStock)
	assert.Equal(t, 2, tx.products[1].Stock)
}
