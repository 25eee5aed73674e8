package memory_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func TestIdempotencyRepository_CreateAndGet(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	repo := memory.NewIdempotencyRepositoryWithClock(clock.Now)
	ttl := clock.now.Add(2 * time.Hour)

	created, err := repo.CreateProcessing(" checkout-1 ", "hash-1", ttl)
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusProcessing, created.Status)
	assert.Equal(t, "checkout-1", created.Key)

	got, err := repo.Get("checkout-1")
	require.NoError(t, err)
	assert.Equal(t, "hash-1", got.RequestHash)
	assert.True(t, got.TTLAt.Equal(ttl))
}

func TestIdempotencyRepository_Validation(t *testing.T) {
	repo := memory.NewIdempotencyRepository()

	_, err := repo.CreateProcessing("", "hash", time.Time{})
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)

	_, err = repo.CreateProcessing("key", " ", time.Time{})
	assert.ErrorIs(t, err, domain.ErrIdempotencyRequestHashRequired)

	_, err = repo.Get("missing")
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)

	assert.ErrorIs(t, repo.MarkDone("missing", nil, 201), domain.ErrIdempotencyKeyNotFound)
}

func TestIdempotencyRepository_ConflictAndHashMismatch(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	ttl := time.Now().UTC().Add(time.Hour)

	_, err := repo.CreateProcessing("checkout-2", "hash-a", ttl)
	require.NoError(t, err)

	_, err = repo.CreateProcessing("checkout-2", "hash-a", ttl)
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)

	_, err = repo.CreateProcessing("checkout-2", "hash-b", ttl)
	assert.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
}

func TestIdempotencyRepository_ExpiredKeyIsReusable(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	repo := memory.NewIdempotencyRepositoryWithClock(clock.Now)

	_, err := repo.CreateProcessing("checkout-3", "hash-a", clock.now.Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, repo.MarkDone("checkout-3", []byte(`{"number":"1"}`), 201))

	clock.now = clock.now.Add(2 * time.Minute)

	_, err = repo.Get("checkout-3")
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)

	record, err := repo.CreateProcessing("checkout-3", "hash-b", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusProcessing, record.Status)
	assert.Equal(t, clock.now.Add(domain.DefaultIdempotencyTTL), record.TTLAt)
	assert.Empty(t, record.ResponseBody)
}

func TestIdempotencyRepository_MarkDoneAndDeleteExpired(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	repo := memory.NewIdempotencyRepositoryWithClock(clock.Now)

	_, err := repo.CreateProcessing("expired", "hash", clock.now.Add(-time.Minute))
	require.NoError(t, err)
	_, err = repo.CreateProcessing("active", "hash", clock.now.Add(time.Hour))
	require.NoError(t, err)

	body := []byte(`{"ok":true}`)
	require.NoError(t, repo.MarkDone("active", body, 201))
	body[2] = 'X'

	removed, err := repo.DeleteExpired(clock.now, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	record, err := repo.Get("active")
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusDone, record.Status)
	assert.Equal(t, 201, record.HTTPStatus)
	assert.JSONEq(t, `{"ok":true}`, string(record.ResponseBody))
}

func TestIdempotencyRepository_DeleteExpiredRespectsLimit(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	repo := memory.NewIdempotencyRepositoryWithClock(clock.Now)

	for i, key := range []string{"c", "a", "b"} {
		_, err := repo.CreateProcessing(key, "hash", clock.now.Add(time.Duration(i+1)*time.Minute))
		require.NoError(t, err)
	}
	clock.now = clock.now.Add(time.Hour)

	removed, err := repo.DeleteExpired(clock.now, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	removed, err = repo.DeleteExpired(clock.now, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}
