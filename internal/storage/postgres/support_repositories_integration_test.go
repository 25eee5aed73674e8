package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestOutboxRepository_PostgresLifecycle(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)

	first, err := repo.Enqueue(domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-1",
		EventType:     domain.EventOrderCreated,
		Payload:       []byte(`{"number":"N-1"}`),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := repo.Enqueue(domain.OutboxMessage{AggregateType: domain.AggregateOrder, AggregateID: "order-2", EventType: domain.EventOrderPaid}); err != nil {
		t.Fatalf("enqueue empty payload: %v", err)
	}

	stats, err := repo.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PendingCount != 2 || stats.OldestPendingAt.IsZero() {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	pending, err := repo.PullPending(1)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != first.ID {
		t.Fatalf("unexpected pending batch: %+v", pending)
	}

	if err := repo.MarkSent(first.ID); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := repo.MarkFailed("missing"); !errors.Is(err, domain.ErrOutboxPublish) {
		t.Fatalf("expected outbox publish error, got %v", err)
	}

	stats, _ = repo.Stats()
	if stats.PendingCount != 1 {
		t.Fatalf("expected 1 pending, got %d", stats.PendingCount)
	}
}

func TestIdempotencyRepository_PostgresLifecycle(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewIdempotencyRepository(store)

	if _, err := repo.CreateProcessing("", "hash", time.Time{}); !errors.Is(err, domain.ErrIdempotencyKeyRequired) {
		t.Fatalf("expected key required, got %v", err)
	}

	record, err := repo.CreateProcessing("key-1", "hash-1", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if record.Status != domain.IdempotencyStatusProcessing {
		t.Fatalf("unexpected status: %s", record.Status)
	}

	if _, err := repo.CreateProcessing("key-1", "hash-1", time.Now().Add(time.Hour)); !errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
	if _, err := repo.CreateProcessing("key-1", "hash-2", time.Now().Add(time.Hour)); !errors.Is(err, domain.ErrIdempotencyHashMismatch) {
		t.Fatalf("expected hash mismatch, got %v", err)
	}

	if err := repo.MarkDone("key-1", []byte(`{"ok":true}`), 201); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	got, err := repo.Get("key-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.IdempotencyStatusDone || got.HTTPStatus != 201 || string(got.ResponseBody) != `{"ok":true}` {
		t.Fatalf("unexpected record: %+v", got)
	}
	if err := repo.MarkFailed("missing", nil, 500); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if _, err := repo.CreateProcessing("key-expired", "hash-a", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("create expired: %v", err)
	}
	replaced, err := repo.CreateProcessing("key-expired", "hash-b", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("expired key must be replaced: %v", err)
	}
	if replaced.RequestHash != "hash-b" {
		t.Fatalf("unexpected replaced record: %+v", replaced)
	}

	if _, err := repo.CreateProcessing("key-old", "hash", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("create old: %v", err)
	}
	deleted, err := repo.DeleteExpired(time.Now(), 10)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}
	if _, err := repo.Get("key-old"); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("expected deleted key, got %v", err)
	}
}

func TestTimelineRepository_PostgresAppendAndList(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewTimelineRepository(store)
	product := seedProduct(t, store, "Linen shirt", "59.90", 5)
	order := sampleOrder(product, 1)
	insertOrderForIntegrationTest(t, store, order)

	at := time.Now().UTC().Truncate(time.Microsecond)
	if err := repo.Append(domain.TimelineEvent{OrderID: order.ID, Type: domain.TimelineOrderCreated, Occurred: at}); err != nil {
		t.Fatalf("append created: %v", err)
	}
	if err := repo.Append(domain.TimelineEvent{OrderID: order.ID, Type: domain.TimelineStatusChanged, Reason: "paid", Occurred: at.Add(time.Second)}); err != nil {
		t.Fatalf("append status: %v", err)
	}
	if err := repo.Append(domain.TimelineEvent{Type: domain.TimelineNotification}); err == nil {
		t.Fatal("expected error for missing order id")
	}
	if err := repo.Append(domain.TimelineEvent{OrderID: "missing", Type: domain.TimelineNotification}); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected order not found, got %v", err)
	}

	events, err := repo.List(order.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 2 || events[0].Type != domain.TimelineOrderCreated || events[1].Reason != "paid" {
		t.Fatalf("unexpected events: %+v", events)
	}
}
