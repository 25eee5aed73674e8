package idempotency

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
	// maxBatchesPerSweep ограничивает один проход; остаток удаляется на следующем тике.
	maxBatchesPerSweep = 1000
)

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupWorker)

func WithLogger(logger *log.Entry) CleanupOption {
	return func(w *CleanupWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithMetrics(m *metrics.IdempotencyCleanup) CleanupOption {
	return func(w *CleanupWorker) { w.metrics = m }
}

func WithInterval(interval time.Duration) CleanupOption {
	return func(w *CleanupWorker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

func WithBatchSize(batchSize int) CleanupOption {
	return func(w *CleanupWorker) {
		if batchSize > 0 {
			w.batchSize = batchSize
		}
	}
}

// CleanupWorker удаляет ключи оформления, срок которых истёк.
// После удаления повтор с тем же Idempotency-Key создаёт новый заказ.
type CleanupWorker struct {
	repo      domain.IdempotencyRepository
	metrics   *metrics.IdempotencyCleanup
	logger    *log.Entry
	now       func() time.Time
	interval  time.Duration
	batchSize int
}

func NewCleanupWorker(repo domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	w := &CleanupWorker{
		repo:      repo,
		logger:    log.WithField("component", "idempotency-cleanup"),
		now:       func() time.Time { return time.Now().UTC() },
		interval:  defaultCleanupInterval,
		batchSize: defaultCleanupBatchSize,
	}
	for _, option := range options {
		option(w)
	}
	return w
}

// Run чистит ключи сразу при старте и далее раз в interval.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup is disabled: repo is nil")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) sweep(ctx context.Context) {
	started := w.now()
	deleted, err := w.DeleteExpired(ctx, started)
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		w.metrics.Run(false, deleted)
		w.logger.WithError(err).WithField("deleted", deleted).Warn("idempotency sweep failed")
		return
	}

	w.metrics.Run(true, deleted)
	if deleted > 0 {
		w.logger.WithFields(log.Fields{
			"deleted":  deleted,
			"duration": w.now().Sub(started),
		}).Info("expired checkout keys removed")
	}
}

// DeleteExpired удаляет записи с ttl <= before, пока хранилище отдаёт полные порции.
// Возвращает число удалённых записей, даже если очередная порция завершилась ошибкой.
func (w *CleanupWorker) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = w.now()
	}

	total := 0
	for batch := 0; batch < maxBatchesPerSweep; batch++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := w.repo.DeleteExpired(before, w.batchSize)
		if err != nil {
			return total, err
		}
		total += n
		w.metrics.Deleted(n)
		if n < w.batchSize {
			return total, nil
		}
	}

	w.logger.WithField("deleted", total).Warn("idempotency sweep hit batch limit, continuing next tick")
	return total, nil
}
