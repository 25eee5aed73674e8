package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

var errTimelineOrderRequired = errors.New("timeline event requires order id")

// timelineRepository хранит историю заказа, которую видит покупатель на странице отслеживания.
// Строки удаляются каскадно вместе с заказом.
type timelineRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &timelineRepository{
		db:  store.DB(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *timelineRepository) Append(event domain.TimelineEvent) error {
	event.OrderID = strings.TrimSpace(event.OrderID)
	if event.OrderID == "" {
		return errTimelineOrderRequired
	}
	if event.Occurred.IsZero() {
		event.Occurred = r.now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO timeline_events (order_id, type, reason, occurred) VALUES ($1, $2, $3, $4)`,
		event.OrderID, event.Type, event.Reason, event.Occurred.UTC(),
	)
	switch {
	case err == nil:
		return nil
	case hasPgCode(err, foreignKeyViolationCode):
		return domain.ErrOrderNotFound
	default:
		return fmt.Errorf("append %s to timeline of order %s: %w", event.Type, event.OrderID, err)
	}
}

// List отдаёт историю заказа от старых событий к новым; при равном occurred порядок вставки.
func (r *timelineRepository) List(orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		`SELECT type, reason, occurred FROM timeline_events WHERE order_id = $1 ORDER BY occurred, id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("load timeline of order %s: %w", orderID, err)
	}
	defer rows.Close()

	history := []domain.TimelineEvent{}
	for rows.Next() {
		event := domain.TimelineEvent{OrderID: orderID}
		if err := rows.Scan(&event.Type, &event.Reason, &event.Occurred); err != nil {
			return nil, fmt.Errorf("scan timeline row: %w", err)
		}
		event.Occurred = event.Occurred.UTC()
		history = append(history, event)
	}
	return history, rows.Err()
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
