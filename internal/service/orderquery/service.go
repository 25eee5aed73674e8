// Package orderquery отвечает на публичные запросы о заказах: tracking и карточка заказа.
package orderquery

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Service читает заказы и кеширует tracking-представления.
type Service struct {
	orders   domain.OrderRepository
	timeline domain.TimelineRepository
	cache    Cache
	logger   *log.Entry
}

// NewService создаёт сервис; cache == nil отключает кеш.
func NewService(orders domain.OrderRepository, timeline domain.TimelineRepository, cache Cache, logger *log.Entry) *Service {
	if cache == nil {
		cache = noopCache{}
	}
	if logger == nil {
		logger = log.WithField("component", "orderquery")
	}
	return &Service{orders: orders, timeline: timeline, cache: cache, logger: logger}
}

// Track ищет заказ по tracking token. Некорректный или неизвестный токен даёт ErrOrderNotFound.
func (s *Service) Track(ctx context.Context, token string) (TrackingView, error) {
	token = strings.TrimSpace(token)
	if _, err := uuid.Parse(token); err != nil {
		return TrackingView{}, domain.ErrOrderNotFound
	}

	view, ok, err := s.cache.Get(ctx, token)
	if err != nil {
		s.logger.WithError(err).Warn("tracking cache read failed")
	}
	if ok {
		return view, nil
	}

	// Момент фиксируется до чтения: инвалидация, случившаяся позже, отбросит эту запись в кеш.
	readAt := time.Now()
	order, err := s.orders.GetByTrackingToken(ctx, token)
	if err != nil {
		return TrackingView{}, err
	}
	view = NewTrackingView(order)
	if err := s.cache.Set(ctx, token, view, readAt); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("tracking cache write failed")
	}
	return view, nil
}

// PublicDetail возвращает карточку заказа по номеру.
// Заказ чужого аккаунта даёт ErrForbidden, а не ErrOrderNotFound.
func (s *Service) PublicDetail(ctx context.Context, number string, identity domain.CustomerIdentity) (DetailView, error) {
	order, err := s.orders.GetByNumber(ctx, strings.TrimSpace(number))
	if err != nil {
		return DetailView{}, err
	}
	if !identity.Owns(order) {
		s.logger.WithFields(log.Fields{
			"order_number": order.Number,
			"account_id":   identity.AccountID,
		}).Info("order detail denied")
		return DetailView{}, domain.ErrForbidden
	}
	return NewDetailView(order), nil
}

// Timeline возвращает события заказа по номеру.
func (s *Service) Timeline(ctx context.Context, number string) ([]TimelineEntry, error) {
	if s.timeline == nil {
		return nil, errors.New("timeline repository is not configured")
	}
	order, err := s.orders.GetByNumber(ctx, strings.TrimSpace(number))
	if err != nil {
		return nil, err
	}
	events, err := s.timeline.List(order.ID)
	if err != nil {
		return nil, err
	}
	entries := make([]TimelineEntry, 0, len(events))
	for _, e := range events {
		entries = append(entries, TimelineEntry{Type: e.Type, Reason: e.Reason, OccurredAt: e.Occurred})
	}
	return entries, nil
}

// Invalidate сбрасывает кеш tracking-представления.
func (s *Service) Invalidate(ctx context.Context, trackingToken string) {
	if err := s.cache.Delete(ctx, trackingToken); err != nil {
		s.logger.WithError(err).Warn("tracking cache invalidation failed")
	}
}

var _ domain.OrderViewInvalidator = (*Service)(nil)
