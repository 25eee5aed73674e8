// Package checkout превращает корзину в заказ и управляет его жизненным циклом после создания.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/pricing"
	"github.com/vladislavdragonenkov/storefront/internal/stock"
)

// Request — данные формы оформления.
type Request struct {
	PaymentMethod   domain.PaymentMethod
	DeliveryMethod  domain.DeliveryMethod
	DeliveryAddress string
	Phone           string
	ContactEmail    string
	Discount        decimal.Decimal
}

func (r Request) normalized() (Request, error) {
	r.DeliveryAddress = strings.TrimSpace(r.DeliveryAddress)
	r.Phone = strings.TrimSpace(r.Phone)
	r.ContactEmail = strings.TrimSpace(r.ContactEmail)
	if r.DeliveryMethod == "" {
		r.DeliveryMethod = domain.DeliveryMethodStandard
	}

	switch {
	case !r.PaymentMethod.Valid():
		return r, domain.ErrInvalidPaymentMethod
	case r.DeliveryAddress == "":
		return r, domain.ErrDeliveryAddressRequired
	case r.Phone == "":
		return r, domain.ErrPhoneRequired
	case r.Discount.IsNegative():
		return r, domain.ErrNegativeDiscount
	}
	return r, nil
}

// Options — необязательные зависимости сервиса.
type Options struct {
	Logger      *log.Entry
	Metrics     *metrics.Storefront
	Notifier    domain.Notifier
	Timeline    domain.TimelineRepository
	Invalidator domain.OrderViewInvalidator
	Retry       RetryConfig
	Numbers     NumberGenerator
	Clock       func() time.Time
}

// Option настраивает Service.
type Option func(*Options)

func WithLogger(logger *log.Entry) Option {
	return func(o *Options) { o.Logger = logger }
}

func WithMetrics(m *metrics.Storefront) Option {
	return func(o *Options) { o.Metrics = m }
}

// WithNotifier задаёт отправку подтверждений для заказов без оплаты картой.
func WithNotifier(n domain.Notifier) Option {
	return func(o *Options) { o.Notifier = n }
}

func WithTimeline(repo domain.TimelineRepository) Option {
	return func(o *Options) { o.Timeline = repo }
}

// WithInvalidator сбрасывает кеш публичных представлений при смене статуса.
func WithInvalidator(inv domain.OrderViewInvalidator) Option {
	return func(o *Options) { o.Invalidator = inv }
}

func WithRetry(cfg RetryConfig) Option {
	return func(o *Options) { o.Retry = cfg }
}

func WithNumberGenerator(gen NumberGenerator) Option {
	return func(o *Options) { o.Numbers = gen }
}

func WithClock(now func() time.Time) Option {
	return func(o *Options) { o.Clock = now }
}

// Service — сборка заказа из корзины.
type Service struct {
	txm         domain.TxManager
	ledger      *stock.Ledger
	pricing     pricing.Config
	logger      *log.Entry
	metrics     *metrics.Storefront
	notifier    domain.Notifier
	timeline    domain.TimelineRepository
	invalidator domain.OrderViewInvalidator
	retry       RetryConfig
	numbers     NumberGenerator
	now         func() time.Time
}

// NewService создаёт сервис оформления.
func NewService(txm domain.TxManager, ledger *stock.Ledger, cfg pricing.Config, options ...Option) *Service {
	opts := Options{
		Retry:   DefaultRetryConfig(),
		Numbers: NewOrderNumber,
		Clock:   func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "checkout")
	}
	if ledger == nil {
		ledger = stock.NewLedger(logger.WithField("component", "stock-ledger"))
	}

	return &Service{
		txm:         txm,
		ledger:      ledger,
		pricing:     cfg,
		logger:      logger,
		metrics:     opts.Metrics,
		notifier:    opts.Notifier,
		timeline:    opts.Timeline,
		invalidator: opts.Invalidator,
		retry:       opts.Retry,
		numbers:     opts.Numbers,
		now:         opts.Clock,
	}
}

// CreateOrder оформляет корзину владельца одной транзакцией.
// Коллизия номера повторяет транзакцию целиком; остальные ошибки возвращаются без повторов.
func (s *Service) CreateOrder(ctx context.Context, identity domain.CustomerIdentity, owner domain.CartOwner, req Request) (domain.Order, error) {
	started := s.metrics.CheckoutStarted()

	req, err := req.normalized()
	if err != nil {
		s.metrics.CheckoutFinished(started, metrics.ResultInvalid)
		return domain.Order{}, err
	}

	var order domain.Order
	err = retry(ctx, s.retry, s.logger, s.metrics.OrderNumberRetry, func() error {
		var attemptErr error
		order, attemptErr = s.createOnce(ctx, identity, owner, req)
		return attemptErr
	})
	s.metrics.CheckoutFinished(started, checkoutResult(err))
	if err != nil {
		return domain.Order{}, err
	}

	logger := s.logger.WithFields(log.Fields{
		"order_id":       order.ID,
		"order_number":   order.Number,
		"payment_method": order.PaymentMethod,
	})
	logger.Info("order created")
	s.appendTimeline(order.ID, domain.TimelineOrderCreated, "total "+order.Total.StringFixed(2))

	if !order.PaymentMethod.IsCard() {
		s.notifyConfirmed(ctx, order)
	}
	return order, nil
}

func (s *Service) createOnce(ctx context.Context, identity domain.CustomerIdentity, owner domain.CartOwner, req Request) (domain.Order, error) {
	var created domain.Order

	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		cart, err := tx.LoadCart(ctx, owner)
		if errors.Is(err, domain.ErrCartNotFound) {
			return domain.ErrEmptyCart
		}
		if err != nil {
			return fmt.Errorf("load cart: %w", err)
		}
		if cart.IsEmpty() {
			return domain.ErrEmptyCart
		}

		keys := make([]domain.StockKey, 0, len(cart.Lines))
		for _, line := range cart.Lines {
			keys = append(keys, line.Key())
		}
		locked, err := s.ledger.Lock(ctx, tx, keys)
		if err != nil {
			return err
		}

		lines := make([]domain.OrderLine, 0, len(cart.Lines))
		lineTotals := make([]decimal.Decimal, 0, len(cart.Lines))
		for _, line := range cart.Lines {
			if err := s.ledger.Check(locked, line.Key(), line.Quantity); err != nil {
				return err
			}
			product, _ := locked.Product(line.ProductID)
			unitPrice := pricing.Round(product.EffectivePrice())
			lineTotal := pricing.LineTotal(unitPrice, line.Quantity)

			lines = append(lines, domain.OrderLine{
				ID:          uuid.NewString(),
				ProductID:   line.ProductID,
				ProductName: product.Name,
				Variant:     line.Variant,
				Quantity:    line.Quantity,
				UnitPrice:   unitPrice,
				LineTotal:   lineTotal,
			})
			lineTotals = append(lineTotals, lineTotal)
		}

		breakdown := pricing.Calculate(s.pricing, lineTotals, req.Discount)
		now := s.now()
		order := domain.Order{
			ID:              uuid.NewString(),
			Number:          s.numbers(now),
			AccountID:       identity.AccountID,
			AccountEmail:    identity.Email,
			Status:          domain.OrderStatusPending,
			Subtotal:        breakdown.Subtotal,
			Tax:             breakdown.Tax,
			Shipping:        breakdown.Shipping,
			Discount:        breakdown.Discount,
			Total:           breakdown.Total,
			PaymentMethod:   req.PaymentMethod,
			DeliveryMethod:  req.DeliveryMethod,
			DeliveryAddress: req.DeliveryAddress,
			Phone:           req.Phone,
			ContactEmail:    req.ContactEmail,
			TrackingToken:   uuid.NewString(),
			Lines:           lines,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if errs := order.ValidateInvariants(); len(errs) > 0 {
			return fmt.Errorf("assemble order: %w", errors.Join(errs...))
		}

		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}

		for _, item := range aggregateDemand(locked, order.Lines) {
			if err := s.ledger.Reserve(ctx, tx, locked, item.key, item.quantity); err != nil {
				return err
			}
		}

		if err := tx.ClearCart(ctx, cart.ID, now); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}

		msg, err := domain.NewOrderEventMessage(domain.EventOrderCreated, order, "", now)
		if err != nil {
			return err
		}
		if err := tx.EnqueueOutbox(ctx, msg); err != nil {
			return fmt.Errorf("enqueue order created: %w", err)
		}

		created = order
		return nil
	})
	return created, err
}

// CancelOrder отменяет заказ и возвращает остатки его строк.
func (s *Service) CancelOrder(ctx context.Context, number, reason string) (domain.Order, error) {
	reason = strings.TrimSpace(reason)
	var cancelled domain.Order

	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		order, err := tx.LockOrder(ctx, number)
		if err != nil {
			return err
		}
		if !order.Status.CanTransitionTo(domain.OrderStatusCancelled) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, order.Status, domain.OrderStatusCancelled)
		}

		keys := make([]domain.StockKey, 0, len(order.Lines))
		for _, line := range order.Lines {
			keys = append(keys, line.Key())
		}
		locked, err := s.ledger.Lock(ctx, tx, keys)
		if err != nil {
			return err
		}
		for _, item := range aggregateDemand(locked, order.Lines) {
			if err := s.ledger.Release(ctx, tx, locked, item.key, item.quantity); err != nil {
				return err
			}
		}

		now := s.now()
		if err := tx.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusCancelled, now); err != nil {
			return err
		}
		order.Status = domain.OrderStatusCancelled
		order.UpdatedAt = now

		msg, err := domain.NewOrderEventMessage(domain.EventOrderCancelled, order, reason, now)
		if err != nil {
			return err
		}
		if err := tx.EnqueueOutbox(ctx, msg); err != nil {
			return fmt.Errorf("enqueue order cancelled: %w", err)
		}

		cancelled = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.metrics.OrderCancelled()
	s.logger.WithFields(log.Fields{
		"order_id":     cancelled.ID,
		"order_number": cancelled.Number,
		"reason":       reason,
	}).Info("order cancelled, stock released")
	s.appendTimeline(cancelled.ID, domain.TimelineOrderCancelled, reason)
	s.invalidate(ctx, cancelled.TrackingToken)
	return cancelled, nil
}

// AdvanceStatus выполняет административный переход статуса. Отмена идёт через CancelOrder.
func (s *Service) AdvanceStatus(ctx context.Context, number string, to domain.OrderStatus) (domain.Order, error) {
	if !to.Valid() {
		return domain.Order{}, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidTransition, to)
	}
	if to == domain.OrderStatusCancelled {
		return s.CancelOrder(ctx, number, "cancelled by staff")
	}

	var updated domain.Order
	var from domain.OrderStatus
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		order, err := tx.LockOrder(ctx, number)
		if err != nil {
			return err
		}
		if !order.Status.CanTransitionTo(to) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, order.Status, to)
		}

		now := s.now()
		if err := tx.UpdateOrderStatus(ctx, order.ID, to, now); err != nil {
			return err
		}
		from = order.Status
		order.Status = to
		order.UpdatedAt = now

		msg, err := domain.NewOrderEventMessage(domain.EventOrderStatus, order, string(from), now)
		if err != nil {
			return err
		}
		if err := tx.EnqueueOutbox(ctx, msg); err != nil {
			return fmt.Errorf("enqueue status change: %w", err)
		}
		updated = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.appendTimeline(updated.ID, domain.TimelineStatusChanged, fmt.Sprintf("%s -> %s", from, to))
	s.invalidate(ctx, updated.TrackingToken)
	return updated, nil
}

func (s *Service) notifyConfirmed(ctx context.Context, order domain.Order) {
	if s.notifier == nil {
		return
	}
	sent := s.notifier.NotifyOrderConfirmed(ctx, order)
	s.metrics.Notification(sent)
	if sent {
		s.appendTimeline(order.ID, domain.TimelineNotification, "confirmation sent")
	}
}

func (s *Service) appendTimeline(orderID, eventType, reason string) {
	if s.timeline == nil {
		return
	}
	err := s.timeline.Append(domain.TimelineEvent{
		OrderID:  orderID,
		Type:     eventType,
		Reason:   reason,
		Occurred: s.now(),
	})
	if err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Warn("failed to append timeline event")
		return
	}
	s.metrics.TimelineEvent()
}

func (s *Service) invalidate(ctx context.Context, token string) {
	if s.invalidator != nil && token != "" {
		s.invalidator.Invalidate(ctx, token)
	}
}

type demand struct {
	key      domain.StockKey
	quantity int
}

// aggregateDemand суммирует количества по строке остатка, которая их обеспечивает,
// и возвращает их в порядке блокировок.
func aggregateDemand(locked *stock.Locked, lines []domain.OrderLine) []demand {
	totals := make(map[domain.StockKey]int, len(lines))
	for _, line := range lines {
		totals[locked.Resolve(line.Key())] += line.Quantity
	}

	result := make([]demand, 0, len(totals))
	for key, qty := range totals {
		result = append(result, demand{key: key, quantity: qty})
	}
	sort.Slice(result, func(i, j int) bool { return domain.LessStockKey(result[i].key, result[j].key) })
	return result
}

func checkoutResult(err error) string {
	switch {
	case err == nil:
		return metrics.ResultCreated
	case errors.Is(err, domain.ErrEmptyCart):
		return metrics.ResultEmptyCart
	case errors.Is(err, domain.ErrInsufficientStock):
		return metrics.ResultInsufficientStock
	case errors.Is(err, domain.ErrProductUnavailable):
		return metrics.ResultUnavailable
	case errors.Is(err, domain.ErrOrderNumberCollision):
		return metrics.ResultCollision
	case errors.Is(err, domain.ErrInvalidQuantity):
		return metrics.ResultInvalid
	default:
		return metrics.ResultError
	}
}
