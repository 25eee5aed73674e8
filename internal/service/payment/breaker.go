package payment

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// CircuitState — состояние circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker перестаёт звать шлюз после maxFailures ошибок подряд
// и пропускает пробный вызов через resetTimeout.
type CircuitBreaker struct {
	mu           sync.Mutex
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time

	failures    int
	lastFailure time.Time
	state       CircuitState
	logger      *log.Entry
}

func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration, logger *log.Entry) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if logger == nil {
		logger = log.WithField("component", "circuit-breaker")
	}
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		now:          time.Now,
		state:        CircuitClosed,
		logger:       logger,
	}
}

// State возвращает текущее состояние.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute выполняет fn, если цепь не разомкнута; иначе возвращает ErrCircuitOpen.
func (cb *CircuitBreaker) Execute(operation string, fn func() error) error {
	cb.mu.Lock()
	if cb.state == CircuitOpen {
		if cb.now().Sub(cb.lastFailure) < cb.resetTimeout {
			cb.mu.Unlock()
			return domain.ErrCircuitOpen
		}
		cb.state = CircuitHalfOpen
		cb.logger.WithField("operation", operation).Info("circuit breaker half-open")
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.failures++
		cb.lastFailure = cb.now()
		if cb.state == CircuitHalfOpen || cb.failures >= cb.maxFailures {
			if cb.state != CircuitOpen {
				cb.logger.WithFields(log.Fields{
					"operation": operation,
					"failures":  cb.failures,
				}).Warn("circuit breaker opened")
			}
			cb.state = CircuitOpen
		}
		return err
	}

	if cb.state == CircuitHalfOpen {
		cb.logger.WithField("operation", operation).Info("circuit breaker closed")
	}
	cb.state = CircuitClosed
	cb.failures = 0
	return nil
}

// breakerGateway пропускает вызовы шлюза через CircuitBreaker.
type breakerGateway struct {
	next    Gateway
	breaker *CircuitBreaker
}

// WithBreaker оборачивает gateway circuit breaker'ом.
func WithBreaker(next Gateway, breaker *CircuitBreaker) Gateway {
	if breaker == nil {
		return next
	}
	return &breakerGateway{next: next, breaker: breaker}
}

func (g *breakerGateway) CreateIntent(ctx context.Context, params IntentParams) (intent domain.PaymentIntent, err error) {
	err = g.breaker.Execute("create_intent", func() error {
		intent, err = g.next.CreateIntent(ctx, params)
		return err
	})
	return intent, err
}

func (g *breakerGateway) RetrieveIntent(ctx context.Context, intentID string) (intent domain.PaymentIntent, err error) {
	err = g.breaker.Execute("retrieve_intent", func() error {
		intent, err = g.next.RetrieveIntent(ctx, intentID)
		return err
	})
	return intent, err
}

func (g *breakerGateway) UpdateIntentAmount(ctx context.Context, intentID string, amountMinor int64) (intent domain.PaymentIntent, err error) {
	err = g.breaker.Execute("update_intent", func() error {
		intent, err = g.next.UpdateIntentAmount(ctx, intentID, amountMinor)
		return err
	})
	return intent, err
}
