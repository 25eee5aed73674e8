package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// FakeGateway — in-memory шлюз для разработки и тестов.
// Повторное создание с тем же IdempotencyKey возвращает существующий intent.
type FakeGateway struct {
	mu        sync.Mutex
	intents   map[string]domain.PaymentIntent
	byIdemKey map[string]string

	CreateErr   error
	RetrieveErr error
	UpdateErr   error

	CreateCalls   int
	RetrieveCalls int
	UpdateCalls   int
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		intents:   make(map[string]domain.PaymentIntent),
		byIdemKey: make(map[string]string),
	}
}

func (g *FakeGateway) CreateIntent(_ context.Context, params IntentParams) (domain.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.CreateCalls++
	if g.CreateErr != nil {
		return domain.PaymentIntent{}, g.CreateErr
	}
	if id, ok := g.byIdemKey[params.IdempotencyKey]; ok && params.IdempotencyKey != "" {
		return g.intents[id], nil
	}

	id := "pi_" + uuid.NewString()
	metadata := make(map[string]string, len(params.Metadata))
	for k, v := range params.Metadata {
		metadata[k] = v
	}
	intent := domain.PaymentIntent{
		ID:           id,
		Status:       domain.IntentStatusRequiresPaymentMethod,
		AmountMinor:  params.AmountMinor,
		Currency:     params.Currency,
		ClientSecret: id + "_secret",
		Metadata:     metadata,
	}
	g.intents[id] = intent
	if params.IdempotencyKey != "" {
		g.byIdemKey[params.IdempotencyKey] = id
	}
	return intent, nil
}

func (g *FakeGateway) RetrieveIntent(_ context.Context, intentID string) (domain.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.RetrieveCalls++
	if g.RetrieveErr != nil {
		return domain.PaymentIntent{}, g.RetrieveErr
	}
	intent, ok := g.intents[intentID]
	if !ok {
		return domain.PaymentIntent{}, fmt.Errorf("no such payment intent: %s", intentID)
	}
	return intent, nil
}

func (g *FakeGateway) UpdateIntentAmount(_ context.Context, intentID string, amountMinor int64) (domain.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.UpdateCalls++
	if g.UpdateErr != nil {
		return domain.PaymentIntent{}, g.UpdateErr
	}
	intent, ok := g.intents[intentID]
	if !ok {
		return domain.PaymentIntent{}, fmt.Errorf("no such payment intent: %s", intentID)
	}
	intent.AmountMinor = amountMinor
	g.intents[intentID] = intent
	return intent, nil
}

// Succeed переводит intent в succeeded, как если бы покупатель оплатил.
func (g *FakeGateway) Succeed(intentID, chargeID, receiptURL string) domain.PaymentIntent {
	g.mu.Lock()
	defer g.mu.Unlock()

	intent := g.intents[intentID]
	intent.Status = domain.IntentStatusSucceeded
	intent.LatestChargeID = chargeID
	intent.ReceiptURL = receiptURL
	g.intents[intentID] = intent
	return intent
}

// SetAmount меняет сумму на стороне шлюза в обход адаптера.
func (g *FakeGateway) SetAmount(intentID string, amountMinor int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	intent := g.intents[intentID]
	intent.AmountMinor = amountMinor
	g.intents[intentID] = intent
}

var _ Gateway = (*FakeGateway)(nil)
