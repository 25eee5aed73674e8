package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/pricing"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

type fixture struct {
	store    *memory.Store
	outbox   *memory.OutboxRepository
	catalog  *memory.ProductRepository
	carts    *memory.CartRepository
	orders   *memory.OrderRepository
	timeline *memory.TimelineRepository
	notifier *recordingNotifier
	views    *recordingInvalidator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	outbox := memory.NewOutboxRepository()
	store := memory.NewStore(outbox)
	return &fixture{
		store:    store,
		outbox:   outbox,
		catalog:  memory.NewProductRepository(store),
		carts:    memory.NewCartRepository(store),
		orders:   memory.NewOrderRepository(store),
		timeline: memory.NewTimelineRepository(),
		notifier: &recordingNotifier{result: true},
		views:    &recordingInvalidator{},
	}
}

func (f *fixture) service(options ...Option) *Service {
	base := []Option{
		WithNotifier(f.notifier),
		WithTimeline(f.timeline),
		WithInvalidator(f.views),
		WithMetrics(metrics.NewStorefrontWithRegisterer(prometheus.NewRegistry())),
		WithRetry(RetryConfig{MaxAttempts: 3}),
	}
	return NewService(f.store, nil, pricing.DefaultConfig(), append(base, options...)...)
}

func (f *fixture) product(t *testing.T, price string, stockQty int) domain.Product {
	t.Helper()
	p, err := f.catalog.UpsertProduct(context.Background(), domain.Product{
		Name:  "Product " + price,
		Price: decimal.RequireFromString(price),
		Stock: stockQty,
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) variant(t *testing.T, productID int64, label string, stockQty int) {
	t.Helper()
	require.NoError(t, f.catalog.UpsertVariant(context.Background(), domain.SizeVariant{ProductID: productID, Label: label, Stock: stockQty}))
}

func (f *fixture) cart(t *testing.T, owner domain.CartOwner, lines ...domain.CartLine) {
	t.Helper()
	cart, err := f.carts.GetOrCreate(context.Background(), owner)
	require.NoError(t, err)
	for _, line := range lines {
		require.NoError(t, f.carts.SetLine(context.Background(), cart.ID, line))
	}
}

func (f *fixture) stockOf(t *testing.T, productID int64) int {
	t.Helper()
	p, err := f.catalog.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	return p.Stock
}

func cashRequest() Request {
	return Request{
		PaymentMethod:   domain.PaymentMethodCashOnDelivery,
		DeliveryAddress: "Calle Mayor 1, Madrid",
		Phone:           "+34600111222",
		ContactEmail:    "buyer@example.com",
	}
}

var anon = domain.CartOwner{AnonymousToken: "anon-1"}

func TestCreateOrder_ReferenceScenario(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "59.90", 5)
	f.cart(t, anon, domain.CartLine{ProductID: p.ID, Quantity: 1})

	order, err := f.service().CreateOrder(context.Background(), domain.CustomerIdentity{}, anon, cashRequest())
	require.NoError(t, err)

	assert.Equal(t, "59.90", order.Subtotal.StringFixed(2))
	assert.Equal(t, "12.58", order.Tax.StringFixed(2))
	assert.Equal(t, "3.99", order.Shipping.StringFixed(2))
	assert.Equal(t, "0.00", order.Discount.StringFixed(2))
	assert.Equal(t, "76.47", order.Total.StringFixed(2))
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, domain.DeliveryMethodStandard, order.DeliveryMethod)
	assert.NotEmpty(t, order.TrackingToken)
	assert.Len(t, order.Number, 26)

	assert.Equal(t, 4, f.stockOf(t, p.ID))

	cart, err := f.carts.Get(context.Background(), anon)
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())

	stored, err := f.orders.GetByNumber(context.Background(), order.Number)
	require.NoError(t, err)
	require.Len(t, stored.Lines, 1)
	assert.Equal(t, "59.90", stored.Lines[0].UnitPrice.StringFixed(2))

	pending := f.outbox.AllPending()
	require.Len(t, pending, 1)
	assert.Equal(t, domain.EventOrderCreated, pending[0].EventType)

	assert.Equal(t, []string{order.Number}, f.notifier.numbers())

	events, err := f.timeline.List(order.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.TimelineOrderCreated, events[0].Type)
}

func TestCreateOrder_CardPaymentDefersNotification(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "20.00", 5)
	f.cart(t, anon, domain.CartLine{ProductID: p.ID, Quantity: 1})

	req := cashRequest()
	req.PaymentMethod = domain.PaymentMethodCard
	_, err := f.service().CreateOrder(context.Background(), domain.CustomerIdentity{}, anon, req)
	require.NoError(t, err)
	assert.Empty(t, f.notifier.numbers())
}

func TestCreateOrder_NotificationFailureKeepsOrder(t *testing.T) {
	f := newFixture(t)
	f.notifier.result = false
	p := f.product(t, "20.00", 5)
	f.cart(t, anon, domain.CartLine{ProductID: p.ID, Quantity: 1})

	order, err := f.service().CreateOrder(context.Background(), domain.CustomerIdentity{}, anon, cashRequest())
	require.NoError(t, err)

	_, err = f.orders.GetByNumber(context.Background(), order.Number)
	require.NoError(t, err)
}

func TestCreateOrder_ClampsDiscountToSubtotal(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "50.00", 5)
	f.cart(t, anon, domain.CartLine{ProductID: p.ID, Quantity: 1})

	req := cashRequest()
	req.Discount = decimal.RequireFromString("1000.00")
	order, err := f.service().CreateOrder(context.Background(), domain.CustomerIdentity{}, anon, req)
	require.NoError(t, err)

	assert.Equal(t, "50.00", order.Discount.StringFixed(2))
	assert.Equal(t, "0.00", order.Tax.StringFixed(2))
	assert.Equal(t, "0.00", order.Total.StringFixed(2))
}

func TestCreateOrder_UsesSalePriceAndAccountSnapshot(t *testing.T) {
	f := newFixture(t)
	p, err := f.catalog.UpsertProduct(context.Background(), domain.Product{
		Name:      "Wool coat",
		Price:     decimal.RequireFromString("120.00"),
		SalePrice: decimal.NewNullDecimal(decimal.RequireFromString("99.99")),
		Stock:     2,
	})
	require.NoError(t, err)
	owner := domain.CartOwner{AccountID: "acc-1"}
	f.cart(t, owner, domain.CartLine{ProductID: p.ID, Quantity: 2})

	identity := domain.CustomerIdentity{AccountID: "acc-1", Email: "acc@example.com"}
	order, err := f.service().CreateOrder(context.Background(), identity, owner, cashRequest())
	require.NoError(t, err)

	assert.Equal(t, "199.98", order.Subtotal.StringFixed(2))
	assert.Equal(t, "0.00", order.Shipping.StringFixed(2))
	assert.Equal(t, "acc-1", order.AccountID)
	assert.Equal(t, "acc@example.com", order.AccountEmail)
}

func TestCreateOrder_Validation(t *testing.T) {
	f := newFixture(t)
	svc := f.service()

	tests := []struct {
		name   string
		mutate func(*Request)
		want   error
	}{
		{"payment method", func(r *Request) { r.PaymentMethod = "bitcoin" }, domain.ErrInvalidPaymentMethod},
		{"address", func(r *Request) { r.DeliveryAddress = "  " }, domain.ErrDeliveryAddressRequired},
		{"phone", func(r *Request) { r.Phone = "" }, domain.ErrPhoneRequired},
		{"negative discount", func(r *Request) { r.Discount = decimal.NewFromInt(-1) }, domain.ErrNegativeDiscount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := cashRequest()
			tt.mutate(&req)
			_, err := svc.CreateOrder(context.Background(), domain.CustomerIdentity{}, anon, req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreateOrder_EmptyOrMissingCart(t *testing.T) {
	f := newFixture(t)
	svc := f.service()

	_, err := svc.CreateOrder(context.Background(), domain.CustomerIdentity{}, anon, cashRequest())
	assert.ErrorIs(t, err, domain.ErrEmptyCart)

	f.cart(t, anon)
	_, err = svc.CreateOrder(context.Background(), domain.CustomerIdentity{}, anon, cashRequest())
	assert.ErrorIs(t, err, domain.ErrEmptyCart)
}

func TestCreateOrder_InsufficientStockRollsBack(t *testing.T) {
	f := newFixture(t)
	plenty := f.product(t, "10.00", 10)
	scarce := f.product(t, "15.00", 1)
	f.cart(t, anon,
		domain.CartLine{ProductID: plenty.ID, Quantity: 2},
		domain.CartLine{ProductID: scarce.ID, Quantity: 2},
	)

	_, err := f.service().CreateOrder(context.Background(), domain.CustomerIdentity{}, anon, cashRequest())
	var shortage *domain.InsufficientStockError
	require.ErrorAs(t, err, &shortage)
	assert.Equal(t, scarce.ID, shortage.ProductID)
	assert.Equal(t, 1, shortage.Available)

	assert.Equal(t, 10, f.stockOf(t, plenty.ID))
	assert.Equal(t, 1, f.stockOf(t, scarce.ID))
	cart, err := f.carts.Get(context.Background(), anon)
	require.NoError(t, err)
	assert.Len(t, cart.Lines, 2)
	assert.Empty(t, f.outbox.AllPending())
}

func TestCreateOrder_ProductUnavailable(t *testing.T) {
	f := newFixture(t)
	f.cart(t, anon, domain.CartLine{ProductID: 404, Quantity: 1})

	_, err := f.service().CreateOrder(context.Background(), domain.CustomerIdentity{}, anon, cashRequest())
	assert.ErrorIs(t, err, domain.ErrProductUnavailable)
}

func TestCreateOrder_AggregatesDemandPerStockRow(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "25.00", 3)
	f.cart(t, anon,
		domain.CartLine{ProductID: p.ID, Variant: "M", Quantity: 2},
		domain.CartLine{ProductID: p.ID, Variant: "L", Quantity: 2},
	)

	_, err := f.service().CreateOrder(context.Background(), domain.CustomerIdentity{}, anon, cashRequest())
	var shortage *domain.InsufficientStockError
	require.ErrorAs(t, err, &shortage)
	assert.Equal(t, 3, shortage.Available)
	assert.Equal(t, 4, shortage.Requested)
	assert.Equal(t, 3, f.stockOf(t, p.ID))
}

func TestCreateOrder_VariantStockIsDecremented(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "25.00", 10)
	f.variant(t, p.ID, "M", 2)
	f.cart(t, anon,
		domain.CartLine{ProductID: p.ID, Variant: "M", Quantity: 2},
		domain.CartLine{ProductID: p.ID, Variant: "XL", Quantity: 1},
	)

	_, err := f.service().CreateOrder(context.Background(), domain.CustomerIdentity{}, anon, cashRequest())
	require.NoError(t, err)

	v, found, err := f.catalog.GetVariant(context.Background(), domain.StockKey{ProductID: p.ID, Variant: "M"})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 0, v.Stock)
	assert.Equal(t, 9, f.stockOf(t, p.ID))
}

func TestCreateOrder_RetriesOrderNumberCollision(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "10.00", 10)

	fixed := func(time.Time) string { return "20240301101500000001AAAAAA" }
	f.cart(t, anon, domain.CartLine{ProductID: p.ID, Quantity: 1})
	_, err := f.service(WithNumberGenerator(fixed)).CreateOrder(context.Background(), domain.CustomerIdentity{}, anon, cashRequest())
	require.NoError(t, err)

	var mu sync.Mutex
	numbers := []string{"20240301101500000001AAAAAA", "20240301101500000002BBBBBB"}
	calls := 0
	sequence := func(time.Time) string {
		mu.Lock()
		defer mu.Unlock()
		n := numbers[calls]
		calls++
		return n
	}

	f.cart(t, anon, domain.CartLine{ProductID: p.ID, Quantity: 2})
	order, err := f.service(WithNumberGenerator(sequence)).CreateOrder(context.Background(), domain.CustomerIdentity{}, anon, cashRequest())
	require.NoError(t, err)
	assert.Equal(t, "20240301101500000002BBBBBB", order.Number)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 7, f.stockOf(t, p.ID))
}

func TestCreateOrder_CollisionSurfacesAfterAttempts(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "10.00", 10)
	fixed := func(time.Time) string { return "20240301101500000001AAAAAA" }

	f.cart(t, anon, domain.CartLine{ProductID: p.ID, Quantity: 1})
	_, err := f.service(WithNumberGenerator(fixed)).CreateOrder(context.Background(), domain.CustomerIdentity{}, anon, cashRequest())
	require.NoError(t, err)

	f.cart(t, anon, domain.CartLine{ProductID: p.ID, Quantity: 1})
	_, err = f.service(WithNumberGenerator(fixed)).CreateOrder(context.Background(), domain.CustomerIdentity{}, anon, cashRequest())
	assert.ErrorIs(t, err, domain.ErrOrderNumberCollision)
	assert.True(t, domain.IsRetryable(err))
	assert.Equal(t, 9, f.stockOf(t, p.ID))
}

func TestCreateOrder_ConcurrentCheckoutsOverLastUnit(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "30.00", 1)
	svc := f.service()

	const buyers = 2
	owners := make([]domain.CartOwner, buyers)
	for i := range owners {
		owners[i] = domain.CartOwner{AnonymousToken: fmt.Sprintf("buyer-%d", i)}
		f.cart(t, owners[i], domain.CartLine{ProductID: p.ID, Quantity: 1})
	}

	errs := make([]error, buyers)
	var wg sync.WaitGroup
	for i := range owners {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.CreateOrder(context.Background(), domain.CustomerIdentity{}, owners[i], cashRequest())
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var shortage *domain.InsufficientStockError
		require.ErrorAs(t, err, &shortage)
		assert.Equal(t, 0, shortage.Available)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 0, f.stockOf(t, p.ID))
}

func TestCancelOrder_ReleasesStock(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "25.00", 5)
	f.variant(t, p.ID, "S", 3)
	f.cart(t, anon,
		domain.CartLine{ProductID: p.ID, Variant: "S", Quantity: 2},
		domain.CartLine{ProductID: p.ID, Quantity: 1},
	)
	svc := f.service()

	order, err := svc.CreateOrder(context.Background(), domain.CustomerIdentity{}, anon, cashRequest())
	require.NoError(t, err)
	require.Equal(t, 4, f.stockOf(t, p.ID))

	cancelled, err := svc.CancelOrder(context.Background(), order.Number, "customer request")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, 5, f.stockOf(t, p.ID))

	v, _, err := f.catalog.GetVariant(context.Background(), domain.StockKey{ProductID: p.ID, Variant: "S"})
	require.NoError(t, err)
	assert.Equal(t, 3, v.Stock)

	assert.Equal(t, []string{order.TrackingToken}, f.views.tokens())
	pending := f.outbox.AllPending()
	require.Len(t, pending, 2)
	assert.Equal(t, domain.EventOrderCancelled, pending[1].EventType)

	_, err = svc.CancelOrder(context.Background(), order.Number, "again")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, 5, f.stockOf(t, p.ID))

	_, err = svc.CancelOrder(context.Background(), "missing", "")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestAdvanceStatus(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, "25.00", 5)
	f.cart(t, anon, domain.CartLine{ProductID: p.ID, Quantity: 1})
	svc := f.service()

	order, err := svc.CreateOrder(context.Background(), domain.CustomerIdentity{}, anon, cashRequest())
	require.NoError(t, err)

	_, err = svc.AdvanceStatus(context.Background(), order.Number, domain.OrderStatusShipped)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	for _, next := range []domain.OrderStatus{domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusDelivered} {
		updated, err := svc.AdvanceStatus(context.Background(), order.Number, next)
		require.NoError(t, err)
		assert.Equal(t, next, updated.Status)
	}

	_, err = svc.CancelOrder(context.Background(), order.Number, "too late")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = svc.AdvanceStatus(context.Background(), order.Number, "lost")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestNewOrderNumber_Format(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 15, 30, 123456789, time.UTC)
	number := NewOrderNumber(at)

	require.Len(t, number, 26)
	assert.Equal(t, "20240301101530123456", number[:20])
	assert.Regexp(t, `^[0-9A-F]{6}$`, number[20:])
	assert.NotEqual(t, number, NewOrderNumber(at))
}

func TestRetry_StopsOnNonRetryableError(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := retry(context.Background(), RetryConfig{MaxAttempts: 5}, newFixtureLogger(), nil, func() error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetry_HonoursContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := retry(ctx, RetryConfig{MaxAttempts: 3, InitialDelay: time.Second}, newFixtureLogger(), nil, func() error {
		return domain.ErrOrderNumberCollision
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, domain.ErrOrderNumberCollision)
}

func newFixtureLogger() *log.Entry {
	return log.WithField("component", "checkout-test")
}

type recordingNotifier struct {
	mu     sync.Mutex
	result bool
	sent   []string
}

func (n *recordingNotifier) NotifyOrderConfirmed(_ context.Context, order domain.Order) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, order.Number)
	return n.result
}

func (n *recordingNotifier) numbers() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.sent...)
}

type recordingInvalidator struct {
	mu      sync.Mutex
	touched []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touched = append(r.touched, token)
}

func (r *recordingInvalidator) tokens() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.touched...)
}
