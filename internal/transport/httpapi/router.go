// Package httpapi публикует операции витрины по HTTP поверх gin.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/orderquery"
)

// CartService управляет позициями корзины.
type CartService interface {
	Get(ctx context.Context, owner domain.CartOwner) (domain.Cart, error)
	AddLine(ctx context.Context, owner domain.CartOwner, productID int64, variant string, quantity int) (domain.Cart, error)
	UpdateLine(ctx context.Context, owner domain.CartOwner, productID int64, variant string, quantity int) (domain.Cart, error)
	RemoveLine(ctx context.Context, owner domain.CartOwner, productID int64, variant string) (domain.Cart, error)
}

// CheckoutService оформляет заказы и меняет их статус.
type CheckoutService interface {
	CreateOrder(ctx context.Context, identity domain.CustomerIdentity, owner domain.CartOwner, req checkout.Request) (domain.Order, error)
	CancelOrder(ctx context.Context, number, reason string) (domain.Order, error)
	AdvanceStatus(ctx context.Context, number string, to domain.OrderStatus) (domain.Order, error)
}

// PaymentService согласует заказы с платёжным шлюзом.
type PaymentService interface {
	EnsureIntent(ctx context.Context, order domain.Order) (domain.PaymentIntent, error)
	EnsureIntentByNumber(ctx context.Context, number string, identity domain.CustomerIdentity) (domain.PaymentIntent, error)
	ConfirmIntentManually(ctx context.Context, intentID string) (domain.Order, error)
	HandleWebhookEvent(ctx context.Context, payload []byte, signatureHeader string) (bool, error)
}

// OrderQueries отдаёт публичные представления заказа.
type OrderQueries interface {
	Track(ctx context.Context, token string) (orderquery.TrackingView, error)
	PublicDetail(ctx context.Context, number string, identity domain.CustomerIdentity) (orderquery.DetailView, error)
	Timeline(ctx context.Context, number string) ([]orderquery.TimelineEntry, error)
}

// Deps — зависимости роутера. Guard может быть nil: тогда Idempotency-Key игнорируется.
type Deps struct {
	Cart           CartService
	Checkout       CheckoutService
	Payments       PaymentService
	Orders         OrderQueries
	Guard          *idempotency.Guard
	Identity       *IdentityParser
	Logger         *log.Entry
	RequestTimeout time.Duration
}

type api struct {
	cart     CartService
	checkout CheckoutService
	payments PaymentService
	orders   OrderQueries
	logger   *log.Entry
}

// NewRouter собирает gin.Engine со всеми маршрутами витрины.
func NewRouter(deps Deps) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "http")
	}
	identity := deps.Identity
	if identity == nil {
		identity = NewIdentityParser("")
	}

	h := &api{
		cart:     deps.Cart,
		checkout: deps.Checkout,
		payments: deps.Payments,
		orders:   deps.Orders,
		logger:   logger,
	}

	r := gin.New()
	r.Use(recoveryMiddleware(logger), requestLogger(logger), requestTimeout(deps.RequestTimeout))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorBody{Error: "route not found"})
	})

	apiGroup := r.Group("/api")

	// Вебхук приходит от шлюза без токена покупателя.
	apiGroup.POST("/payments/webhook", h.handleWebhook)

	public := apiGroup.Group("")
	public.Use(identityMiddleware(identity))
	{
		public.GET("/tracking/:token", h.trackOrder)
		public.GET("/orders/:number", h.orderDetail)
		public.POST("/payments/intents", h.ensureIntent)
		public.POST("/payments/confirm", h.confirmIntent)

		cart := public.Group("")
		cart.Use(cartOwnerMiddleware())
		cart.GET("/cart", h.getCart)
		cart.POST("/cart/lines", h.addCartLine)
		cart.PATCH("/cart/lines", h.updateCartLine)
		cart.DELETE("/cart/lines", h.removeCartLine)
		cart.POST("/orders", idempotencyMiddleware(deps.Guard, logger), h.createOrder)

		admin := public.Group("/admin")
		admin.Use(requireStaff())
		admin.POST("/orders/:number/cancel", h.cancelOrder)
		admin.POST("/orders/:number/status", h.advanceStatus)
		admin.GET("/orders/:number/timeline", h.orderTimeline)
	}

	return r
}
