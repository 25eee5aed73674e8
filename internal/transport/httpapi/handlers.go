package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/orderquery"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
)

const maxWebhookBody = 1 << 20

type cartLineRequest struct {
	ProductID int64  `json:"product_id" binding:"required"`
	Variant   string `json:"variant"`
	Quantity  int    `json:"quantity"`
}

type cartLineResponse struct {
	ProductID int64  `json:"product_id"`
	Variant   string `json:"variant,omitempty"`
	Quantity  int    `json:"quantity"`
}

type cartResponse struct {
	ID        string             `json:"id,omitempty"`
	Lines     []cartLineResponse `json:"lines"`
	Items     int                `json:"items"`
	UpdatedAt *time.Time         `json:"updated_at,omitempty"`
}

func newCartResponse(cart domain.Cart) cartResponse {
	resp := cartResponse{ID: cart.ID, Lines: make([]cartLineResponse, 0, len(cart.Lines))}
	for _, line := range cart.Lines {
		resp.Lines = append(resp.Lines, cartLineResponse{
			ProductID: line.ProductID,
			Variant:   line.Variant,
			Quantity:  line.Quantity,
		})
		resp.Items += line.Quantity
	}
	if !cart.UpdatedAt.IsZero() {
		updated := cart.UpdatedAt
		resp.UpdatedAt = &updated
	}
	return resp
}

type createOrderRequest struct {
	PaymentMethod   string `json:"payment_method" binding:"required"`
	DeliveryMethod  string `json:"delivery_method"`
	DeliveryAddress string `json:"delivery_address"`
	Phone           string `json:"phone"`
	Email           string `json:"email"`
	Discount        string `json:"discount"`
}

func (r createOrderRequest) toCheckout() (checkout.Request, error) {
	discount := decimal.Zero
	if raw := strings.TrimSpace(r.Discount); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			return checkout.Request{}, errors.New("discount must be a decimal number")
		}
		discount = parsed
	}
	return checkout.Request{
		PaymentMethod:   domain.PaymentMethod(strings.TrimSpace(r.PaymentMethod)),
		DeliveryMethod:  domain.DeliveryMethod(strings.TrimSpace(r.DeliveryMethod)),
		DeliveryAddress: r.DeliveryAddress,
		Phone:           r.Phone,
		ContactEmail:    r.Email,
		Discount:        discount,
	}, nil
}

type intentResponse struct {
	IntentID     string `json:"intent_id"`
	Status       string `json:"status"`
	ClientSecret string `json:"client_secret,omitempty"`
	AmountMinor  int64  `json:"amount_minor"`
	Currency     string `json:"currency"`
}

func newIntentResponse(intent domain.PaymentIntent) *intentResponse {
	return &intentResponse{
		IntentID:     intent.ID,
		Status:       string(intent.Status),
		ClientSecret: intent.ClientSecret,
		AmountMinor:  intent.AmountMinor,
		Currency:     intent.Currency,
	}
}

// orderResponse — карточка заказа для его создателя: с tracking token и платёжным статусом.
type orderResponse struct {
	orderquery.DetailView
	TrackingToken string          `json:"tracking_token"`
	PaymentMethod string          `json:"payment_method"`
	PaymentStatus string          `json:"payment_status,omitempty"`
	Payment       *intentResponse `json:"payment,omitempty"`
	PaymentError  string          `json:"payment_error,omitempty"`
}

func newOrderResponse(order domain.Order) orderResponse {
	return orderResponse{
		DetailView:    orderquery.NewDetailView(order),
		TrackingToken: order.TrackingToken,
		PaymentMethod: string(order.PaymentMethod),
		PaymentStatus: order.Payment.Status,
	}
}

func (h *api) getCart(c *gin.Context) {
	cart, err := h.cart.Get(c.Request.Context(), cartOwnerFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCartResponse(cart))
}

func (h *api) addCartLine(c *gin.Context) {
	var req cartLineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid cart line payload")
		return
	}
	cart, err := h.cart.AddLine(c.Request.Context(), cartOwnerFrom(c), req.ProductID, strings.TrimSpace(req.Variant), req.Quantity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCartResponse(cart))
}

func (h *api) updateCartLine(c *gin.Context) {
	var req cartLineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid cart line payload")
		return
	}
	cart, err := h.cart.UpdateLine(c.Request.Context(), cartOwnerFrom(c), req.ProductID, strings.TrimSpace(req.Variant), req.Quantity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCartResponse(cart))
}

func (h *api) removeCartLine(c *gin.Context) {
	var req cartLineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid cart line payload")
		return
	}
	cart, err := h.cart.RemoveLine(c.Request.Context(), cartOwnerFrom(c), req.ProductID, strings.TrimSpace(req.Variant))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCartResponse(cart))
}

// createOrder оформляет корзину. Для оплаты картой intent создаётся уже после коммита:
// сбой шлюза не откатывает заказ, клиент повторяет через /api/payments/intents.
func (h *api) createOrder(c *gin.Context) {
	var body createOrderRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid order payload")
		return
	}
	req, err := body.toCheckout()
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	order, err := h.checkout.CreateOrder(ctx, identityFrom(c), cartOwnerFrom(c), req)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := newOrderResponse(order)
	if order.PaymentMethod.IsCard() && h.payments != nil {
		intent, err := h.payments.EnsureIntent(ctx, order)
		if err != nil {
			h.logger.WithError(err).WithFields(log.Fields{
				"order_id":     order.ID,
				"order_number": order.Number,
			}).Warn("payment intent not created at checkout")
			resp.PaymentError = "payment is temporarily unavailable, retry later"
		} else {
			resp.Payment = newIntentResponse(intent)
			resp.PaymentStatus = string(intent.Status)
		}
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *api) orderDetail(c *gin.Context) {
	view, err := h.orders.PublicDetail(c.Request.Context(), c.Param("number"), identityFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *api) trackOrder(c *gin.Context) {
	view, err := h.orders.Track(c.Request.Context(), c.Param("token"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *api) ensureIntent(c *gin.Context) {
	var req struct {
		OrderNumber string `json:"order_number" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "order_number is required")
		return
	}
	if h.payments == nil {
		writeError(c, domain.ErrGatewayMisconfigured)
		return
	}
	intent, err := h.payments.EnsureIntentByNumber(c.Request.Context(), strings.TrimSpace(req.OrderNumber), identityFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newIntentResponse(intent))
}

func (h *api) confirmIntent(c *gin.Context) {
	var req struct {
		IntentID string `json:"intent_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "intent_id is required")
		return
	}
	if h.payments == nil {
		writeError(c, domain.ErrGatewayMisconfigured)
		return
	}
	order, err := h.payments.ConfirmIntentManually(c.Request.Context(), strings.TrimSpace(req.IntentID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"number": order.Number, "status": order.Status, "payment_status": order.Payment.Status})
}

// handleWebhook: 400 при отсутствующей или неверной подписи, 200 если событие применено,
// 202 если принято, но не относится ни к одному заказу.
func (h *api) handleWebhook(c *gin.Context) {
	signature := strings.TrimSpace(c.GetHeader(payment.SignatureHeader))
	if signature == "" {
		badRequest(c, domain.ErrSignatureMissing.Error())
		return
	}
	if h.payments == nil {
		writeError(c, domain.ErrGatewayMisconfigured)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		badRequest(c, "cannot read webhook payload")
		return
	}

	handled, err := h.payments.HandleWebhookEvent(c.Request.Context(), payload, signature)
	switch {
	case err != nil:
		writeError(c, err)
	case handled:
		c.JSON(http.StatusOK, gin.H{"status": "processed"})
	default:
		c.JSON(http.StatusAccepted, gin.H{"status": "ignored"})
	}
}

func (h *api) cancelOrder(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid cancel payload")
			return
		}
	}
	order, err := h.checkout.CancelOrder(c.Request.Context(), c.Param("number"), strings.TrimSpace(req.Reason))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}

func (h *api) advanceStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "status is required")
		return
	}
	to := domain.OrderStatus(strings.TrimSpace(req.Status))
	if !to.Valid() {
		badRequest(c, "unknown order status")
		return
	}
	order, err := h.checkout.AdvanceStatus(c.Request.Context(), c.Param("number"), to)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}

func (h *api) orderTimeline(c *gin.Context) {
	entries, err := h.orders.Timeline(c.Request.Context(), c.Param("number"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"number": c.Param("number"), "events": entries})
}
