package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
)

type errorBody struct {
	Error string `json:"error"`
}

// stockErrorBody уточняет, какой позиции не хватило.
type stockErrorBody struct {
	Error     string `json:"error"`
	ProductID int64  `json:"product_id"`
	Variant   string `json:"variant,omitempty"`
	Available int    `json:"available"`
	Requested int    `json:"requested"`
}

var badRequestErrors = []error{
	domain.ErrEmptyCart,
	domain.ErrCartNotFound,
	domain.ErrProductUnavailable,
	domain.ErrInvalidQuantity,
	domain.ErrInvalidPaymentMethod,
	domain.ErrDeliveryAddressRequired,
	domain.ErrPhoneRequired,
	domain.ErrNegativeDiscount,
	domain.ErrDiscountExceedsSubtotal,
	domain.ErrNotCardPayment,
	domain.ErrPaymentGateway,
}

func statusOf(err error) int {
	// Шлюз вернул intent, для которого нет заказа: это ошибка запроса, а не 404.
	var gatewayErr *domain.PaymentGatewayError
	if errors.As(err, &gatewayErr) && errors.Is(gatewayErr.Err, domain.ErrOrderNotFound) {
		return http.StatusBadRequest
	}

	switch {
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrOrderNumberCollision),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, idempotency.ErrInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrGatewayMisconfigured), errors.Is(err, domain.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	}
	for _, target := range badRequestErrors {
		if errors.Is(err, target) {
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}

// writeError переводит доменную ошибку в HTTP-ответ.
// Текст внутренних ошибок наружу не отдаётся.
func writeError(c *gin.Context, err error) {
	var stockErr *domain.InsufficientStockError
	if errors.As(err, &stockErr) {
		c.JSON(http.StatusBadRequest, stockErrorBody{
			Error:     domain.ErrInsufficientStock.Error(),
			ProductID: stockErr.ProductID,
			Variant:   stockErr.Variant,
			Available: stockErr.Available,
			Requested: stockErr.Requested,
		})
		return
	}

	status := statusOf(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		c.JSON(status, errorBody{Error: "internal error"})
		return
	}
	c.JSON(status, errorBody{Error: err.Error()})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, errorBody{Error: message})
}
