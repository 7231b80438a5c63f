package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/averix/go-order-api/internal/dto"
	"github.com/averix/go-order-api/internal/gateway"
	"github.com/averix/go-order-api/internal/service"
)

// PaymentHandler receives asynchronous gateway notifications. The endpoint
// is unauthenticated; trust comes entirely from the payload signature.
type PaymentHandler struct {
	orderService *service.OrderService
	payment      gateway.PaymentGateway
}

func NewPaymentHandler(orderService *service.OrderService, payment gateway.PaymentGateway) *PaymentHandler {
	return &PaymentHandler{orderService: orderService, payment: payment}
}

func (h *PaymentHandler) Callback(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable payload"})
		return
	}

	result, err := h.payment.VerifyCallback(payload, c.GetHeader("X-Callback-Signature"))
	if err != nil {
		if errors.Is(err, gateway.ErrUntrustedCallback) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	order, err := h.orderService.ConfirmPayment(c.Request.Context(), result.OrderNumber, result.TransactionID, result.Status)
	if err != nil {
		writeOrderError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.PaymentCallbackResponse{OrderNumber: order.Number, Status: order.Status})
}
