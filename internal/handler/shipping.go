package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/averix/go-order-api/internal/dto"
	"github.com/averix/go-order-api/internal/gateway"
	"github.com/averix/go-order-api/internal/service"
)

type ShippingHandler struct {
	shippingService *service.ShippingService
}

func NewShippingHandler(shippingService *service.ShippingService) *ShippingHandler {
	return &ShippingHandler{shippingService: shippingService}
}

func (h *ShippingHandler) QuoteRate(c *gin.Context) {
	var req dto.RateQuoteRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rate, err := h.shippingService.Quote(c.Request.Context(), req.DestinationCode, req.WeightGrams)
	if err != nil {
		var upstreamErr *gateway.UpstreamError
		switch {
		case errors.Is(err, gateway.ErrUpstreamTimeout):
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": "upstream timeout"})
		case errors.As(err, &upstreamErr):
			c.JSON(http.StatusBadGateway, gin.H{"error": "upstream error"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		}
		return
	}

	c.JSON(http.StatusOK, dto.RateQuoteResponse{Cost: rate.Cost, ETADays: rate.ETADays})
}
