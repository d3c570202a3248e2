package controllers

import (
	"net/http"

	"checkout-service/middleware"
	"checkout-service/services"

	"github.com/gin-gonic/gin"
)

type PaymentController struct {
	paymentService services.PaymentService
}

func NewPaymentController(paymentService services.PaymentService) *PaymentController {
	return &PaymentController{paymentService: paymentService}
}

type InitiatePaymentRequest struct {
	Gateway string `json:"gateway" binding:"required"`
}

// InitiatePayment handles POST /orders/:id/payments
func (pc *PaymentController) InitiatePayment(ctx *gin.Context) {
	id, ok := parseOrderID(ctx)
	if !ok {
		return
	}
	var req InitiatePaymentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	result, appErr := pc.paymentService.InitiatePayment(ctx.Request.Context(), middleware.GetIdentity(ctx), id, req.Gateway)
	if appErr != nil {
		handleServiceError(ctx, appErr)
		return
	}

	ctx.JSON(http.StatusOK, result)
}

// VerifyPayment handles POST /orders/:id/payments/verify
func (pc *PaymentController) VerifyPayment(ctx *gin.Context) {
	id, ok := parseOrderID(ctx)
	if !ok {
		return
	}

	result, appErr := pc.paymentService.VerifyPayment(ctx.Request.Context(), middleware.GetIdentity(ctx), id)
	if appErr != nil {
		handleServiceError(ctx, appErr)
		return
	}

	ctx.JSON(http.StatusOK, result)
}
