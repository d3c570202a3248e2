package controllers

import (
	"net/http"
	"strconv"
	"strings"

	apperrors "checkout-service/common/errors"
	"checkout-service/middleware"
	"checkout-service/models"
	"checkout-service/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// IdempotencyKeyHeader lets clients retry order submission safely.
const IdempotencyKeyHeader = "Idempotency-Key"

type OrderController struct {
	orderService services.OrderService
}

func NewOrderController(orderService services.OrderService) *OrderController {
	return &OrderController{orderService: orderService}
}

type UpdateStatusRequest struct {
	Status  string `json:"status" binding:"required"`
	Comment string `json:"comment"`
}

type UpdateNotesRequest struct {
	AdminNotes string `json:"adminNotes"`
}

type RefundRequest struct {
	Amount  decimal.Decimal `json:"amount"`
	Comment string          `json:"comment"`
}

// CreateOrder handles POST /orders. Guests may check out.
func (oc *OrderController) CreateOrder(ctx *gin.Context) {
	var req services.CreateOrderRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	key := strings.TrimSpace(ctx.GetHeader(IdempotencyKeyHeader))
	order, appErr := oc.orderService.CreateOrder(ctx.Request.Context(), middleware.GetIdentity(ctx), &req, key)
	if appErr != nil {
		handleServiceError(ctx, appErr)
		return
	}

	ctx.JSON(http.StatusCreated, order)
}

// ListOrders handles GET /orders
func (oc *OrderController) ListOrders(ctx *gin.Context) {
	page, pageSize := parsePaginationParams(ctx)
	result, appErr := oc.orderService.ListOrders(ctx.Request.Context(), middleware.GetIdentity(ctx), services.ListOrdersQuery{
		Page:     page,
		PageSize: pageSize,
		Status:   ctx.Query("status"),
	})
	if appErr != nil {
		handleServiceError(ctx, appErr)
		return
	}

	ctx.JSON(http.StatusOK, result)
}

// GetOrder handles GET /orders/:id
func (oc *OrderController) GetOrder(ctx *gin.Context) {
	id, ok := parseOrderID(ctx)
	if !ok {
		return
	}

	order, appErr := oc.orderService.GetOrder(ctx.Request.Context(), middleware.GetIdentity(ctx), id)
	if appErr != nil {
		handleServiceError(ctx, appErr)
		return
	}

	ctx.JSON(http.StatusOK, order)
}

// UpdateStatus handles PATCH /orders/:id/status
func (oc *OrderController) UpdateStatus(ctx *gin.Context) {
	id, ok := parseOrderID(ctx)
	if !ok {
		return
	}
	var req UpdateStatusRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	status := models.OrderStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	order, appErr := oc.orderService.TransitionStatus(ctx.Request.Context(), id, status, req.Comment)
	if appErr != nil {
		handleServiceError(ctx, appErr)
		return
	}

	ctx.JSON(http.StatusOK, order)
}

// UpdateNotes handles PATCH /orders/:id/notes
func (oc *OrderController) UpdateNotes(ctx *gin.Context) {
	id, ok := parseOrderID(ctx)
	if !ok {
		return
	}
	var req UpdateNotesRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	order, appErr := oc.orderService.UpdateAdminNotes(ctx.Request.Context(), id, req.AdminNotes)
	if appErr != nil {
		handleServiceError(ctx, appErr)
		return
	}

	ctx.JSON(http.StatusOK, order)
}

// RecordRefund handles POST /orders/:id/refund
func (oc *OrderController) RecordRefund(ctx *gin.Context) {
	id, ok := parseOrderID(ctx)
	if !ok {
		return
	}
	var req RefundRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	order, appErr := oc.orderService.RecordRefund(ctx.Request.Context(), id, req.Amount, req.Comment)
	if appErr != nil {
		handleServiceError(ctx, appErr)
		return
	}

	ctx.JSON(http.StatusOK, order)
}

// handleServiceError hands the error to ErrorMiddleware for rendering.
func handleServiceError(ctx *gin.Context, appErr *apperrors.Error) {
	_ = ctx.Error(appErr)
	ctx.Abort()
}

func parseOrderID(ctx *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID format"})
		return uuid.Nil, false
	}
	return id, true
}

// parsePaginationParams reads page and pageSize, accepting limit as an alias.
func parsePaginationParams(ctx *gin.Context) (int, int) {
	const maxPageSize = 100
	page, pageSize := 1, 20

	if p, err := strconv.Atoi(ctx.DefaultQuery("page", "1")); err == nil && p > 0 {
		page = p
	}
	raw := ctx.Query("pageSize")
	if raw == "" {
		raw = ctx.Query("limit")
	}
	if l, err := strconv.Atoi(raw); err == nil && l > 0 {
		pageSize = l
		if pageSize > maxPageSize {
			pageSize = maxPageSize
		}
	}
	return page, pageSize
}
