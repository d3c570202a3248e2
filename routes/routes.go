package routes

import (
	"checkout-service/common/auth"
	"checkout-service/controllers"
	"checkout-service/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterCheckoutRoutes sets up order, payment and webhook routes.
func RegisterCheckoutRoutes(
	r *gin.Engine,
	parser *auth.TokenParser,
	oc *controllers.OrderController,
	pc *controllers.PaymentController,
	wc *controllers.WebhookController,
) {
	orders := r.Group("/orders")
	orders.Use(middleware.Identity(parser))

	// Guests may check out and pay for their own order by id
	orders.POST("", oc.CreateOrder)
	orders.POST("/:id/payments", pc.InitiatePayment)

	orders.GET("", middleware.RequireAuth(), oc.ListOrders)
	orders.GET("/:id", middleware.RequireAuth(), oc.GetOrder)
	orders.POST("/:id/payments/verify", middleware.RequireAuth(), pc.VerifyPayment)

	// Admin
	orders.PATCH("/:id/status", middleware.RequireAdmin(), oc.UpdateStatus)
	orders.PATCH("/:id/notes", middleware.RequireAdmin(), oc.UpdateNotes)
	orders.POST("/:id/refund", middleware.RequireAdmin(), oc.RecordRefund)

	// Authenticated by gateway signature, not by caller identity
	r.POST("/webhooks/payment/:gateway", wc.HandleCallback)
}
