package controllers

import (
	"io"
	"net/http"

	"checkout-service/services"

	"github.com/gin-gonic/gin"
)

const maxCallbackBytes = 64 << 10

type WebhookController struct {
	webhookService services.WebhookService
}

func NewWebhookController(webhookService services.WebhookService) *WebhookController {
	return &WebhookController{webhookService: webhookService}
}

// HandleCallback handles POST /webhooks/payment/:gateway. Signatures are
// computed over the exact bytes received, so the body is read raw.
func (wc *WebhookController) HandleCallback(ctx *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(ctx.Writer, ctx.Request.Body, maxCallbackBytes))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Could not read request body"})
		return
	}

	if appErr := wc.webhookService.HandleCallback(ctx.Request.Context(), ctx.Param("gateway"), body, ctx.Request.Header); appErr != nil {
		handleServiceError(ctx, appErr)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"status": "received"})
}
