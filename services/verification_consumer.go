package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	apperrors "checkout-service/common/errors"
	"checkout-service/models"
	awspkg "checkout-service/pkg/aws"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// VerificationConsumer handles delayed payment verification messages.
type VerificationConsumer struct {
	payments    PaymentService
	queue       awspkg.QueueSender
	delay       time.Duration
	maxAttempts int
	logger      *zap.Logger
}

func NewVerificationConsumer(payments PaymentService, queue awspkg.QueueSender, delay time.Duration, maxAttempts int, logger *zap.Logger) *VerificationConsumer {
	return &VerificationConsumer{
		payments:    payments,
		queue:       queue,
		delay:       delay,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Handle polls the gateway once for the order in body. Unsettled payments are
// queued again until maxAttempts. Only internal failures return an error, which
// leaves the message for redelivery.
func (c *VerificationConsumer) Handle(ctx context.Context, body string) error {
	var msg models.PaymentVerificationMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		c.logger.Warn("Dropping malformed verification message", zap.Error(err))
		return nil
	}
	orderID, err := uuid.Parse(msg.OrderID)
	if err != nil {
		c.logger.Warn("Dropping verification message with invalid order id", zap.String("order_id", msg.OrderID))
		return nil
	}

	log := c.logger.With(
		zap.String("order_id", msg.OrderID),
		zap.String("gateway", msg.Gateway),
		zap.Int("attempt", msg.Attempt),
	)

	result, settled, appErr := c.payments.ReconcilePayment(ctx, orderID)
	if appErr != nil {
		if appErr.Kind == apperrors.KindInternal {
			return appErr
		}
		log.Warn("Dropping verification message", zap.String("reason", appErr.Message))
		return nil
	}
	if settled {
		log.Info("Payment settled", zap.String("status", result.Status))
		return nil
	}

	if msg.Attempt >= c.maxAttempts {
		log.Warn("Payment still unsettled after final verification attempt", zap.String("status", result.Status))
		return nil
	}

	msg.Attempt++
	if err := scheduleVerification(ctx, c.queue, msg, c.delay); err != nil {
		return err
	}
	log.Info("Payment verification rescheduled", zap.String("status", result.Status))
	return nil
}

func scheduleVerification(ctx context.Context, queue awspkg.QueueSender, msg models.PaymentVerificationMessage, delay time.Duration) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal verification message: %w", err)
	}
	if err := queue.SendDelayed(ctx, string(body), delay); err != nil {
		return fmt.Errorf("failed to schedule verification for order %s: %w", msg.OrderID, err)
	}
	return nil
}
