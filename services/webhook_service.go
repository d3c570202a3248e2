package services

import (
	"context"
	"errors"
	"net/http"
	"strings"

	apperrors "checkout-service/common/errors"
	"checkout-service/common/logger"
	awspkg "checkout-service/pkg/aws"
	"checkout-service/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// WebhookDeduper remembers callbacks that were already applied.
type WebhookDeduper interface {
	WebhookSeen(ctx context.Context, gateway string, body []byte) (bool, error)
	MarkWebhookProcessed(ctx context.Context, gateway string, body []byte) error
}

type WebhookService interface {
	// HandleCallback authenticates and applies a provider callback. A nil
	// return means the delivery should be acknowledged with 200.
	HandleCallback(ctx context.Context, gatewayID string, body []byte, header http.Header) *apperrors.Error
}

type webhookServiceImpl struct {
	gateways GatewayResolver
	orders   OrderService
	repo     repository.OrderRepository
	deduper  WebhookDeduper
	metrics  metricsEmitter
	logger   *zap.Logger
}

func NewWebhookService(
	resolver GatewayResolver,
	orders OrderService,
	repo repository.OrderRepository,
	deduper WebhookDeduper,
	metrics awspkg.MetricsRecorder,
	logger *zap.Logger,
) WebhookService {
	return &webhookServiceImpl{
		gateways: resolver,
		orders:   orders,
		repo:     repo,
		deduper:  deduper,
		metrics:  metricsEmitter{recorder: metrics, logger: logger},
		logger:   logger,
	}
}

func (s *webhookServiceImpl) HandleCallback(ctx context.Context, gatewayID string, body []byte, header http.Header) *apperrors.Error {
	gatewayID = strings.ToLower(strings.TrimSpace(gatewayID))
	log := logger.WithRequest(ctx, s.logger).With(zap.String("gateway", gatewayID))
	dims := map[string]string{"Gateway": gatewayID}

	gw, err := s.gateways.Resolve(gatewayID)
	if err != nil {
		log.Error("Callback for gateway that is not enabled", zap.Error(err))
		return apperrors.New(http.StatusBadRequest, apperrors.KindConfig, "Unsupported payment gateway", err)
	}
	s.metrics.count(awspkg.MetricWebhookReceived, dims)

	if !gw.VerifyCallback(body, header) {
		log.Warn("Rejected callback with invalid signature", zap.Int("body_bytes", len(body)))
		s.metrics.count(awspkg.MetricWebhookRejected, dims)
		return apperrors.New(http.StatusUnauthorized, apperrors.KindUnauthorized, "Invalid signature", nil)
	}

	evt, err := gw.ParseCallback(body, header)
	if err != nil {
		log.Warn("Malformed callback payload", zap.Error(err))
		return apperrors.Validation("Malformed callback payload")
	}
	log = log.With(
		zap.String("order_number", evt.OrderReference),
		zap.String("provider_status", evt.ProviderStatus),
	)

	if s.seen(ctx, gatewayID, body, log) {
		log.Info("Duplicate callback acknowledged")
		s.metrics.count(awspkg.MetricWebhookDuplicate, dims)
		return nil
	}

	if evt.Outcome == "" {
		log.Info("Callback carries no final outcome")
		return nil
	}

	if evt.Amount != nil {
		order, err := s.repo.FindByOrderNumber(ctx, evt.OrderReference)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("Callback for unknown order")
			return nil
		}
		if err != nil {
			log.Error("Failed to load order for callback", zap.Error(err))
			return apperrors.Internal("Failed to process callback", err)
		}
		if !evt.Amount.Equal(order.Total) {
			log.Error("Callback amount does not match order total",
				zap.String("amount", evt.Amount.StringFixed(2)),
				zap.String("total", order.Total.StringFixed(2)),
			)
			return nil
		}
	}

	res, appErr := s.orders.ApplyPaymentOutcome(ctx, evt.OrderReference, evt.Outcome, evt.ProviderReference)
	if appErr != nil {
		if appErr.Kind == apperrors.KindNotFound {
			log.Warn("Callback for unknown order")
			return nil
		}
		return appErr
	}
	log.Info("Callback processed", zap.Bool("applied", res.Applied))

	if s.deduper != nil {
		if err := s.deduper.MarkWebhookProcessed(ctx, gatewayID, body); err != nil {
			log.Warn("Failed to record processed callback", zap.Error(err))
		}
	}
	return nil
}

func (s *webhookServiceImpl) seen(ctx context.Context, gatewayID string, body []byte, log *zap.Logger) bool {
	if s.deduper == nil {
		return false
	}
	seen, err := s.deduper.WebhookSeen(ctx, gatewayID, body)
	if err != nil {
		log.Warn("Replay guard unavailable", zap.Error(err))
		return false
	}
	return seen
}
