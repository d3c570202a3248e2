package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"checkout-service/common/auth"
	apperrors "checkout-service/common/errors"
	"checkout-service/common/logger"
	"checkout-service/gateways"
	"checkout-service/models"
	awspkg "checkout-service/pkg/aws"
	"checkout-service/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// GatewayResolver looks up an enabled gateway by id.
type GatewayResolver interface {
	Resolve(id string) (gateways.Gateway, error)
}

type PaymentService interface {
	InitiatePayment(ctx context.Context, identity auth.Identity, orderID uuid.UUID, gatewayID string) (*gateways.PaymentResult, *apperrors.Error)
	VerifyPayment(ctx context.Context, identity auth.Identity, orderID uuid.UUID) (*gateways.VerificationResult, *apperrors.Error)
	// ReconcilePayment polls the order's gateway and applies PAID when the
	// provider confirms it. settled is true once the payment needs no more
	// polling.
	ReconcilePayment(ctx context.Context, orderID uuid.UUID) (result *gateways.VerificationResult, settled bool, appErr *apperrors.Error)
}

type PaymentServiceConfig struct {
	PublicBaseURL string
	VerifyDelay   time.Duration
}

type paymentServiceImpl struct {
	repo     repository.OrderRepository
	orders   OrderService
	gateways GatewayResolver
	queue    awspkg.QueueSender
	metrics  metricsEmitter
	cfg      PaymentServiceConfig
	logger   *zap.Logger
}

func NewPaymentService(
	repo repository.OrderRepository,
	orders OrderService,
	resolver GatewayResolver,
	queue awspkg.QueueSender,
	metrics awspkg.MetricsRecorder,
	cfg PaymentServiceConfig,
	logger *zap.Logger,
) PaymentService {
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	return &paymentServiceImpl{
		repo:     repo,
		orders:   orders,
		gateways: resolver,
		queue:    queue,
		metrics:  metricsEmitter{recorder: metrics, logger: logger},
		cfg:      cfg,
		logger:   logger,
	}
}

// InitiatePayment hands the order to a gateway and records the handle the
// provider returned. Gateway failures leave the order untouched.
func (s *paymentServiceImpl) InitiatePayment(ctx context.Context, identity auth.Identity, orderID uuid.UUID, gatewayID string) (*gateways.PaymentResult, *apperrors.Error) {
	gatewayID = strings.ToLower(strings.TrimSpace(gatewayID))
	log := logger.WithRequest(ctx, s.logger).With(
		zap.String("order_id", orderID.String()),
		zap.String("gateway", gatewayID),
	)

	order, appErr := s.loadForPayment(ctx, identity, orderID)
	if appErr != nil {
		return nil, appErr
	}
	if appErr := awaitingPayment(order); appErr != nil {
		return nil, appErr
	}

	gw, err := s.gateways.Resolve(gatewayID)
	if err != nil {
		log.Error("Payment gateway not available", zap.Error(err))
		return nil, paymentError(err)
	}

	ref := order.OrderNumber
	req := gateways.PaymentRequest{
		Amount:        order.Total,
		Reference:     ref,
		CustomerEmail: order.CustomerEmail,
		CustomerName:  order.CustomerName(),
		ReturnURL:     fmt.Sprintf("%s/checkout/success?order=%s", s.cfg.PublicBaseURL, url.QueryEscape(ref)),
		CancelURL:     fmt.Sprintf("%s/checkout/cancelled?order=%s", s.cfg.PublicBaseURL, url.QueryEscape(ref)),
		NotifyURL:     fmt.Sprintf("%s/webhooks/payment/%s", s.cfg.PublicBaseURL, gw.ID()),
	}

	start := time.Now()
	result, err := gw.CreatePayment(ctx, req)
	s.metrics.latency(awspkg.MetricGatewayLatency, time.Since(start), map[string]string{"Gateway": gw.ID()})
	if err != nil {
		log.Warn("Payment initiation failed", zap.String("order_number", ref), zap.Error(err))
		s.metrics.count(awspkg.MetricPaymentInitFailed, map[string]string{"Gateway": gw.ID()})
		return nil, paymentError(err)
	}

	_, err = s.repo.UpdateByID(ctx, orderID, func(o *models.Order) (*repository.Mutation, error) {
		if appErr := awaitingPayment(o); appErr != nil {
			return nil, appErr
		}
		paymentRef := result.PaymentID
		o.PaymentMethod = gw.ID()
		o.PaymentReference = &paymentRef
		cols := []string{"payment_method", "payment_reference"}
		if o.PaymentStatus == models.PaymentStatusPending {
			o.PaymentStatus = models.PaymentStatusProcessing
			cols = append(cols, "payment_status")
		}
		return &repository.Mutation{
			Columns: cols,
			History: &models.OrderStatusHistory{
				Status:  o.Status,
				Comment: fmt.Sprintf("Payment initiated via %s", gw.ID()),
			},
		}, nil
	})
	if err != nil {
		if appErr, ok := apperrors.As(err); ok {
			return nil, appErr
		}
		log.Error("Failed to record payment initiation", zap.Error(err))
		return nil, apperrors.Internal("Failed to initiate payment", err)
	}

	log.Info("Payment initiated", zap.String("order_number", ref), zap.String("payment_id", result.PaymentID))
	s.metrics.count(awspkg.MetricPaymentInitiated, map[string]string{"Gateway": gw.ID()})

	if _, ok := gw.(gateways.PaymentVerifier); ok && s.queue != nil {
		msg := models.PaymentVerificationMessage{
			OrderID:   orderID.String(),
			Gateway:   gw.ID(),
			Reference: result.PaymentID,
			Attempt:   1,
		}
		if err := scheduleVerification(ctx, s.queue, msg, s.cfg.VerifyDelay); err != nil {
			log.Warn("Failed to schedule payment verification", zap.Error(err))
		}
	}

	return result, nil
}

func (s *paymentServiceImpl) VerifyPayment(ctx context.Context, identity auth.Identity, orderID uuid.UUID) (*gateways.VerificationResult, *apperrors.Error) {
	order, appErr := s.loadForPayment(ctx, identity, orderID)
	if appErr != nil {
		return nil, appErr
	}
	result, _, appErr := s.reconcile(ctx, order)
	return result, appErr
}

func (s *paymentServiceImpl) ReconcilePayment(ctx context.Context, orderID uuid.UUID) (*gateways.VerificationResult, bool, *apperrors.Error) {
	order, appErr := s.load(ctx, orderID)
	if appErr != nil {
		return nil, false, appErr
	}
	return s.reconcile(ctx, order)
}

func (s *paymentServiceImpl) reconcile(ctx context.Context, order *models.Order) (*gateways.VerificationResult, bool, *apperrors.Error) {
	if order.PaymentStatus != models.PaymentStatusPending && order.PaymentStatus != models.PaymentStatusProcessing {
		return &gateways.VerificationResult{
			Status: string(order.PaymentStatus),
			Paid:   order.PaymentStatus == models.PaymentStatusPaid,
		}, true, nil
	}
	if order.PaymentMethod == "" || order.PaymentReference == nil {
		return nil, true, apperrors.Validation("Payment has not been initiated for this order")
	}

	gw, err := s.gateways.Resolve(order.PaymentMethod)
	if err != nil {
		s.logger.Error("Payment gateway not available", zap.String("gateway", order.PaymentMethod), zap.Error(err))
		return nil, true, paymentError(err)
	}
	verifier, ok := gw.(gateways.PaymentVerifier)
	if !ok {
		return nil, true, apperrors.Validation(fmt.Sprintf("%s does not support payment verification", gw.ID()))
	}

	result := verifier.VerifyPayment(ctx, *order.PaymentReference)
	s.metrics.count(awspkg.MetricPaymentVerification, map[string]string{"Gateway": gw.ID(), "Status": result.Status})
	if !result.Paid {
		return &result, false, nil
	}

	if _, appErr := s.orders.ApplyPaymentOutcome(ctx, order.OrderNumber, models.PaymentOutcomePaid, *order.PaymentReference); appErr != nil {
		return nil, false, appErr
	}
	return &result, true, nil
}

func (s *paymentServiceImpl) load(ctx context.Context, orderID uuid.UUID) (*models.Order, *apperrors.Error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("Order not found")
	}
	if err != nil {
		s.logger.Error("Failed to fetch order", zap.String("order_id", orderID.String()), zap.Error(err))
		return nil, apperrors.Internal("Failed to fetch order", err)
	}
	return order, nil
}

// loadForPayment allows the owner, an admin, or anyone holding the id of a
// guest order.
func (s *paymentServiceImpl) loadForPayment(ctx context.Context, identity auth.Identity, orderID uuid.UUID) (*models.Order, *apperrors.Error) {
	order, appErr := s.load(ctx, orderID)
	if appErr != nil {
		return nil, appErr
	}
	if order.UserID == nil || identity.IsAdmin() || order.OwnedBy(identity.UserID) {
		return order, nil
	}
	return nil, apperrors.Forbidden("You do not have access to this order")
}

func awaitingPayment(o *models.Order) *apperrors.Error {
	if o.Status != models.OrderStatusPending {
		return apperrors.New(http.StatusConflict, apperrors.KindConflict,
			fmt.Sprintf("Order is %s and cannot be paid", o.Status), nil)
	}
	if o.PaymentStatus != models.PaymentStatusPending && o.PaymentStatus != models.PaymentStatusProcessing {
		return apperrors.New(http.StatusConflict, apperrors.KindConflict,
			fmt.Sprintf("Payment is already %s", o.PaymentStatus), nil)
	}
	return nil
}

// paymentError maps a gateway failure to the HTTP-facing error.
func paymentError(err error) *apperrors.Error {
	var pe *gateways.PaymentError
	if !errors.As(err, &pe) {
		return apperrors.Internal("Failed to initiate payment", err)
	}
	switch pe.Kind {
	case apperrors.KindTransport:
		return apperrors.New(http.StatusBadGateway, apperrors.KindTransport,
			"Payment provider is unavailable, please try again", err)
	case apperrors.KindRejected:
		return apperrors.New(http.StatusUnprocessableEntity, apperrors.KindRejected, pe.Message, err)
	case apperrors.KindConfig:
		return apperrors.New(http.StatusBadRequest, apperrors.KindConfig, pe.Message, err)
	default:
		return apperrors.Internal("Failed to initiate payment", err)
	}
}
