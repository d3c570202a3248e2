package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"checkout-service/cache"
	"checkout-service/common/auth"
	apperrors "checkout-service/common/errors"
	"checkout-service/common/logger"
	"checkout-service/models"
	awspkg "checkout-service/pkg/aws"
	"checkout-service/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type AddressInput struct {
	FirstName  string  `json:"firstName" binding:"required"`
	LastName   string  `json:"lastName" binding:"required"`
	Phone      string  `json:"phone" binding:"required"`
	Address1   string  `json:"address1" binding:"required"`
	Address2   *string `json:"address2"`
	City       string  `json:"city" binding:"required"`
	Province   string  `json:"province" binding:"required"`
	PostalCode string  `json:"postalCode" binding:"required"`
	Country    string  `json:"country"`
}

type CreateOrderRequest struct {
	Items           []CartLine    `json:"items" binding:"required,min=1,dive"`
	CustomerEmail   string        `json:"customerEmail" binding:"required,email"`
	ShippingAddress AddressInput  `json:"shippingAddress" binding:"required"`
	BillingAddress  *AddressInput `json:"billingAddress"`
	CouponCode      string        `json:"couponCode"`
	CustomerNotes   string        `json:"customerNotes"`
}

type ListOrdersQuery struct {
	Page     int
	PageSize int
	Status   string
}

type OrderListResponse struct {
	Data       []models.Order `json:"data"`
	Total      int64          `json:"total"`
	Page       int            `json:"page"`
	PageSize   int            `json:"pageSize"`
	TotalPages int64          `json:"totalPages"`
}

// PaymentOutcomeResult reports whether an outcome changed the order.
type PaymentOutcomeResult struct {
	Order   *models.Order
	Applied bool
}

// IdempotencyStore remembers which order a retried submission created.
type IdempotencyStore interface {
	GetOrderID(ctx context.Context, scope, key string) (string, error)
	PutOrderID(ctx context.Context, scope, key, orderID string) error
}

// OrderService is the order lifecycle manager.
type OrderService interface {
	CreateOrder(ctx context.Context, identity auth.Identity, req *CreateOrderRequest, idempotencyKey string) (*models.Order, *apperrors.Error)
	GetOrder(ctx context.Context, identity auth.Identity, id uuid.UUID) (*models.Order, *apperrors.Error)
	ListOrders(ctx context.Context, identity auth.Identity, q ListOrdersQuery) (*OrderListResponse, *apperrors.Error)
	TransitionStatus(ctx context.Context, id uuid.UUID, newStatus models.OrderStatus, comment string) (*models.Order, *apperrors.Error)
	ApplyPaymentOutcome(ctx context.Context, orderNumber string, outcome models.PaymentOutcome, providerReference string) (*PaymentOutcomeResult, *apperrors.Error)
	RecordRefund(ctx context.Context, id uuid.UUID, amount decimal.Decimal, comment string) (*models.Order, *apperrors.Error)
	UpdateAdminNotes(ctx context.Context, id uuid.UUID, notes string) (*models.Order, *apperrors.Error)
}

type orderServiceImpl struct {
	repo        repository.OrderRepository
	pricing     *PricingEngine
	idempotency IdempotencyStore
	events      EventPublisher
	metrics     metricsEmitter
	prefix      string
	logger      *zap.Logger
	now         func() time.Time
}

func NewOrderService(
	repo repository.OrderRepository,
	pricing *PricingEngine,
	idempotency IdempotencyStore,
	events EventPublisher,
	metrics awspkg.MetricsRecorder,
	orderNumberPrefix string,
	logger *zap.Logger,
) OrderService {
	return &orderServiceImpl{
		repo:        repo,
		pricing:     pricing,
		idempotency: idempotency,
		events:      events,
		metrics:     metricsEmitter{recorder: metrics, logger: logger},
		prefix:      orderNumberPrefix,
		logger:      logger,
		now:         time.Now,
	}
}

// CreateOrder prices the cart on the server and persists a PENDING order with
// its items and first history entry in a single transaction.
func (s *orderServiceImpl) CreateOrder(ctx context.Context, identity auth.Identity, req *CreateOrderRequest, idempotencyKey string) (*models.Order, *apperrors.Error) {
	log := logger.WithRequest(ctx, s.logger)
	scope := identity.UserID
	if identity.IsGuest() {
		scope = "guest:" + strings.ToLower(req.CustomerEmail)
	}

	if existing := s.replayedOrder(ctx, scope, idempotencyKey); existing != nil {
		log.Info("Returning order for repeated idempotency key", zap.String("order_number", existing.OrderNumber))
		return existing, nil
	}

	priced, appErr := s.pricing.Price(ctx, req.Items, req.CouponCode)
	if appErr != nil {
		return nil, appErr
	}

	orderNumber, err := s.uniqueOrderNumber(ctx)
	if err != nil {
		log.Error("Failed to generate order number", zap.Error(err))
		return nil, apperrors.Internal("Failed to create order", err)
	}

	order := buildOrder(orderNumber, identity, req, priced)
	if !order.TotalsBalance() {
		log.Error("Order totals do not balance", zap.String("order_number", orderNumber))
		return nil, apperrors.Internal("Failed to create order", nil)
	}

	couponCode := ""
	if priced.Coupon != nil {
		couponCode = priced.Coupon.Code
	}

	if err := s.repo.Create(ctx, order, couponCode); err != nil {
		var missing *repository.MissingProductError
		switch {
		case errors.As(err, &missing):
			return nil, apperrors.ProductNotFound(missing.ProductID.String())
		case errors.Is(err, repository.ErrCouponUnavailable):
			return nil, apperrors.Validation("Coupon usage limit reached")
		}
		log.Error("Failed to persist order", zap.String("order_number", orderNumber), zap.Error(err))
		return nil, apperrors.Internal("Failed to create order", err)
	}

	if idempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.PutOrderID(ctx, scope, idempotencyKey, order.ID.String()); err != nil {
			log.Warn("Failed to store idempotency key", zap.Error(err))
		}
	}

	log.Info("Order created",
		zap.String("order_id", order.ID.String()),
		zap.String("order_number", order.OrderNumber),
		zap.String("total", order.Total.StringFixed(2)),
	)
	s.events.Publish(ctx, orderEvent(models.EventOrderCreated, order, ""))
	s.metrics.count(awspkg.MetricOrdersCreated, nil)
	s.metrics.value(awspkg.MetricOrderValue, order.Total.InexactFloat64(), nil)

	return order, nil
}

func (s *orderServiceImpl) replayedOrder(ctx context.Context, scope, key string) *models.Order {
	if key == "" || s.idempotency == nil {
		return nil
	}
	id, err := s.idempotency.GetOrderID(ctx, scope, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("Idempotency lookup failed", zap.Error(err))
		}
		return nil
	}
	orderID, err := uuid.Parse(id)
	if err != nil {
		return nil
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil
	}
	return order
}

func (s *orderServiceImpl) uniqueOrderNumber(ctx context.Context) (string, error) {
	for i := 0; i < maxOrderNumberAttempts; i++ {
		candidate := GenerateOrderNumber(s.prefix)
		exists, err := s.repo.OrderNumberExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		s.logger.Warn("Order number collision", zap.String("order_number", candidate))
	}
	return "", fmt.Errorf("no unique order number after %d attempts", maxOrderNumberAttempts)
}

func buildOrder(orderNumber string, identity auth.Identity, req *CreateOrderRequest, priced *PricingResult) *models.Order {
	order := &models.Order{
		OrderNumber:   orderNumber,
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		Status:        models.OrderStatusPending,
		PaymentStatus: models.PaymentStatusPending,
		Subtotal:      priced.Subtotal,
		Discount:      priced.Discount,
		ShippingCost:  priced.ShippingCost,
		Tax:           priced.Tax,
		Total:         priced.Total,
		RefundAmount:  decimal.Zero,
		CustomerNotes: req.CustomerNotes,
		Items:         make([]models.OrderItem, 0, len(priced.Lines)),
		StatusHistory: []models.OrderStatusHistory{{
			Status:  models.OrderStatusPending,
			Comment: "Order placed",
		}},
	}
	if !identity.IsGuest() {
		uid := identity.UserID
		order.UserID = &uid
	}
	if priced.Coupon != nil {
		code := priced.Coupon.Code
		order.CouponCode = &code
	}

	ship := req.ShippingAddress
	order.ShippingFirstName = ship.FirstName
	order.ShippingLastName = ship.LastName
	order.ShippingPhone = ship.Phone
	order.ShippingAddress1 = ship.Address1
	order.ShippingAddress2 = ship.Address2
	order.ShippingCity = ship.City
	order.ShippingProvince = ship.Province
	order.ShippingPostalCode = ship.PostalCode
	order.ShippingCountry = ship.Country
	if order.ShippingCountry == "" {
		order.ShippingCountry = models.DefaultShippingCountry
	}

	if bill := req.BillingAddress; bill != nil {
		order.BillingFirstName = &bill.FirstName
		order.BillingLastName = &bill.LastName
		order.BillingPhone = &bill.Phone
		order.BillingAddress1 = &bill.Address1
		order.BillingAddress2 = bill.Address2
		order.BillingCity = &bill.City
		order.BillingProvince = &bill.Province
		order.BillingPostalCode = &bill.PostalCode
		country := bill.Country
		if country == "" {
			country = models.DefaultShippingCountry
		}
		order.BillingCountry = &country
	}

	for _, l := range priced.Lines {
		order.Items = append(order.Items, models.OrderItem{
			ProductID:    l.Product.ID,
			ProductName:  l.Product.Name,
			ProductSKU:   l.Product.SKU,
			ProductImage: l.Product.ImageURL,
			Quantity:     l.Quantity,
			Price:        l.Product.Price,
			Total:        l.Total,
		})
	}
	return order
}

// GetOrder returns the order to its owner or an admin.
func (s *orderServiceImpl) GetOrder(ctx context.Context, identity auth.Identity, id uuid.UUID) (*models.Order, *apperrors.Error) {
	order, appErr := s.find(ctx, id)
	if appErr != nil {
		return nil, appErr
	}
	if !identity.IsAdmin() && !order.OwnedBy(identity.UserID) {
		return nil, apperrors.Forbidden("You do not have access to this order")
	}
	return order, nil
}

func (s *orderServiceImpl) find(ctx context.Context, id uuid.UUID) (*models.Order, *apperrors.Error) {
	order, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("Order not found")
	}
	if err != nil {
		s.logger.Error("Failed to fetch order", zap.String("order_id", id.String()), zap.Error(err))
		return nil, apperrors.Internal("Failed to fetch order", err)
	}
	return order, nil
}

// ListOrders pages through orders newest first. Non-admins only see their own.
func (s *orderServiceImpl) ListOrders(ctx context.Context, identity auth.Identity, q ListOrdersQuery) (*OrderListResponse, *apperrors.Error) {
	filter := repository.ListFilter{Page: q.Page, Limit: q.PageSize}
	if q.Status != "" {
		status := models.OrderStatus(strings.ToUpper(q.Status))
		if !status.IsValid() {
			return nil, apperrors.Validation("Invalid status filter")
		}
		filter.Status = status
	}
	if !identity.IsAdmin() {
		uid := identity.UserID
		filter.UserID = &uid
	}

	orders, total, err := s.repo.List(ctx, filter)
	if err != nil {
		s.logger.Error("Failed to list orders", zap.Error(err))
		return nil, apperrors.Internal("Failed to fetch orders", err)
	}
	if orders == nil {
		orders = []models.Order{}
	}

	return &OrderListResponse{
		Data:       orders,
		Total:      total,
		Page:       q.Page,
		PageSize:   q.PageSize,
		TotalPages: calculateTotalPages(total, q.PageSize),
	}, nil
}

func calculateTotalPages(total int64, limit int) int64 {
	if limit <= 0 {
		return 0
	}
	return (total + int64(limit) - 1) / int64(limit)
}

// TransitionStatus moves the order along the status machine. The check runs
// against the row read under lock, so concurrent transitions serialize.
func (s *orderServiceImpl) TransitionStatus(ctx context.Context, id uuid.UUID, newStatus models.OrderStatus, comment string) (*models.Order, *apperrors.Error) {
	if !newStatus.IsValid() {
		return nil, apperrors.Validation(fmt.Sprintf("Invalid status %q", newStatus))
	}

	var previous models.OrderStatus
	order, err := s.repo.UpdateByID(ctx, id, func(o *models.Order) (*repository.Mutation, error) {
		if !o.Status.CanTransitionTo(newStatus) {
			return nil, apperrors.Conflict("status", string(o.Status), string(newStatus))
		}

		previous = o.Status
		now := s.now()
		o.Status = newStatus
		cols := []string{"status"}

		switch newStatus {
		case models.OrderStatusShipped:
			o.ShippedAt = &now
			cols = append(cols, "shipped_at")
		case models.OrderStatusDelivered:
			o.DeliveredAt = &now
			cols = append(cols, "delivered_at")
		case models.OrderStatusCancelled:
			o.CancelledAt = &now
			cols = append(cols, "cancelled_at")
		case models.OrderStatusRefunded:
			o.RefundedAt = &now
			cols = append(cols, "refunded_at")
			if o.PaymentStatus == models.PaymentStatusPaid {
				o.PaymentStatus = models.PaymentStatusRefunded
				o.RefundAmount = o.Total
				cols = append(cols, "payment_status", "refund_amount")
			}
		}

		if comment == "" {
			comment = fmt.Sprintf("Status changed from %s to %s", previous, newStatus)
		}
		return &repository.Mutation{
			Columns: cols,
			History: &models.OrderStatusHistory{Status: newStatus, Comment: comment},
		}, nil
	})
	if appErr := s.mutationError(id.String(), err); appErr != nil {
		return nil, appErr
	}

	s.logger.Info("Order status changed",
		zap.String("order_number", order.OrderNumber),
		zap.String("from", string(previous)),
		zap.String("to", string(newStatus)),
	)
	eventType := models.EventOrderStatusChanged
	if newStatus == models.OrderStatusRefunded {
		eventType = models.EventOrderRefunded
	}
	s.events.Publish(ctx, orderEvent(eventType, order, comment))
	s.metrics.count(awspkg.MetricOrderTransitions, map[string]string{"Status": string(newStatus)})

	return order, nil
}

// ApplyPaymentOutcome records a gateway-reported outcome. Repeats and
// outcomes the payment machine does not allow are ignored, so the caller can
// acknowledge every delivery.
func (s *orderServiceImpl) ApplyPaymentOutcome(ctx context.Context, orderNumber string, outcome models.PaymentOutcome, providerReference string) (*PaymentOutcomeResult, *apperrors.Error) {
	var target models.PaymentStatus
	switch outcome {
	case models.PaymentOutcomePaid:
		target = models.PaymentStatusPaid
	case models.PaymentOutcomeFailed:
		target = models.PaymentStatusFailed
	default:
		return nil, apperrors.Validation(fmt.Sprintf("Unknown payment outcome %q", outcome))
	}

	log := logger.WithRequest(ctx, s.logger).With(
		zap.String("order_number", orderNumber),
		zap.String("outcome", string(outcome)),
	)

	applied := false
	order, err := s.repo.UpdateByOrderNumber(ctx, orderNumber, func(o *models.Order) (*repository.Mutation, error) {
		if o.PaymentStatus == target {
			log.Info("Payment outcome already recorded")
			return nil, nil
		}
		if !o.PaymentStatus.CanTransitionTo(target) {
			if o.PaymentStatus == models.PaymentStatusFailed && target == models.PaymentStatusPaid {
				log.Error("Payment reported PAID for an order already marked FAILED; needs manual review")
			} else {
				log.Warn("Ignoring payment outcome", zap.String("payment_status", string(o.PaymentStatus)))
			}
			return nil, nil
		}

		applied = true
		o.PaymentStatus = target
		cols := []string{"payment_status"}
		var comment string

		if target == models.PaymentStatusPaid {
			now := s.now()
			o.PaidAt = &now
			cols = append(cols, "paid_at")
			if providerReference != "" {
				ref := providerReference
				o.PaymentReference = &ref
				cols = append(cols, "payment_reference")
			}
			if o.Status == models.OrderStatusPending {
				o.Status = models.OrderStatusConfirmed
				cols = append(cols, "status")
			}
			comment = "Payment received"
		} else {
			comment = "Payment failed"
		}
		if o.PaymentMethod != "" {
			comment += " via " + o.PaymentMethod
		}

		return &repository.Mutation{
			Columns: cols,
			History: &models.OrderStatusHistory{Status: o.Status, Comment: comment},
		}, nil
	})
	if appErr := s.mutationError(orderNumber, err); appErr != nil {
		return nil, appErr
	}

	if applied {
		dims := map[string]string{"Gateway": order.PaymentMethod}
		if target == models.PaymentStatusPaid {
			log.Info("Payment succeeded")
			s.events.Publish(ctx, orderEvent(models.EventPaymentSucceeded, order, ""))
			s.metrics.count(awspkg.MetricPaymentSucceeded, dims)
		} else {
			log.Warn("Payment failed")
			s.events.Publish(ctx, orderEvent(models.EventPaymentFailed, order, ""))
			s.metrics.count(awspkg.MetricPaymentFailed, dims)
		}
	}

	return &PaymentOutcomeResult{Order: order, Applied: applied}, nil
}

// RecordRefund stores a refund made with the provider. A refund of the full
// total moves the order to REFUNDED where the status machine allows it.
func (s *orderServiceImpl) RecordRefund(ctx context.Context, id uuid.UUID, amount decimal.Decimal, comment string) (*models.Order, *apperrors.Error) {
	if !amount.IsPositive() {
		return nil, apperrors.Validation("Refund amount must be positive")
	}

	order, err := s.repo.UpdateByID(ctx, id, func(o *models.Order) (*repository.Mutation, error) {
		if o.PaymentStatus != models.PaymentStatusPaid {
			return nil, apperrors.Conflict("paymentStatus", string(o.PaymentStatus), string(models.PaymentStatusRefunded))
		}
		if amount.GreaterThan(o.Total) {
			return nil, apperrors.Validation("Refund amount exceeds order total")
		}

		o.RefundAmount = amount
		cols := []string{"refund_amount", "payment_status"}
		if amount.Equal(o.Total) {
			o.PaymentStatus = models.PaymentStatusRefunded
			if o.Status.CanTransitionTo(models.OrderStatusRefunded) {
				now := s.now()
				o.Status = models.OrderStatusRefunded
				o.RefundedAt = &now
				cols = append(cols, "status", "refunded_at")
			}
		} else {
			o.PaymentStatus = models.PaymentStatusPartiallyRefunded
		}

		if comment == "" {
			comment = fmt.Sprintf("Refund of R%s recorded", amount.StringFixed(2))
		}
		return &repository.Mutation{
			Columns: cols,
			History: &models.OrderStatusHistory{Status: o.Status, Comment: comment},
		}, nil
	})
	if appErr := s.mutationError(id.String(), err); appErr != nil {
		return nil, appErr
	}

	s.logger.Info("Refund recorded",
		zap.String("order_number", order.OrderNumber),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("payment_status", string(order.PaymentStatus)),
	)
	s.events.Publish(ctx, orderEvent(models.EventOrderRefunded, order, comment))

	return order, nil
}

func (s *orderServiceImpl) UpdateAdminNotes(ctx context.Context, id uuid.UUID, notes string) (*models.Order, *apperrors.Error) {
	order, err := s.repo.UpdateByID(ctx, id, func(o *models.Order) (*repository.Mutation, error) {
		o.AdminNotes = notes
		return &repository.Mutation{Columns: []string{"admin_notes"}}, nil
	})
	if appErr := s.mutationError(id.String(), err); appErr != nil {
		return nil, appErr
	}
	return order, nil
}

func (s *orderServiceImpl) mutationError(ref string, err error) *apperrors.Error {
	if err == nil {
		return nil
	}
	if appErr, ok := apperrors.As(err); ok {
		return appErr
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.NotFound("Order not found")
	}
	s.logger.Error("Failed to update order", zap.String("order", ref), zap.Error(err))
	return apperrors.Internal("Failed to update order", err)
}
