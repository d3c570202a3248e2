package services_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"checkout-service/common/auth"
	apperrors "checkout-service/common/errors"
	"checkout-service/gateways"
	"checkout-service/models"
	awspkg "checkout-service/pkg/aws"
	"checkout-service/services"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPaymentService(h *harness, queue *fakeQueue, gws ...gateways.Gateway) services.PaymentService {
	return services.NewPaymentService(h.repo, h.orders, gateways.NewRegistry(gws...), queue, awspkg.NoopMetrics{},
		services.PaymentServiceConfig{PublicBaseURL: "https://shop.example.co.za/", VerifyDelay: 5 * time.Minute}, h.logger)
}

func TestInitiatePayment_Success(t *testing.T) {
	h := newHarness()
	order := createOrder(t, h)
	gw := &fakeGateway{id: gateways.PayFastID, result: &gateways.PaymentResult{
		PaymentID:   order.OrderNumber,
		RedirectURL: "https://sandbox.payfast.co.za/eng/process?x=1",
	}}
	queue := &fakeQueue{}
	svc := newPaymentService(h, queue, gw)

	res, appErr := svc.InitiatePayment(context.Background(), customer, order.ID, "PayFast")
	require.Nil(t, appErr)
	assert.Equal(t, "https://sandbox.payfast.co.za/eng/process?x=1", res.RedirectURL)

	require.Len(t, gw.requests, 1)
	req := gw.requests[0]
	assert.True(t, req.Amount.Equal(decimal.NewFromInt(329)))
	assert.Equal(t, order.OrderNumber, req.Reference)
	assert.Equal(t, "Thandi van der Merwe", req.CustomerName)
	assert.Equal(t, "https://shop.example.co.za/checkout/success?order="+order.OrderNumber, req.ReturnURL)
	assert.Equal(t, "https://shop.example.co.za/checkout/cancelled?order="+order.OrderNumber, req.CancelURL)
	assert.Equal(t, "https://shop.example.co.za/webhooks/payment/payfast", req.NotifyURL)

	stored := h.repo.get(order.ID)
	assert.Equal(t, models.PaymentStatusProcessing, stored.PaymentStatus)
	assert.Equal(t, gateways.PayFastID, stored.PaymentMethod)
	require.NotNil(t, stored.PaymentReference)
	assert.Equal(t, order.OrderNumber, *stored.PaymentReference)
	assert.Len(t, stored.StatusHistory, 2)

	assert.Empty(t, queue.bodies, "payfast cannot be polled")
}

func TestInitiatePayment_SchedulesVerification(t *testing.T) {
	h := newHarness()
	order := createOrder(t, h)
	gw := verifyingGateway{&fakeGateway{id: gateways.PayflexID, result: &gateways.PaymentResult{
		PaymentID:   "pf-order-77",
		RedirectURL: "https://checkout.payflex.co.za/pf-order-77",
	}}}
	queue := &fakeQueue{}
	svc := newPaymentService(h, queue, gw)

	_, appErr := svc.InitiatePayment(context.Background(), customer, order.ID, gateways.PayflexID)
	require.Nil(t, appErr)

	msgs := queue.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, order.ID.String(), msgs[0].OrderID)
	assert.Equal(t, "pf-order-77", msgs[0].Reference)
	assert.Equal(t, 1, msgs[0].Attempt)
	assert.Equal(t, 5*time.Minute, queue.delays[0])
}

func TestInitiatePayment_GatewayFailuresLeaveOrderUntouched(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
		kind apperrors.Kind
		msg  string
	}{
		{
			name: "transport",
			err:  &gateways.PaymentError{Kind: apperrors.KindTransport, Gateway: "payflex", Message: "could not reach Payflex", Err: errors.New("dial tcp: refused")},
			code: http.StatusBadGateway,
			kind: apperrors.KindTransport,
			msg:  "Payment provider is unavailable, please try again",
		},
		{
			name: "rejected",
			err:  &gateways.PaymentError{Kind: apperrors.KindRejected, Gateway: "payflex", Message: "Order amount below minimum"},
			code: http.StatusUnprocessableEntity,
			kind: apperrors.KindRejected,
			msg:  "Order amount below minimum",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness()
			order := createOrder(t, h)
			queue := &fakeQueue{}
			svc := newPaymentService(h, queue, &fakeGateway{id: gateways.PayflexID, createErr: fmt.Errorf("create: %w", tc.err)})

			_, appErr := svc.InitiatePayment(context.Background(), customer, order.ID, gateways.PayflexID)
			require.NotNil(t, appErr)
			assert.Equal(t, tc.code, appErr.Code)
			assert.Equal(t, tc.kind, appErr.Kind)
			assert.Equal(t, tc.msg, appErr.Message)

			stored := h.repo.get(order.ID)
			assert.Equal(t, models.PaymentStatusPending, stored.PaymentStatus)
			assert.Empty(t, stored.PaymentMethod)
			assert.Nil(t, stored.PaymentReference)
			assert.Len(t, stored.StatusHistory, 1)
			assert.Empty(t, queue.bodies)
		})
	}
}

func TestInitiatePayment_UnknownGateway(t *testing.T) {
	h := newHarness()
	order := createOrder(t, h)
	svc := newPaymentService(h, &fakeQueue{}, &fakeGateway{id: gateways.PayFastID})

	_, appErr := svc.InitiatePayment(context.Background(), customer, order.ID, "unknown-gateway")
	require.NotNil(t, appErr)
	assert.Equal(t, http.StatusBadRequest, appErr.Code)
	assert.Equal(t, apperrors.KindConfig, appErr.Kind)
	assert.Equal(t, models.PaymentStatusPending, h.repo.get(order.ID).PaymentStatus)
}

func TestInitiatePayment_Access(t *testing.T) {
	h := newHarness()
	order := createOrder(t, h)
	gw := &fakeGateway{id: gateways.PayFastID, result: &gateways.PaymentResult{PaymentID: "x", RedirectURL: "https://pay"}}
	svc := newPaymentService(h, &fakeQueue{}, gw)

	_, appErr := svc.InitiatePayment(context.Background(), auth.Identity{UserID: "user-2"}, order.ID, gateways.PayFastID)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.KindForbidden, appErr.Kind)

	guestOrder, appErr := h.orders.CreateOrder(context.Background(), guest,
		sampleRequest(services.CartLine{ProductID: throwID, Quantity: 1}), "")
	require.Nil(t, appErr)
	_, appErr = svc.InitiatePayment(context.Background(), guest, guestOrder.ID, gateways.PayFastID)
	assert.Nil(t, appErr)

	_, appErr = svc.InitiatePayment(context.Background(), customer, uuid.New(), gateways.PayFastID)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.KindNotFound, appErr.Kind)
}

func TestInitiatePayment_RequiresUnpaidPendingOrder(t *testing.T) {
	h := newHarness()
	order := createOrder(t, h)
	_, _ = h.orders.ApplyPaymentOutcome(context.Background(), order.OrderNumber, models.PaymentOutcomePaid, "")
	gw := &fakeGateway{id: gateways.PayFastID, result: &gateways.PaymentResult{PaymentID: "x"}}
	svc := newPaymentService(h, &fakeQueue{}, gw)

	_, appErr := svc.InitiatePayment(context.Background(), customer, order.ID, gateways.PayFastID)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.KindConflict, appErr.Kind)
	assert.Empty(t, gw.requests)
}

func TestVerifyPayment(t *testing.T) {
	h := newHarness()
	order := createOrder(t, h)
	inner := &fakeGateway{id: gateways.PayflexID, result: &gateways.PaymentResult{PaymentID: "pf-order-77", RedirectURL: "https://pay"}}
	svc := newPaymentService(h, &fakeQueue{}, verifyingGateway{inner})

	_, appErr := svc.VerifyPayment(context.Background(), customer, order.ID)
	require.NotNil(t, appErr, "payment not yet initiated")
	assert.Equal(t, apperrors.KindValidation, appErr.Kind)

	_, appErr = svc.InitiatePayment(context.Background(), customer, order.ID, gateways.PayflexID)
	require.Nil(t, appErr)

	inner.verifyResp = gateways.VerificationResult{Status: "PENDING"}
	res, appErr := svc.VerifyPayment(context.Background(), customer, order.ID)
	require.Nil(t, appErr)
	assert.False(t, res.Paid)
	assert.Equal(t, models.PaymentStatusProcessing, h.repo.get(order.ID).PaymentStatus)

	inner.verifyResp = gateways.VerificationResult{Status: "APPROVED", Paid: true}
	res, appErr = svc.VerifyPayment(context.Background(), customer, order.ID)
	require.Nil(t, appErr)
	assert.True(t, res.Paid)
	stored := h.repo.get(order.ID)
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)
	assert.Equal(t, models.OrderStatusConfirmed, stored.Status)

	res, appErr = svc.VerifyPayment(context.Background(), customer, order.ID)
	require.Nil(t, appErr)
	assert.Equal(t, "PAID", res.Status)
	assert.Equal(t, 2, inner.verifies, "settled orders are not polled again")
}

func TestVerifyPayment_GatewayWithoutPolling(t *testing.T) {
	h := newHarness()
	order := createOrder(t, h)
	gw := &fakeGateway{id: gateways.PayFastID, result: &gateways.PaymentResult{PaymentID: order.OrderNumber}}
	svc := newPaymentService(h, &fakeQueue{}, gw)

	_, appErr := svc.InitiatePayment(context.Background(), customer, order.ID, gateways.PayFastID)
	require.Nil(t, appErr)

	_, appErr = svc.VerifyPayment(context.Background(), admin, order.ID)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.KindValidation, appErr.Kind)
	assert.Contains(t, appErr.Message, "does not support payment verification")
}
