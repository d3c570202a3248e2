package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"checkout-service/gateways"
	"checkout-service/models"
	"checkout-service/services"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func verificationBody(t *testing.T, orderID uuid.UUID, attempt int) string {
	t.Helper()
	b, err := json.Marshal(models.PaymentVerificationMessage{
		OrderID:   orderID.String(),
		Gateway:   gateways.PayflexID,
		Reference: "pf-order-77",
		Attempt:   attempt,
	})
	require.NoError(t, err)
	return string(b)
}

func setupConsumer(t *testing.T) (*harness, *models.Order, *fakeGateway, *fakeQueue, *services.VerificationConsumer) {
	t.Helper()
	h := newHarness()
	order := createOrder(t, h)
	inner := &fakeGateway{id: gateways.PayflexID, result: &gateways.PaymentResult{PaymentID: "pf-order-77", RedirectURL: "https://pay"}}
	queue := &fakeQueue{}
	payments := newPaymentService(h, queue, verifyingGateway{inner})
	_, appErr := payments.InitiatePayment(context.Background(), customer, order.ID, gateways.PayflexID)
	require.Nil(t, appErr)
	queue.bodies, queue.delays = nil, nil

	consumer := services.NewVerificationConsumer(payments, queue, 2*time.Minute, 3, h.logger)
	return h, order, inner, queue, consumer
}

func TestVerificationConsumer_ReschedulesUnsettled(t *testing.T) {
	_, order, inner, queue, consumer := setupConsumer(t)
	inner.verifyResp = gateways.VerificationResult{Status: "PENDING"}

	require.NoError(t, consumer.Handle(context.Background(), verificationBody(t, order.ID, 1)))

	msgs := queue.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, 2, msgs[0].Attempt)
	assert.Equal(t, order.ID.String(), msgs[0].OrderID)
	assert.Equal(t, 2*time.Minute, queue.delays[0])
}

func TestVerificationConsumer_StopsAtMaxAttempts(t *testing.T) {
	_, order, inner, queue, consumer := setupConsumer(t)
	inner.verifyResp = gateways.VerificationResult{Status: "PENDING"}

	require.NoError(t, consumer.Handle(context.Background(), verificationBody(t, order.ID, 3)))
	assert.Empty(t, queue.bodies)
}

func TestVerificationConsumer_AppliesPaid(t *testing.T) {
	h, order, inner, queue, consumer := setupConsumer(t)
	inner.verifyResp = gateways.VerificationResult{Status: "APPROVED", Paid: true}

	require.NoError(t, consumer.Handle(context.Background(), verificationBody(t, order.ID, 1)))
	assert.Empty(t, queue.bodies)
	assert.Equal(t, models.PaymentStatusPaid, h.repo.get(order.ID).PaymentStatus)
}

func TestVerificationConsumer_DropsPoisonMessages(t *testing.T) {
	_, _, _, queue, consumer := setupConsumer(t)

	assert.NoError(t, consumer.Handle(context.Background(), "not json"))
	assert.NoError(t, consumer.Handle(context.Background(), `{"order_id":"nope","attempt":1}`))
	assert.NoError(t, consumer.Handle(context.Background(), verificationBody(t, uuid.New(), 1)))
	assert.Empty(t, queue.bodies)
}

func TestVerificationConsumer_RetriesOnInternalError(t *testing.T) {
	h, order, _, _, consumer := setupConsumer(t)
	h.repo.findErr = errors.New("connection reset")

	assert.Error(t, consumer.Handle(context.Background(), verificationBody(t, order.ID, 1)))
}

func TestVerificationConsumer_QueueFailure(t *testing.T) {
	_, order, inner, queue, consumer := setupConsumer(t)
	inner.verifyResp = gateways.VerificationResult{Status: "UNKNOWN"}
	queue.err = errors.New("throttled")

	assert.Error(t, consumer.Handle(context.Background(), verificationBody(t, order.ID, 1)))
}
