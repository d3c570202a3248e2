package models_test

import (
	"testing"

	"checkout-service/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestOrderStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to models.OrderStatus
		ok       bool
	}{
		{models.OrderStatusPending, models.OrderStatusConfirmed, true},
		{models.OrderStatusConfirmed, models.OrderStatusProcessing, true},
		{models.OrderStatusProcessing, models.OrderStatusShipped, true},
		{models.OrderStatusShipped, models.OrderStatusDelivered, true},
		{models.OrderStatusPending, models.OrderStatusCancelled, true},
		{models.OrderStatusProcessing, models.OrderStatusCancelled, true},
		{models.OrderStatusShipped, models.OrderStatusRefunded, true},
		{models.OrderStatusPending, models.OrderStatusRefunded, false},
		{models.OrderStatusShipped, models.OrderStatusCancelled, false},
		{models.OrderStatusDelivered, models.OrderStatusProcessing, false},
		{models.OrderStatusCancelled, models.OrderStatusPending, false},
		{models.OrderStatusPending, models.OrderStatusShipped, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, models.OrderStatusDelivered.IsTerminal())
	assert.True(t, models.OrderStatusCancelled.IsTerminal())
	assert.True(t, models.OrderStatusRefunded.IsTerminal())
	assert.False(t, models.OrderStatusPending.IsTerminal())
	assert.False(t, models.OrderStatus("BOGUS").IsValid())
}

func TestPaymentStatusTransitions(t *testing.T) {
	assert.True(t, models.PaymentStatusPending.CanTransitionTo(models.PaymentStatusProcessing))
	assert.True(t, models.PaymentStatusProcessing.CanTransitionTo(models.PaymentStatusPaid))
	assert.True(t, models.PaymentStatusProcessing.CanTransitionTo(models.PaymentStatusFailed))
	assert.True(t, models.PaymentStatusPaid.CanTransitionTo(models.PaymentStatusPartiallyRefunded))
	assert.False(t, models.PaymentStatusPaid.CanTransitionTo(models.PaymentStatusFailed))
	assert.False(t, models.PaymentStatusPaid.CanTransitionTo(models.PaymentStatusPaid))
	assert.False(t, models.PaymentStatusFailed.CanTransitionTo(models.PaymentStatusPaid))
	assert.False(t, models.PaymentStatusPending.CanTransitionTo(models.PaymentStatusRefunded))
}

func TestOrderHelpers(t *testing.T) {
	uid := "user-1"
	o := models.Order{
		UserID:       &uid,
		Subtotal:     decimal.NewFromInt(200),
		Discount:     decimal.Zero,
		ShippingCost: decimal.NewFromInt(99),
		Tax:          decimal.NewFromInt(30),
		Total:        decimal.RequireFromString("329.00"),
	}
	o.ShippingFirstName = "Thandi"
	o.ShippingLastName = "van der Merwe"

	assert.True(t, o.TotalsBalance())
	assert.True(t, o.OwnedBy("user-1"))
	assert.False(t, o.OwnedBy("user-2"))
	assert.False(t, o.OwnedBy(""))
	assert.Equal(t, "Thandi van der Merwe", o.CustomerName())

	o.Total = decimal.NewFromInt(330)
	assert.False(t, o.TotalsBalance())
}
