package models

import "time"

// Event types published to the order events topic.
const (
	EventOrderCreated       = "order_created"
	EventOrderStatusChanged = "order_status_changed"
	EventPaymentSucceeded   = "payment_succeeded"
	EventPaymentFailed      = "payment_failed"
	EventOrderRefunded      = "order_refunded"
)

// OrderEvent is the SNS payload for order lifecycle changes.
type OrderEvent struct {
	Type          string        `json:"type"`
	OrderID       string        `json:"order_id"`
	OrderNumber   string        `json:"order_number"`
	UserID        string        `json:"user_id,omitempty"`
	Status        OrderStatus   `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	PaymentMethod string        `json:"payment_method,omitempty"`
	Total         string        `json:"total"`
	Comment       string        `json:"comment,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}

// PaymentVerificationMessage is queued after a payment is initiated with a
// gateway that supports status polling.
type PaymentVerificationMessage struct {
	OrderID   string `json:"order_id"`
	Gateway   string `json:"gateway"`
	Reference string `json:"reference"`
	Attempt   int    `json:"attempt"`
}
