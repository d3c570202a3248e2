package gateways

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	apperrors "checkout-service/common/errors"
	"checkout-service/models"

	"github.com/shopspring/decimal"
)

// Gateway identifiers as they appear in URLs and configuration.
const (
	PayFastID    = "payfast"
	PayflexID    = "payflex"
	PayJustNowID = "payjustnow"
)

// Currency is the only currency the storefront charges in.
const Currency = "ZAR"

// Gateway is implemented once per payment provider.
type Gateway interface {
	ID() string
	// CreatePayment starts a payment and returns where to send the shopper.
	// Failures are *PaymentError tagged TRANSPORT or REJECTED.
	CreatePayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error)
	// VerifyCallback authenticates a raw callback. It never panics and
	// returns false for anything missing or malformed.
	VerifyCallback(body []byte, header http.Header) bool
	// ParseCallback extracts the order reference and outcome from a
	// callback that already passed VerifyCallback.
	ParseCallback(body []byte, header http.Header) (*CallbackEvent, error)
}

// PaymentVerifier is implemented by gateways that can be polled for status.
type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, providerReference string) VerificationResult
}

// PaymentRequest is built fresh for every gateway call.
type PaymentRequest struct {
	Amount        decimal.Decimal
	Reference     string // order number
	CustomerEmail string
	CustomerName  string
	ReturnURL     string
	CancelURL     string
	NotifyURL     string
}

type PaymentResult struct {
	PaymentID   string `json:"paymentId"`
	RedirectURL string `json:"redirectUrl"`
}

// CallbackEvent is a provider callback reduced to what reconciliation needs.
// Outcome is empty when the provider reported an intermediate status.
type CallbackEvent struct {
	OrderReference    string
	ProviderReference string
	ProviderStatus    string
	Outcome           models.PaymentOutcome
	Amount            *decimal.Decimal
}

type VerificationResult struct {
	Status string `json:"status"`
	Paid   bool   `json:"paid"`
}

// PaymentError is the failure type of every gateway operation.
type PaymentError struct {
	Kind    apperrors.Kind
	Gateway string
	Message string
	Err     error
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Gateway, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Gateway, e.Kind, e.Message)
}

func (e *PaymentError) Unwrap() error { return e.Err }

func transportError(gateway, message string, err error) *PaymentError {
	return &PaymentError{Kind: apperrors.KindTransport, Gateway: gateway, Message: message, Err: err}
}

func rejectedError(gateway, message string) *PaymentError {
	return &PaymentError{Kind: apperrors.KindRejected, Gateway: gateway, Message: message}
}

func configError(gateway, message string) *PaymentError {
	return &PaymentError{Kind: apperrors.KindConfig, Gateway: gateway, Message: message}
}

// ErrMalformedCallback is returned by ParseCallback for unusable payloads.
var ErrMalformedCallback = fmt.Errorf("malformed callback payload")

// splitName returns the text before the first space as the first name and the
// remainder as the last name. The BNPL providers only accept this shape, so
// multi-part first names end up split.
func splitName(full string) (first, last string) {
	full = strings.TrimSpace(full)
	first, last, _ = strings.Cut(full, " ")
	return first, strings.TrimSpace(last)
}
