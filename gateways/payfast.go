package gateways

import (
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"checkout-service/models"

	"github.com/shopspring/decimal"
)

const (
	payFastProductionURL = "https://www.payfast.co.za/eng/process"
	payFastSandboxURL    = "https://sandbox.payfast.co.za/eng/process"
)

type PayFastConfig struct {
	MerchantID  string
	MerchantKey string
	Passphrase  string
	Production  bool
	// ProcessURL overrides the hosted payment page, used in tests.
	ProcessURL string
}

// PayFast redirects the shopper to a hosted page with a signed query string
// and receives ITN callbacks as form posts signed the same way.
type PayFast struct {
	merchantID  string
	merchantKey string
	passphrase  string
	processURL  string
}

func NewPayFast(cfg PayFastConfig) (*PayFast, error) {
	if cfg.MerchantID == "" || cfg.MerchantKey == "" {
		return nil, configError(PayFastID, "PAYFAST_MERCHANT_ID and PAYFAST_MERCHANT_KEY are required")
	}

	processURL := cfg.ProcessURL
	if processURL == "" {
		processURL = payFastSandboxURL
		if cfg.Production {
			processURL = payFastProductionURL
		}
	}

	return &PayFast{
		merchantID:  cfg.MerchantID,
		merchantKey: cfg.MerchantKey,
		passphrase:  cfg.Passphrase,
		processURL:  processURL,
	}, nil
}

func (p *PayFast) ID() string { return PayFastID }

// CreatePayment builds the signed redirect URL. No request leaves the
// process, so the only failure is invalid input.
func (p *PayFast) CreatePayment(_ context.Context, req PaymentRequest) (*PaymentResult, error) {
	if req.Reference == "" || !req.Amount.IsPositive() {
		return nil, rejectedError(PayFastID, "payment reference and a positive amount are required")
	}

	first, last := splitName(req.CustomerName)
	fields := map[string]string{
		"merchant_id":      p.merchantID,
		"merchant_key":     p.merchantKey,
		"return_url":       req.ReturnURL,
		"cancel_url":       req.CancelURL,
		"notify_url":       req.NotifyURL,
		"name_first":       first,
		"name_last":        last,
		"email_address":    req.CustomerEmail,
		"m_payment_id":     req.Reference,
		"amount":           req.Amount.StringFixed(2),
		"item_name":        "Order " + req.Reference,
		"item_description": "Payment for order " + req.Reference,
	}

	query := serializeSorted(fields)
	signature := p.sign(query)

	return &PaymentResult{
		PaymentID:   req.Reference,
		RedirectURL: p.processURL + "?" + query + "&signature=" + signature,
	}, nil
}

// VerifyCallback recomputes the signature over every received field except
// "signature" and compares in constant time. The merchant id must match.
func (p *PayFast) VerifyCallback(body []byte, _ http.Header) bool {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return false
	}

	received := values.Get("signature")
	if received == "" || values.Get("merchant_id") != p.merchantID {
		return false
	}

	fields := make(map[string]string, len(values))
	for k, v := range values {
		if k == "signature" {
			continue
		}
		if len(v) != 1 {
			return false
		}
		fields[k] = v[0]
	}

	expected := p.sign(serializeSorted(fields))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(received))) == 1
}

func (p *PayFast) ParseCallback(body []byte, _ http.Header) (*CallbackEvent, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}

	ref := values.Get("m_payment_id")
	status := values.Get("payment_status")
	if ref == "" || status == "" {
		return nil, fmt.Errorf("%w: m_payment_id and payment_status are required", ErrMalformedCallback)
	}

	evt := &CallbackEvent{
		OrderReference:    ref,
		ProviderReference: values.Get("pf_payment_id"),
		ProviderStatus:    status,
	}
	switch strings.ToUpper(status) {
	case "COMPLETE":
		evt.Outcome = models.PaymentOutcomePaid
	case "FAILED", "CANCELLED":
		evt.Outcome = models.PaymentOutcomeFailed
	}

	if gross := values.Get("amount_gross"); gross != "" {
		amount, err := decimal.NewFromString(gross)
		if err != nil {
			return nil, fmt.Errorf("%w: amount_gross %q", ErrMalformedCallback, gross)
		}
		evt.Amount = &amount
	}
	return evt, nil
}

func (p *PayFast) sign(serialized string) string {
	if p.passphrase != "" {
		serialized += "&passphrase=" + p.passphrase
	}
	sum := md5.Sum([]byte(serialized))
	return hex.EncodeToString(sum[:])
}

// serializeSorted renders key=value pairs sorted by key, values encoded the
// way PayFast's reference implementation encodes them.
func serializeSorted(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(encodeURIComponent(fields[k]))
	}
	return b.String()
}

// url.QueryEscape differs from encodeURIComponent on spaces and on the
// characters !'()* which encodeURIComponent leaves alone.
var componentUnescaper = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

func encodeURIComponent(s string) string {
	return componentUnescaper.Replace(url.QueryEscape(s))
}
