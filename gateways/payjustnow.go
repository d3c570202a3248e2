package gateways

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"checkout-service/models"
)

const (
	payJustNowProductionURL = "https://api.payjustnow.co.za/v1"
	payJustNowSandboxURL    = "https://sandbox-api.payjustnow.co.za/v1"

	PayJustNowSignatureHeader = "X-PayJustNow-Signature"
)

type PayJustNowConfig struct {
	APIKey     string
	APISecret  string
	MerchantID string
	Production bool
	BaseURL    string
	Timeout    time.Duration
}

// PayJustNow splits the order total into three interest-free instalments.
type PayJustNow struct {
	client     *apiClient
	apiSecret  string
	merchantID string
}

func NewPayJustNow(cfg PayJustNowConfig) (*PayJustNow, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" || cfg.MerchantID == "" {
		return nil, configError(PayJustNowID, "PAYJUSTNOW_API_KEY, PAYJUSTNOW_API_SECRET and PAYJUSTNOW_MERCHANT_ID are required")
	}

	base := cfg.BaseURL
	if base == "" {
		base = payJustNowSandboxURL
		if cfg.Production {
			base = payJustNowProductionURL
		}
	}

	return &PayJustNow{
		client:     newAPIClient(PayJustNowID, "PayJustNow", base, cfg.APIKey, cfg.Timeout),
		apiSecret:  cfg.APISecret,
		merchantID: cfg.MerchantID,
	}, nil
}

type payJustNowCustomer struct {
	Email     string `json:"email"`
	Name      string `json:"name"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type payJustNowURLs struct {
	Success string `json:"success"`
	Cancel  string `json:"cancel"`
	Notify  string `json:"notify"`
}

type payJustNowTransactionRequest struct {
	MerchantID string             `json:"merchantId"`
	Amount     json.Number        `json:"amount"`
	Currency   string             `json:"currency"`
	Reference  string             `json:"reference"`
	Customer   payJustNowCustomer `json:"customer"`
	URLs       payJustNowURLs     `json:"urls"`
}

type payJustNowTransactionResponse struct {
	TransactionID string `json:"transactionId"`
	RedirectURL   string `json:"redirectUrl"`
}

type payJustNowCallback struct {
	TransactionID string `json:"transactionId"`
	Reference     string `json:"reference"`
	Status        string `json:"status"`
}

func (p *PayJustNow) ID() string { return PayJustNowID }

func (p *PayJustNow) CreatePayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	first, last := splitName(req.CustomerName)
	body := payJustNowTransactionRequest{
		MerchantID: p.merchantID,
		Amount:     json.Number(req.Amount.StringFixed(2)),
		Currency:   Currency,
		Reference:  req.Reference,
		Customer: payJustNowCustomer{
			Email:     req.CustomerEmail,
			Name:      strings.TrimSpace(req.CustomerName),
			FirstName: first,
			LastName:  last,
		},
		URLs: payJustNowURLs{
			Success: req.ReturnURL,
			Cancel:  req.CancelURL,
			Notify:  req.NotifyURL,
		},
	}

	var resp payJustNowTransactionResponse
	if err := p.client.do(ctx, http.MethodPost, "/transactions", body, &resp); err != nil {
		return nil, err
	}
	if resp.TransactionID == "" || resp.RedirectURL == "" {
		return nil, rejectedError(PayJustNowID, "PayJustNow response missing transactionId or redirectUrl")
	}

	return &PaymentResult{PaymentID: resp.TransactionID, RedirectURL: resp.RedirectURL}, nil
}

func (p *PayJustNow) VerifyCallback(body []byte, header http.Header) bool {
	return verifyHMAC(p.apiSecret, body, header.Get(PayJustNowSignatureHeader))
}

func (p *PayJustNow) ParseCallback(body []byte, _ http.Header) (*CallbackEvent, error) {
	var cb payJustNowCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	if cb.Reference == "" || cb.Status == "" {
		return nil, fmt.Errorf("%w: reference and status are required", ErrMalformedCallback)
	}

	evt := &CallbackEvent{
		OrderReference:    cb.Reference,
		ProviderReference: cb.TransactionID,
		ProviderStatus:    cb.Status,
	}
	switch strings.ToUpper(cb.Status) {
	case "PAID", "SUCCESSFUL":
		evt.Outcome = models.PaymentOutcomePaid
	case "FAILED", "CANCELLED", "EXPIRED", "DECLINED":
		evt.Outcome = models.PaymentOutcomeFailed
	}
	return evt, nil
}
