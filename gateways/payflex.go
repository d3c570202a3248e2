package gateways

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"checkout-service/models"
)

const (
	payflexProductionURL = "https://api.payflex.co.za/v1"
	payflexSandboxURL    = "https://sandbox-api.payflex.co.za/v1"

	PayflexSignatureHeader = "X-Payflex-Signature"
)

type PayflexConfig struct {
	APIKey     string
	APISecret  string
	MerchantID string
	Production bool
	BaseURL    string
	Timeout    time.Duration
}

// Payflex is a buy-now-pay-later provider with a REST order API.
type Payflex struct {
	client     *apiClient
	apiSecret  string
	merchantID string
}

func NewPayflex(cfg PayflexConfig) (*Payflex, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" || cfg.MerchantID == "" {
		return nil, configError(PayflexID, "PAYFLEX_API_KEY, PAYFLEX_API_SECRET and PAYFLEX_MERCHANT_ID are required")
	}

	base := cfg.BaseURL
	if base == "" {
		base = payflexSandboxURL
		if cfg.Production {
			base = payflexProductionURL
		}
	}

	return &Payflex{
		client:     newAPIClient(PayflexID, "Payflex", base, cfg.APIKey, cfg.Timeout),
		apiSecret:  cfg.APISecret,
		merchantID: cfg.MerchantID,
	}, nil
}

// ---- Payflex API request/response structs ----

type payflexCustomer struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type payflexRedirectURLs struct {
	Success  string `json:"success"`
	Cancel   string `json:"cancel"`
	Callback string `json:"callback"`
}

type payflexOrderRequest struct {
	MerchantID        string              `json:"merchantId"`
	Amount            json.Number         `json:"amount"`
	Currency          string              `json:"currency"`
	MerchantReference string              `json:"merchantReference"`
	Customer          payflexCustomer     `json:"customer"`
	RedirectURLs      payflexRedirectURLs `json:"redirectUrls"`
}

type payflexOrderResponse struct {
	OrderID     string `json:"orderId"`
	RedirectURL string `json:"redirectUrl"`
}

type payflexStatusResponse struct {
	Status string `json:"status"`
}

type payflexCallback struct {
	OrderID           string `json:"orderId"`
	MerchantReference string `json:"merchantReference"`
	Status            string `json:"status"`
}

// ---- Gateway implementation ----

func (p *Payflex) ID() string { return PayflexID }

func (p *Payflex) CreatePayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	first, last := splitName(req.CustomerName)
	body := payflexOrderRequest{
		MerchantID:        p.merchantID,
		Amount:            json.Number(req.Amount.StringFixed(2)),
		Currency:          Currency,
		MerchantReference: req.Reference,
		Customer: payflexCustomer{
			Email:     req.CustomerEmail,
			FirstName: first,
			LastName:  last,
		},
		RedirectURLs: payflexRedirectURLs{
			Success:  req.ReturnURL,
			Cancel:   req.CancelURL,
			Callback: req.NotifyURL,
		},
	}

	var resp payflexOrderResponse
	if err := p.client.do(ctx, http.MethodPost, "/orders", body, &resp); err != nil {
		return nil, err
	}
	if resp.OrderID == "" || resp.RedirectURL == "" {
		return nil, rejectedError(PayflexID, "Payflex response missing orderId or redirectUrl")
	}

	return &PaymentResult{PaymentID: resp.OrderID, RedirectURL: resp.RedirectURL}, nil
}

// VerifyPayment never fails; any problem reads as an unknown, unpaid status.
func (p *Payflex) VerifyPayment(ctx context.Context, providerReference string) VerificationResult {
	unknown := VerificationResult{Status: "UNKNOWN", Paid: false}
	if providerReference == "" {
		return unknown
	}

	var resp payflexStatusResponse
	if err := p.client.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(providerReference), nil, &resp); err != nil {
		return unknown
	}
	if resp.Status == "" {
		return unknown
	}
	return VerificationResult{Status: resp.Status, Paid: strings.EqualFold(resp.Status, "APPROVED")}
}

func (p *Payflex) VerifyCallback(body []byte, header http.Header) bool {
	return verifyHMAC(p.apiSecret, body, header.Get(PayflexSignatureHeader))
}

func (p *Payflex) ParseCallback(body []byte, _ http.Header) (*CallbackEvent, error) {
	var cb payflexCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	if cb.MerchantReference == "" || cb.Status == "" {
		return nil, fmt.Errorf("%w: merchantReference and status are required", ErrMalformedCallback)
	}

	evt := &CallbackEvent{
		OrderReference:    cb.MerchantReference,
		ProviderReference: cb.OrderID,
		ProviderStatus:    cb.Status,
	}
	switch strings.ToUpper(cb.Status) {
	case "APPROVED":
		evt.Outcome = models.PaymentOutcomePaid
	case "DECLINED", "ABANDONED", "CANCELLED", "EXPIRED":
		evt.Outcome = models.PaymentOutcomeFailed
	}
	return evt, nil
}
