package controllers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"checkout-service/common/auth"
	apperrors "checkout-service/common/errors"
	"checkout-service/controllers"
	"checkout-service/gateways"
	"checkout-service/middleware"
	"checkout-service/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPaymentSvc struct {
	result     *gateways.PaymentResult
	verify     *gateways.VerificationResult
	err        *apperrors.Error
	gotGateway string
}

func (m *mockPaymentSvc) InitiatePayment(_ context.Context, _ auth.Identity, _ uuid.UUID, gatewayID string) (*gateways.PaymentResult, *apperrors.Error) {
	m.gotGateway = gatewayID
	return m.result, m.err
}
func (m *mockPaymentSvc) VerifyPayment(_ context.Context, _ auth.Identity, _ uuid.UUID) (*gateways.VerificationResult, *apperrors.Error) {
	return m.verify, m.err
}
func (m *mockPaymentSvc) ReconcilePayment(_ context.Context, _ uuid.UUID) (*gateways.VerificationResult, bool, *apperrors.Error) {
	return m.verify, false, m.err
}

type mockWebhookSvc struct {
	err        *apperrors.Error
	gotGateway string
	gotBody    []byte
	gotHeader  http.Header
}

func (m *mockWebhookSvc) HandleCallback(_ context.Context, gatewayID string, body []byte, header http.Header) *apperrors.Error {
	m.gotGateway, m.gotBody, m.gotHeader = gatewayID, body, header
	return m.err
}

func setupPaymentRouter(payments services.PaymentService, webhooks services.WebhookService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(apperrors.ErrorMiddleware())

	pc := controllers.NewPaymentController(payments)
	wc := controllers.NewWebhookController(webhooks)
	orders := r.Group("/orders", middleware.Identity(auth.NewTokenParser("")))
	orders.POST("/:id/payments", pc.InitiatePayment)
	orders.POST("/:id/payments/verify", middleware.RequireAuth(), pc.VerifyPayment)
	r.POST("/webhooks/payment/:gateway", wc.HandleCallback)
	return r
}

func TestInitiatePayment_Success(t *testing.T) {
	svc := &mockPaymentSvc{result: &gateways.PaymentResult{PaymentID: "KMB-ABC123-XYZ", RedirectURL: "https://sandbox.payfast.co.za/eng/process?a=b"}}
	r := setupPaymentRouter(svc, &mockWebhookSvc{})

	w := doJSON(r, http.MethodPost, "/orders/"+uuid.NewString()+"/payments", gin.H{"gateway": "payfast"}, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "payfast", svc.gotGateway)

	var got map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "KMB-ABC123-XYZ", got["paymentId"])
	assert.Equal(t, "https://sandbox.payfast.co.za/eng/process?a=b", got["redirectUrl"])
}

func TestInitiatePayment_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  *apperrors.Error
		code int
	}{
		{"transport", apperrors.New(http.StatusBadGateway, apperrors.KindTransport, "Payment provider is unavailable, please try again", nil), http.StatusBadGateway},
		{"rejected", apperrors.New(http.StatusUnprocessableEntity, apperrors.KindRejected, "Order amount below minimum", nil), http.StatusUnprocessableEntity},
		{"config", apperrors.New(http.StatusBadRequest, apperrors.KindConfig, "Unsupported payment gateway", nil), http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := setupPaymentRouter(&mockPaymentSvc{err: tc.err}, &mockWebhookSvc{})
			w := doJSON(r, http.MethodPost, "/orders/"+uuid.NewString()+"/payments", gin.H{"gateway": "payflex"}, nil)
			assert.Equal(t, tc.code, w.Code)
			assert.Contains(t, w.Body.String(), tc.err.Message)
		})
	}
}

func TestInitiatePayment_MissingGateway(t *testing.T) {
	r := setupPaymentRouter(&mockPaymentSvc{}, &mockWebhookSvc{})
	w := doJSON(r, http.MethodPost, "/orders/"+uuid.NewString()+"/payments", gin.H{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVerifyPayment(t *testing.T) {
	svc := &mockPaymentSvc{verify: &gateways.VerificationResult{Status: "APPROVED", Paid: true}}
	r := setupPaymentRouter(svc, &mockWebhookSvc{})
	path := "/orders/" + uuid.NewString() + "/payments/verify"

	w := doJSON(r, http.MethodPost, path, nil, map[string]string{"X-User-ID": "user-1"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"APPROVED","paid":true}`, w.Body.String())

	w = doJSON(r, http.MethodPost, path, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWebhook_PassesRawBody(t *testing.T) {
	svc := &mockWebhookSvc{}
	r := setupPaymentRouter(&mockPaymentSvc{}, svc)

	raw := "m_payment_id=KMB-ABC123-XYZ&payment_status=COMPLETE&signature=abc"
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment/payfast", bytes.NewBufferString(raw))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"received"}`, w.Body.String())
	assert.Equal(t, "payfast", svc.gotGateway)
	assert.Equal(t, raw, string(svc.gotBody))
	assert.Equal(t, "application/x-www-form-urlencoded", svc.gotHeader.Get("Content-Type"))
}

func TestWebhook_Errors(t *testing.T) {
	cases := map[string]struct {
		err  *apperrors.Error
		code int
	}{
		"bad signature": {apperrors.New(http.StatusUnauthorized, apperrors.KindUnauthorized, "Invalid signature", nil), http.StatusUnauthorized},
		"malformed":     {apperrors.Validation("Malformed callback payload"), http.StatusBadRequest},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			r := setupPaymentRouter(&mockPaymentSvc{}, &mockWebhookSvc{err: tc.err})
			w := doJSON(r, http.MethodPost, "/webhooks/payment/payflex", gin.H{"status": "APPROVED"}, nil)
			assert.Equal(t, tc.code, w.Code)
		})
	}
}
