package gateways

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
)

// DefaultTimeout bounds every outbound gateway call.
const DefaultTimeout = 15 * time.Second

// apiResponse is what a BNPL call yields once the body has been read.
type apiResponse struct {
	status int
	body   []byte
}

type statusError struct{ status int }

func (e *statusError) Error() string { return fmt.Sprintf("provider returned status %d", e.status) }

// apiClient is the JSON-over-HTTPS client shared by the BNPL providers.
// Calls go through a circuit breaker that trips after consecutive transport
// failures or 5xx responses. 4xx responses do not count against it.
type apiClient struct {
	gateway     string
	displayName string
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	breaker     *gobreaker.CircuitBreaker[apiResponse]
}

func newAPIClient(gateway, displayName, baseURL, apiKey string, timeout time.Duration) *apiClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &apiClient{
		gateway:     gateway,
		displayName: displayName,
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		httpClient:  &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker[apiResponse](gobreaker.Settings{
			Name:        gateway,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// do sends body as JSON and decodes a 2xx response into out. Every failure is
// a *PaymentError.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return rejectedError(c.gateway, "could not encode request")
		}
		payload = b
	}

	resp, err := c.breaker.Execute(func() (apiResponse, error) {
		return c.send(ctx, method, path, payload)
	})

	var se *statusError
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return transportError(c.gateway, c.displayName+" is temporarily unavailable", err)
	case errors.As(err, &se):
		return transportError(c.gateway, c.displayName+" is unavailable", err)
	case err != nil:
		return transportError(c.gateway, "could not reach "+c.displayName, err)
	}

	if resp.status >= 400 {
		return rejectedError(c.gateway, c.providerMessage(resp.body))
	}

	if out != nil {
		if err := json.Unmarshal(resp.body, out); err != nil {
			return rejectedError(c.gateway, c.displayName+" returned an unreadable response")
		}
	}
	return nil
}

func (c *apiClient) send(ctx context.Context, method, path string, payload []byte) (apiResponse, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return apiResponse{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apiResponse{}, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return apiResponse{}, fmt.Errorf("read response: %w", err)
	}

	out := apiResponse{status: resp.StatusCode, body: respBytes}
	if resp.StatusCode >= 500 {
		return out, &statusError{status: resp.StatusCode}
	}
	return out, nil
}

func (c *apiClient) providerMessage(body []byte) string {
	var errBody struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &errBody) == nil && errBody.Message != "" {
		return errBody.Message
	}
	return c.displayName + " request failed"
}

func signHMAC(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifyHMAC compares a hex HMAC-SHA256 signature in constant time.
func verifyHMAC(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
