package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ErrPaymentsUnavailable is returned when no payment gateway is configured
// or the gateway rejects the charge.
var ErrPaymentsUnavailable = errors.New("payment gateway unavailable")

// PaymentClient charges a workspace's stored payment method during
// recharges.
type PaymentClient interface {
	Charge(ctx context.Context, workspaceID string, amount decimal.Decimal, currency string) (string, error)
}

// HTTPPaymentClient talks to the payments gateway over HTTP.
type HTTPPaymentClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logrus.Entry
}

type chargeRequest struct {
	WorkspaceID string          `json:"workspace_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
}

type chargeResponse struct {
	PaymentRef string `json:"payment_ref"`
	Status     string `json:"status"`
}

// NewHTTPPaymentClient creates a payment gateway client.
func NewHTTPPaymentClient(baseURL, apiKey string, logger *logrus.Entry) *HTTPPaymentClient {
	return &HTTPPaymentClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger,
	}
}

// Charge posts a charge for the workspace's stored payment method and
// returns the gateway's payment reference.
func (c *HTTPPaymentClient) Charge(ctx context.Context, workspaceID string, amount decimal.Decimal, currency string) (string, error) {
	if c.baseURL == "" {
		return "", ErrPaymentsUnavailable
	}

	body, err := json.Marshal(chargeRequest{
		WorkspaceID: workspaceID,
		Amount:      amount,
		Currency:    currency,
	})
	if err != nil {
		return "", fmt.Errorf("marshal charge request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/charges", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create charge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPaymentsUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		c.logger.WithFields(logrus.Fields{
			"workspace_id": workspaceID,
			"status":       resp.StatusCode,
		}).Warn("Payment charge rejected")
		return "", fmt.Errorf("%w: status %d: %s", ErrPaymentsUnavailable, resp.StatusCode, string(respBody))
	}

	var charge chargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&charge); err != nil {
		return "", fmt.Errorf("decode charge response: %w", err)
	}
	if charge.PaymentRef == "" {
		return "", fmt.Errorf("%w: gateway returned no payment reference", ErrPaymentsUnavailable)
	}
	return charge.PaymentRef, nil
}
