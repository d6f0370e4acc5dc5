package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rmaluf/marketplace-recon/internal/domain"
)

var ErrPaymentNotFound = errors.New("payment not found")

// Payment is the gateway's view of a payment, the authoritative status source
// during reconciliation.
type Payment struct {
	ID           string               `json:"id"`
	Status       domain.PaymentStatus `json:"status"`
	StatusDetail string               `json:"status_detail"`
	Amount       int64                `json:"transaction_amount"`
}

type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
}

func NewClient(baseURL, accessToken string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:     baseURL,
		accessToken: accessToken,
		httpClient:  httpClient,
	}
}

func (c *Client) GetPayment(ctx context.Context, id string) (*Payment, error) {
	url := fmt.Sprintf("%s/v1/payments/%s", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create payment request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get payment %s: %w", id, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrPaymentNotFound
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned status %d for payment %s", resp.StatusCode, id)
	}

	var payment Payment
	if err := json.NewDecoder(resp.Body).Decode(&payment); err != nil {
		return nil, fmt.Errorf("decode payment %s: %w", id, err)
	}

	return &payment, nil
}
