package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// HTTPClient talks to a ledger gateway over JSON/HTTP.
//
//	GET  /v1/accounts/{account}/balance -> {"balance": "12.5"}
//	POST /v1/transfers {"from","to","amount"} -> {"reference": "..."}
//
// 4xx responses are rejections; transport errors and 5xx are unavailability.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPClient authenticates with apiKey as a bearer token when set.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type balanceResponse struct {
	Balance decimal.Decimal `json:"balance"`
}

type transferRequest struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

type transferResponse struct {
	Reference string `json:"reference"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Balance fetches the balance of account.
func (c *HTTPClient) Balance(ctx context.Context, account string) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/accounts/"+url.PathEscape(account)+"/balance", nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build request: %w", err)
	}

	var out balanceResponse
	if err := c.do(req, &out); err != nil {
		var rejected *RejectedError
		if errors.As(err, &rejected) {
			return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownAccount, rejected.Reason)
		}
		return decimal.Zero, err
	}
	return out.Balance, nil
}

// Transfer submits a transfer and returns the gateway reference.
func (c *HTTPClient) Transfer(ctx context.Context, from, to string, amount decimal.Decimal) (string, error) {
	body, err := json.Marshal(transferRequest{From: from, To: to, Amount: amount})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transfers", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out transferResponse
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.Reference == "" {
		return "", fmt.Errorf("%w: empty reference in response", ErrUnavailable)
	}
	return out.Reference, nil
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		var eb errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		if eb.Error == "" {
			eb.Error = http.StatusText(resp.StatusCode)
		}
		return &RejectedError{Reason: eb.Error}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}
