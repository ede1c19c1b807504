package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/web8kameleon-hub/tokengate/internal/handlers"
	"github.com/web8kameleon-hub/tokengate/internal/httputil"
	"github.com/web8kameleon-hub/tokengate/internal/models"
)

// APIError is a non-2xx response from the tokengate API.
type APIError struct {
	StatusCode int
	Body       httputil.ErrorBody
}

func (e *APIError) Error() string {
	msg := e.Body.Error
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Body.Code != "" {
		return fmt.Sprintf("%s (%s, status %d)", msg, e.Body.Code, e.StatusCode)
	}
	return fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
}

// Client calls the tokengate HTTP API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient targets baseURL. token is sent as a bearer token when set.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// SendTelemetry posts one packet.
func (c *Client) SendTelemetry(ctx context.Context, p models.Packet) error {
	return c.do(ctx, http.MethodPost, "/api/v1/telemetry", p, nil)
}

// Status fetches the pool counts, and the token state when tokenID is set.
func (c *Client) Status(ctx context.Context, tokenID string) (*models.StatusReport, error) {
	path := "/api/v1/status"
	if tokenID != "" {
		path += "?token_id=" + url.QueryEscape(tokenID)
	}
	var report models.StatusReport
	if err := c.do(ctx, http.MethodGet, path, nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// Info fetches the operational report.
func (c *Client) Info(ctx context.Context) (*handlers.InfoReport, error) {
	var report handlers.InfoReport
	if err := c.do(ctx, http.MethodGet, "/api/v1/info", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// Transfer submits req. Rejections come back as *APIError.
func (c *Client) Transfer(ctx context.Context, req models.TransferRequest) (*models.TransferOutcome, error) {
	var outcome models.TransferOutcome
	if err := c.do(ctx, http.MethodPost, "/api/v1/transfers", req, &outcome); err != nil {
		return nil, err
	}
	return &outcome, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&apiErr.Body)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
