package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"storefront-session/internal/util"

	"go.uber.org/zap"
)

// APIError is a non-2xx response from the marketplace API. Message is
// extracted from the JSON error body when present.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("marketplace api: %s (status %d)", e.Message, e.StatusCode)
}

// Client talks to the marketplace REST API. Per-session accessors bind
// the caller's session cookie so every request is authenticated the way
// the browser's would be.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a marketplace API client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: util.Named("upstream"),
	}
}

// Cart returns a cart API bound to the given session cookie.
func (c *Client) Cart(sessionCookie string) CartAPI {
	return &cartClient{client: c, cookie: sessionCookie}
}

// Disputes returns a dispute/order API bound to the given session cookie.
func (c *Client) Disputes(sessionCookie string) DisputeAPI {
	return &disputeClient{client: c, cookie: sessionCookie}
}

// doJSON performs a JSON round-trip against the API. A nil out skips
// response decoding. Every non-2xx status becomes an *APIError.
func (c *Client) doJSON(ctx context.Context, method, path, cookie, endpoint string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, cookie, endpoint, out)
}

// do executes a prepared request, records metrics and decodes the
// response into out when provided.
func (c *Client) do(req *http.Request, cookie, endpoint string, out interface{}) error {
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		util.UpstreamErrorsTotal.WithLabelValues(endpoint).Inc()
		return fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	util.UpstreamRequestDuration.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).
		Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		util.UpstreamErrorsTotal.WithLabelValues(endpoint).Inc()
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    extractErrorMessage(resp.Body),
		}
		c.logger.Warn("upstream request rejected",
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode),
			zap.String("message", apiErr.Message))
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return nil
}

// extractErrorMessage pulls the human message out of a JSON error body,
// falling back to a generic string.
func extractErrorMessage(body io.Reader) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return "something went wrong, please try again"
}
