// Package adminclient calls the admin API on behalf of operators. Requests are
// retried a fixed number of times, with a fixed delay, and only when the call
// never reached the application: network errors and gateway statuses.
package adminclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/festalink/backend/internal/admin"
	"github.com/festalink/backend/internal/apperr"
)

const (
	DefaultAttempts = 3
	DefaultDelay    = 2 * time.Second
)

// APIError is an application answer from the server. It is never retried.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("admin api error (%d): %s", e.Status, e.Message)
}

type Client struct {
	baseURL  string
	token    string
	http     *http.Client
	attempts int
	delay    time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

// WithRetry overrides the attempt count and delay between attempts.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.attempts = attempts
		}
		c.delay = delay
	}
}

func withSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		http:     &http.Client{Timeout: 60 * time.Second},
		attempts: DefaultAttempts,
		delay:    DefaultDelay,
		sleep:    sleepCtx,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type BonusRequest struct {
	BatchID   uuid.UUID   `json:"batch_id"`
	VendorIDs []uuid.UUID `json:"vendor_ids"`
	Amount    int         `json:"amount"`
	Reason    string      `json:"reason,omitempty"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
}

type MessageRequest struct {
	BatchID   uuid.UUID   `json:"batch_id"`
	VendorIDs []uuid.UUID `json:"vendor_ids"`
	Subject   string      `json:"subject"`
	Body      string      `json:"body"`
	Email     bool        `json:"email"`
}

// ApplyBonusToMany grants a bonus to many vendors. The batch id is fixed before
// the first attempt so a retry after a lost response cannot credit twice.
func (c *Client) ApplyBonusToMany(ctx context.Context, req BonusRequest) (*admin.BulkResult, error) {
	if req.BatchID == uuid.Nil {
		req.BatchID = uuid.New()
	}
	var res admin.BulkResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/admin/bonus/bulk", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) SendMessageToMany(ctx context.Context, req MessageRequest) (*admin.BulkResult, error) {
	if req.BatchID == uuid.Nil {
		req.BatchID = uuid.New()
	}
	var res admin.BulkResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/admin/messages/bulk", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.delay); err != nil {
				return err
			}
		}
		lastErr = c.once(ctx, method, path, body, out)
		if lastErr == nil || !retryable(lastErr) {
			return lastErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", c.attempts, lastErr)
}

func (c *Client) once(ctx context.Context, method, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", apperr.ErrUpstreamUnavailable, err)
	}

	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: gateway status %d", apperr.ErrUpstreamUnavailable, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(respBody))
		if json.Unmarshal(respBody, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}
	return errors.Is(err, apperr.ErrUpstreamUnavailable)
}
