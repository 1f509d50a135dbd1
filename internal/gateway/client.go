package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/access"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/circuitbreaker"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/config"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/httputil"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/metrics"
)

// IdempotencyHeader carries the logical purchase key on submissions.
const IdempotencyHeader = "Idempotency-Key"

// Options carries the shared collaborators of the client.
type Options struct {
	HTTPClient *http.Client
	Breakers   *circuitbreaker.Manager
	Metrics    *metrics.Metrics
}

// Client talks to the Transaction Store over HTTP/JSON.
type Client struct {
	baseURL  string
	apiKey   string
	client   *http.Client
	breakers *circuitbreaker.Manager
	metrics  *metrics.Metrics
}

// New creates a Transaction Store client from configuration.
func New(cfg config.GatewayConfig, opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		timeout := cfg.Timeout.Duration
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = httputil.NewClientWithHeaders(timeout, cfg.Headers)
	}
	return &Client{
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		client:   client,
		breakers: opts.Breakers,
		metrics:  opts.Metrics,
	}
}

// SubmitPayment asks the store to debit the payer. idempotencyKey identifies
// the logical purchase so a retried submission cannot charge twice.
func (c *Client) SubmitPayment(ctx context.Context, req SubmitRequest, idempotencyKey string) (SubmitResult, error) {
	headers := map[string]string{}
	if idempotencyKey != "" {
		headers[IdempotencyHeader] = idempotencyKey
	}

	var wire wireTransaction
	if err := c.call(ctx, "submit_payment", http.MethodPost, "/payments", req, headers, &wire); err != nil {
		return SubmitResult{}, err
	}
	id := wire.id()
	if id == "" {
		return SubmitResult{}, errors.New("gateway: submission response missing transaction id")
	}
	status, err := access.ParseGatewayStatus(wire.status())
	if err != nil {
		return SubmitResult{}, fmt.Errorf("gateway: submission response: %w", err)
	}
	return SubmitResult{TransactionID: id, Status: status, Message: wire.message()}, nil
}

// GetPaymentStatus performs one status lookup.
func (c *Client) GetPaymentStatus(ctx context.Context, transactionID string) (StatusResult, error) {
	var wire wireTransaction
	path := "/payments/" + url.PathEscape(transactionID) + "/status"
	if err := c.call(ctx, "get_payment_status", http.MethodGet, path, nil, nil, &wire); err != nil {
		return StatusResult{}, err
	}
	status, err := access.ParseGatewayStatus(wire.status())
	if err != nil {
		return StatusResult{}, fmt.Errorf("gateway: status response: %w", err)
	}
	return StatusResult{Status: status, Reason: wire.message()}, nil
}

// GetTransactionDetails returns settlement details including secure media URLs.
func (c *Client) GetTransactionDetails(ctx context.Context, transactionID string) (TransactionDetails, error) {
	var wire wireTransaction
	path := "/payments/" + url.PathEscape(transactionID)
	if err := c.call(ctx, "get_transaction_details", http.MethodGet, path, nil, nil, &wire); err != nil {
		var apiErr *Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return TransactionDetails{}, ErrNotFound
		}
		return TransactionDetails{}, err
	}
	return wire.toDetails(transactionID)
}

// GetUserEntitlements fetches a user's grants along with the store's clock.
func (c *Client) GetUserEntitlements(ctx context.Context, userID string) (EntitlementSnapshot, error) {
	var wire wireEntitlements
	path := "/users/" + url.PathEscape(userID) + "/entitlements"
	if err := c.call(ctx, "get_user_entitlements", http.MethodGet, path, nil, nil, &wire); err != nil {
		return EntitlementSnapshot{}, err
	}
	return wire.toSnapshot(userID), nil
}

// call runs one request through the gateway breaker. Refusals (4xx) are
// answers, not outages, and do not count against the breaker.
func (c *Client) call(ctx context.Context, op, method, path string, body interface{}, headers map[string]string, out interface{}) (err error) {
	start := time.Now()
	defer func() {
		var apiErr *Error
		counted := err
		if errors.As(err, &apiErr) && apiErr.StatusCode < 500 {
			counted = nil
		}
		c.metrics.ObserveGatewayCall(op, time.Since(start), counted)
	}()

	result, err := c.breakers.Execute(circuitbreaker.ServiceGateway, func() (interface{}, error) {
		return c.roundTrip(ctx, method, path, body, headers, out)
	})
	if err != nil {
		return err
	}
	if refusal, ok := result.(*Error); ok && refusal != nil {
		return refusal
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body interface{}, headers map[string]string, out interface{}) (*Error, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("gateway: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := decodeError(resp)
		if resp.StatusCode >= 500 {
			return nil, apiErr
		}
		return apiErr, nil
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("gateway: read response: %w", err)
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Data) > 0 && envelope.Data[0] == '{' {
		raw = envelope.Data
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("gateway: decode response: %w", err)
	}
	return nil, nil
}

func decodeError(resp *http.Response) *Error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var wire struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Error   string `json:"error"`
		Field   string `json:"field"`
	}
	apiErr := &Error{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(raw, &wire); err == nil {
		apiErr.Code = wire.Code
		apiErr.Field = wire.Field
		apiErr.Message = wire.Message
		if apiErr.Message == "" {
			apiErr.Message = wire.Error
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
