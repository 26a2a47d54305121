package payments

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

	pkgerrors "github.com/Cdineshreddy12/Wrapper-sub013/pkg/errors"
)

const (
	defaultTimeout              = 5 * time.Second
	responseBodyReadLimit int64 = 1024

	statusConfirmed = "confirmed"
)

var errURLRequired = errors.New("payment confirmation url is required")

// Client confirms gateway payments before credits are applied.
type Client struct {
	httpClient *http.Client
	url        string
	apiKey     string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithAPIKey sets the bearer token sent to the gateway.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = strings.TrimSpace(key)
	}
}

// WithTimeout overrides the request timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

// NewClient builds a confirmation client posting to confirmationURL.
func NewClient(confirmationURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(confirmationURL)
	if trimmed == "" {
		return nil, errURLRequired
	}
	client := &Client{
		url:        trimmed,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return client, nil
}

// Confirmation identifies a gateway payment by its reference.
type Confirmation struct {
	Reference string    `json:"payment_reference"`
	TenantID  uuid.UUID `json:"tenant_id"`
	Amount    int64     `json:"credit_amount"`
}

// Confirm asks the gateway whether the payment settled for the given amount.
// Transport failures and 5xx responses return DEPENDENCY_ERROR; a payment the
// gateway does not recognise as settled returns VALIDATION_ERROR.
func (c *Client) Confirm(ctx context.Context, req Confirmation) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "payment client not configured")
	}
	if strings.TrimSpace(req.Reference) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal confirmation request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build confirmation request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute confirmation request")
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "confirmation request failed")
	case resp.StatusCode == http.StatusNotFound:
		return pkgerrors.Newf(pkgerrors.CodeValidation, "payment %s not found at gateway", req.Reference)
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Newf(pkgerrors.CodeValidation, "payment %s rejected: status %d: %s", req.Reference, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var apiResp struct {
		Status       string `json:"status"`
		CreditAmount int64  `json:"credit_amount"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode confirmation response")
	}
	if !strings.EqualFold(apiResp.Status, statusConfirmed) {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "payment %s is %s", req.Reference, apiResp.Status)
	}
	if apiResp.CreditAmount != req.Amount {
		return pkgerrors.Newf(pkgerrors.CodeValidation,
			"payment %s settled %d credits, request claims %d", req.Reference, apiResp.CreditAmount, req.Amount)
	}
	return nil
}
