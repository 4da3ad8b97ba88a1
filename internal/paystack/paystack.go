// Package paystack is a thin client for the Paystack REST API.
//
// It owns no state: it initializes transactions, verifies them by reference,
// and checks webhook signatures. All reconciliation decisions live elsewhere.
package paystack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/widemind/coursepay/internal/retry"
)

var (
	ErrGatewayUnreachable = errors.New("payment gateway unreachable")
	ErrTransactionFailed  = errors.New("transaction not successful")
	ErrInvalidReference   = errors.New("invalid transaction reference")
)

const (
	defaultBaseURL = "https://api.paystack.co"
	maxRespBytes   = 1 << 20 // 1MB

	verifyAttempts  = 2
	verifyBaseDelay = 200 * time.Millisecond
)

// Client calls the Paystack API.
type Client struct {
	baseURL   string
	secretKey string
	http      *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the API base URL (used in tests).
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithTimeout bounds every gateway call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// NewClient creates a Paystack client authenticated with the secret key.
func NewClient(secretKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:   defaultBaseURL,
		secretKey: secretKey,
		http:      &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// InitResult is the hosted-payment-page handle returned by transaction/initialize.
type InitResult struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// VerifyResult is the normalized outcome of a verify-by-reference call.
type VerifyResult struct {
	Success       bool
	Amount        int64 // minor units (kobo)
	Reference     string
	CustomerEmail string
}

// apiEnvelope is the common Paystack response wrapper.
type apiEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Initialize starts a transaction and returns the hosted payment page URL.
func (c *Client) Initialize(ctx context.Context, email string, amount int64, callbackURL string) (*InitResult, error) {
	body := fmt.Sprintf(`{"email":%q,"amount":%d,"callback_url":%q}`, email, amount, callbackURL)

	env, err := c.do(ctx, http.MethodPost, "/transaction/initialize", strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	if !env.Status {
		return nil, fmt.Errorf("initialize transaction: %s", env.Message)
	}

	var result InitResult
	if err := json.Unmarshal(env.Data, &result); err != nil {
		return nil, fmt.Errorf("decode initialize response: %w", err)
	}
	return &result, nil
}

// Verify checks a transaction by reference against the gateway.
// Network errors and 5xx responses surface as ErrGatewayUnreachable after a
// bounded retry; the caller must treat that as "unknown", never as failure.
func (c *Client) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	if reference == "" {
		return nil, ErrInvalidReference
	}

	var env *apiEnvelope
	err := retry.Do(ctx, verifyAttempts, verifyBaseDelay, func() error {
		var err error
		env, err = c.do(ctx, http.MethodGet, "/transaction/verify/"+reference, nil)
		return err
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
		}
		var se *statusError
		if errors.As(err, &se) {
			if se.code == http.StatusNotFound {
				return nil, ErrInvalidReference
			}
			return nil, fmt.Errorf("%w: gateway returned %d", ErrGatewayUnreachable, se.code)
		}
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
	}
	if !env.Status {
		return nil, fmt.Errorf("verify transaction: %s", env.Message)
	}

	var data struct {
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
		Reference string `json:"reference"`
		Customer  struct {
			Email string `json:"email"`
		} `json:"customer"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("decode verify response: %w", err)
	}

	return &VerifyResult{
		Success:       data.Status == "success",
		Amount:        data.Amount,
		Reference:     data.Reference,
		CustomerEmail: data.Customer.Email,
	}, nil
}

// statusError marks a non-2xx gateway response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("gateway status %d: %s", e.code, e.body)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*apiEnvelope, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err // transport error, retryable
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRespBytes))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 500 {
		return nil, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(raw))}
	}
	if resp.StatusCode >= 400 {
		// Client errors will not improve with retries.
		return nil, retry.Permanent(&statusError{code: resp.StatusCode, body: strings.TrimSpace(string(raw))})
	}

	var env apiEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, retry.Permanent(fmt.Errorf("decode gateway response: %w", err))
	}
	return &env, nil
}
