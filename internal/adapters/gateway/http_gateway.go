package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/domain"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/ports"
)

// HTTPGateway talks to a Stripe-compatible REST API: form-encoded requests,
// amounts in minor units and an Idempotency-Key header on every write.
type HTTPGateway struct {
	baseURL    *url.URL
	secretKey  string
	httpClient *http.Client
	maxRetries uint64
}

type Option func(*HTTPGateway)

func WithHTTPClient(c *http.Client) Option {
	return func(g *HTTPGateway) {
		if c != nil {
			g.httpClient = c
		}
	}
}

// WithMaxRetries sets how often a retryable failure is retried inside one call.
func WithMaxRetries(n uint64) Option {
	return func(g *HTTPGateway) { g.maxRetries = n }
}

func NewHTTPGateway(baseURL, secretKey string, opts ...Option) (*HTTPGateway, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || parsed.Scheme == "" {
		return nil, fmt.Errorf("invalid gateway base url %q", baseURL)
	}
	if strings.TrimSpace(secretKey) == "" {
		return nil, fmt.Errorf("gateway secret key required")
	}
	g := &HTTPGateway{
		baseURL:    parsed,
		secretKey:  strings.TrimSpace(secretKey),
		httpClient: &http.Client{Timeout: 20 * time.Second},
		maxRetries: 2,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

type customerResponse struct {
	ID string `json:"id"`
}

type paymentIntentResponse struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	ClientSecret     string `json:"client_secret"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	LastPaymentError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

type refundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type errorResponse struct {
	Error struct {
		Type        string `json:"type"`
		Code        string `json:"code"`
		DeclineCode string `json:"decline_code"`
		Message     string `json:"message"`
	} `json:"error"`
}

func (g *HTTPGateway) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	form := url.Values{}
	if email != "" {
		form.Set("email", email)
	}
	if name != "" {
		form.Set("name", name)
	}
	var out customerResponse
	// One key per call; retries of this call reuse it.
	key := "escrow-customer-" + uuid.NewString()
	if err := g.do(ctx, "create_customer", http.MethodPost, "/v1/customers", form, key, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (g *HTTPGateway) CreatePaymentIntent(ctx context.Context, req ports.PaymentIntentRequest) (ports.PaymentIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(domain.MinorUnits(req.Amount, req.Currency), 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("confirm", "true")
	if req.CustomerRef != "" {
		form.Set("customer", req.CustomerRef)
	}
	if req.PaymentMethodRef != "" {
		form.Set("payment_method", req.PaymentMethodRef)
	}
	if req.Description != "" {
		form.Set("description", req.Description)
	}
	for k, v := range req.Metadata {
		form.Set("metadata["+k+"]", v)
	}
	var out paymentIntentResponse
	if err := g.do(ctx, "create_payment_intent", http.MethodPost, "/v1/payment_intents", form, req.IdempotencyKey, &out); err != nil {
		return ports.PaymentIntent{}, err
	}
	return toPaymentIntent(out), nil
}

func (g *HTTPGateway) RetrievePaymentIntent(ctx context.Context, ref string) (ports.PaymentIntent, error) {
	var out paymentIntentResponse
	if err := g.do(ctx, "retrieve_payment_intent", http.MethodGet, "/v1/payment_intents/"+url.PathEscape(ref), nil, "", &out); err != nil {
		return ports.PaymentIntent{}, err
	}
	return toPaymentIntent(out), nil
}

func (g *HTTPGateway) CreateRefund(ctx context.Context, req ports.RefundRequest) (ports.GatewayRefund, error) {
	form := url.Values{}
	form.Set("payment_intent", req.PaymentIntentRef)
	form.Set("amount", strconv.FormatInt(domain.MinorUnits(req.Amount, req.Currency), 10))
	if req.Reason != "" {
		form.Set("metadata[reason]", req.Reason)
	}
	var out refundResponse
	if err := g.do(ctx, "create_refund", http.MethodPost, "/v1/refunds", form, req.IdempotencyKey, &out); err != nil {
		return ports.GatewayRefund{}, err
	}
	if out.Status == "failed" || out.Status == "canceled" {
		return ports.GatewayRefund{}, &domain.GatewayError{Op: "create_refund", Code: "refund_" + out.Status}
	}
	return ports.GatewayRefund{Ref: out.ID, Status: out.Status}, nil
}

func toPaymentIntent(out paymentIntentResponse) ports.PaymentIntent {
	currency := strings.ToUpper(out.Currency)
	intent := ports.PaymentIntent{
		Ref:          out.ID,
		Status:       ports.PaymentIntentStatus(out.Status),
		ClientSecret: out.ClientSecret,
		Amount:       decimal.New(out.Amount, -domain.CurrencyScale(currency)),
		Currency:     currency,
	}
	if out.LastPaymentError != nil {
		intent.LastError = out.LastPaymentError.Message
		if intent.LastError == "" {
			intent.LastError = out.LastPaymentError.Code
		}
	}
	return intent
}

// do sends one request, retrying network errors, 409 idempotency races, 429 and 5xx.
// Writes carry the caller's idempotency key, so a retry cannot charge twice.
// do retries retryable failures with the same idempotency key, so the gateway
// applies a write at most once.
func (g *HTTPGateway) do(ctx context.Context, op, method, path string, form url.Values, idempotencyKey string, out any) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	policy.MaxElapsedTime = 0

	attempt := func() error {
		err := g.send(ctx, op, method, path, form, idempotencyKey, out)
		if err == nil || domain.IsRetryableGatewayError(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	return backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(policy, g.maxRetries), ctx))
}

func (g *HTTPGateway) send(ctx context.Context, op, method, path string, form url.Values, idempotencyKey string, out any) error {
	target := g.baseURL.ResolveReference(&url.URL{Path: path})
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return &domain.GatewayError{Op: op, Code: "build_request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+g.secretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return &domain.GatewayError{Op: op, Code: "network", Retryable: ctx.Err() == nil, Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &domain.GatewayError{Op: op, Code: "read_response", Retryable: true, Err: err}
	}

	if resp.StatusCode >= 400 {
		var apiErr errorResponse
		_ = json.Unmarshal(raw, &apiErr)
		code := apiErr.Error.Code
		if apiErr.Error.DeclineCode != "" {
			code = apiErr.Error.DeclineCode
		}
		if code == "" {
			code = "http_" + strconv.Itoa(resp.StatusCode)
		}
		msg := apiErr.Error.Message
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return &domain.GatewayError{
			Op:        op,
			Code:      code,
			Retryable: resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
			Err:       errors.New(msg),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &domain.GatewayError{Op: op, Code: "decode_response", Err: err}
	}
	return nil
}

var _ ports.PaymentGateway = (*HTTPGateway)(nil)
