package clients

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

	"github.com/cenkalti/backoff/v4"
	"github.com/yellowgenie/wishwell/services/escrow-ledger-service/internal/domain"
)

// jsonClient is the small JSON-over-HTTP transport shared by the collaborator clients.
type jsonClient struct {
	baseURL     *url.URL
	httpClient  *http.Client
	serviceName string
	token       string
	maxRetries  uint64
}

type Option func(*jsonClient)

func WithHTTPClient(c *http.Client) Option {
	return func(j *jsonClient) {
		if c != nil {
			j.httpClient = c
		}
	}
}

// WithServiceToken sends token as a bearer credential on every call.
func WithServiceToken(token string) Option {
	return func(j *jsonClient) { j.token = strings.TrimSpace(token) }
}

func WithMaxRetries(n uint64) Option {
	return func(j *jsonClient) { j.maxRetries = n }
}

func newJSONClient(baseURL, serviceName string, opts ...Option) (*jsonClient, error) {
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid %s base url %q", serviceName, baseURL)
	}
	c := &jsonClient{
		baseURL:     parsed,
		httpClient:  &http.Client{Timeout: 5 * time.Second},
		serviceName: serviceName,
		maxRetries:  2,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// statusError is returned for non-2xx responses.
type statusError struct {
	Service string
	Status  int
	Body    string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s responded %d: %s", e.Service, e.Status, e.Body)
}

func (e *statusError) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return domain.ErrConflict
	default:
		return nil
	}
}

func (c *jsonClient) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = b
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = time.Second
	policy.MaxElapsedTime = 0

	// Only idempotent reads and PUT-style status updates are sent through here, so retrying is safe.
	return backoff.Retry(func() error {
		err := c.send(ctx, method, path, payload, out)
		var se *statusError
		if errors.As(err, &se) && se.Status < 500 && se.Status != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx))
}

func (c *jsonClient) send(ctx context.Context, method, path string, payload []byte, out any) error {
	target := c.baseURL.String() + path
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", c.serviceName, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", c.serviceName, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{Service: c.serviceName, Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return backoff.Permanent(fmt.Errorf("decode %s response: %w", c.serviceName, err))
	}
	return nil
}
