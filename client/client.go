// Package client talks to the order server over HTTP. It holds no session
// state; staff calls take their credentials as an argument.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"booth-pos/models"
	"booth-pos/utils"
)

const (
	DefaultTimeout = 5 * time.Second
	apiPrefix      = "/api/v1"
)

var (
	ErrNotFound          = errors.New("not found")
	errMalformedResponse = errors.New("malformed response")
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%d %s)", e.Message, e.StatusCode, e.Code)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.StatusCode)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// IsTransient reports whether err is worth retrying: transport failures,
// timeouts, 408, 429 and 5xx. A caller cancelling its own context is not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusRequestTimeout ||
			apiErr.StatusCode == http.StatusTooManyRequests ||
			apiErr.StatusCode >= 500
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errMalformedResponse) {
		return true
	}
	var netErr net.Error
	var urlErr *url.Error
	return errors.As(err, &netErr) || errors.As(err, &urlErr)
}

// Credentials identify a staff or admin caller. Password may also be a
// token issued by the login endpoint.
type Credentials struct {
	Role     utils.Role
	Password string
}

type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	retries int
	backoff time.Duration
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRetries sets how many extra attempts staff mutations get.
func WithRetries(n int, backoff time.Duration) Option {
	return func(c *Client) {
		c.retries = n
		c.backoff = backoff
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		timeout: DefaultTimeout,
		retries: 2,
		backoff: 300 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) CreateOrder(ctx context.Context, req models.CreateOrderRequest, idempotencyKey string) (*models.Order, error) {
	var order models.Order
	headers := map[string]string{}
	if idempotencyKey != "" {
		headers["Idempotency-Key"] = idempotencyKey
	}
	err := c.do(ctx, request{method: http.MethodPost, path: "/orders", body: req, headers: headers}, &order)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	if err := c.do(ctx, request{method: http.MethodGet, path: "/orders/" + url.PathEscape(id)}, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetQueue returns every PAID order.
func (c *Client) GetQueue(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	err := c.do(ctx, request{method: http.MethodGet, path: "/queue"}, &orders)
	return orders, err
}

// GetMenu returns the items currently available for sale.
func (c *Client) GetMenu(ctx context.Context) ([]models.MenuItem, error) {
	var items []models.MenuItem
	err := c.do(ctx, request{method: http.MethodGet, path: "/menu?available=true"}, &items)
	return items, err
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, request{method: http.MethodGet, path: "/health", raw: true}, nil)
}

func (c *Client) PendingOrders(ctx context.Context, creds Credentials) ([]models.Order, error) {
	var orders []models.Order
	err := c.do(ctx, request{method: http.MethodGet, path: "/staff/orders/pending", creds: &creds, retry: true}, &orders)
	return orders, err
}

func (c *Client) VerifyPayment(ctx context.Context, creds Credentials, id string, method *models.PaymentMethod) (*models.Order, error) {
	body := struct {
		PaymentMethod *models.PaymentMethod `json:"payment_method,omitempty"`
	}{method}
	return c.mutate(ctx, http.MethodPut, "/staff/orders/"+url.PathEscape(id)+"/verify", creds, body)
}

func (c *Client) MarkReady(ctx context.Context, creds Credentials, id string) (*models.Order, error) {
	return c.mutate(ctx, http.MethodPut, "/staff/orders/"+url.PathEscape(id)+"/ready", creds, nil)
}

func (c *Client) CompleteOrder(ctx context.Context, creds Credentials, id string) (*models.Order, error) {
	return c.mutate(ctx, http.MethodPut, "/staff/orders/"+url.PathEscape(id)+"/complete", creds, nil)
}

func (c *Client) CancelOrder(ctx context.Context, creds Credentials, id string) (*models.Order, error) {
	return c.mutate(ctx, http.MethodDelete, "/staff/orders/"+url.PathEscape(id), creds, nil)
}

// TestAuth reports whether creds open the routes of their role.
func (c *Client) TestAuth(ctx context.Context, creds Credentials) bool {
	path := "/staff/orders/pending"
	if creds.Role == utils.RoleAdmin {
		path = "/admin/orders"
	}
	return c.do(ctx, request{method: http.MethodGet, path: path, creds: &creds}, nil) == nil
}

func (c *Client) mutate(ctx context.Context, method, path string, creds Credentials, body any) (*models.Order, error) {
	var order models.Order
	if err := c.do(ctx, request{method: method, path: path, creds: &creds, body: body, retry: true}, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

type request struct {
	method  string
	path    string
	body    any
	headers map[string]string
	creds   *Credentials
	retry   bool
	raw     bool // path is not under /api/v1
}

func (c *Client) do(ctx context.Context, r request, out any) error {
	var payload []byte
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = b
	}

	attempts := 1
	if r.retry {
		attempts += c.retries
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff * time.Duration(attempt)):
			}
		}
		err = c.once(ctx, r, payload, out)
		if !IsTransient(err) {
			return err
		}
	}
	return err
}

func (c *Client) once(ctx context.Context, r request, payload []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.baseURL + apiPrefix + r.path
	if r.raw {
		target = c.baseURL + r.path
	}
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	if r.creds != nil && r.creds.Password != "" {
		req.Header.Set("Authorization", "Bearer "+r.creds.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", errMalformedResponse, err)
	}
	return nil
}

func decodeAPIError(status int, data []byte) error {
	apiErr := &APIError{StatusCode: status, Message: http.StatusText(status)}
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if json.Unmarshal(data, &body) == nil {
		if body.Error != "" {
			apiErr.Message = body.Error
		}
		apiErr.Code = body.Code
	}
	return apiErr
}
