// Package posapi is the terminal's HTTP client for the remote POS server.
package posapi

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
	"github.com/wtfpos/posd/internal/pos"
)

// Endpoint paths on the POS server.
const (
	PathHealth      = "/api/health"
	PathCatalog     = "/api/sync/pos-catalog"
	PathOrders      = "/api/orders"
	PathOrdersBatch = "/api/orders/batch"
)

// TokenSource supplies the bearer token for each request. An empty token
// sends no Authorization header.
type TokenSource interface {
	Token() string
}

// StaticToken is a fixed token.
type StaticToken string

// Token returns t.
func (t StaticToken) Token() string { return string(t) }

// Error is an HTTP error response from the server.
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, body)
}

// TransportError is a request that got no response at all.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is a failure with no server response.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// StatusCode returns the HTTP status of an Error, or 0.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}

// Client talks to the POS server REST API.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

// New creates a client for the server at baseURL. timeout bounds each
// request; zero means 30s.
func New(baseURL string, tokens TokenSource, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the server root the client was created with.
func (c *Client) BaseURL() string { return c.baseURL }

// Health calls the liveness endpoint. Any 2xx is healthy.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, PathHealth, nil, nil)
}

// Catalog fetches the full catalog snapshot.
func (c *Client) Catalog(ctx context.Context) (*pos.Catalog, error) {
	var cat pos.Catalog
	if err := c.do(ctx, http.MethodGet, PathCatalog, nil, &cat); err != nil {
		return nil, err
	}
	if cat.AddOnsByProductID == nil {
		cat.AddOnsByProductID = make(map[uuid.UUID][]pos.AddOnGroup)
	}
	return &cat, nil
}

// CreateOrder submits a single order.
func (c *Client) CreateOrder(ctx context.Context, cmd pos.CreateOrderCommand) (*pos.Order, error) {
	var order pos.Order
	if err := c.do(ctx, http.MethodPost, PathOrders, cmd, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// CreateOrderBatch submits several orders in one request. The server
// accepts or rejects the batch as a whole.
func (c *Client) CreateOrderBatch(ctx context.Context, cmds []pos.CreateOrderCommand) ([]pos.Order, error) {
	var orders []pos.Order
	if err := c.do(ctx, http.MethodPost, PathOrdersBatch, pos.BatchCreateRequest{Orders: cmds}, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if tok := c.tokens.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: method + " " + path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return &Error{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
