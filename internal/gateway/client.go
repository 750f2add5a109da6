// Package gateway is the HTTP client for the commerce backend: catalogue,
// order creation, mobile-money payments and the advisory cart copy.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/circuitbreaker"
	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/domain"
	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/logger"
	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/payment"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxBodySize = 1 << 20

var (
	ErrProductNotFound = errors.New("product not found")
	ErrMissingOrderID  = errors.New("backend returned no order id")
	// ErrUnavailable is returned while the breaker rejects calls.
	ErrUnavailable = errors.New("backend unavailable")
)

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Detail)
}

// UserMessage is the backend's own explanation, suitable for display.
func (e *StatusError) UserMessage() string {
	return e.Detail
}

func (e *StatusError) ClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

type Config struct {
	BaseURL string
	Timeout time.Duration
	Breaker circuitbreaker.Config
}

type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	log     *slog.Logger
}

func NewClient(cfg Config, log *slog.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: circuitbreaker.New[[]byte]("backend", cfg.Breaker, countsAsSuccess, log),
		log:     log,
	}
}

// countsAsSuccess keeps client errors from tripping the breaker.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && se.ClientError()
}

type createOrderResponse struct {
	OrderID string `json:"order_id"`
}

// CreateOrder returns the backend-assigned order id.
func (c *Client) CreateOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	var resp createOrderResponse
	if err := c.do(ctx, http.MethodPost, "/orders", req, &resp); err != nil {
		return "", err
	}
	if resp.OrderID == "" {
		return "", ErrMissingOrderID
	}
	return resp.OrderID, nil
}

func (c *Client) Initiate(ctx context.Context, req payment.InitiateRequest) (*payment.Ack, error) {
	var ack payment.Ack
	if err := c.do(ctx, http.MethodPost, "/payments", req, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

type statusResponse struct {
	Status payment.GatewayStatus `json:"status"`
}

// CheckStatus reports the payment status. Client errors are unrecoverable and
// end polling; everything else is worth another try.
func (c *Client) CheckStatus(ctx context.Context, trackingID string) (payment.GatewayStatus, error) {
	var resp statusResponse
	err := c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(trackingID), nil, &resp)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.ClientError() {
			return "", fmt.Errorf("%w: %w", payment.ErrUnrecoverable, err)
		}
		return "", err
	}
	return resp.Status, nil
}

type pushCartRequest struct {
	Items []domain.CartItem `json:"items"`
}

func (c *Client) PushCart(ctx context.Context, cart domain.Cart) error {
	return c.do(ctx, http.MethodPut, "/carts/"+url.PathEscape(cart.SessionID), pushCartRequest{Items: cart.Items}, nil)
}

func (c *Client) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	var product domain.Product
	err := c.do(ctx, http.MethodGet, "/products/"+strconv.FormatInt(id, 10), nil, &product)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode %s %s: %w", method, path, err)
		}
	}

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, method, path, payload)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%s %s: %w: %w", method, path, ErrUnavailable, err)
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
		}
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		c.log.DebugContext(ctx, "backend error response",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", res.StatusCode))
		return nil, &StatusError{StatusCode: res.StatusCode, Detail: detailFrom(body)}
	}
	return body, nil
}

// detailFrom extracts the {"detail": ...} message, falling back to the raw body.
func detailFrom(body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Detail) > 0 {
		var s string
		if json.Unmarshal(payload.Detail, &s) == nil {
			return s
		}
		return string(payload.Detail)
	}
	return strings.TrimSpace(string(body))
}
