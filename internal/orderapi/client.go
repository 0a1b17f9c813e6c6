// Package orderapi is the REST client of the remote order-management service.
package orderapi

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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"

	"restaurant-pos/internal/logger"
	"restaurant-pos/internal/models"
)

var (
	ErrNotFound    = errors.New("order service: not found")
	ErrConflict    = errors.New("order service: conflict")
	ErrUnavailable = errors.New("order service: unavailable")
)

// StatusError is returned for non-2xx responses without a dedicated sentinel
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

var apiRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pos_order_api_requests_total",
		Help: "Requests sent to the order service",
	},
	[]string{"op", "result"},
)

// Options configures the client
type Options struct {
	BaseURL            string
	Timeout            time.Duration
	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration
	HTTPClient         *http.Client
}

// Client talks to the order service. Every call runs once through a shared
// circuit breaker; failures are never retried.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *logger.Logger
}

// New creates an order service client
func New(opts Options, log *logger.Logger) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	maxFailures := opts.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	c := &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    httpClient,
		logger:  log,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "order-api",
		Timeout: opts.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// Client errors mean the service answered; only transport and 5xx trip.
		IsSuccessful: func(err error) bool {
			var se *StatusError
			switch {
			case err == nil, errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict):
				return true
			case errors.As(err, &se):
				return se.StatusCode < http.StatusInternalServerError
			default:
				return false
			}
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("breaker_state_changed", fmt.Sprintf("Circuit breaker %s: %s -> %s", name, from, to), "", nil)
		},
	})
	return c
}

// BreakerState reports the circuit breaker state: closed, half-open or open
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

func executeWithBreaker[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	res, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return *new(T), err
	}
	return res.(T), nil
}

// do sends one request and decodes the JSON response into out (if non-nil).
func (c *Client) do(ctx context.Context, op, method, path string, body, out interface{}) error {
	_, err := executeWithBreaker(c.breaker, func() (struct{}, error) {
		return struct{}{}, c.send(ctx, op, method, path, body, out)
	})

	result := "ok"
	if err != nil {
		result = "error"
	}
	apiRequests.WithLabelValues(op, result).Inc()
	return err
}

func (c *Client) send(ctx context.Context, op, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to marshal request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: failed to build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requestID := logger.RequestID(ctx); requestID != "" {
		req.Header.Set("X-Request-Id", requestID)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", op, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("order_api_call", fmt.Sprintf("%s %s - %d", method, path, resp.StatusCode), logger.RequestID(ctx), map[string]interface{}{
		"op":          op,
		"status_code": resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(op, resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", op, err)
	}
	return nil
}

func statusError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	message := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &payload) == nil {
		if payload.Message != "" {
			message = payload.Message
		} else if payload.Error != "" {
			message = payload.Error
		}
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case http.StatusConflict:
		return fmt.Errorf("%s: %w: %s", op, ErrConflict, message)
	default:
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Message: message}
	}
}

func orderPath(orderID string, parts ...string) string {
	p := "/orders/" + url.PathEscape(orderID)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

func (c *Client) orderCall(ctx context.Context, op, method, path string, body interface{}) (*models.Order, error) {
	var order models.Order
	if err := c.do(ctx, op, method, path, body, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

type valueBody struct {
	Value bool `json:"value"`
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return c.orderCall(ctx, "get_order", http.MethodGet, orderPath(orderID), nil)
}

func (c *Client) UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) (*models.Order, error) {
	return c.orderCall(ctx, "update_order_status", http.MethodPatch, orderPath(orderID, "status"),
		map[string]models.OrderStatus{"status": status})
}

func (c *Client) UpdateItemStatus(ctx context.Context, orderID, itemID string, status models.ItemStatus) (*models.Order, error) {
	return c.orderCall(ctx, "update_item_status", http.MethodPatch, orderPath(orderID, "items", itemID, "status"),
		map[string]models.ItemStatus{"status": status})
}

func (c *Client) AddItemToOrder(ctx context.Context, orderID string, req models.AddItemRequest) (*models.Order, error) {
	if req.AdditiveIDs == nil {
		req.AdditiveIDs = []string{}
	}
	return c.orderCall(ctx, "add_item", http.MethodPost, orderPath(orderID, "items"), req)
}

func (c *Client) UpdateItemQuantity(ctx context.Context, orderID, itemID string, quantity int) (*models.Order, error) {
	return c.orderCall(ctx, "update_item_quantity", http.MethodPatch, orderPath(orderID, "items", itemID, "quantity"),
		map[string]int{"quantity": quantity})
}

func (c *Client) RemoveItem(ctx context.Context, orderID, itemID string) (*models.Order, error) {
	return c.orderCall(ctx, "remove_item", http.MethodDelete, orderPath(orderID, "items", itemID), nil)
}

func (c *Client) RefundItem(ctx context.Context, orderID, itemID string, req models.RefundRequest) (*models.Order, error) {
	return c.orderCall(ctx, "refund_item", http.MethodPost, orderPath(orderID, "items", itemID, "refund"), req)
}

func (c *Client) ApplyCustomerToOrder(ctx context.Context, orderID, customerID string) (*models.Order, error) {
	return c.orderCall(ctx, "apply_customer", http.MethodPost, orderPath(orderID, "customer"),
		map[string]string{"customerId": customerID})
}

func (c *Client) RemoveCustomerFromOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return c.orderCall(ctx, "remove_customer", http.MethodDelete, orderPath(orderID, "customer"), nil)
}

func (c *Client) ApplyCustomerDiscount(ctx context.Context, orderID string) (*models.Order, error) {
	return c.orderCall(ctx, "apply_customer_discount", http.MethodPost, orderPath(orderID, "customer", "discount"), nil)
}

func (c *Client) ApplyCustomerPoints(ctx context.Context, orderID string, req models.PointsRequest) (*models.Order, error) {
	return c.orderCall(ctx, "apply_customer_points", http.MethodPost, orderPath(orderID, "customer", "points"), req)
}

func (c *Client) RemoveCustomerPoints(ctx context.Context, orderID string) (*models.Order, error) {
	return c.orderCall(ctx, "remove_customer_points", http.MethodDelete, orderPath(orderID, "customer", "points"), nil)
}

func (c *Client) ApplyDiscountToOrder(ctx context.Context, orderID, discountID string) (*models.Order, error) {
	return c.orderCall(ctx, "apply_discount", http.MethodPost, orderPath(orderID, "discount"),
		map[string]string{"discountId": discountID})
}

func (c *Client) RemoveDiscountFromOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return c.orderCall(ctx, "remove_discount", http.MethodDelete, orderPath(orderID, "discount"), nil)
}

func (c *Client) GetDiscountsByRestaurant(ctx context.Context, restaurantID string) ([]models.Discount, error) {
	var discounts []models.Discount
	path := "/discounts?restaurantId=" + url.QueryEscape(restaurantID)
	if err := c.do(ctx, "get_discounts", http.MethodGet, path, nil, &discounts); err != nil {
		return nil, err
	}
	return discounts, nil
}

func (c *Client) GetDiscountByPromoCode(ctx context.Context, code string) (*models.Discount, error) {
	var discount models.Discount
	if err := c.do(ctx, "get_promo", http.MethodGet, "/discounts/promo/"+url.PathEscape(code), nil, &discount); err != nil {
		return nil, err
	}
	return &discount, nil
}

func (c *Client) GetCustomerByShortCode(ctx context.Context, code string) (*models.Customer, error) {
	var customer models.Customer
	if err := c.do(ctx, "get_customer", http.MethodGet, "/customers/short-code/"+url.PathEscape(code), nil, &customer); err != nil {
		return nil, err
	}
	return &customer, nil
}

func (c *Client) CreateOrderLogEntry(ctx context.Context, entry models.LogEntry) error {
	return c.do(ctx, "create_log", http.MethodPost, "/order-logs", entry, nil)
}

func (c *Client) GetOrderLogs(ctx context.Context, orderID string) ([]models.LogEntry, error) {
	var entries []models.LogEntry
	if err := c.do(ctx, "get_logs", http.MethodGet, orderPath(orderID, "logs"), nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Client) SetPrecheckFlag(ctx context.Context, orderID string, value bool) error {
	return c.do(ctx, "set_precheck", http.MethodPatch, orderPath(orderID, "precheck"), valueBody{Value: value}, nil)
}

func (c *Client) SetReorderedFlag(ctx context.Context, orderID string, value bool) error {
	return c.do(ctx, "set_reordered", http.MethodPatch, orderPath(orderID, "reordered"), valueBody{Value: value}, nil)
}
