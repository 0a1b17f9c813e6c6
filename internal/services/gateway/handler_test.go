package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant-pos/internal/debounce"
	"restaurant-pos/internal/logger"
	"restaurant-pos/internal/models"
	"restaurant-pos/internal/orderapi"
	"restaurant-pos/internal/session"
)

// orderService fakes the calls the routes under test reach. Anything else
// panics through the nil embedded interface.
type orderService struct {
	session.OrderStore

	mu     sync.Mutex
	order  *models.Order
	promos map[string]models.Discount
	logs   []models.LogEntry
}

func (f *orderService) snapshot() *models.Order {
	return f.order.Clone()
}

func (f *orderService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if orderID != f.order.ID {
		return nil, orderapi.ErrNotFound
	}
	return f.snapshot(), nil
}

func (f *orderService) UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order.Status = status
	return f.snapshot(), nil
}

func (f *orderService) UpdateItemStatus(ctx context.Context, orderID, itemID string, status models.ItemStatus) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.order.Items {
		if f.order.Items[i].ID == itemID {
			f.order.Items[i].Status = status
		}
	}
	return f.snapshot(), nil
}

func (f *orderService) AddItemToOrder(ctx context.Context, orderID string, req models.AddItemRequest) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order.Items = append(f.order.Items, models.OrderItem{
		ID:       "new-1",
		Product:  models.Product{ID: req.ProductID, Price: decimal.NewFromInt(100)},
		Quantity: req.Quantity,
		Status:   models.ItemCreated,
	})
	return f.snapshot(), nil
}

func (f *orderService) GetDiscountsByRestaurant(ctx context.Context, restaurantID string) ([]models.Discount, error) {
	return nil, nil
}

func (f *orderService) GetDiscountByPromoCode(ctx context.Context, code string) (*models.Discount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.promos[code]
	if !ok {
		return nil, orderapi.ErrNotFound
	}
	return &d, nil
}

func (f *orderService) ApplyDiscountToOrder(ctx context.Context, orderID, discountID string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.promos {
		if d.ID == discountID {
			f.order.DiscountAmount = d.Value
			f.order.AttentionFlags.HasDiscount = true
			return f.snapshot(), nil
		}
	}
	return nil, orderapi.ErrNotFound
}

func (f *orderService) CreateOrderLogEntry(ctx context.Context, entry models.LogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, entry)
	return nil
}

func (f *orderService) GetOrderLogs(ctx context.Context, orderID string) ([]models.LogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.LogEntry{}, f.logs...), nil
}

type memoryLocks struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memoryLocks) TryLock(ctx context.Context, scope, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[scope+key] {
		return false, nil
	}
	m.keys[scope+key] = true
	return true, nil
}

func (m *memoryLocks) Release(ctx context.Context, scope, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, scope+key)
	return nil
}

type fixedBreaker string

func (b fixedBreaker) BreakerState() string { return string(b) }

type gatewayHarness struct {
	router  *gin.Engine
	store   *orderService
	clock   *debounce.ManualClock
	manager *session.Manager
}

func newGatewayHarness(t *testing.T) *gatewayHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := &orderService{
		order: &models.Order{
			ID:         "o-1",
			Status:     models.StatusCreated,
			Type:       models.DineIn,
			Restaurant: &models.Restaurant{ID: "r-1"},
			Items: []models.OrderItem{{
				ID:       "i-1",
				Product:  models.Product{ID: "soup", Price: decimal.NewFromInt(100)},
				Quantity: 2,
				Status:   models.ItemCreated,
			}},
		},
		promos: map[string]models.Discount{},
	}
	clock := debounce.NewManualClock()
	manager := session.NewManager(session.ManagerConfig{
		Store:    store,
		Clock:    clock,
		Debounce: 800 * time.Millisecond,
		IdleTTL:  time.Hour,
	})
	t.Cleanup(manager.CloseAll)

	log := logger.Nop()
	locks := &memoryLocks{keys: map[string]bool{}}
	router := NewRouter(NewHandler(manager, log), log, locks, fixedBreaker("closed"))

	return &gatewayHarness{router: router, store: store, clock: clock, manager: manager}
}

func (h *gatewayHarness) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

var waiter = map[string]string{UserIDHeader: "u-1"}

func decodeView(t *testing.T, w *httptest.ResponseRecorder) session.View {
	t.Helper()
	var v session.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestGateway_OpenSession(t *testing.T) {
	h := newGatewayHarness(t)

	w := h.do(http.MethodPost, "/sessions", `{"orderId":"o-1"}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	view := decodeView(t, w)
	assert.Equal(t, "o-1", view.Order.ID)
	assert.True(t, view.Editable)
	assert.True(t, decimal.NewFromInt(200).Equal(view.Pricing.Total))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
	assert.Equal(t, 1, h.manager.Len())

	w = h.do(http.MethodPost, "/sessions", `{"orderId":"missing"}`, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, session.MsgOrderNotFound, decodeError(t, w)["error"])

	w = h.do(http.MethodPost, "/sessions", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGateway_PendingIsFlushedAfterDebounce(t *testing.T) {
	h := newGatewayHarness(t)

	w := h.do(http.MethodPut, "/sessions/o-1/pending", `{"productId":"salad","quantity":2}`, waiter)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	view := decodeView(t, w)
	require.Len(t, view.Pending, 1)
	assert.Equal(t, 2, view.Pending[0].Quantity)

	h.clock.Advance(800 * time.Millisecond)

	w = h.do(http.MethodGet, "/sessions/o-1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	view = decodeView(t, w)
	assert.Empty(t, view.Pending)
	assert.Len(t, view.Order.Items, 2)
}

func TestGateway_WritesRequireUser(t *testing.T) {
	h := newGatewayHarness(t)

	w := h.do(http.MethodPost, "/sessions/o-1/confirm", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "errors.userRequired", decodeError(t, w)["error"])
}

func TestGateway_ErrorMapping(t *testing.T) {
	h := newGatewayHarness(t)
	h.store.promos["BIG"] = models.Discount{ID: "big", Type: models.DiscountFixed, Value: decimal.NewFromInt(50), MinOrderAmount: decimalPtr(1000)}

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		key    string
	}{
		{"promo below minimum", http.MethodPost, "/sessions/o-1/promo", `{"code":"BIG"}`, http.StatusBadRequest, session.MsgPromoMinAmount},
		{"unknown promo", http.MethodPost, "/sessions/o-1/promo", `{"code":"NOPE"}`, http.StatusNotFound, session.MsgPromoNotFound},
		{"complete from created", http.MethodPost, "/sessions/o-1/complete", "", http.StatusConflict, session.MsgTransitionNotAllowed},
		{"short code too short", http.MethodPost, "/sessions/o-1/customer", `{"code":"A1"}`, http.StatusBadRequest, session.MsgInvalidShortCode},
		{"unknown item", http.MethodDelete, "/sessions/o-1/items/nope", "", http.StatusNotFound, session.MsgItemNotFound},
		{"quantity missing", http.MethodPatch, "/sessions/o-1/items/i-1", `{}`, http.StatusBadRequest, "errors.badRequest"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do(tt.method, tt.path, tt.body, waiter)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.key, decodeError(t, w)["error"])
		})
	}
}

func TestGateway_PaymentRequired(t *testing.T) {
	h := newGatewayHarness(t)
	h.store.order.Status = models.StatusReady

	w := h.do(http.MethodPost, "/sessions/o-1/complete", "", waiter)
	require.Equal(t, http.StatusPaymentRequired, w.Code, w.Body.String())

	body := decodeError(t, w)
	assert.Equal(t, session.MsgPaymentRequired, body["error"])
	params, ok := body["params"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "200", params["amountDue"])
}

func TestGateway_ConfirmIsIdempotent(t *testing.T) {
	h := newGatewayHarness(t)
	headers := map[string]string{UserIDHeader: "u-1", "X-Idempotency-Key": "tap-1"}

	w := h.do(http.MethodPost, "/sessions/o-1/confirm", "", headers)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	view := decodeView(t, w)
	assert.Equal(t, models.StatusPreparing, view.Order.Status)
	assert.Equal(t, models.ItemInProgress, view.Order.Items[0].Status)

	w = h.do(http.MethodPost, "/sessions/o-1/confirm", "", headers)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "errors.duplicateRequest", decodeError(t, w)["error"])

	w = h.do(http.MethodGet, "/sessions/o-1/logs", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var logs struct {
		Logs []models.LogEntry `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &logs))
	require.Len(t, logs.Logs, 1)
	assert.Equal(t, models.LogOrderConfirmed, logs.Logs[0].Action)
}

func TestGateway_FailedRequestReleasesIdempotencyKey(t *testing.T) {
	h := newGatewayHarness(t)
	headers := map[string]string{UserIDHeader: "u-1", "X-Idempotency-Key": "tap-2"}

	w := h.do(http.MethodPost, "/sessions/o-1/promo", `{"code":"NOPE"}`, headers)
	require.Equal(t, http.StatusNotFound, w.Code)

	h.store.mu.Lock()
	h.store.promos["NOPE"] = models.Discount{ID: "p", Type: models.DiscountFixed, Value: decimal.NewFromInt(10)}
	h.store.mu.Unlock()

	w = h.do(http.MethodPost, "/sessions/o-1/promo", `{"code":"NOPE"}`, headers)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decimal.NewFromInt(190).Equal(decodeView(t, w).Pricing.Total))
}

func TestGateway_CloseSession(t *testing.T) {
	h := newGatewayHarness(t)
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/sessions", `{"orderId":"o-1"}`, nil).Code)

	assert.Equal(t, http.StatusNoContent, h.do(http.MethodDelete, "/sessions/o-1", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodDelete, "/sessions/o-1", "", nil).Code)
	assert.Zero(t, h.manager.Len())
}

func TestGateway_Health(t *testing.T) {
	h := newGatewayHarness(t)

	w := h.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "closed", body["order_api"])

	router := NewRouter(NewHandler(h.manager, logger.Nop()), logger.Nop(), nil, fixedBreaker("open"))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func decimalPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}
