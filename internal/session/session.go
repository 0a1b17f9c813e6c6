// Package session holds the waiter-side state of one open order: the last
// server snapshot, the debounced pending additions, and the discount and
// lifecycle operations that mutate the order through the order service.
package session

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"restaurant-pos/internal/debounce"
	"restaurant-pos/internal/logger"
	"restaurant-pos/internal/models"
	"restaurant-pos/internal/pricing"
)

// OrderStore is the remote order-management service
type OrderStore interface {
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) (*models.Order, error)
	UpdateItemStatus(ctx context.Context, orderID, itemID string, status models.ItemStatus) (*models.Order, error)
	AddItemToOrder(ctx context.Context, orderID string, req models.AddItemRequest) (*models.Order, error)
	UpdateItemQuantity(ctx context.Context, orderID, itemID string, quantity int) (*models.Order, error)
	RemoveItem(ctx context.Context, orderID, itemID string) (*models.Order, error)
	RefundItem(ctx context.Context, orderID, itemID string, req models.RefundRequest) (*models.Order, error)
	ApplyCustomerToOrder(ctx context.Context, orderID, customerID string) (*models.Order, error)
	RemoveCustomerFromOrder(ctx context.Context, orderID string) (*models.Order, error)
	ApplyCustomerDiscount(ctx context.Context, orderID string) (*models.Order, error)
	ApplyCustomerPoints(ctx context.Context, orderID string, req models.PointsRequest) (*models.Order, error)
	RemoveCustomerPoints(ctx context.Context, orderID string) (*models.Order, error)
	ApplyDiscountToOrder(ctx context.Context, orderID, discountID string) (*models.Order, error)
	RemoveDiscountFromOrder(ctx context.Context, orderID string) (*models.Order, error)
	GetDiscountsByRestaurant(ctx context.Context, restaurantID string) ([]models.Discount, error)
	GetDiscountByPromoCode(ctx context.Context, code string) (*models.Discount, error)
	GetCustomerByShortCode(ctx context.Context, code string) (*models.Customer, error)
	CreateOrderLogEntry(ctx context.Context, entry models.LogEntry) error
	GetOrderLogs(ctx context.Context, orderID string) ([]models.LogEntry, error)
	SetPrecheckFlag(ctx context.Context, orderID string, value bool) error
	SetReorderedFlag(ctx context.Context, orderID string, value bool) error
}

// EventPublisher broadcasts order changes made through a session
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event *models.OrderEvent) error
}

// Options configures a Session
type Options struct {
	Store    OrderStore
	Events   EventPublisher
	Logger   *logger.Logger
	Notifier Notifier
	Clock    debounce.Clock
	Debounce time.Duration
	Now      func() time.Time
}

// Session is the explicit context every waiter operation on one order runs in.
// The snapshot is never patched locally: it is only replaced by responses of
// the order service, newest request first.
type Session struct {
	orderID  string
	store    OrderStore
	events   EventPublisher
	log      *logger.Logger
	notifier Notifier
	now      func() time.Time
	queue    *debounce.Group[models.LineKey]

	mu       sync.Mutex
	order    *models.Order
	issued   uint64
	applied  uint64
	pending  map[models.LineKey]*pendingAddition
	flushing int
	idle     *sync.Cond
	toasts   []Toast
	lastUsed time.Time
	closed   bool
}

// New creates a session for orderID. The snapshot is empty until Refresh.
func New(orderID string, opts Options) *Session {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	s := &Session{
		orderID:  orderID,
		store:    opts.Store,
		events:   opts.Events,
		log:      log,
		notifier: opts.Notifier,
		now:      now,
		queue:    debounce.New[models.LineKey](opts.Clock, opts.Debounce),
		pending:  make(map[models.LineKey]*pendingAddition),
		lastUsed: now(),
	}
	s.idle = sync.NewCond(&s.mu)
	return s
}

func (s *Session) OrderID() string {
	return s.orderID
}

// Snapshot returns a copy of the last order snapshot, or nil before the first load.
func (s *Session) Snapshot() *models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Clone()
}

func (s *Session) current() *models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order
}

// Editable evaluates the editability predicate against the freshest snapshot.
func (s *Session) Editable() bool {
	order := s.current()
	return order != nil && order.Status.IsEditable()
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastUsed = s.now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// call issues one snapshot-returning request. Responses to requests issued
// before the one that produced the current snapshot are dropped.
func (s *Session) call(fn func() (*models.Order, error)) error {
	s.mu.Lock()
	s.issued++
	seq := s.issued
	s.mu.Unlock()

	order, err := fn()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if order != nil && seq > s.applied {
		s.applied = seq
		s.order = order
	}
	return nil
}

// Refresh replaces the snapshot with the order service's current state.
func (s *Session) Refresh(ctx context.Context) error {
	err := s.call(func() (*models.Order, error) {
		return s.store.GetOrder(ctx, s.orderID)
	})
	if err != nil {
		return s.fail(ctx, "refresh_order", err, MsgOrderNotFound)
	}
	return nil
}

// requireLoaded returns the current snapshot or a conflict when nothing was loaded yet.
func (s *Session) requireLoaded() (*models.Order, error) {
	order := s.current()
	if order == nil {
		return nil, newError(KindConflict, MsgOrderNotLoaded, nil)
	}
	return order, nil
}

func (s *Session) requireEditable() (*models.Order, error) {
	order, err := s.requireLoaded()
	if err != nil {
		return nil, err
	}
	if !order.Status.IsEditable() {
		return nil, newError(KindConflict, MsgOrderNotEditable, map[string]interface{}{"status": order.Status})
	}
	return order, nil
}

// fail logs a failed order service call and classifies it.
func (s *Session) fail(ctx context.Context, action string, err error, notFoundKey string) error {
	se := classify(err, notFoundKey)
	if se.Err != nil {
		s.log.Error(action, "Order service call failed", logger.RequestID(ctx), se.Err, map[string]interface{}{
			"order_id": s.orderID,
			"kind":     se.Kind.String(),
		})
	}
	return se
}

// notify records a toast in the session inbox and forwards it to the notifier.
func (s *Session) notify(level ToastLevel, key string, params map[string]interface{}) {
	toast := Toast{Level: level, Key: key, Params: params, At: s.now()}

	s.mu.Lock()
	s.toasts = append(s.toasts, toast)
	if len(s.toasts) > maxToasts {
		s.toasts = s.toasts[len(s.toasts)-maxToasts:]
	}
	s.mu.Unlock()

	if s.notifier != nil {
		s.notifier.Notify(s.orderID, toast)
	}
}

// DrainToasts returns and clears the toasts raised since the last drain.
func (s *Session) DrainToasts() []Toast {
	s.mu.Lock()
	defer s.mu.Unlock()
	toasts := s.toasts
	s.toasts = nil
	return toasts
}

func (s *Session) publish(ctx context.Context, event *models.OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.log.Error("event_publish_failed", "Failed to publish order event", logger.RequestID(ctx), err, map[string]interface{}{
			"order_id": s.orderID,
			"action":   event.Action,
		})
	}
}

// writeLog appends an order log entry. Failures are logged only.
func (s *Session) writeLog(ctx context.Context, action, userID string) {
	entry := models.LogEntry{
		OrderID:   s.orderID,
		Action:    action,
		UserID:    userID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateOrderLogEntry(ctx, entry); err != nil {
		s.log.Error("order_log_failed", "Failed to write order log entry", logger.RequestID(ctx), err, map[string]interface{}{
			"order_id": s.orderID,
			"action":   action,
		})
	}
}

// Logs returns the order's audit log as kept by the order service.
func (s *Session) Logs(ctx context.Context) ([]models.LogEntry, error) {
	entries, err := s.store.GetOrderLogs(ctx, s.orderID)
	if err != nil {
		return nil, s.fail(ctx, "get_order_logs", err, MsgOrderNotFound)
	}
	return entries, nil
}

// PendingLine is a pending addition as shown to the waiter
type PendingLine struct {
	ProductID   string   `json:"productId"`
	AdditiveIDs []string `json:"additiveIds"`
	Comment     string   `json:"comment,omitempty"`
	Quantity    int      `json:"quantity"`
	InFlight    int      `json:"inFlight"`
}

// View is everything the waiter screen renders for one order
type View struct {
	Order    *models.Order     `json:"order"`
	Pricing  pricing.Breakdown `json:"pricing"`
	Pending  []PendingLine     `json:"pending"`
	Editable bool              `json:"editable"`
	Toasts   []Toast           `json:"toasts"`
}

// View prices the current snapshot and drains the toast inbox.
func (s *Session) View() View {
	s.mu.Lock()
	order := s.order.Clone()
	pending := make([]PendingLine, 0, len(s.pending))
	for key, p := range s.pending {
		pending = append(pending, PendingLine{
			ProductID:   key.ProductID,
			AdditiveIDs: key.AdditiveIDs(),
			Comment:     key.Comment,
			Quantity:    p.quantity,
			InFlight:    p.inFlight,
		})
	}
	s.mu.Unlock()

	sort.Slice(pending, func(i, j int) bool {
		a, b := pending[i], pending[j]
		if a.ProductID != b.ProductID {
			return a.ProductID < b.ProductID
		}
		if sa, sb := strings.Join(a.AdditiveIDs, ","), strings.Join(b.AdditiveIDs, ","); sa != sb {
			return sa < sb
		}
		return a.Comment < b.Comment
	})

	v := View{
		Order:   order,
		Pending: pending,
		Toasts:  s.DrainToasts(),
	}
	if order != nil {
		v.Pricing = pricing.Calculate(order)
		v.Editable = order.Status.IsEditable()
	}
	if v.Toasts == nil {
		v.Toasts = []Toast{}
	}
	return v
}

// Close flushes pending additions and stops the session. Later triggers are ignored.
func (s *Session) Close() {
	s.FlushPending()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.queue.Stop()
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
