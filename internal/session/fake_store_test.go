package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"restaurant-pos/internal/models"
	"restaurant-pos/internal/orderapi"
	"restaurant-pos/internal/pricing"
)

// fakeStore is an in-memory order service
type fakeStore struct {
	mu        sync.Mutex
	order     *models.Order
	products  map[string]models.Product
	additives map[string]models.Additive
	customers map[string]models.Customer
	discounts []models.Discount
	promos    map[string]models.Discount
	logs      []models.LogEntry
	calls     []string
	failOn    map[string]error
	holds     map[string]*hold
	nextItem  int
}

type hold struct {
	entered chan struct{}
	release chan struct{}
}

func newFakeStore(order *models.Order) *fakeStore {
	return &fakeStore{
		order: order,
		products: map[string]models.Product{
			"soup":  {ID: "soup", Title: "Soup", Price: decimal.NewFromInt(100)},
			"salad": {ID: "salad", Title: "Salad", Price: decimal.NewFromInt(250)},
		},
		additives: map[string]models.Additive{
			"bread":  {ID: "bread", Title: "Bread", Price: decimal.NewFromInt(20)},
			"cheese": {ID: "cheese", Title: "Cheese", Price: decimal.NewFromInt(30)},
		},
		customers: map[string]models.Customer{},
		promos:    map[string]models.Discount{},
		failOn:    map[string]error{},
		holds:     map[string]*hold{},
	}
}

// record is called with f.mu held.
func (f *fakeStore) record(op string) error {
	f.calls = append(f.calls, op)
	if h, ok := f.holds[op]; ok {
		delete(f.holds, op)
		f.mu.Unlock()
		close(h.entered)
		<-h.release
		f.mu.Lock()
	}
	return f.failOn[op]
}

// Hold makes the next call to op block until release is called. entered is
// closed once the call is blocked.
func (f *fakeStore) Hold(op string) (entered <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := &hold{entered: make(chan struct{}), release: make(chan struct{})}
	f.holds[op] = h
	return h.entered, func() { close(h.release) }
}

func (f *fakeStore) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeStore) Count(op string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == op {
			n++
		}
	}
	return n
}

func (f *fakeStore) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn[op] = err
}

func (f *fakeStore) Update(fn func(o *models.Order)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f.order)
}

func (f *fakeStore) snapshot() *models.Order {
	return f.order.Clone()
}

func (f *fakeStore) itemIndex(itemID string) (int, error) {
	for i, item := range f.order.Items {
		if item.ID == itemID {
			return i, nil
		}
	}
	return -1, orderapi.ErrNotFound
}

func (f *fakeStore) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetOrder"); err != nil {
		return nil, err
	}
	if f.order == nil || f.order.ID != orderID {
		return nil, orderapi.ErrNotFound
	}
	return f.snapshot(), nil
}

func (f *fakeStore) UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("UpdateOrderStatus"); err != nil {
		return nil, err
	}
	f.order.Status = status
	return f.snapshot(), nil
}

func (f *fakeStore) UpdateItemStatus(ctx context.Context, orderID, itemID string, status models.ItemStatus) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("UpdateItemStatus:" + itemID); err != nil {
		return nil, err
	}
	i, err := f.itemIndex(itemID)
	if err != nil {
		return nil, err
	}
	f.order.Items[i].Status = status
	return f.snapshot(), nil
}

func (f *fakeStore) AddItemToOrder(ctx context.Context, orderID string, req models.AddItemRequest) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("AddItemToOrder"); err != nil {
		return nil, err
	}
	f.nextItem++
	item := models.OrderItem{
		ID:       fmt.Sprintf("new-%d", f.nextItem),
		Product:  f.products[req.ProductID],
		Quantity: req.Quantity,
		Comment:  req.Comment,
		Status:   models.ItemCreated,
	}
	for _, id := range req.AdditiveIDs {
		item.Additives = append(item.Additives, f.additives[id])
	}
	f.order.Items = append(f.order.Items, item)
	return f.snapshot(), nil
}

func (f *fakeStore) UpdateItemQuantity(ctx context.Context, orderID, itemID string, quantity int) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("UpdateItemQuantity"); err != nil {
		return nil, err
	}
	i, err := f.itemIndex(itemID)
	if err != nil {
		return nil, err
	}
	f.order.Items[i].Quantity = quantity
	return f.snapshot(), nil
}

func (f *fakeStore) RemoveItem(ctx context.Context, orderID, itemID string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("RemoveItem"); err != nil {
		return nil, err
	}
	i, err := f.itemIndex(itemID)
	if err != nil {
		return nil, err
	}
	f.order.Items = append(f.order.Items[:i], f.order.Items[i+1:]...)
	return f.snapshot(), nil
}

// RefundItem splits partial refunds into a separate refunded line.
func (f *fakeStore) RefundItem(ctx context.Context, orderID, itemID string, req models.RefundRequest) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("RefundItem"); err != nil {
		return nil, err
	}
	i, err := f.itemIndex(itemID)
	if err != nil {
		return nil, err
	}
	item := f.order.Items[i]
	if req.Quantity == nil || *req.Quantity >= item.Quantity {
		f.order.Items[i].IsRefund = true
		f.order.Items[i].Status = models.ItemRefunded
		f.order.Items[i].RefundReason = req.Reason
	} else {
		f.order.Items[i].Quantity -= *req.Quantity
		refunded := item
		refunded.ID = item.ID + "-refund"
		refunded.Quantity = *req.Quantity
		refunded.IsRefund = true
		refunded.Status = models.ItemRefunded
		refunded.RefundReason = req.Reason
		f.order.Items = append(f.order.Items, refunded)
	}
	f.order.AttentionFlags.IsRefund = true
	return f.snapshot(), nil
}

func (f *fakeStore) ApplyCustomerToOrder(ctx context.Context, orderID, customerID string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ApplyCustomerToOrder"); err != nil {
		return nil, err
	}
	for _, c := range f.customers {
		if c.ID == customerID {
			cust := c
			f.order.Customer = &cust
			return f.snapshot(), nil
		}
	}
	return nil, orderapi.ErrNotFound
}

func (f *fakeStore) RemoveCustomerFromOrder(ctx context.Context, orderID string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("RemoveCustomerFromOrder"); err != nil {
		return nil, err
	}
	f.order.Customer = nil
	return f.snapshot(), nil
}

func (f *fakeStore) ApplyCustomerDiscount(ctx context.Context, orderID string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ApplyCustomerDiscount"); err != nil {
		return nil, err
	}
	if f.order.Customer != nil {
		f.order.Customer.DiscountApplied = f.order.Customer.PersonalDiscount.IsPositive()
	}
	return f.snapshot(), nil
}

func (f *fakeStore) ApplyCustomerPoints(ctx context.Context, orderID string, req models.PointsRequest) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ApplyCustomerPoints:" + req.Points.String()); err != nil {
		return nil, err
	}
	f.order.BonusPointsUsed = req.Points
	f.order.Customer.PointsUsed = req.Points
	return f.snapshot(), nil
}

func (f *fakeStore) RemoveCustomerPoints(ctx context.Context, orderID string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("RemoveCustomerPoints"); err != nil {
		return nil, err
	}
	f.order.BonusPointsUsed = decimal.Zero
	if f.order.Customer != nil {
		f.order.Customer.PointsUsed = decimal.Zero
	}
	return f.snapshot(), nil
}

func (f *fakeStore) findDiscount(id string) (models.Discount, bool) {
	for _, d := range f.discounts {
		if d.ID == id {
			return d, true
		}
	}
	for _, d := range f.promos {
		if d.ID == id {
			return d, true
		}
	}
	return models.Discount{}, false
}

func (f *fakeStore) ApplyDiscountToOrder(ctx context.Context, orderID, discountID string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ApplyDiscountToOrder:" + discountID); err != nil {
		return nil, err
	}
	d, ok := f.findDiscount(discountID)
	if !ok {
		return nil, orderapi.ErrNotFound
	}
	amount := d.Value
	if d.Type == models.DiscountPercentage {
		amount = pricing.ItemsTotal(f.order).Mul(d.Value).Div(decimal.NewFromInt(100))
	}
	f.order.DiscountAmount = amount
	f.order.AttentionFlags.HasDiscount = true
	return f.snapshot(), nil
}

func (f *fakeStore) RemoveDiscountFromOrder(ctx context.Context, orderID string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("RemoveDiscountFromOrder"); err != nil {
		return nil, err
	}
	f.order.DiscountAmount = decimal.Zero
	f.order.AttentionFlags.HasDiscount = false
	return f.snapshot(), nil
}

func (f *fakeStore) GetDiscountsByRestaurant(ctx context.Context, restaurantID string) ([]models.Discount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetDiscountsByRestaurant"); err != nil {
		return nil, err
	}
	return append([]models.Discount(nil), f.discounts...), nil
}

func (f *fakeStore) GetDiscountByPromoCode(ctx context.Context, code string) (*models.Discount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetDiscountByPromoCode"); err != nil {
		return nil, err
	}
	d, ok := f.promos[code]
	if !ok {
		return nil, orderapi.ErrNotFound
	}
	return &d, nil
}

func (f *fakeStore) GetCustomerByShortCode(ctx context.Context, code string) (*models.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetCustomerByShortCode"); err != nil {
		return nil, err
	}
	c, ok := f.customers[code]
	if !ok {
		return nil, orderapi.ErrNotFound
	}
	return &c, nil
}

func (f *fakeStore) CreateOrderLogEntry(ctx context.Context, entry models.LogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateOrderLogEntry"); err != nil {
		return err
	}
	f.logs = append(f.logs, entry)
	return nil
}

func (f *fakeStore) GetOrderLogs(ctx context.Context, orderID string) ([]models.LogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetOrderLogs"); err != nil {
		return nil, err
	}
	return append([]models.LogEntry(nil), f.logs...), nil
}

func (f *fakeStore) SetPrecheckFlag(ctx context.Context, orderID string, value bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SetPrecheckFlag"); err != nil {
		return err
	}
	f.order.AttentionFlags.IsPrecheck = value
	return nil
}

func (f *fakeStore) SetReorderedFlag(ctx context.Context, orderID string, value bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(fmt.Sprintf("SetReorderedFlag:%t", value)); err != nil {
		return err
	}
	f.order.AttentionFlags.IsReordered = value
	return nil
}

// fakeEvents records published events
type fakeEvents struct {
	mu     sync.Mutex
	events []*models.OrderEvent
}

func (e *fakeEvents) PublishOrderEvent(ctx context.Context, event *models.OrderEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

func (e *fakeEvents) Actions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	actions := make([]string, 0, len(e.events))
	for _, ev := range e.events {
		actions = append(actions, ev.Action)
	}
	return actions
}

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func baseOrder() *models.Order {
	return &models.Order{
		ID:         "o-1",
		Status:     models.StatusCreated,
		Type:       models.DineIn,
		Restaurant: &models.Restaurant{ID: "r-1"},
	}
}

func soupLine(id string, qty int, status models.ItemStatus) models.OrderItem {
	return models.OrderItem{
		ID:       id,
		Product:  models.Product{ID: "soup", Title: "Soup", Price: decimal.NewFromInt(100)},
		Quantity: qty,
		Status:   status,
	}
}
