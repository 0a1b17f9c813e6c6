package models

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderType represents the type of an order
type OrderType string

const (
	DineIn   OrderType = "DINE_IN"
	Takeaway OrderType = "TAKEAWAY"
	Delivery OrderType = "DELIVERY"
)

// OrderStatus represents the lifecycle state of an order
type OrderStatus string

const (
	StatusCreated    OrderStatus = "CREATED"
	StatusConfirmed  OrderStatus = "CONFIRMED"
	StatusPreparing  OrderStatus = "PREPARING"
	StatusReady      OrderStatus = "READY"
	StatusDelivering OrderStatus = "DELIVERING"
	StatusCompleted  OrderStatus = "COMPLETED"
	StatusCancelled  OrderStatus = "CANCELLED"
)

func (s OrderStatus) String() string {
	return string(s)
}

// IsEditable reports whether items, customer and discounts of an order in
// this status may still be changed.
func (s OrderStatus) IsEditable() bool {
	switch s {
	case StatusDelivering, StatusCompleted, StatusCancelled:
		return false
	default:
		return true
	}
}

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// IsRefundable reports whether items of an order in this status may be refunded.
func (s OrderStatus) IsRefundable() bool {
	switch s {
	case StatusPreparing, StatusDelivering, StatusCompleted:
		return true
	default:
		return false
	}
}

var transitions = map[OrderStatus][]OrderStatus{
	StatusCreated:    {StatusConfirmed, StatusPreparing, StatusCancelled},
	StatusConfirmed:  {StatusPreparing, StatusCancelled},
	StatusPreparing:  {StatusReady, StatusDelivering},
	StatusReady:      {StatusDelivering, StatusCompleted},
	StatusDelivering: {StatusCompleted},
}

// CanTransition checks the order status state machine
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ItemStatus represents the kitchen state of a single order line
type ItemStatus string

const (
	ItemCreated    ItemStatus = "CREATED"
	ItemInProgress ItemStatus = "IN_PROGRESS"
	ItemPaused     ItemStatus = "PAUSED"
	ItemCompleted  ItemStatus = "COMPLETED"
	ItemRefunded   ItemStatus = "REFUNDED"
	ItemCancelled  ItemStatus = "CANCELLED"
)

// IsAbsorbing reports whether the item can no longer change state.
func (s ItemStatus) IsAbsorbing() bool {
	return s == ItemRefunded || s == ItemCancelled
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "CASH"
	PaymentCard   PaymentMethod = "CARD"
	PaymentOnline PaymentMethod = "ONLINE"
)

type SurchargeType string

const (
	SurchargeFixed      SurchargeType = "FIXED"
	SurchargePercentage SurchargeType = "PERCENTAGE"
)

// UserRef identifies a staff member who acted on an order item
type UserRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// RestaurantPrice overrides a product base price for one restaurant
type RestaurantPrice struct {
	RestaurantID string          `json:"restaurantId"`
	Price        decimal.Decimal `json:"price"`
	IsActive     *bool           `json:"isActive,omitempty"`
}

// Active treats a missing flag as active.
func (rp RestaurantPrice) Active() bool {
	return rp.IsActive == nil || *rp.IsActive
}

// Product is the menu entry an order line refers to
type Product struct {
	ID               string            `json:"id"`
	Title            string            `json:"title"`
	Price            decimal.Decimal   `json:"price"`
	CategoryID       string            `json:"categoryId,omitempty"`
	RestaurantPrices []RestaurantPrice `json:"restaurantPrices,omitempty"`
}

// Additive is a priced add-on attached to an order line (extra topping, sauce)
type Additive struct {
	ID    string          `json:"id"`
	Title string          `json:"title"`
	Price decimal.Decimal `json:"price"`
}

// OrderItem represents a line of an order
type OrderItem struct {
	ID           string     `json:"id"`
	Product      Product    `json:"product"`
	Quantity     int        `json:"quantity"`
	Additives    []Additive `json:"additives,omitempty"`
	Comment      string     `json:"comment,omitempty"`
	Status       ItemStatus `json:"status"`
	IsRefund     bool       `json:"isRefund"`
	IsReordered  bool       `json:"isReordered"`
	RefundReason string     `json:"refundReason,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	PausedAt    *time.Time `json:"pausedAt,omitempty"`
	RefundedAt  *time.Time `json:"refundedAt,omitempty"`

	StartedBy   *UserRef `json:"startedBy,omitempty"`
	CompletedBy *UserRef `json:"completedBy,omitempty"`
	PausedBy    *UserRef `json:"pausedBy,omitempty"`
	RefundedBy  *UserRef `json:"refundedBy,omitempty"`
}

// AdditiveIDs returns the sorted additive identifiers of the line.
func (i OrderItem) AdditiveIDs() []string {
	ids := make([]string, 0, len(i.Additives))
	for _, a := range i.Additives {
		ids = append(ids, a.ID)
	}
	sort.Strings(ids)
	return ids
}

// LineKey returns the identity two lines share when they hold the same
// product with the same additives and comment.
func (i OrderItem) LineKey() LineKey {
	return NewLineKey(i.Product.ID, i.AdditiveIDs(), i.Comment)
}

// LineKey groups order lines by product, sorted additives and comment.
type LineKey struct {
	ProductID string
	Additives string
	Comment   string
}

// NewLineKey normalizes the additive order so that the same selection in a
// different order maps to the same key.
func NewLineKey(productID string, additiveIDs []string, comment string) LineKey {
	ids := append([]string(nil), additiveIDs...)
	sort.Strings(ids)
	return LineKey{
		ProductID: productID,
		Additives: strings.Join(ids, ","),
		Comment:   strings.TrimSpace(comment),
	}
}

// AdditiveIDs splits the key back into additive identifiers.
func (k LineKey) AdditiveIDs() []string {
	if k.Additives == "" {
		return nil
	}
	return strings.Split(k.Additives, ",")
}

// Customer is a loyalty customer attached to an order
type Customer struct {
	ID               string          `json:"id"`
	Name             string          `json:"name,omitempty"`
	Phone            string          `json:"phone,omitempty"`
	ShortCode        string          `json:"shortCode,omitempty"`
	PersonalDiscount decimal.Decimal `json:"personalDiscount"`
	BonusPoints      decimal.Decimal `json:"bonusPoints"`
	PointsUsed       decimal.Decimal `json:"pointsUsed"`
	DiscountApplied  bool            `json:"discountApplied"`
}

// Surcharge is an order-level extra charge
type Surcharge struct {
	ID     string          `json:"id"`
	Title  string          `json:"title"`
	Type   SurchargeType   `json:"type"`
	Amount decimal.Decimal `json:"amount"`
}

// AttentionFlags mark orders that need staff attention
type AttentionFlags struct {
	IsReordered      bool `json:"isReordered"`
	HasDiscount      bool `json:"hasDiscount"`
	DiscountCanceled bool `json:"discountCanceled"`
	IsPrecheck       bool `json:"isPrecheck"`
	IsRefund         bool `json:"isRefund"`
}

type Payment struct {
	Method PaymentMethod `json:"method"`
	Status PaymentStatus `json:"status"`
}

type Restaurant struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

type DeliveryInfo struct {
	Address string     `json:"address"`
	Phone   string     `json:"phone,omitempty"`
	Time    *time.Time `json:"time,omitempty"`
	Notes   string     `json:"notes,omitempty"`
}

// Order represents a waiter-side order snapshot as returned by the order service
type Order struct {
	ID              string          `json:"id"`
	Number          int             `json:"number,omitempty"`
	Status          OrderStatus     `json:"status"`
	Type            OrderType       `json:"type"`
	Items           []OrderItem     `json:"items"`
	Customer        *Customer       `json:"customer,omitempty"`
	DiscountAmount  decimal.Decimal `json:"discountAmount"`
	BonusPointsUsed decimal.Decimal `json:"bonusPointsUsed"`
	Surcharges      []Surcharge     `json:"surcharges,omitempty"`
	AttentionFlags  AttentionFlags  `json:"attentionFlags"`
	Payment         *Payment        `json:"payment,omitempty"`
	Restaurant      *Restaurant     `json:"restaurant,omitempty"`
	NumberOfPeople  int             `json:"numberOfPeople,omitempty"`
	TableNumber     *int            `json:"tableNumber,omitempty"`
	Delivery        *DeliveryInfo   `json:"delivery,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// RestaurantID returns the restaurant the order belongs to, if any.
func (o *Order) RestaurantID() (string, bool) {
	if o.Restaurant == nil || o.Restaurant.ID == "" {
		return "", false
	}
	return o.Restaurant.ID, true
}

// DiscountedCustomer returns the attached customer whose personal discount
// currently factors into pricing.
func (o *Order) DiscountedCustomer() (*Customer, bool) {
	if o.Customer == nil || !o.Customer.DiscountApplied {
		return nil, false
	}
	return o.Customer, true
}

// IsPaid reports whether the payment sub-record is settled.
func (o *Order) IsPaid() bool {
	return o.Payment != nil && o.Payment.Status == PaymentPaid
}

// FindItem looks up an order line by id.
func (o *Order) FindItem(itemID string) (OrderItem, bool) {
	for _, item := range o.Items {
		if item.ID == itemID {
			return item, true
		}
	}
	return OrderItem{}, false
}

// FindOpenLine returns the first CREATED, non-refund line matching key.
// Lines past CREATED are kitchen history and are never merged into.
func (o *Order) FindOpenLine(key LineKey) (OrderItem, bool) {
	for _, item := range o.Items {
		if item.Status != ItemCreated || item.IsRefund {
			continue
		}
		if item.LineKey() == key {
			return item, true
		}
	}
	return OrderItem{}, false
}

// Clone returns a deep copy so callers can read a snapshot without sharing
// slices with the session.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = make([]OrderItem, len(o.Items))
	for i, item := range o.Items {
		item.Additives = append([]Additive(nil), item.Additives...)
		item.Product.RestaurantPrices = append([]RestaurantPrice(nil), item.Product.RestaurantPrices...)
		c.Items[i] = item
	}
	c.Surcharges = append([]Surcharge(nil), o.Surcharges...)
	if o.Customer != nil {
		cust := *o.Customer
		c.Customer = &cust
	}
	if o.Payment != nil {
		p := *o.Payment
		c.Payment = &p
	}
	if o.Restaurant != nil {
		r := *o.Restaurant
		c.Restaurant = &r
	}
	if o.Delivery != nil {
		d := *o.Delivery
		c.Delivery = &d
	}
	return &c
}
