package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event actions published on the order event bus
const (
	EventStatusChanged   = "status_changed"
	EventItemsFlushed    = "items_flushed"
	EventItemRemoved     = "item_removed"
	EventItemRefunded    = "item_refunded"
	EventCustomerApplied = "customer_applied"
	EventCustomerRemoved = "customer_removed"
	EventDiscountApplied = "discount_applied"
	EventDiscountRemoved = "discount_removed"
	EventPointsApplied   = "points_applied"
	EventPointsRemoved   = "points_removed"
	EventPrecheckChanged = "precheck_changed"
	EventReorderFlagged  = "reorder_flagged"
)

// OrderEvent represents a change made through a waiter session
type OrderEvent struct {
	EventID   string                 `json:"event_id"`
	OrderID   string                 `json:"order_id"`
	Action    string                 `json:"action"`
	OldStatus OrderStatus            `json:"old_status,omitempty"`
	NewStatus OrderStatus            `json:"new_status,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewOrderEvent creates an OrderEvent with a fresh id and timestamp
func NewOrderEvent(orderID, action, userID string, details map[string]interface{}) *OrderEvent {
	return &OrderEvent{
		EventID:   uuid.NewString(),
		OrderID:   orderID,
		Action:    action,
		UserID:    userID,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
}

// NewStatusEvent creates an OrderEvent for a lifecycle transition
func NewStatusEvent(orderID, userID string, oldStatus, newStatus OrderStatus) *OrderEvent {
	ev := NewOrderEvent(orderID, EventStatusChanged, userID, nil)
	ev.OldStatus = oldStatus
	ev.NewStatus = newStatus
	return ev
}

// RoutingKey generates the topic routing key for the event
func (e *OrderEvent) RoutingKey() string {
	return fmt.Sprintf("order.%s", e.Action)
}
