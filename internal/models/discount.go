package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "PERCENTAGE"
	DiscountFixed      DiscountType = "FIXED"
)

type DiscountTarget string

const (
	TargetAll        DiscountTarget = "ALL"
	TargetRestaurant DiscountTarget = "RESTAURANT"
	TargetCategory   DiscountTarget = "CATEGORY"
	TargetProduct    DiscountTarget = "PRODUCT"
	TargetOrderType  DiscountTarget = "ORDER_TYPE"
)

// Discount is a network-scoped catalog entry. Orders only keep its effect
// (discountAmount and flags), never a live reference.
type Discount struct {
	ID             string           `json:"id"`
	Title          string           `json:"title"`
	Type           DiscountType     `json:"type"`
	Target         DiscountTarget   `json:"target"`
	Value          decimal.Decimal  `json:"value"`
	MinOrderAmount *decimal.Decimal `json:"minOrderAmount,omitempty"`
	StartDate      *time.Time       `json:"startDate,omitempty"`
	EndDate        *time.Time       `json:"endDate,omitempty"`
	PromoCode      string           `json:"promoCode,omitempty"`
}

// IsExpired reports whether the discount has an end date that is not in the future.
func (d Discount) IsExpired(now time.Time) bool {
	return d.EndDate != nil && !d.EndDate.After(now)
}

// MeetsMinimum reports whether total satisfies the optional minimum order amount.
func (d Discount) MeetsMinimum(total decimal.Decimal) bool {
	return d.MinOrderAmount == nil || total.GreaterThanOrEqual(*d.MinOrderAmount)
}

// IsEligible combines the expiry and minimum-amount checks.
func (d Discount) IsEligible(total decimal.Decimal, now time.Time) bool {
	return !d.IsExpired(now) && d.MeetsMinimum(total)
}

// LogEntry is an order audit record kept by the order service
type LogEntry struct {
	ID        string    `json:"id,omitempty"`
	OrderID   string    `json:"orderId"`
	Action    string    `json:"action"`
	UserID    string    `json:"userId,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// Order log actions
const (
	LogPromoApplied     = "PROMO_APPLIED"
	LogDiscountRemoved  = "DISCOUNT_REMOVED"
	LogItemRefunded     = "ITEM_REFUNDED"
	LogOrderConfirmed   = "ORDER_CONFIRMED"
	LogOrderCancelled   = "ORDER_CANCELLED"
	LogOrderCompleted   = "ORDER_COMPLETED"
	LogPointsApplied    = "POINTS_APPLIED"
	LogCustomerAttached = "CUSTOMER_ATTACHED"
)
