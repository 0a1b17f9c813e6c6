package models

import "github.com/shopspring/decimal"

// AddItemRequest adds a new line to an order
type AddItemRequest struct {
	ProductID   string   `json:"productId"`
	Quantity    int      `json:"quantity"`
	AdditiveIDs []string `json:"additiveIds"`
	Comment     string   `json:"comment,omitempty"`
}

// RefundRequest refunds a line fully (nil Quantity) or partially
type RefundRequest struct {
	Reason   string `json:"reason"`
	Quantity *int   `json:"quantity,omitempty"`
}

// PointsRequest redeems customer bonus points on an order
type PointsRequest struct {
	Points decimal.Decimal `json:"points"`
}
