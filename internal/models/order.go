package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus represents the status of an order
type OrderStatus string

const (
	StatusPlaced   OrderStatus = "placed"
	StatusCanceled OrderStatus = "canceled"
)

// CancelPolicy selects what cancellation does to the order row
type CancelPolicy string

const (
	// CancelTransition keeps the order row and its line items and moves it to canceled.
	CancelTransition CancelPolicy = "transition"
	// CancelDelete removes the order row.
	CancelDelete CancelPolicy = "delete"
)

// CatalogItem is an orderable item with its unit price
type CatalogItem struct {
	ID    int64           `json:"item_id" db:"item_id"`
	Name  string          `json:"item_name" db:"item_name"`
	Price decimal.Decimal `json:"price" db:"price"`
}

// LineItem represents one catalog item and quantity within an order
type LineItem struct {
	OrderID   int64           `json:"order_id" db:"order_id"`
	ItemID    int64           `json:"item_id" db:"item_id"`
	ItemName  string          `json:"item_name" db:"item_name"`
	Quantity  int             `json:"quantity" db:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price" db:"unit_price"`
}

// LineTotal returns unit price times quantity
func (li LineItem) LineTotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// money renders an amount as a JSON number with two decimal places
func money(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

func (li LineItem) MarshalJSON() ([]byte, error) {
	type plain LineItem
	return json.Marshal(struct {
		plain
		UnitPrice json.Number `json:"unit_price"`
		LineTotal json.Number `json:"line_total"`
	}{plain(li), money(li.UnitPrice), money(li.LineTotal())})
}

// Order represents a table order
type Order struct {
	ID          int64           `json:"order_id" db:"order_id"`
	TableNumber *int            `json:"table_number,omitempty" db:"table_number"`
	SessionID   *string         `json:"session_id,omitempty" db:"session_id"`
	OrderDate   time.Time       `json:"order_date" db:"order_date"`
	TotalAmount decimal.Decimal `json:"total_amount" db:"total_amount"`
	Status      OrderStatus     `json:"status" db:"status"`
	Items       []LineItem      `json:"items"`
}

func (o Order) MarshalJSON() ([]byte, error) {
	type plain Order
	return json.Marshal(struct {
		plain
		TotalAmount json.Number `json:"total_amount"`
	}{plain(o), money(o.TotalAmount)})
}

// StatusLogEntry is one entry of an order's status history
type StatusLogEntry struct {
	Status    OrderStatus `json:"status" db:"status"`
	ChangedAt time.Time   `json:"timestamp" db:"changed_at"`
	Notes     *string     `json:"notes,omitempty" db:"notes"`
}

// RequestedItem is a normalized item entry of a place order request
type RequestedItem struct {
	Name     string `json:"item_name"`
	Quantity int    `json:"quantity"`
}

// PlaceOrderRequest represents the request to place a new order
type PlaceOrderRequest struct {
	TableNumber *int            `json:"table_number,omitempty"`
	SessionID   string          `json:"session_id,omitempty"`
	Items       []RequestedItem `json:"items"`
}

// PlaceOrderResponse represents the response after placing an order
type PlaceOrderResponse struct {
	Message     string          `json:"message"`
	OrderID     int64           `json:"order_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

func (r PlaceOrderResponse) MarshalJSON() ([]byte, error) {
	type plain PlaceOrderResponse
	return json.Marshal(struct {
		plain
		TotalAmount json.Number `json:"total_amount"`
	}{plain(r), money(r.TotalAmount)})
}

// CancelOrderRequest addresses an order either by session or by identifier
type CancelOrderRequest struct {
	SessionID string `json:"session_id,omitempty"`
	OrderID   *int64 `json:"order_id,omitempty"`
}

// CancelOrderResponse represents the response after canceling an order
type CancelOrderResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	OrderID int64       `json:"order_id"`
	Status  OrderStatus `json:"status"`
}

// OrderHistoryResponse represents the status history of an order
type OrderHistoryResponse struct {
	OrderID int64            `json:"order_id"`
	History []StatusLogEntry `json:"history"`
}
