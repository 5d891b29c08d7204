package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of a per-store order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPacked    OrderStatus = "packed"
	OrderShipped   OrderStatus = "shipped"
	OrderCompleted OrderStatus = "completed"
	OrderCanceled  OrderStatus = "canceled"
)

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderPacked, OrderShipped, OrderCompleted, OrderCanceled:
		return true
	}
	return false
}

// DeliveryStatus tracks the shipment of a per-store order.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusInTransit DeliveryStatus = "in_transit"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusReturned  DeliveryStatus = "returned"
)

// Valid reports whether s is a known delivery status.
func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryStatusPending, DeliveryStatusInTransit, DeliveryStatusDelivered, DeliveryStatusReturned:
		return true
	}
	return false
}

// OrderLine is a purchased product inside an order.
type OrderLine struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

// Delivery describes how a per-store order reaches the buyer.
type Delivery struct {
	Method            DeliveryMethod `json:"method"`
	Status            DeliveryStatus `json:"status"`
	TrackingNumber    string         `json:"tracking_number,omitempty"`
	EstimatedDelivery *time.Time     `json:"estimated_delivery,omitempty"`
}

// OrderDraft is what the orchestrator submits to a store's order collaborator.
type OrderDraft struct {
	TransactionID string          `json:"transaction_id"`
	StoreID       string          `json:"store_id"`
	BuyerID       string          `json:"buyer_id"`
	Buyer         Buyer           `json:"buyer"`
	Lines         []OrderLine     `json:"lines"`
	Delivery      Delivery        `json:"delivery"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
}

// OrderRecord is a persisted per-store order. All records of one checkout
// share TransactionID; OrderID is assigned by the owning store.
type OrderRecord struct {
	TransactionID string          `json:"transaction_id"`
	OrderID       string          `json:"order_id"`
	StoreID       string          `json:"store_id"`
	BuyerID       string          `json:"buyer_id"`
	Status        OrderStatus     `json:"status"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Buyer         Buyer           `json:"buyer"`
	Lines         []OrderLine     `json:"lines"`
	Delivery      Delivery        `json:"delivery"`
	CreatedAt     time.Time       `json:"created_at"`
}

// StatusUpdate is the body of an order status change.
type StatusUpdate struct {
	Status OrderStatus `json:"status"`
}

// DeliveryUpdate is the body of a delivery status change.
type DeliveryUpdate struct {
	Status            DeliveryStatus `json:"status"`
	TrackingNumber    string         `json:"tracking_number,omitempty"`
	EstimatedDelivery *time.Time     `json:"estimated_delivery,omitempty"`
}

// OrderConfirmation is the payload handed to the notification service.
type OrderConfirmation struct {
	BuyerEmail    string          `json:"buyer_email"`
	StoreEmail    string          `json:"store_email"`
	TransactionID string          `json:"transaction_id"`
	OrderID       string          `json:"order_id"`
	StoreName     string          `json:"store_name"`
	BuyerName     string          `json:"buyer_name"`
	Total         decimal.Decimal `json:"total"`
	Lines         []OrderLine     `json:"lines"`
}

// TransactionRef is one entry of a user's order index.
type TransactionRef struct {
	TransactionID string    `json:"transaction_id"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
}
