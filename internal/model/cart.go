// Package model defines the domain types shared by the checkout engine,
// its collaborators and the HTTP API. It keeps transport-level types in one
// place for reuse.
package model

import "github.com/shopspring/decimal"

// DeliveryMethod is the delivery option a buyer picks for one store.
type DeliveryMethod string

const (
	DeliveryPickup      DeliveryMethod = "pickup"
	DeliveryPickupPoint DeliveryMethod = "pickupPoint"
	DeliveryCourier     DeliveryMethod = "courier"
)

// Valid reports whether m is one of the known delivery methods.
func (m DeliveryMethod) Valid() bool {
	switch m {
	case DeliveryPickup, DeliveryPickupPoint, DeliveryCourier:
		return true
	}
	return false
}

// ProductSnapshot is the product data captured when the line was added to the cart.
type ProductSnapshot struct {
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

// CartLine is one product in the buyer's cart.
type CartLine struct {
	ProductID string          `json:"product_id"`
	StoreID   string          `json:"store_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Product   ProductSnapshot `json:"product"`
}

// LineTotal returns unit price times quantity.
func (l CartLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// ShippingOption is a paid delivery option offered by a store.
type ShippingOption struct {
	Company string          `json:"company"`
	Price   decimal.Decimal `json:"price"`
}

// ShippingOptions is the per-store shipping catalog. A nil option is not offered.
type ShippingOptions struct {
	PickupPoint  *ShippingOption `json:"pickup_point,omitempty"`
	HomeDelivery *ShippingOption `json:"home_delivery,omitempty"`
}

// StoreProfile is what checkout needs to know about a store.
type StoreProfile struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Email    string          `json:"email"`
	Shipping ShippingOptions `json:"shipping"`
}

// StoreGroup is the subset of a cart that belongs to one store, together
// with its chosen delivery method.
type StoreGroup struct {
	StoreID        string          `json:"store_id"`
	StoreName      string          `json:"store_name"`
	StoreEmail     string          `json:"store_email,omitempty"`
	Lines          []CartLine      `json:"lines"`
	DeliveryMethod DeliveryMethod  `json:"delivery_method"`
	DeliveryCost   decimal.Decimal `json:"delivery_cost"`
	Subtotal       decimal.Decimal `json:"subtotal"`
}

// Buyer holds the contact and delivery details entered at checkout.
type Buyer struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address,omitempty"`
}

// QuantityUpdate is the body of a cart line change.
type QuantityUpdate struct {
	Quantity int `json:"quantity"`
}
