// Package courier prices the delivery method a buyer picked for one store.
package courier

import (
	"github.com/shopspring/decimal"

	"github.com/iliamunaev/multivendor-checkout/internal/apperr"
	"github.com/iliamunaev/multivendor-checkout/internal/model"
)

// Cost returns the delivery cost of method under the store's shipping
// catalog. Self pickup, and an empty method, are free. A paid method the store
// does not list costs 0.
func Cost(method model.DeliveryMethod, opts model.ShippingOptions) (decimal.Decimal, error) {
	switch method {
	case model.DeliveryPickup, "":
		return decimal.Zero, nil
	case model.DeliveryPickupPoint:
		return price(opts.PickupPoint, "pickup point")
	case model.DeliveryCourier:
		return price(opts.HomeDelivery, "courier delivery")
	}
	return decimal.Zero, apperr.Validation("delivery_method", "unknown method "+string(method))
}

// Company returns the carrier name for method, or "" when none applies.
func Company(method model.DeliveryMethod, opts model.ShippingOptions) string {
	switch {
	case method == model.DeliveryPickupPoint && opts.PickupPoint != nil:
		return opts.PickupPoint.Company
	case method == model.DeliveryCourier && opts.HomeDelivery != nil:
		return opts.HomeDelivery.Company
	}
	return ""
}

func price(opt *model.ShippingOption, name string) (decimal.Decimal, error) {
	if opt == nil {
		return decimal.Zero, nil
	}
	if opt.Price.IsNegative() {
		return decimal.Zero, apperr.Validation("delivery_method", name+" has a negative price")
	}
	return opt.Price, nil
}
