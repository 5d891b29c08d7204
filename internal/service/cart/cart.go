// Package cart groups a flat multi-store cart into per-store groups and keeps
// the buyer's optimistic cart draft in sync with the cart service.
package cart

import (
	"github.com/shopspring/decimal"

	"github.com/iliamunaev/multivendor-checkout/internal/apperr"
	"github.com/iliamunaev/multivendor-checkout/internal/model"
	"github.com/iliamunaev/multivendor-checkout/internal/service/courier"
)

// Group splits lines into one StoreGroup per store, in order of first
// appearance. A store without a delivery choice defaults to pickup. Store
// name and email come from catalog, falling back to the store id.
//
// Group has no side effects: the same inputs always give the same output.
func Group(lines []model.CartLine, choices map[string]model.DeliveryMethod, catalog map[string]model.StoreProfile) ([]model.StoreGroup, error) {
	index := make(map[string]int)
	groups := make([]model.StoreGroup, 0)

	for _, l := range lines {
		i, ok := index[l.StoreID]
		if !ok {
			i = len(groups)
			index[l.StoreID] = i
			groups = append(groups, model.StoreGroup{StoreID: l.StoreID})
		}
		groups[i].Lines = append(groups[i].Lines, l)
	}

	for i := range groups {
		g := &groups[i]
		profile := catalog[g.StoreID]

		g.StoreName = profile.Name
		if g.StoreName == "" {
			g.StoreName = g.StoreID
		}
		g.StoreEmail = profile.Email

		g.DeliveryMethod = choices[g.StoreID]
		if g.DeliveryMethod == "" {
			g.DeliveryMethod = model.DeliveryPickup
		}
		cost, err := courier.Cost(g.DeliveryMethod, profile.Shipping)
		if err != nil {
			return nil, err
		}
		g.DeliveryCost = cost

		sub := cost
		for _, l := range g.Lines {
			sub = sub.Add(l.LineTotal())
		}
		g.Subtotal = sub
	}
	return groups, nil
}

// Total is the amount the buyer pays for all groups.
func Total(groups []model.StoreGroup) decimal.Decimal {
	sum := decimal.Zero
	for _, g := range groups {
		sum = sum.Add(g.Subtotal)
	}
	return sum
}

// Validate rejects carts that cannot be checked out.
func Validate(groups []model.StoreGroup) error {
	if len(groups) == 0 {
		return apperr.Validation("cart", "is empty")
	}
	for _, g := range groups {
		if g.StoreID == "" {
			return apperr.Validation("store_id", "is required")
		}
		for _, l := range g.Lines {
			if l.Quantity < 1 {
				return apperr.Validation("quantity", "must be at least 1 for product "+l.ProductID)
			}
			if l.UnitPrice.IsNegative() {
				return apperr.Validation("unit_price", "must not be negative for product "+l.ProductID)
			}
		}
	}
	return nil
}

// StoreIDs returns the distinct store ids of lines in order of first appearance.
func StoreIDs(lines []model.CartLine) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, l := range lines {
		if _, ok := seen[l.StoreID]; ok {
			continue
		}
		seen[l.StoreID] = struct{}{}
		out = append(out, l.StoreID)
	}
	return out
}
