package cart

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliamunaev/multivendor-checkout/internal/apperr"
	"github.com/iliamunaev/multivendor-checkout/internal/model"
)

func line(product, store string, price int64, qty int) model.CartLine {
	return model.CartLine{
		ProductID: product,
		StoreID:   store,
		Quantity:  qty,
		UnitPrice: decimal.NewFromInt(price),
		Product:   model.ProductSnapshot{Name: "Product " + product},
	}
}

func courierAt(price int64) model.ShippingOptions {
	return model.ShippingOptions{HomeDelivery: &model.ShippingOption{Company: "Fast", Price: decimal.NewFromInt(price)}}
}

func TestGroupScenarioA(t *testing.T) {
	t.Parallel()

	lines := []model.CartLine{line("p1", "S1", 50, 2), line("p2", "S2", 20, 1)}
	choices := map[string]model.DeliveryMethod{"S1": model.DeliveryCourier, "S2": model.DeliveryPickup}
	catalog := map[string]model.StoreProfile{
		"S1": {ID: "S1", Name: "Store One", Shipping: courierAt(15)},
		"S2": {ID: "S2", Name: "Store Two"},
	}

	groups, err := Group(lines, choices, catalog)
	require.NoError(t, err)
	require.Len(t, groups, 2)

	assert.Equal(t, "S1", groups[0].StoreID)
	assert.True(t, groups[0].Subtotal.Equal(decimal.NewFromInt(115)), "S1 subtotal %s", groups[0].Subtotal)
	assert.True(t, groups[1].Subtotal.Equal(decimal.NewFromInt(20)), "S2 subtotal %s", groups[1].Subtotal)
	assert.True(t, Total(groups).Equal(decimal.NewFromInt(135)), "total %s", Total(groups))
}

func TestGroupOnePerStoreAndSumsMatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		lines   []model.CartLine
		choices map[string]model.DeliveryMethod
		stores  int
	}{
		{name: "single_store", lines: []model.CartLine{line("a", "S1", 10, 1), line("b", "S1", 5, 3)}, stores: 1},
		{
			name:    "interleaved_stores",
			lines:   []model.CartLine{line("a", "S1", 10, 1), line("b", "S2", 7, 2), line("c", "S1", 1, 1), line("d", "S3", 3, 4)},
			choices: map[string]model.DeliveryMethod{"S2": model.DeliveryCourier, "S3": model.DeliveryPickupPoint},
			stores:  3,
		},
		{name: "empty", lines: nil, stores: 0},
	}

	catalog := map[string]model.StoreProfile{
		"S2": {Shipping: courierAt(9)},
		"S3": {Shipping: model.ShippingOptions{PickupPoint: &model.ShippingOption{Price: decimal.RequireFromString("4.50")}}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			groups, err := Group(tt.lines, tt.choices, catalog)
			require.NoError(t, err)
			require.Len(t, groups, tt.stores)

			lineSum := decimal.Zero
			for _, l := range tt.lines {
				lineSum = lineSum.Add(l.LineTotal())
			}
			deliverySum := decimal.Zero
			count := 0
			for _, g := range groups {
				deliverySum = deliverySum.Add(g.DeliveryCost)
				count += len(g.Lines)
				for _, l := range g.Lines {
					assert.Equal(t, g.StoreID, l.StoreID)
				}
			}
			assert.Equal(t, len(tt.lines), count, "every line belongs to exactly one group")
			assert.True(t, Total(groups).Equal(lineSum.Add(deliverySum)))
		})
	}
}

func TestGroupOrderingAndDefaults(t *testing.T) {
	t.Parallel()

	lines := []model.CartLine{line("a", "S2", 1, 1), line("b", "S1", 1, 1), line("c", "S2", 1, 1)}
	groups, err := Group(lines, nil, map[string]model.StoreProfile{"S1": {Name: "One", Email: "one@example.com"}})
	require.NoError(t, err)

	require.Len(t, groups, 2)
	assert.Equal(t, "S2", groups[0].StoreID)
	assert.Equal(t, "S2", groups[0].StoreName, "falls back to store id")
	assert.Equal(t, []string{"a", "c"}, []string{groups[0].Lines[0].ProductID, groups[0].Lines[1].ProductID})
	assert.Equal(t, "One", groups[1].StoreName)
	assert.Equal(t, "one@example.com", groups[1].StoreEmail)
	for _, g := range groups {
		assert.Equal(t, model.DeliveryPickup, g.DeliveryMethod)
		assert.True(t, g.DeliveryCost.IsZero())
	}
	assert.Equal(t, []string{"S2", "S1"}, StoreIDs(lines))
}

func TestGroupUnofferedMethodCostsZero(t *testing.T) {
	t.Parallel()

	groups, err := Group([]model.CartLine{line("a", "S1", 10, 1)},
		map[string]model.DeliveryMethod{"S1": model.DeliveryCourier}, nil)
	require.NoError(t, err)
	assert.True(t, groups[0].DeliveryCost.IsZero())
	assert.True(t, groups[0].Subtotal.Equal(decimal.NewFromInt(10)))
}

func TestGroupUnknownMethod(t *testing.T) {
	t.Parallel()

	_, err := Group([]model.CartLine{line("a", "S1", 10, 1)},
		map[string]model.DeliveryMethod{"S1": "teleport"}, nil)
	assert.True(t, apperr.IsValidation(err))
}

func TestGroupIsIdempotent(t *testing.T) {
	t.Parallel()

	lines := []model.CartLine{line("a", "S1", 50, 2), line("b", "S2", 20, 1), line("c", "S1", 3, 3)}
	choices := map[string]model.DeliveryMethod{"S1": model.DeliveryCourier}
	catalog := map[string]model.StoreProfile{"S1": {Name: "One", Shipping: courierAt(15)}}

	first, err := Group(lines, choices, catalog)
	require.NoError(t, err)
	second, err := Group(lines, choices, catalog)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestGroupDoesNotAliasInput(t *testing.T) {
	t.Parallel()

	lines := []model.CartLine{line("a", "S1", 10, 1)}
	groups, err := Group(lines, nil, nil)
	require.NoError(t, err)

	groups[0].Lines[0].Quantity = 99
	assert.Equal(t, 1, lines[0].Quantity)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		groups  []model.StoreGroup
		wantErr bool
	}{
		{name: "empty", groups: nil, wantErr: true},
		{name: "ok", groups: []model.StoreGroup{{StoreID: "S1", Lines: []model.CartLine{line("a", "S1", 1, 1)}}}},
		{name: "zero_quantity", groups: []model.StoreGroup{{StoreID: "S1", Lines: []model.CartLine{line("a", "S1", 1, 0)}}}, wantErr: true},
		{name: "negative_price", groups: []model.StoreGroup{{StoreID: "S1", Lines: []model.CartLine{line("a", "S1", -1, 1)}}}, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := Validate(tt.groups)
			if tt.wantErr {
				assert.True(t, apperr.IsValidation(err), "got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
