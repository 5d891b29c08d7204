package postgres

import (
	"context"

	"github.com/Masterminds/squirrel"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/iliamunaev/multivendor-checkout/internal/apperr"
	"github.com/iliamunaev/multivendor-checkout/internal/model"
)

// Stores reads store profiles and their shipping catalog.
type Stores struct {
	db querier
}

func NewStores(db querier) *Stores {
	return &Stores{db: db}
}

// Profile returns the store with its offered delivery options.
func (s *Stores) Profile(ctx context.Context, storeID string) (model.StoreProfile, error) {
	sql, args, err := psql.Select(
		"id", "name", "email",
		"pickup_point_company", "pickup_point_price",
		"home_delivery_company", "home_delivery_price",
	).
		From("stores").
		Where(squirrel.Eq{"id": storeID}).
		ToSql()
	if err != nil {
		return model.StoreProfile{}, errors.Wrap(err, "build store query")
	}

	var (
		p                    model.StoreProfile
		ppCompany, hdCompany *string
		ppPrice, hdPrice     decimal.NullDecimal
	)
	err = s.db.QueryRow(ctx, sql, args...).Scan(
		&p.ID, &p.Name, &p.Email,
		&ppCompany, &ppPrice,
		&hdCompany, &hdPrice,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.StoreProfile{}, apperr.ErrNotFound
		}
		return model.StoreProfile{}, errors.Wrap(err, "select store")
	}

	p.Shipping.PickupPoint = shippingOption(ppCompany, ppPrice)
	p.Shipping.HomeDelivery = shippingOption(hdCompany, hdPrice)
	return p, nil
}

// shippingOption returns nil when the store does not offer the option.
func shippingOption(company *string, price decimal.NullDecimal) *model.ShippingOption {
	if !price.Valid {
		return nil
	}
	opt := &model.ShippingOption{Price: price.Decimal}
	if company != nil {
		opt.Company = *company
	}
	return opt
}

// OwnerID returns the id of the vendor account managing the store.
func (s *Stores) OwnerID(ctx context.Context, storeID string) (string, error) {
	sql, args, err := psql.Select("owner_id").
		From("stores").
		Where(squirrel.Eq{"id": storeID}).
		ToSql()
	if err != nil {
		return "", errors.Wrap(err, "build store owner query")
	}

	var owner string
	if err := s.db.QueryRow(ctx, sql, args...).Scan(&owner); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperr.ErrNotFound
		}
		return "", errors.Wrap(err, "select store owner")
	}
	return owner, nil
}
