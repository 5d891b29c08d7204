package postgres

import (
	"context"

	"github.com/Masterminds/squirrel"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/iliamunaev/multivendor-checkout/internal/apperr"
	"github.com/iliamunaev/multivendor-checkout/internal/model"
)

var cartColumns = []string{"product_id", "store_id", "quantity", "unit_price", "product_name", "product_image"}

// Carts stores one cart per user.
type Carts struct {
	db querier
}

func NewCarts(db querier) *Carts {
	return &Carts{db: db}
}

func scanLine(row pgx.Row) (model.CartLine, error) {
	var l model.CartLine
	err := row.Scan(&l.ProductID, &l.StoreID, &l.Quantity, &l.UnitPrice, &l.Product.Name, &l.Product.Image)
	return l, err
}

// Lines returns the user's cart in the order lines were added.
func (c *Carts) Lines(ctx context.Context, userID string) ([]model.CartLine, error) {
	sql, args, err := psql.Select(cartColumns...).
		From("cart_lines").
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("added_at", "product_id").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build cart query")
	}

	rows, err := c.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select cart lines")
	}
	defer rows.Close()

	lines := make([]model.CartLine, 0)
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan cart line")
		}
		lines = append(lines, l)
	}
	return lines, errors.Wrap(rows.Err(), "iterate cart lines")
}

// Add puts a line into the cart. Adding a product already in the cart
// increases its quantity.
func (c *Carts) Add(ctx context.Context, userID string, line model.CartLine) (model.CartLine, error) {
	sql, args, err := psql.Insert("cart_lines").
		Columns("user_id", "product_id", "store_id", "quantity", "unit_price", "product_name", "product_image").
		Values(userID, line.ProductID, line.StoreID, line.Quantity, line.UnitPrice, line.Product.Name, line.Product.Image).
		Suffix("ON CONFLICT (user_id, product_id) DO UPDATE SET quantity = cart_lines.quantity + EXCLUDED.quantity").
		Suffix("RETURNING product_id, store_id, quantity, unit_price, product_name, product_image").
		ToSql()
	if err != nil {
		return model.CartLine{}, errors.Wrap(err, "build cart insert")
	}
	l, err := scanLine(c.db.QueryRow(ctx, sql, args...))
	if err != nil {
		return model.CartLine{}, errors.Wrap(err, "insert cart line")
	}
	return l, nil
}

// SetQuantity changes the quantity of an existing line and returns the
// stored line.
func (c *Carts) SetQuantity(ctx context.Context, userID, productID string, quantity int) (model.CartLine, error) {
	sql, args, err := psql.Update("cart_lines").
		Set("quantity", quantity).
		Where(squirrel.Eq{"user_id": userID, "product_id": productID}).
		Suffix("RETURNING product_id, store_id, quantity, unit_price, product_name, product_image").
		ToSql()
	if err != nil {
		return model.CartLine{}, errors.Wrap(err, "build cart update")
	}
	l, err := scanLine(c.db.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.CartLine{}, apperr.ErrNotFound
		}
		return model.CartLine{}, errors.Wrap(err, "update cart line")
	}
	return l, nil
}

// Remove deletes one line. Removing a missing line is not an error.
func (c *Carts) Remove(ctx context.Context, userID, productID string) error {
	sql, args, err := psql.Delete("cart_lines").
		Where(squirrel.Eq{"user_id": userID, "product_id": productID}).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "build cart delete")
	}
	_, err = c.db.Exec(ctx, sql, args...)
	return errors.Wrap(err, "delete cart line")
}

// Clear empties the user's cart.
func (c *Carts) Clear(ctx context.Context, userID string) error {
	sql, args, err := psql.Delete("cart_lines").
		Where(squirrel.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "build cart clear")
	}
	_, err = c.db.Exec(ctx, sql, args...)
	return errors.Wrap(err, "clear cart")
}
