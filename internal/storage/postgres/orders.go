package postgres

import (
	"context"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/iliamunaev/multivendor-checkout/internal/apperr"
	"github.com/iliamunaev/multivendor-checkout/internal/model"
)

var orderColumns = []string{
	"order_id::text", "transaction_id", "store_id", "buyer_id", "status", "total_amount",
	"buyer", "lines", "delivery_method", "delivery_status", "tracking_number",
	"estimated_delivery", "created_at",
}

type txBeginner interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Orders stores per-store orders. A (transaction id, store id) pair has at
// most one order.
type Orders struct {
	db txBeginner
}

func NewOrders(db txBeginner) *Orders {
	return &Orders{db: db}
}

func scanOrder(row pgx.Row) (model.OrderRecord, error) {
	var r model.OrderRecord
	err := row.Scan(
		&r.OrderID, &r.TransactionID, &r.StoreID, &r.BuyerID, &r.Status, &r.TotalAmount,
		&r.Buyer, &r.Lines, &r.Delivery.Method, &r.Delivery.Status, &r.Delivery.TrackingNumber,
		&r.Delivery.EstimatedDelivery, &r.CreatedAt,
	)
	return r, err
}

func insertOrder(rec model.OrderRecord) (string, []any, error) {
	return psql.Insert("orders").
		Columns(
			"order_id", "transaction_id", "store_id", "buyer_id", "status", "total_amount",
			"buyer", "lines", "delivery_method", "delivery_status",
		).
		Values(
			rec.OrderID, rec.TransactionID, rec.StoreID, rec.BuyerID, rec.Status, rec.TotalAmount,
			rec.Buyer, rec.Lines, rec.Delivery.Method, rec.Delivery.Status,
		).
		Suffix("ON CONFLICT (transaction_id, store_id) DO NOTHING").
		Suffix("RETURNING " + strings.Join(orderColumns, ", ")).
		ToSql()
}

// Create inserts rec under a fresh order id. When the store already holds an
// order for rec's transaction, that order is returned with created false.
func (o *Orders) Create(ctx context.Context, rec model.OrderRecord) (model.OrderRecord, bool, error) {
	rec.OrderID = uuid.NewString()
	sql, args, err := insertOrder(rec)
	if err != nil {
		return model.OrderRecord{}, false, errors.Wrap(err, "build order insert")
	}

	stored, err := scanOrder(o.db.QueryRow(ctx, sql, args...))
	switch {
	case err == nil:
		return stored, true, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return model.OrderRecord{}, false, errors.Wrap(err, "insert order")
	}

	existing, err := o.byStoreTransaction(ctx, o.db, rec.StoreID, rec.TransactionID)
	if err != nil {
		return model.OrderRecord{}, false, err
	}
	if existing.BuyerID != rec.BuyerID {
		return model.OrderRecord{}, false, apperr.ErrConflict
	}
	return existing, false, nil
}

func (o *Orders) byStoreTransaction(ctx context.Context, db querier, storeID, transactionID string) (model.OrderRecord, error) {
	sql, args, err := psql.Select(orderColumns...).
		From("orders").
		Where(squirrel.Eq{"store_id": storeID, "transaction_id": transactionID}).
		ToSql()
	if err != nil {
		return model.OrderRecord{}, errors.Wrap(err, "build order query")
	}
	rec, err := scanOrder(db.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.OrderRecord{}, apperr.ErrOrderNotFound
		}
		return model.OrderRecord{}, errors.Wrap(err, "select order")
	}
	return rec, nil
}

// ByTransaction returns the buyer's orders sharing transactionID, oldest first.
func (o *Orders) ByTransaction(ctx context.Context, buyerID, transactionID string) ([]model.OrderRecord, error) {
	sql, args, err := psql.Select(orderColumns...).
		From("orders").
		Where(squirrel.Eq{"buyer_id": buyerID, "transaction_id": transactionID}).
		OrderBy("created_at", "store_id").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build orders query")
	}

	rows, err := o.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select orders")
	}
	defer rows.Close()

	out := make([]model.OrderRecord, 0)
	for rows.Next() {
		rec, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		out = append(out, rec)
	}
	return out, errors.Wrap(rows.Err(), "iterate orders")
}

// Mutate locks one order, lets fn change it and stores the status and
// delivery fields fn produced. An error from fn aborts without writing.
func (o *Orders) Mutate(ctx context.Context, storeID, orderID string, fn func(*model.OrderRecord) error) (model.OrderRecord, error) {
	if _, err := uuid.Parse(orderID); err != nil {
		return model.OrderRecord{}, apperr.ErrOrderNotFound
	}

	tx, err := o.db.Begin(ctx)
	if err != nil {
		return model.OrderRecord{}, errors.Wrap(err, "begin order update")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sql, args, err := psql.Select(orderColumns...).
		From("orders").
		Where(squirrel.Eq{"store_id": storeID, "order_id": orderID}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return model.OrderRecord{}, errors.Wrap(err, "build order lock")
	}
	rec, err := scanOrder(tx.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.OrderRecord{}, apperr.ErrOrderNotFound
		}
		return model.OrderRecord{}, errors.Wrap(err, "lock order")
	}

	if err := fn(&rec); err != nil {
		return model.OrderRecord{}, err
	}

	sql, args, err = psql.Update("orders").
		SetMap(map[string]any{
			"status":             rec.Status,
			"delivery_status":    rec.Delivery.Status,
			"tracking_number":    rec.Delivery.TrackingNumber,
			"estimated_delivery": rec.Delivery.EstimatedDelivery,
			"updated_at":         squirrel.Expr("now()"),
		}).
		Where(squirrel.Eq{"order_id": orderID}).
		ToSql()
	if err != nil {
		return model.OrderRecord{}, errors.Wrap(err, "build order update")
	}
	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		return model.OrderRecord{}, errors.Wrap(err, "update order")
	}
	if err := tx.Commit(ctx); err != nil {
		return model.OrderRecord{}, errors.Wrap(err, "commit order update")
	}
	return rec, nil
}
