package postgres

import (
	"context"

	"github.com/Masterminds/squirrel"
	"github.com/go-faster/errors"

	"github.com/iliamunaev/multivendor-checkout/internal/model"
)

// Transactions is the per-user index of checkout transaction ids.
type Transactions struct {
	db querier
}

func NewTransactions(db querier) *Transactions {
	return &Transactions{db: db}
}

// Append records transactionID for the user. Appending twice keeps one entry.
func (t *Transactions) Append(ctx context.Context, userID, transactionID string) error {
	sql, args, err := psql.Insert("user_transactions").
		Columns("user_id", "transaction_id").
		Values(userID, transactionID).
		Suffix("ON CONFLICT (user_id, transaction_id) DO NOTHING").
		ToSql()
	if err != nil {
		return errors.Wrap(err, "build transaction insert")
	}
	_, err = t.db.Exec(ctx, sql, args...)
	return errors.Wrap(err, "insert transaction")
}

// List returns the user's transactions, newest first.
func (t *Transactions) List(ctx context.Context, userID string) ([]model.TransactionRef, error) {
	sql, args, err := psql.Select("transaction_id", "created_at").
		From("user_transactions").
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("created_at DESC", "transaction_id").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build transactions query")
	}

	rows, err := t.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select transactions")
	}
	defer rows.Close()

	out := make([]model.TransactionRef, 0)
	for rows.Next() {
		var ref model.TransactionRef
		if err := rows.Scan(&ref.TransactionID, &ref.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan transaction")
		}
		out = append(out, ref)
	}
	return out, errors.Wrap(rows.Err(), "iterate transactions")
}
