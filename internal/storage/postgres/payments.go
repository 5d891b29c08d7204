package postgres

import (
	"context"

	"github.com/Masterminds/squirrel"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/iliamunaev/multivendor-checkout/internal/apperr"
	"github.com/iliamunaev/multivendor-checkout/internal/model"
)

// Payments stores issued forms and the gateway notifications settling them.
type Payments struct {
	db querier
}

func NewPayments(db querier) *Payments {
	return &Payments{db: db}
}

// SaveForm records an issued form.
func (p *Payments) SaveForm(ctx context.Context, f model.PaymentForm) error {
	sql, args, err := psql.Insert("payment_forms").
		Columns("reference", "user_id", "sum", "items").
		Values(f.Reference, f.UserID, f.Sum, f.Items).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "build form insert")
	}
	if _, err := p.db.Exec(ctx, sql, args...); err != nil {
		if isUniqueViolation(err) {
			return apperr.ErrConflict
		}
		return errors.Wrap(err, "insert form")
	}
	return nil
}

// Form returns the form issued under reference.
func (p *Payments) Form(ctx context.Context, reference string) (model.PaymentForm, error) {
	sql, args, err := psql.Select("reference", "user_id", "sum", "items", "created_at").
		From("payment_forms").
		Where(squirrel.Eq{"reference": reference}).
		ToSql()
	if err != nil {
		return model.PaymentForm{}, errors.Wrap(err, "build form query")
	}

	var f model.PaymentForm
	err = p.db.QueryRow(ctx, sql, args...).Scan(&f.Reference, &f.UserID, &f.Sum, &f.Items, &f.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PaymentForm{}, apperr.ErrNotFound
		}
		return model.PaymentForm{}, errors.Wrap(err, "select form")
	}
	return f, nil
}

// SaveNotification stores n. A repeated delivery of the same reference keeps
// the first notification and reports created false.
func (p *Payments) SaveNotification(ctx context.Context, n model.PaymentNotification) (bool, error) {
	sql, args, err := psql.Insert("payment_notifications").
		Columns("reference", "amount", "paid_at").
		Values(n.ExternalReference, n.Amount, n.Timestamp).
		Suffix("ON CONFLICT (reference) DO NOTHING").
		ToSql()
	if err != nil {
		return false, errors.Wrap(err, "build notification insert")
	}
	tag, err := p.db.Exec(ctx, sql, args...)
	if err != nil {
		return false, errors.Wrap(err, "insert notification")
	}
	return tag.RowsAffected() == 1, nil
}

// Notification returns the settled notification of reference.
func (p *Payments) Notification(ctx context.Context, reference string) (model.PaymentNotification, error) {
	sql, args, err := psql.Select("reference", "amount", "paid_at").
		From("payment_notifications").
		Where(squirrel.Eq{"reference": reference}).
		ToSql()
	if err != nil {
		return model.PaymentNotification{}, errors.Wrap(err, "build notification query")
	}

	var n model.PaymentNotification
	err = p.db.QueryRow(ctx, sql, args...).Scan(&n.ExternalReference, &n.Amount, &n.Timestamp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PaymentNotification{}, apperr.ErrNotFound
		}
		return model.PaymentNotification{}, errors.Wrap(err, "select notification")
	}
	return n, nil
}
