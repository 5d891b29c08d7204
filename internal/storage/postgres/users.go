package postgres

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/iliamunaev/multivendor-checkout/internal/apperr"
	"github.com/iliamunaev/multivendor-checkout/internal/auth"
)

// Users stores accounts and their password hashes.
type Users struct {
	db querier
}

func NewUsers(db querier) *Users {
	return &Users{db: db}
}

func selectCredentials(email string) (string, []any, error) {
	return psql.Select("id", "role", "password_hash").
		From("users").
		Where("lower(email) = ?", strings.ToLower(email)).
		ToSql()
}

// CredentialsByEmail implements auth.CredentialStore.
func (u *Users) CredentialsByEmail(ctx context.Context, email string) (auth.Credentials, error) {
	sql, args, err := selectCredentials(email)
	if err != nil {
		return auth.Credentials{}, errors.Wrap(err, "build credentials query")
	}

	var c auth.Credentials
	if err := u.db.QueryRow(ctx, sql, args...).Scan(&c.UserID, &c.Role, &c.PasswordHash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return auth.Credentials{}, apperr.ErrNotFound
		}
		return auth.Credentials{}, errors.Wrap(err, "select credentials")
	}
	return c, nil
}

// Create adds an account and returns its id. A taken email is a conflict.
func (u *Users) Create(ctx context.Context, email, role string, passwordHash []byte) (string, error) {
	id := uuid.NewString()
	sql, args, err := psql.Insert("users").
		Columns("id", "email", "role", "password_hash").
		Values(id, strings.ToLower(email), role, passwordHash).
		ToSql()
	if err != nil {
		return "", errors.Wrap(err, "build user insert")
	}
	if _, err := u.db.Exec(ctx, sql, args...); err != nil {
		if isUniqueViolation(err) {
			return "", apperr.ErrConflict
		}
		return "", errors.Wrap(err, "insert user")
	}
	return id, nil
}
