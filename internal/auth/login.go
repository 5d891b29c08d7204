package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/iliamunaev/multivendor-checkout/internal/apperr"
	"github.com/iliamunaev/multivendor-checkout/internal/model"
)

// Credentials is a stored user account.
type Credentials struct {
	UserID       string
	Role         string
	PasswordHash []byte
}

// CredentialStore looks users up by email. Unknown emails yield an error of
// kind not_found.
type CredentialStore interface {
	CredentialsByEmail(ctx context.Context, email string) (Credentials, error)
}

// Service authenticates users on the backend.
type Service struct {
	users  CredentialStore
	issuer *Issuer
}

// NewService creates a Service. It panics on nil dependencies.
func NewService(users CredentialStore, issuer *Issuer) *Service {
	if users == nil {
		panic("auth.NewService: nil credential store")
	}
	if issuer == nil {
		panic("auth.NewService: nil issuer")
	}
	return &Service{users: users, issuer: issuer}
}

// Login checks the password and issues a new session. Unknown emails and wrong
// passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, req model.LoginRequest) (model.AccessSession, error) {
	if req.Email == "" {
		return model.AccessSession{}, apperr.Validation("email", "is required")
	}
	if req.Password == "" {
		return model.AccessSession{}, apperr.Validation("password", "is required")
	}

	creds, err := s.users.CredentialsByEmail(ctx, req.Email)
	if err != nil {
		if apperr.Kind(err) == "not_found" {
			return model.AccessSession{}, apperr.ErrUnauthorized
		}
		return model.AccessSession{}, fmt.Errorf("lookup credentials: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword(creds.PasswordHash, []byte(req.Password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return model.AccessSession{}, apperr.ErrUnauthorized
		}
		return model.AccessSession{}, fmt.Errorf("compare password: %w", err)
	}

	return s.issuer.Issue(creds.UserID, creds.Role)
}

// Refresh exchanges a refresh token for a new access token.
func (s *Service) Refresh(_ context.Context, req model.RefreshRequest) (model.RefreshResponse, error) {
	if req.RefreshToken == "" {
		return model.RefreshResponse{}, ErrRefreshRejected
	}
	token, err := s.issuer.Refresh(req.RefreshToken)
	if err != nil {
		return model.RefreshResponse{}, err
	}
	return model.RefreshResponse{AccessToken: token}, nil
}

// HashPassword returns the bcrypt hash stored for new accounts.
func HashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}
