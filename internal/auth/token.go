// Package auth issues and verifies bearer tokens on the backend and talks to
// the auth endpoints from the checkout host.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iliamunaev/multivendor-checkout/internal/apperr"
	"github.com/iliamunaev/multivendor-checkout/internal/model"
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

// ErrRefreshRejected is returned when a refresh token is invalid or expired.
// It matches apperr.ErrUnauthorized so callers can tell logout from retry.
var ErrRefreshRejected = fmt.Errorf("refresh token rejected: %w", apperr.ErrUnauthorized)

// Claims are the JWT claims of both token types.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
	Type string `json:"typ"`
}

// Account roles.
const (
	RoleBuyer  = "buyer"
	RoleVendor = "vendor"
	RoleAdmin  = "admin"
)

// Principal is the authenticated caller of a backend request.
type Principal struct {
	SubjectID string
	Role      string
}

// Issuer signs HS256 access and refresh tokens.
type Issuer struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewIssuer creates an Issuer. It panics on an empty secret.
func NewIssuer(secret, issuer string, accessTTL, refreshTTL time.Duration) *Issuer {
	if secret == "" {
		panic("auth.NewIssuer: empty secret")
	}
	return &Issuer{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// Issue creates a fresh session for subjectID.
func (i *Issuer) Issue(subjectID, role string) (model.AccessSession, error) {
	access, err := i.sign(subjectID, role, typeAccess, i.accessTTL)
	if err != nil {
		return model.AccessSession{}, err
	}
	refresh, err := i.sign(subjectID, role, typeRefresh, i.refreshTTL)
	if err != nil {
		return model.AccessSession{}, err
	}
	return model.AccessSession{
		AccessToken:  access,
		RefreshToken: refresh,
		SubjectID:    subjectID,
		Role:         role,
	}, nil
}

// Refresh exchanges a valid refresh token for a new access token.
func (i *Issuer) Refresh(refreshToken string) (string, error) {
	claims, err := i.parse(refreshToken, typeRefresh)
	if err != nil {
		return "", ErrRefreshRejected
	}
	return i.sign(claims.Subject, claims.Role, typeAccess, i.accessTTL)
}

// Verify validates an access token and returns its principal.
func (i *Issuer) Verify(accessToken string) (Principal, error) {
	claims, err := i.parse(accessToken, typeAccess)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", apperr.ErrUnauthorized, err)
	}
	return Principal{SubjectID: claims.Subject, Role: claims.Role}, nil
}

func (i *Issuer) sign(subject, role, typ string, ttl time.Duration) (string, error) {
	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
		Type: typ,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, nil
}

func (i *Issuer) parse(raw, wantType string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	},
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Type != wantType {
		return nil, fmt.Errorf("token type %q, want %q", claims.Type, wantType)
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}
