package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/iliamunaev/multivendor-checkout/internal/apperr"
	"github.com/iliamunaev/multivendor-checkout/internal/model"
)

// Doer sends a single HTTP request.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client calls the public auth endpoints. It does not use the session store.
type Client struct {
	baseURL string
	http    Doer
}

// NewClient creates a Client for the API at baseURL.
func NewClient(baseURL string, doer Doer) *Client {
	if doer == nil {
		doer = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: doer}
}

// Login exchanges credentials for a session.
func (c *Client) Login(ctx context.Context, email, password string) (model.AccessSession, error) {
	var out model.AccessSession
	err := c.post(ctx, "/auth/login", model.LoginRequest{Email: email, Password: password}, &out)
	return out, err
}

// Refresh exchanges a refresh token for a new access token. An auth-failure
// status is reported as ErrRefreshRejected.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (string, error) {
	var out model.RefreshResponse
	err := c.post(ctx, "/auth/refresh", model.RefreshRequest{RefreshToken: refreshToken}, &out)
	if err != nil {
		if apperr.Kind(err) == "unauthorized" || apperr.Kind(err) == "forbidden" {
			return "", ErrRefreshRejected
		}
		return "", err
	}
	return out.AccessToken, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Transport("POST "+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &apperr.StatusError{Code: resp.StatusCode, Message: string(msg)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
