// Package rac implements the resilient authenticated client: every request
// carries the current bearer token, and a 401 triggers exactly one shared
// token refresh followed by a single retry.
package rac

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/iliamunaev/multivendor-checkout/internal/apperr"
	"github.com/iliamunaev/multivendor-checkout/internal/logger"
	"github.com/iliamunaev/multivendor-checkout/internal/model"
	"github.com/iliamunaev/multivendor-checkout/internal/session"
)

const defaultRefreshTimeout = 10 * time.Second

// Doer sends a single HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Refresher exchanges a refresh token for a new access token. It must return
// an error matching apperr.ErrUnauthorized or apperr.ErrForbidden when the
// auth service rejects the token, and any other error for transport failures.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (string, error)
}

// Option configures a Client.
type Option func(*Client)

// WithOnSessionExpired registers the global forced-logout handler. It runs
// after the session has been cleared.
func WithOnSessionExpired(fn func(ctx context.Context)) Option {
	return func(c *Client) { c.onExpired = fn }
}

// WithRefreshTimeout bounds the shared refresh call.
func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.refreshTimeout = d
		}
	}
}

// Client wraps a Doer with session-aware authentication.
type Client struct {
	doer           Doer
	store          session.Store
	refresher      Refresher
	onExpired      func(ctx context.Context)
	refreshTimeout time.Duration

	flight singleflight.Group

	mu           sync.Mutex
	expired      bool
	expiredToken string
}

// New creates a Client. It panics on nil dependencies.
func New(doer Doer, store session.Store, refresher Refresher, opts ...Option) *Client {
	if doer == nil {
		panic("rac.New: nil doer")
	}
	if store == nil {
		panic("rac.New: nil session store")
	}
	if refresher == nil {
		panic("rac.New: nil refresher")
	}
	c := &Client{
		doer:           doer,
		store:          store,
		refresher:      refresher,
		refreshTimeout: defaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends req with the current access token. Statuses other than 401 are
// returned unchanged. Transport failures are wrapped in apperr.TransportError
// and never retried. An unrecoverable auth failure clears the session and
// returns apperr.ErrAuthExpired.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	sess, err := c.store.Get(ctx)
	if errors.Is(err, session.ErrNoSession) {
		return nil, apperr.ErrAuthExpired
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}

	getBody, err := replayableBody(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(req, getBody, sess.AccessToken)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	discard(resp)

	next, err := c.refresh(ctx, sess)
	if err != nil {
		return nil, err
	}

	resp, err = c.send(req, getBody, next.AccessToken)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		discard(resp)
		c.expire(ctx, next.RefreshToken, "retry after refresh rejected")
		return nil, apperr.ErrAuthExpired
	}
	return resp, nil
}

// refresh returns the session holding a usable access token. Concurrent
// callers holding the same refresh token share one refresh call.
func (c *Client) refresh(ctx context.Context, stale model.AccessSession) (model.AccessSession, error) {
	current, err := c.store.Get(ctx)
	if errors.Is(err, session.ErrNoSession) {
		return model.AccessSession{}, apperr.ErrAuthExpired
	}
	if err != nil {
		return model.AccessSession{}, fmt.Errorf("read session: %w", err)
	}
	if current.AccessToken != stale.AccessToken {
		return current, nil
	}

	ch := c.flight.DoChan(current.RefreshToken, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
		defer cancel()

		token, err := c.refresher.Refresh(rctx, current.RefreshToken)
		if err != nil {
			if rejected(err) {
				c.expire(rctx, current.RefreshToken, "refresh token rejected")
				return nil, apperr.ErrAuthExpired
			}
			var te *apperr.TransportError
			if errors.As(err, &te) {
				return nil, err
			}
			return nil, apperr.Transport("refresh token", err)
		}

		next := current
		next.AccessToken = token
		if err := c.store.Set(rctx, next); err != nil {
			return nil, fmt.Errorf("store refreshed session: %w", err)
		}
		return next, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return model.AccessSession{}, res.Err
		}
		return res.Val.(model.AccessSession), nil
	case <-ctx.Done():
		return model.AccessSession{}, ctx.Err()
	}
}

// expire clears the session and runs the forced-logout handler. It acts
// once per refresh token, however many callers hit the rejection.
func (c *Client) expire(ctx context.Context, refreshToken, reason string) {
	c.mu.Lock()
	if c.expired && c.expiredToken == refreshToken {
		c.mu.Unlock()
		return
	}
	c.expired, c.expiredToken = true, refreshToken
	c.mu.Unlock()

	if err := c.store.Clear(ctx); err != nil {
		logger.FromCtx(ctx).Error(ctx, "failed to clear session", zap.Error(err))
	}
	logger.FromCtx(ctx).Warn(ctx, "session expired", zap.String("reason", reason))
	if c.onExpired != nil {
		c.onExpired(ctx)
	}
}

func (c *Client) send(req *http.Request, getBody func() (io.ReadCloser, error), token string) (*http.Response, error) {
	r := req.Clone(req.Context())
	if getBody != nil {
		body, err := getBody()
		if err != nil {
			return nil, fmt.Errorf("replay request body: %w", err)
		}
		r.Body = body
		r.GetBody = getBody
	}
	r.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.doer.Do(r)
	if err != nil {
		return nil, apperr.Transport(req.Method+" "+req.URL.Path, err)
	}
	return resp, nil
}

func rejected(err error) bool {
	return errors.Is(err, apperr.ErrUnauthorized) ||
		errors.Is(err, apperr.ErrForbidden) ||
		errors.Is(err, apperr.ErrAuthExpired)
}

// replayableBody returns a body factory so the request can be sent twice.
func replayableBody(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		return req.GetBody, nil
	}
	b, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("buffer request body: %w", err)
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b)), nil
	}, nil
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
