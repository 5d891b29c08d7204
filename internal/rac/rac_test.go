package rac

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliamunaev/multivendor-checkout/internal/apperr"
	"github.com/iliamunaev/multivendor-checkout/internal/model"
	"github.com/iliamunaev/multivendor-checkout/internal/session"
)

// backend accepts only the token stored in valid and records every call.
type backend struct {
	valid  atomic.Value
	calls  atomic.Int64
	bodies chan string
}

func newBackend(t *testing.T, validToken string) (*backend, *httptest.Server) {
	t.Helper()

	b := &backend{bodies: make(chan string, 64)}
	b.valid.Store(validToken)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		b.bodies <- string(body)
		if r.Header.Get("Authorization") != "Bearer "+b.valid.Load().(string) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	}))
	t.Cleanup(srv.Close)
	return b, srv
}

type fakeRefresher struct {
	calls atomic.Int64
	delay time.Duration
	fn    func(refreshToken string) (string, error)
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (string, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.fn(refreshToken)
}

func seeded(t *testing.T, access string) *session.MemoryStore {
	t.Helper()

	store := session.NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), model.AccessSession{
		AccessToken:  access,
		RefreshToken: "refresh-1",
		SubjectID:    "user-1",
		Role:         "user",
	}))
	return store
}

func get(t *testing.T, c *Client, url string) (*http.Response, error) {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	require.NoError(t, err)
	return c.Do(req)
}

func TestValidTokenNeverRefreshes(t *testing.T) {
	t.Parallel()

	be, srv := newBackend(t, "access-1")
	ref := &fakeRefresher{fn: func(string) (string, error) { return "access-2", nil }}
	c := New(srv.Client(), seeded(t, "access-1"), ref)

	resp, err := get(t, c, srv.URL+"/cart")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, be.calls.Load())
	assert.EqualValues(t, 0, ref.calls.Load())
}

func TestExpiredTokenRefreshesOnceAndRetriesOnce(t *testing.T) {
	t.Parallel()

	be, srv := newBackend(t, "access-2")
	ref := &fakeRefresher{fn: func(rt string) (string, error) {
		if rt != "refresh-1" {
			return "", fmt.Errorf("unexpected refresh token %q", rt)
		}
		return "access-2", nil
	}}
	store := seeded(t, "access-1")
	c := New(srv.Client(), store, ref)

	resp, err := get(t, c, srv.URL+"/cart")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, be.calls.Load())
	assert.EqualValues(t, 1, ref.calls.Load())

	sess, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-2", sess.AccessToken)
	assert.Equal(t, "refresh-1", sess.RefreshToken)
}

func TestRejectedRefreshInvalidatesSession(t *testing.T) {
	t.Parallel()

	be, srv := newBackend(t, "never-valid")
	ref := &fakeRefresher{fn: func(string) (string, error) {
		return "", fmt.Errorf("refresh: %w", apperr.ErrUnauthorized)
	}}
	store := seeded(t, "access-1")

	var expired atomic.Int64
	c := New(srv.Client(), store, ref, WithOnSessionExpired(func(context.Context) { expired.Add(1) }))

	_, err := get(t, c, srv.URL+"/cart")
	require.ErrorIs(t, err, apperr.ErrAuthExpired)
	assert.Equal(t, "auth_expired", apperr.Kind(err))
	assert.EqualValues(t, 1, expired.Load())

	_, err = store.Get(context.Background())
	require.ErrorIs(t, err, session.ErrNoSession)

	// Subsequent calls fail fast: no request, no refresh.
	_, err = get(t, c, srv.URL+"/cart")
	require.ErrorIs(t, err, apperr.ErrAuthExpired)
	assert.EqualValues(t, 1, be.calls.Load())
	assert.EqualValues(t, 1, ref.calls.Load())
}

func TestRefreshTransportFailureKeepsSession(t *testing.T) {
	t.Parallel()

	_, srv := newBackend(t, "access-2")
	ref := &fakeRefresher{fn: func(string) (string, error) {
		return "", errors.New("connection reset by peer")
	}}
	store := seeded(t, "access-1")
	c := New(srv.Client(), store, ref)

	_, err := get(t, c, srv.URL+"/cart")
	require.Error(t, err)

	var te *apperr.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "transport", apperr.Kind(err))

	sess, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", sess.AccessToken)
}

func TestSecondUnauthorizedAfterRefreshLogsOut(t *testing.T) {
	t.Parallel()

	be, srv := newBackend(t, "never-valid")
	ref := &fakeRefresher{fn: func(string) (string, error) { return "access-2", nil }}
	store := seeded(t, "access-1")

	var expired atomic.Int64
	c := New(srv.Client(), store, ref, WithOnSessionExpired(func(context.Context) { expired.Add(1) }))

	_, err := get(t, c, srv.URL+"/cart")
	require.ErrorIs(t, err, apperr.ErrAuthExpired)
	assert.EqualValues(t, 2, be.calls.Load())
	assert.EqualValues(t, 1, expired.Load())

	_, err = store.Get(context.Background())
	assert.ErrorIs(t, err, session.ErrNoSession)
}

func TestNoSessionFailsFast(t *testing.T) {
	t.Parallel()

	be, srv := newBackend(t, "access-1")
	ref := &fakeRefresher{fn: func(string) (string, error) { return "access-2", nil }}
	c := New(srv.Client(), session.NewMemoryStore(), ref)

	_, err := get(t, c, srv.URL+"/cart")
	require.ErrorIs(t, err, apperr.ErrAuthExpired)
	assert.EqualValues(t, 0, be.calls.Load())
	assert.EqualValues(t, 0, ref.calls.Load())
}

func TestBodyIsReplayedOnRetry(t *testing.T) {
	t.Parallel()

	be, srv := newBackend(t, "access-2")
	ref := &fakeRefresher{fn: func(string) (string, error) { return "access-2", nil }}
	c := New(srv.Client(), seeded(t, "access-1"), ref)

	payload := `{"quantity":3}`
	// strings.Reader gets GetBody from NewRequest; wrap it to force buffering.
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPut, srv.URL+"/cart/lines/p1",
		io.NopCloser(strings.NewReader(payload)))
	require.NoError(t, err)
	require.Nil(t, req.GetBody)

	resp, err := c.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.EqualValues(t, 2, be.calls.Load())
	assert.Equal(t, payload, <-be.bodies)
	assert.Equal(t, payload, <-be.bodies)
}

func TestConcurrentUnauthorizedSharesOneRefresh(t *testing.T) {
	t.Parallel()

	_, srv := newBackend(t, "access-2")
	ref := &fakeRefresher{
		delay: 50 * time.Millisecond,
		fn:    func(string) (string, error) { return "access-2", nil },
	}
	c := New(srv.Client(), seeded(t, "access-1"), ref)

	const callers = 16
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := get(t, c, srv.URL+"/cart")
			if err != nil {
				errs <- err
				return
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				errs <- fmt.Errorf("status %d", resp.StatusCode)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.EqualValues(t, 1, ref.calls.Load())
}

func TestConcurrentRejectedRetriesExpireOnce(t *testing.T) {
	t.Parallel()

	_, srv := newBackend(t, "never-valid")
	ref := &fakeRefresher{
		delay: 20 * time.Millisecond,
		fn:    func(string) (string, error) { return "access-2", nil },
	}
	store := seeded(t, "access-1")

	var expired atomic.Int64
	c := New(srv.Client(), store, ref, WithOnSessionExpired(func(context.Context) { expired.Add(1) }))

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := get(t, c, srv.URL+"/cart")
			if resp != nil {
				resp.Body.Close()
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.ErrorIs(t, err, apperr.ErrAuthExpired)
	}
	assert.EqualValues(t, 1, expired.Load(), "forced logout runs once per session")

	_, err := store.Get(context.Background())
	assert.ErrorIs(t, err, session.ErrNoSession)
}

func TestExpiryFiresAgainForNewSession(t *testing.T) {
	t.Parallel()

	_, srv := newBackend(t, "never-valid")
	ref := &fakeRefresher{fn: func(string) (string, error) { return "", apperr.ErrUnauthorized }}
	store := seeded(t, "access-1")

	var expired atomic.Int64
	c := New(srv.Client(), store, ref, WithOnSessionExpired(func(context.Context) { expired.Add(1) }))

	_, err := get(t, c, srv.URL+"/cart")
	require.ErrorIs(t, err, apperr.ErrAuthExpired)

	require.NoError(t, store.Set(context.Background(), model.AccessSession{
		AccessToken:  "access-3",
		RefreshToken: "refresh-2",
		SubjectID:    "user-1",
	}))
	_, err = get(t, c, srv.URL+"/cart")
	require.ErrorIs(t, err, apperr.ErrAuthExpired)

	assert.EqualValues(t, 2, expired.Load())
}

func TestTransportErrorIsWrapped(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	ref := &fakeRefresher{fn: func(string) (string, error) { return "access-2", nil }}
	c := New(http.DefaultClient, seeded(t, "access-1"), ref)

	_, err := get(t, c, url+"/cart")
	require.Error(t, err)
	assert.Equal(t, "transport", apperr.Kind(err))
	assert.EqualValues(t, 0, ref.calls.Load())
}

func TestNonAuthStatusReturnedUnchanged(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	t.Cleanup(srv.Close)

	ref := &fakeRefresher{fn: func(string) (string, error) { return "access-2", nil }}
	c := New(srv.Client(), seeded(t, "access-1"), ref)

	resp, err := get(t, c, srv.URL+"/stores/s1/orders")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.EqualValues(t, 0, ref.calls.Load())
}
