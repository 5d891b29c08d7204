package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iliamunaev/multivendor-checkout/internal/logger"
	"github.com/iliamunaev/multivendor-checkout/internal/metrics"
)

func TestLogging(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	l := logger.Wrap(zap.New(core))

	var gotID any
	h := Logging(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = r.Context().Value(logger.KeyForRequestID)
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	tests := []struct {
		name   string
		header string
	}{
		{name: "generated_id"},
		{name: "caller_id", header: "abc-123"},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/cart", nil)
		if tt.header != "" {
			req.Header.Set(RequestIDHeader, tt.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		id := rec.Header().Get(RequestIDHeader)
		require.NotEmpty(t, id, tt.name)
		if tt.header != "" {
			assert.Equal(t, tt.header, id, tt.name)
		}
		assert.Equal(t, id, gotID, tt.name)
	}

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 2)
	fields := entries[1].ContextMap()
	assert.Equal(t, int64(http.StatusTeapot), fields["status"])
	assert.Equal(t, int64(15), fields["bytes"])
	assert.Equal(t, "/cart", fields["path"])
	assert.Equal(t, "abc-123", fields["request_id"])
}

func TestMetricsUsesRoutePattern(t *testing.T) {
	t.Parallel()

	m := metrics.New(prometheus.NewRegistry())
	r := chi.NewRouter()
	r.Use(Metrics(m))
	r.Get("/stores/{storeID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	for _, id := range []string{"s1", "s2"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/stores/"+id, nil))
	}

	assert.Equal(t, float64(2), testutil.ToFloat64(m.Requests.WithLabelValues("/stores/{storeID}", "GET", "204")))
}

func TestRateLimiter(t *testing.T) {
	t.Parallel()

	l := NewRateLimiter(1, 2)
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	call := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, call("1.1.1.1"))
	assert.Equal(t, http.StatusOK, call("1.1.1.1"))
	assert.Equal(t, http.StatusTooManyRequests, call("1.1.1.1"))
	assert.Equal(t, http.StatusOK, call("2.2.2.2"))

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusOK, call("1.1.1.1"))
}

func TestRateLimiterSweep(t *testing.T) {
	t.Parallel()

	l := NewRateLimiter(1, 1)
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	l.allow("1.1.1.1")
	now = now.Add(time.Hour)
	l.allow("2.2.2.2")
	l.sweep()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.ips, "1.1.1.1")
	assert.Contains(t, l.ips, "2.2.2.2")
}

func TestRemoteIP(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", remoteIP(req))

	req.Header.Set("X-Forwarded-For", " 203.0.113.7 , 10.0.0.1")
	assert.Equal(t, "203.0.113.7", remoteIP(req))
}
