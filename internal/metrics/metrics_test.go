package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsAreExposed(t *testing.T) {
	t.Parallel()

	m := New(prometheus.NewRegistry())
	m.OrdersCreated.WithLabelValues("created").Add(2)
	m.Webhooks.WithLabelValues("accepted").Inc()
	m.SetInFlight(3)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.OrdersCreated.WithLabelValues("created")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.InFlight))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `checkout_orders_created_total{outcome="created"} 2`)
	assert.Contains(t, string(body), `checkout_payment_webhooks_total{outcome="accepted"} 1`)
	assert.Contains(t, string(body), "checkout_order_submissions_in_flight 3")
}

func TestSeparateRegistries(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
