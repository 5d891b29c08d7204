package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("wrapped: %w", ErrAuthExpired)

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "auth_expired", err: ErrAuthExpired, want: "auth_expired"},
		{name: "auth_expired_wrapped", err: wrapped, want: "auth_expired"},
		{name: "validation", err: Validation("buyer.email", "is required"), want: "validation"},
		{name: "transport", err: Transport("GET /cart", errors.New("connection refused")), want: "transport"},
		{name: "transport_over_deadline", err: Transport("GET /cart", context.DeadlineExceeded), want: "transport"},
		{name: "partial", err: &PartialOrderFailure{Succeeded: 2}, want: "partial_order_failure"},
		{name: "total", err: &TotalOrderFailure{}, want: "total_order_failure"},
		{name: "unresolved", err: ErrPaymentUnresolved, want: "payment_unresolved"},
		{name: "status_404", err: &StatusError{Code: http.StatusNotFound}, want: "not_found"},
		{name: "status_409_duplicate", err: &StatusError{Code: http.StatusConflict, Reason: "duplicate"}, want: "duplicate"},
		{name: "status_409_conflict", err: &StatusError{Code: http.StatusConflict, Reason: "conflict"}, want: "conflict"},
		{name: "status_409_bare", err: &StatusError{Code: http.StatusConflict}, want: "conflict"},
		{name: "status_500", err: &StatusError{Code: http.StatusInternalServerError}, want: "upstream"},
		{name: "deadline", err: context.DeadlineExceeded, want: "timeout"},
		{name: "canceled", err: context.Canceled, want: "canceled"},
		{name: "unknown", err: errors.New("unknown"), want: "internal"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, Kind(tt.err))
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("wrapped: %w", ErrOrderNotFound)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: http.StatusOK},
		{name: "auth_expired", err: ErrAuthExpired, want: http.StatusUnauthorized},
		{name: "validation", err: Validation("", "cart is empty"), want: http.StatusBadRequest},
		{name: "not_found_wrapped", err: wrapped, want: http.StatusNotFound},
		{name: "duplicate", err: ErrDuplicateOrder, want: http.StatusConflict},
		{name: "partial", err: &PartialOrderFailure{}, want: http.StatusMultiStatus},
		{name: "deadline", err: context.DeadlineExceeded, want: http.StatusGatewayTimeout},
		{name: "canceled", err: context.Canceled, want: http.StatusRequestTimeout},
		{name: "unknown", err: errors.New("unknown"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestStatusErrorMatchesSentinels(t *testing.T) {
	t.Parallel()

	dup := fmt.Errorf("create order: %w", &StatusError{Code: http.StatusConflict, Reason: "duplicate", Message: "exists"})
	assert.ErrorIs(t, dup, ErrDuplicateOrder)
	assert.NotErrorIs(t, dup, ErrConflict)
	assert.NotErrorIs(t, dup, ErrOrderNotFound)

	// Another buyer's order under the same transaction is not a duplicate.
	foreign := fmt.Errorf("create order: %w", &StatusError{Code: http.StatusConflict, Reason: "conflict", Message: "conflict"})
	assert.ErrorIs(t, foreign, ErrConflict)
	assert.NotErrorIs(t, foreign, ErrDuplicateOrder)

	assert.NotErrorIs(t, &StatusError{Code: http.StatusConflict}, ErrDuplicateOrder)
}

// Store failures stay reachable through the aggregate so a global handler
// can still see an auth failure that happened inside the fan-out.
func TestOrderFailuresUnwrapToStoreErrors(t *testing.T) {
	t.Parallel()

	err := &PartialOrderFailure{
		Succeeded: 1,
		Failures:  []StoreFailure{{StoreID: "s2", Kind: "auth_expired", Err: ErrAuthExpired}},
	}
	assert.ErrorIs(t, err, ErrAuthExpired)
	assert.Equal(t, "1 of 2 store orders failed", err.Error())

	var total error = &TotalOrderFailure{Failures: []StoreFailure{{StoreID: "s1", Err: ErrDuplicateOrder}}}
	var sf StoreFailure
	require.ErrorAs(t, total, &sf)
	assert.Equal(t, "s1", sf.StoreID)
}
