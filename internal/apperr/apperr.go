// Package apperr defines the checkout error taxonomy. Every error that
// crosses a package boundary either is, or wraps, a value that reports a
// classification through Kind().
package apperr

import (
	"context"
	"errors"
	"net/http"
)

// kinder is satisfied by domain errors that carry a classification kind.
type kinder interface {
	Kind() string
}

type kindError struct {
	msg  string
	kind string
}

func (e kindError) Error() string { return e.msg }
func (e kindError) Kind() string  { return e.kind }

var (
	// ErrAuthExpired is terminal: the refresh token was rejected and the
	// local session has been cleared.
	ErrAuthExpired = kindError{msg: "session expired", kind: "auth_expired"}
	// ErrUnauthorized is returned by the backend for a missing or invalid bearer token.
	ErrUnauthorized = kindError{msg: "unauthorized", kind: "unauthorized"}
	ErrForbidden    = kindError{msg: "forbidden", kind: "forbidden"}

	ErrNotFound       = kindError{msg: "not found", kind: "not_found"}
	ErrOrderNotFound  = kindError{msg: "order not found", kind: "not_found"}
	ErrDuplicateOrder = kindError{msg: "order already exists", kind: "duplicate"}
	// ErrConflict rejects a change the current state does not allow.
	ErrConflict = kindError{msg: "conflict", kind: "conflict"}

	// ErrPaymentUnresolved means the completion signal arrived but the
	// gateway notification never became visible. It is not a not-found.
	ErrPaymentUnresolved = kindError{msg: "payment not yet resolved", kind: "payment_unresolved"}
	ErrPaymentExpired    = kindError{msg: "payment session expired", kind: "payment_expired"}
	ErrPaymentCanceled   = kindError{msg: "payment canceled", kind: "payment_canceled"}
	ErrPaymentDetached   = kindError{msg: "payment listener detached", kind: "payment_detached"}
)

// kindToStatus maps error classification kinds to HTTP status codes.
var kindToStatus = map[string]int{
	"auth_expired":          http.StatusUnauthorized,
	"unauthorized":          http.StatusUnauthorized,
	"forbidden":             http.StatusForbidden,
	"validation":            http.StatusBadRequest,
	"not_found":             http.StatusNotFound,
	"duplicate":             http.StatusConflict,
	"conflict":              http.StatusConflict,
	"transport":             http.StatusBadGateway,
	"upstream":              http.StatusBadGateway,
	"partial_order_failure": http.StatusMultiStatus,
	"total_order_failure":   http.StatusBadGateway,
	"payment_unresolved":    http.StatusAccepted,
	"payment_expired":       http.StatusGone,
	"payment_canceled":      http.StatusConflict,
	"payment_detached":      http.StatusConflict,
	"timeout":               http.StatusGatewayTimeout,
	"canceled":              http.StatusRequestTimeout,
}

// Kind returns the classification of err.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	var k kinder
	if errors.As(err, &k) {
		return k.Kind()
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}

// HTTPStatus maps err to the status code the API answers with.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if s, ok := kindToStatus[Kind(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}
