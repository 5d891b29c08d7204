package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ValidationError blocks a request before any side effect happens.
type ValidationError struct {
	Field  string
	Reason string
}

// Validation returns a *ValidationError for field.
func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Kind() string { return "validation" }

// IsValidation reports whether err wraps a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// TransportError wraps a network or timeout failure of a non-auth call.
type TransportError struct {
	Op  string
	Err error
}

// Transport wraps err as a *TransportError unless it is nil.
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Op: op, Err: err}
}

func (e *TransportError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }
func (e *TransportError) Kind() string  { return "transport" }

// StatusError is a non-2xx answer from a collaborator. Reason is the error
// kind the collaborator reported in its body, if any.
type StatusError struct {
	Code    int
	Reason  string
	Message string
}

func (e *StatusError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = http.StatusText(e.Code)
	}
	return fmt.Sprintf("upstream status %d: %s", e.Code, msg)
}

func (e *StatusError) Kind() string {
	switch e.Code {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return "validation"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		if e.Reason == "duplicate" {
			return "duplicate"
		}
		return "conflict"
	}
	return "upstream"
}

// Is lets callers match a StatusError against the sentinel of its status.
// A 409 is a duplicate only when the collaborator says so.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrOrderNotFound, ErrNotFound:
		return e.Code == http.StatusNotFound
	case ErrDuplicateOrder:
		return e.Code == http.StatusConflict && e.Reason == "duplicate"
	case ErrConflict:
		return e.Code == http.StatusConflict && e.Reason != "duplicate"
	case ErrUnauthorized:
		return e.Code == http.StatusUnauthorized
	case ErrForbidden:
		return e.Code == http.StatusForbidden
	}
	return false
}

// StoreFailure is the failed creation of one store's order.
type StoreFailure struct {
	StoreID string
	Kind    string
	Err     error
}

func (f StoreFailure) Error() string { return "store " + f.StoreID + ": " + f.Err.Error() }
func (f StoreFailure) Unwrap() error { return f.Err }

func unwrapFailures(fs []StoreFailure) []error {
	out := make([]error, len(fs))
	for i, f := range fs {
		out[i] = f
	}
	return out
}

// PartialOrderFailure is returned when some, but not all, store orders were
// created. It is not fatal: the created orders stand.
type PartialOrderFailure struct {
	Succeeded int
	Failures  []StoreFailure
}

func (e *PartialOrderFailure) Error() string {
	return fmt.Sprintf("%d of %d store orders failed", len(e.Failures), len(e.Failures)+e.Succeeded)
}
func (e *PartialOrderFailure) Kind() string    { return "partial_order_failure" }
func (e *PartialOrderFailure) Unwrap() []error { return unwrapFailures(e.Failures) }

// TotalOrderFailure is returned when no store order was created. The cart is kept.
type TotalOrderFailure struct {
	Failures []StoreFailure
}

func (e *TotalOrderFailure) Error() string {
	return fmt.Sprintf("all %d store orders failed", len(e.Failures))
}
func (e *TotalOrderFailure) Kind() string    { return "total_order_failure" }
func (e *TotalOrderFailure) Unwrap() []error { return unwrapFailures(e.Failures) }
