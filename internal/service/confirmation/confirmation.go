// Package confirmation turns the payment reference of a finished checkout
// into the order summary shown to the buyer.
//
// Order records may land after the payment signal, so an unresolved reference
// is first reported as loading and re-queried. Only when the attempts run
// out does it become not found.
package confirmation

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iliamunaev/multivendor-checkout/internal/apperr"
	"github.com/iliamunaev/multivendor-checkout/internal/logger"
	"github.com/iliamunaev/multivendor-checkout/internal/model"
	"github.com/iliamunaev/multivendor-checkout/internal/service/shared"
)

// State is the presentable state of a summary.
type State string

const (
	StateLoading  State = "loading"
	StateResolved State = "resolved"
	StateNotFound State = "not_found"
)

const (
	defaultAttempts    = 8
	defaultInterval    = 250 * time.Millisecond
	defaultMaxInterval = 4 * time.Second
)

// OrderLookup finds the caller's orders of one transaction.
type OrderLookup interface {
	OrdersByTransaction(ctx context.Context, transactionID string) ([]model.OrderRecord, error)
}

// NotificationLookup fetches the gateway notification of a reference.
// Until it exists the lookup fails with kind not_found.
type NotificationLookup interface {
	Notification(ctx context.Context, ref string) (model.PaymentNotification, error)
}

// Summary is what the buyer sees after paying.
type Summary struct {
	State         State               `json:"state"`
	TransactionID string              `json:"transaction_id"`
	Total         decimal.Decimal     `json:"total"`
	Orders        []model.OrderRecord `json:"orders,omitempty"`
}

// Option configures a Finalizer.
type Option func(*Finalizer)

// WithAttempts sets how many lookups Await and AwaitNotification make.
func WithAttempts(n int) Option {
	return func(f *Finalizer) {
		if n > 0 {
			f.attempts = n
		}
	}
}

// WithInterval sets the first wait between lookups and its cap.
func WithInterval(base, max time.Duration) Option {
	return func(f *Finalizer) {
		f.interval = base
		f.maxInterval = max
	}
}

// Finalizer resolves payment references.
type Finalizer struct {
	orders        OrderLookup
	notifications NotificationLookup

	attempts    int
	interval    time.Duration
	maxInterval time.Duration
}

// New creates a Finalizer. It panics on nil dependencies.
func New(orders OrderLookup, notifications NotificationLookup, opts ...Option) *Finalizer {
	if orders == nil {
		panic("confirmation.New: nil order lookup")
	}
	if notifications == nil {
		panic("confirmation.New: nil notification lookup")
	}
	f := &Finalizer{
		orders:        orders,
		notifications: notifications,
		attempts:      defaultAttempts,
		interval:      defaultInterval,
		maxInterval:   defaultMaxInterval,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Resolve makes a single lookup. A reference without orders yet is loading.
func (f *Finalizer) Resolve(ctx context.Context, ref string) (Summary, error) {
	if ref == "" {
		return Summary{}, apperr.Validation("external_reference", "is required")
	}
	loading := Summary{State: StateLoading, TransactionID: ref}

	orders, err := f.orders.OrdersByTransaction(ctx, ref)
	if err != nil {
		if apperr.Kind(err) == "not_found" {
			return loading, nil
		}
		return loading, fmt.Errorf("lookup orders of %s: %w", ref, err)
	}
	if len(orders) == 0 {
		return loading, nil
	}

	total := decimal.Zero
	for _, o := range orders {
		total = total.Add(o.TotalAmount)
	}
	return Summary{State: StateResolved, TransactionID: ref, Total: total, Orders: orders}, nil
}

// Await re-queries with backoff until the reference resolves. Running out of
// attempts yields a not_found summary and apperr.ErrOrderNotFound.
func (f *Finalizer) Await(ctx context.Context, ref string) (Summary, error) {
	for attempt := 0; attempt < f.attempts; attempt++ {
		if attempt > 0 {
			if err := shared.PauseBeforeRetry(ctx, attempt, f.interval, f.maxInterval); err != nil {
				return Summary{State: StateLoading, TransactionID: ref}, err
			}
		}

		s, err := f.Resolve(ctx, ref)
		if err != nil || s.State == StateResolved {
			return s, err
		}
		logger.FromCtx(ctx).Debug(ctx, "order summary still loading",
			zap.String("transaction_id", ref),
			zap.Int("attempt", attempt+1))
	}

	logger.FromCtx(ctx).Warn(ctx, "order summary not found",
		zap.String("transaction_id", ref),
		zap.Int("attempts", f.attempts))
	return Summary{State: StateNotFound, TransactionID: ref}, apperr.ErrOrderNotFound
}

// AwaitNotification polls until the gateway notification for ref is visible.
// Running out of attempts yields apperr.ErrPaymentUnresolved, which is
// distinct from a not-found reference.
func (f *Finalizer) AwaitNotification(ctx context.Context, ref string) (model.PaymentNotification, error) {
	if ref == "" {
		return model.PaymentNotification{}, apperr.Validation("external_reference", "is required")
	}
	for attempt := 0; attempt < f.attempts; attempt++ {
		if attempt > 0 {
			if err := shared.PauseBeforeRetry(ctx, attempt, f.interval, f.maxInterval); err != nil {
				return model.PaymentNotification{}, err
			}
		}

		n, err := f.notifications.Notification(ctx, ref)
		if err == nil {
			return n, nil
		}
		if apperr.Kind(err) != "not_found" {
			return model.PaymentNotification{}, fmt.Errorf("fetch payment notification %s: %w", ref, err)
		}
	}

	logger.FromCtx(ctx).Warn(ctx, "payment notification unresolved",
		zap.String("external_reference", ref),
		zap.Int("attempts", f.attempts))
	return model.PaymentNotification{}, apperr.ErrPaymentUnresolved
}
