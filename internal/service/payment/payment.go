// Package payment opens hosted payment sessions and detects their completion
// through an out-of-band signal from the embedded payment frame.
//
// The broker never polls the gateway. A session resolves when a
// PAYMENT_SUCCESS signal arrives, when the buyer cancels, when it expires,
// or when the checkout view detaches from it.
package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iliamunaev/multivendor-checkout/internal/apperr"
	"github.com/iliamunaev/multivendor-checkout/internal/bus"
	"github.com/iliamunaev/multivendor-checkout/internal/logger"
	"github.com/iliamunaev/multivendor-checkout/internal/model"
)

// DefaultTTL bounds how long an unpaid session waits for its signal.
const DefaultTTL = 15 * time.Minute

// FormCreator asks the backend, which owns the gateway credentials, for a form.
type FormCreator interface {
	CreateForm(ctx context.Context, req model.FormRequest) (model.FormResponse, error)
}

// LineItems flattens groups into billable items: every product line plus one
// delivery line per group, so the items always add up to the cart total.
func LineItems(groups []model.StoreGroup) []model.LineItem {
	items := make([]model.LineItem, 0)
	for _, g := range groups {
		for _, l := range g.Lines {
			name := l.Product.Name
			if name == "" {
				name = l.ProductID
			}
			items = append(items, model.LineItem{
				Description: name,
				UnitPrice:   l.UnitPrice,
				Quantity:    l.Quantity,
			})
		}
		items = append(items, model.LineItem{
			Description: fmt.Sprintf("Delivery: %s (%s)", g.DeliveryMethod, g.StoreName),
			UnitPrice:   g.DeliveryCost,
			Quantity:    1,
		})
	}
	return items
}

// Sum adds up the item totals.
func Sum(items []model.LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Total())
	}
	return sum
}

// Option configures a Broker.
type Option func(*Broker)

// WithTTL sets the session expiry. A non-positive ttl disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(b *Broker) { b.ttl = ttl }
}

// Broker opens payment sessions.
type Broker struct {
	forms   FormCreator
	signals *bus.Bus[model.PaymentSignal]
	ttl     time.Duration
	now     func() time.Time
}

// NewBroker creates a Broker listening for signals on the given bus.
func NewBroker(forms FormCreator, signals *bus.Bus[model.PaymentSignal], opts ...Option) *Broker {
	if forms == nil {
		panic("payment.NewBroker: nil form creator")
	}
	if signals == nil {
		panic("payment.NewBroker: nil signal bus")
	}
	b := &Broker{forms: forms, signals: signals, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open requests a hosted form for sum and starts listening for its
// completion signal. sum must equal the total of the groups' line items.
func (b *Broker) Open(ctx context.Context, sum decimal.Decimal, buyer model.Buyer, groups []model.StoreGroup) (*Session, error) {
	if len(groups) == 0 {
		return nil, apperr.Validation("cart", "is empty")
	}
	items := LineItems(groups)
	if total := Sum(items); !total.Equal(sum) {
		return nil, apperr.Validation("sum", fmt.Sprintf("%s does not match line items total %s", sum, total))
	}
	if !sum.IsPositive() {
		return nil, apperr.Validation("sum", "must be positive")
	}

	form, err := b.forms.CreateForm(ctx, model.FormRequest{Sum: sum, Buyer: buyer, Items: items})
	if err != nil {
		return nil, fmt.Errorf("create payment form: %w", err)
	}

	s := &Session{
		ID:     form.SessionID,
		Sum:    sum,
		Items:  items,
		Form:   form.Markup,
		status: model.PaymentPending,
		done:   make(chan struct{}),
	}
	if b.ttl > 0 {
		s.ExpiresAt = b.now().Add(b.ttl)
	}

	// A signal published while subscribing blocks in settle until the
	// listener and timer are in place.
	s.mu.Lock()
	s.unsubscribe = b.signals.Subscribe(s.onSignal)
	if b.ttl > 0 {
		s.timer = time.AfterFunc(b.ttl, func() {
			s.settle(model.PaymentExpired, model.PaymentSignal{}, apperr.ErrPaymentExpired)
		})
	}
	s.mu.Unlock()

	logger.FromCtx(ctx).Info(ctx, "payment session opened",
		zap.String("session_id", s.ID),
		zap.String("sum", sum.String()),
		zap.Int("items", len(items)))
	return s, nil
}

// Session is one hosted payment attempt. It is immutable once settled.
type Session struct {
	ID        string
	Sum       decimal.Decimal
	Items     []model.LineItem
	Form      string
	ExpiresAt time.Time

	mu          sync.Mutex
	status      model.PaymentStatus
	signal      model.PaymentSignal
	err         error
	settled     bool
	done        chan struct{}
	unsubscribe func()
	timer       *time.Timer
}

// Status returns the current state.
func (s *Session) Status() model.PaymentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// AwaitCompletion blocks until the session settles or ctx ends. On success it
// returns the completion signal carrying the external reference.
func (s *Session) AwaitCompletion(ctx context.Context) (model.PaymentSignal, error) {
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.signal, s.err
	case <-ctx.Done():
		return model.PaymentSignal{}, ctx.Err()
	}
}

// Cancel abandons the session on the buyer's request.
func (s *Session) Cancel() {
	s.settle(model.PaymentCanceled, model.PaymentSignal{}, apperr.ErrPaymentCanceled)
}

// Detach stops listening without changing the payment status, so a stale
// signal arriving later is ignored.
func (s *Session) Detach() {
	s.settle("", model.PaymentSignal{}, apperr.ErrPaymentDetached)
}

// onSignal accepts only a success-tagged signal with a reference. The frame
// relay does not check the message origin, so the type tag is the only filter.
func (s *Session) onSignal(sig model.PaymentSignal) {
	if sig.Type != model.SignalPaymentSuccess || sig.ExternalReference == "" {
		return
	}
	s.settle(model.PaymentCompleted, sig, nil)
}

// settle records the first outcome and releases the listener.
func (s *Session) settle(status model.PaymentStatus, sig model.PaymentSignal, err error) bool {
	s.mu.Lock()
	if s.settled {
		s.mu.Unlock()
		return false
	}
	s.settled = true
	if status != "" {
		s.status = status
	}
	s.signal = sig
	s.err = err
	if s.timer != nil {
		s.timer.Stop()
	}
	close(s.done)
	unsubscribe := s.unsubscribe
	s.mu.Unlock()

	// Unsubscribing takes the bus lock; never hold s.mu here.
	if unsubscribe != nil {
		unsubscribe()
	}
	return true
}
