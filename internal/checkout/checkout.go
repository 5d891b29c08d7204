// Package checkout runs one checkout attempt on the client: it groups the
// cart per store, opens the payment, and after the payment signal creates
// the per-store orders and resolves the order summary.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iliamunaev/multivendor-checkout/internal/apperr"
	"github.com/iliamunaev/multivendor-checkout/internal/logger"
	"github.com/iliamunaev/multivendor-checkout/internal/model"
	"github.com/iliamunaev/multivendor-checkout/internal/order"
	"github.com/iliamunaev/multivendor-checkout/internal/service/cart"
	"github.com/iliamunaev/multivendor-checkout/internal/service/confirmation"
	"github.com/iliamunaev/multivendor-checkout/internal/service/payment"
)

// State is how the UI presents the end of a checkout attempt.
type State string

const (
	StateSuccess        State = "success"
	StatePartialSuccess State = "partial_success"
	StateRetry          State = "retry"
)

// maxCatalogFetches bounds concurrent store profile lookups.
const maxCatalogFetches = 4

type CartSource interface {
	CartLines(ctx context.Context) ([]model.CartLine, error)
}

type Catalog interface {
	Store(ctx context.Context, storeID string) (model.StoreProfile, error)
}

type PaymentOpener interface {
	Open(ctx context.Context, sum decimal.Decimal, buyer model.Buyer, groups []model.StoreGroup) (*payment.Session, error)
}

type Confirmer interface {
	AwaitNotification(ctx context.Context, ref string) (model.PaymentNotification, error)
	Await(ctx context.Context, ref string) (confirmation.Summary, error)
}

type Finalizer interface {
	Finalize(ctx context.Context, in order.Input) (order.Result, error)
}

// Deps are the collaborators of a Flow.
type Deps struct {
	Cart      CartSource
	Catalog   Catalog
	Payments  PaymentOpener
	Confirmer Confirmer
	Orders    Finalizer
}

// Flow drives checkout attempts.
type Flow struct {
	deps Deps
}

// New creates a Flow. It panics on missing dependencies.
func New(d Deps) *Flow {
	if d.Cart == nil || d.Catalog == nil || d.Payments == nil || d.Confirmer == nil || d.Orders == nil {
		panic("checkout.New: missing dependency")
	}
	return &Flow{deps: d}
}

// Prepared is a validated cart ready for payment.
type Prepared struct {
	UserID string
	Buyer  model.Buyer
	Groups []model.StoreGroup
	Total  decimal.Decimal
}

// Outcome is the user-visible result of Complete.
type Outcome struct {
	State         State                 `json:"state"`
	TransactionID string                `json:"transaction_id,omitempty"`
	Total         decimal.Decimal       `json:"total"`
	Summary       confirmation.Summary  `json:"summary"`
	Failures      []apperr.StoreFailure `json:"-"`
}

// ValidateBuyer checks the buyer form against the chosen delivery methods.
// It never touches the network.
func ValidateBuyer(b model.Buyer, choices map[string]model.DeliveryMethod) error {
	if strings.TrimSpace(b.Name) == "" {
		return apperr.Validation("name", "is required")
	}
	if strings.TrimSpace(b.Email) == "" {
		return apperr.Validation("email", "is required")
	}
	if _, err := mail.ParseAddress(b.Email); err != nil {
		return apperr.Validation("email", "is not a valid address")
	}
	if strings.TrimSpace(b.Phone) == "" {
		return apperr.Validation("phone", "is required")
	}
	for storeID, m := range choices {
		if m != "" && !m.Valid() {
			return apperr.Validation("delivery_method", fmt.Sprintf("unknown method %q for store %s", m, storeID))
		}
		if m == model.DeliveryCourier && strings.TrimSpace(b.Address) == "" {
			return apperr.Validation("address", "is required for courier delivery")
		}
	}
	return nil
}

// Prepare validates the buyer, loads the cart and the shipping catalog of its
// stores, and groups the cart.
func (f *Flow) Prepare(ctx context.Context, userID string, buyer model.Buyer, choices map[string]model.DeliveryMethod) (Prepared, error) {
	if err := ValidateBuyer(buyer, choices); err != nil {
		return Prepared{}, err
	}

	lines, err := f.deps.Cart.CartLines(ctx)
	if err != nil {
		return Prepared{}, fmt.Errorf("load cart: %w", err)
	}
	if len(lines) == 0 {
		return Prepared{}, apperr.Validation("cart", "is empty")
	}

	catalog, err := f.loadCatalog(ctx, cart.StoreIDs(lines))
	if err != nil {
		return Prepared{}, err
	}

	groups, err := cart.Group(lines, choices, catalog)
	if err != nil {
		return Prepared{}, err
	}
	if err := cart.Validate(groups); err != nil {
		return Prepared{}, err
	}

	return Prepared{UserID: userID, Buyer: buyer, Groups: groups, Total: cart.Total(groups)}, nil
}

func (f *Flow) loadCatalog(ctx context.Context, storeIDs []string) (map[string]model.StoreProfile, error) {
	profiles := make([]model.StoreProfile, len(storeIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxCatalogFetches)
	for i, id := range storeIDs {
		i, id := i, id
		g.Go(func() error {
			p, err := f.deps.Catalog.Store(gctx, id)
			if err != nil {
				return fmt.Errorf("load store %s: %w", id, err)
			}
			profiles[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]model.StoreProfile, len(storeIDs))
	for i, id := range storeIDs {
		out[id] = profiles[i]
	}
	return out, nil
}

// Pay opens the hosted payment for p.
func (f *Flow) Pay(ctx context.Context, p Prepared) (*payment.Session, error) {
	return f.deps.Payments.Open(ctx, p.Total, p.Buyer, p.Groups)
}

// Complete waits for the payment signal, confirms the notification, creates
// the store orders and resolves the summary.
//
// A partial order failure is not an error: the outcome is partial_success and
// lists the failed stores. Retry outcomes come with the causing error.
func (f *Flow) Complete(ctx context.Context, p Prepared, s *payment.Session) (Outcome, error) {
	log := logger.FromCtx(ctx)
	retry := Outcome{State: StateRetry, Total: p.Total}

	sig, err := s.AwaitCompletion(ctx)
	if err != nil {
		s.Detach()
		return retry, fmt.Errorf("await payment: %w", err)
	}
	retry.TransactionID = sig.ExternalReference

	note, err := f.deps.Confirmer.AwaitNotification(ctx, sig.ExternalReference)
	if err != nil {
		return retry, err
	}

	res, err := f.deps.Orders.Finalize(ctx, order.Input{
		Notification: note,
		Groups:       p.Groups,
		Buyer:        p.Buyer,
		UserID:       p.UserID,
	})
	var partial *apperr.PartialOrderFailure
	if err != nil && !errors.As(err, &partial) {
		retry.Failures = res.Failures
		return retry, err
	}

	out := Outcome{
		State:         StateSuccess,
		TransactionID: res.TransactionID,
		Total:         p.Total,
		Failures:      res.Failures,
	}
	if partial != nil {
		out.State = StatePartialSuccess
	}

	summary, err := f.deps.Confirmer.Await(ctx, res.TransactionID)
	if err != nil {
		log.Warn(ctx, "order summary unavailable",
			zap.String("transaction_id", res.TransactionID),
			zap.Error(err))
	}
	out.Summary = summary
	return out, nil
}
