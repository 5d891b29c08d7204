// Package order splits a paid checkout into one order per store.
//
// Each store group is submitted independently: one store's failure neither
// blocks nor rolls back another store's order. The shared transaction id is
// the de-duplication key, so a repeated finalize for the same payment yields
// the same orders instead of new ones.
package order

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iliamunaev/multivendor-checkout/internal/apperr"
	"github.com/iliamunaev/multivendor-checkout/internal/logger"
	"github.com/iliamunaev/multivendor-checkout/internal/model"
	"github.com/iliamunaev/multivendor-checkout/internal/service/pool"
	"github.com/iliamunaev/multivendor-checkout/internal/service/tracker"
	"github.com/iliamunaev/multivendor-checkout/internal/service/vendor"
)

// OrderCreator is the per-store order collaborator. It is idempotent on
// (transaction id, store id); created is false for an existing record.
type OrderCreator interface {
	CreateOrder(ctx context.Context, draft model.OrderDraft) (rec model.OrderRecord, created bool, err error)
}

// TransactionIndex is the user's order index.
type TransactionIndex interface {
	AppendTransaction(ctx context.Context, transactionID string) error
}

// CartClearer empties the server-side cart.
type CartClearer interface {
	ClearCart(ctx context.Context) error
}

// LocalCart is the client-side cart state reset together with the server cart.
type LocalCart interface {
	Reset()
}

// Input is everything Finalize needs. Each group carries its delivery choice.
type Input struct {
	Notification model.PaymentNotification
	Groups       []model.StoreGroup
	Buyer        model.Buyer
	UserID       string
}

// Result lists the created orders and the failed stores, both in group order.
type Result struct {
	TransactionID string
	Orders        []model.OrderRecord
	Failures      []apperr.StoreFailure
	Steps         []model.StepResult
	CartCleared   bool
}

// Option configures a Service.
type Option func(*Service)

// WithParallelism submits up to n store groups at once. n <= 1 keeps the
// default sequential order.
func WithParallelism(n int) Option {
	return func(s *Service) {
		if n > 1 {
			s.pool = pool.New(n)
		}
	}
}

// WithTracker counts in-flight store submissions on tr.
func WithTracker(tr *tracker.Tracker) Option {
	return func(s *Service) {
		if tr != nil {
			s.tr = tr
		}
	}
}

// WithLocalCart resets c after the server cart is cleared.
func WithLocalCart(c LocalCart) Option {
	return func(s *Service) { s.local = c }
}

// WithNotifyTimeout bounds each confirmation notification.
func WithNotifyTimeout(d time.Duration) Option {
	return func(s *Service) { s.notifyTimeout = d }
}

// Service orchestrates per-store order creation.
type Service struct {
	orders   OrderCreator
	index    TransactionIndex
	notifier vendor.Sender
	cart     CartClearer
	local    LocalCart

	pool          *pool.Pool
	tr            *tracker.Tracker
	notifyTimeout time.Duration
}

// New creates a Service. It panics on nil collaborators.
func New(orders OrderCreator, index TransactionIndex, notifier vendor.Sender, cart CartClearer, opts ...Option) *Service {
	if orders == nil {
		panic("order.New: nil order creator")
	}
	if index == nil {
		panic("order.New: nil transaction index")
	}
	if notifier == nil {
		panic("order.New: nil notifier")
	}
	if cart == nil {
		panic("order.New: nil cart clearer")
	}
	s := &Service{
		orders:        orders,
		index:         index,
		notifier:      notifier,
		cart:          cart,
		tr:            &tracker.Tracker{},
		notifyTimeout: vendor.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Running reports the number of store submissions in flight.
func (s *Service) Running() int64 { return s.tr.Running() }

// outcome is the settled submission of one group.
type outcome struct {
	rec  model.OrderRecord
	err  error
	step model.StepResult
}

// Finalize creates one order per group for the paid transaction.
//
// It returns the result together with *apperr.PartialOrderFailure when some
// stores failed, or *apperr.TotalOrderFailure when all of them did. The cart
// is cleared exactly once, and only if at least one order exists.
func (s *Service) Finalize(ctx context.Context, in Input) (Result, error) {
	txID := in.Notification.ExternalReference
	if txID == "" {
		return Result{}, apperr.Validation("transaction_id", "is required")
	}
	if len(in.Groups) == 0 {
		return Result{}, apperr.Validation("groups", "at least one store group is required")
	}

	log := logger.FromCtx(ctx)
	outcomes := make([]outcome, len(in.Groups))

	record := func(i int, fn func() (model.OrderRecord, string, error)) {
		start := time.Now()
		rec, detail, err := fn()
		durMS := time.Since(start).Milliseconds()

		st := "ok"
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				st = "canceled"
			} else {
				st = "error"
			}
			detail = apperr.Kind(err)
		}

		// Each goroutine writes only its own index.
		outcomes[i] = outcome{
			rec: rec,
			err: err,
			step: model.StepResult{
				Name:       "store:" + in.Groups[i].StoreID,
				Status:     st,
				DurationMS: durMS,
				Detail:     detail,
			},
		}
	}

	submit := func(i int) func() (model.OrderRecord, string, error) {
		return func() (model.OrderRecord, string, error) {
			return s.submit(ctx, txID, in, in.Groups[i])
		}
	}

	if s.pool == nil {
		for i := range in.Groups {
			record(i, submit(i))
		}
	} else {
		// Plain Group: a failing store must not cancel its siblings.
		var g errgroup.Group
		for i := range in.Groups {
			i := i
			g.Go(func() error {
				err := s.pool.Run(ctx, func() error {
					record(i, submit(i))
					return nil
				})
				if err != nil {
					record(i, func() (model.OrderRecord, string, error) { return model.OrderRecord{}, "", err })
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	res := Result{TransactionID: txID}
	for i, o := range outcomes {
		res.Steps = append(res.Steps, o.step)
		if o.err != nil {
			res.Failures = append(res.Failures, apperr.StoreFailure{
				StoreID: in.Groups[i].StoreID,
				Kind:    apperr.Kind(o.err),
				Err:     o.err,
			})
			continue
		}
		res.Orders = append(res.Orders, o.rec)
	}

	if len(res.Orders) == 0 {
		log.Error(ctx, "all store orders failed, cart preserved",
			zap.String("transaction_id", txID),
			zap.Int("stores", len(in.Groups)))
		return res, &apperr.TotalOrderFailure{Failures: res.Failures}
	}

	res.CartCleared = s.clearCart(ctx)

	if len(res.Failures) > 0 {
		log.Warn(ctx, "some store orders failed",
			zap.String("transaction_id", txID),
			zap.Int("succeeded", len(res.Orders)),
			zap.Int("failed", len(res.Failures)))
		return res, &apperr.PartialOrderFailure{Succeeded: len(res.Orders), Failures: res.Failures}
	}

	log.Info(ctx, "checkout finalized",
		zap.String("transaction_id", txID),
		zap.Int("orders", len(res.Orders)))
	return res, nil
}

// submit creates the order of one group, links it to the user's index and
// sends the confirmation. Only the creation decides success. An order that
// already existed was linked and confirmed by the run that created it.
func (s *Service) submit(ctx context.Context, txID string, in Input, g model.StoreGroup) (model.OrderRecord, string, error) {
	s.tr.Inc()
	defer s.tr.Dec()

	log := logger.FromCtx(ctx)
	draft := Draft(txID, in.UserID, in.Buyer, g)

	rec, created, err := s.orders.CreateOrder(ctx, draft)
	switch {
	case errors.Is(err, apperr.ErrDuplicateOrder):
		return fromDraft(draft), "existing", nil
	case err != nil:
		log.Warn(ctx, "store order failed",
			zap.String("store_id", g.StoreID),
			zap.String("transaction_id", txID),
			zap.Error(err))
		return model.OrderRecord{}, "", err
	case !created:
		log.Info(ctx, "store order already exists",
			zap.String("store_id", g.StoreID),
			zap.String("order_id", rec.OrderID))
		return rec, "existing", nil
	}

	if err := s.index.AppendTransaction(ctx, txID); err != nil {
		log.Error(ctx, "order index append failed",
			zap.String("store_id", g.StoreID),
			zap.String("transaction_id", txID),
			zap.Error(err))
	}

	conf := vendor.Confirmation(rec, g, in.Buyer)
	if err := vendor.Notify(ctx, s.notifier, conf, s.notifyTimeout); err != nil {
		log.Warn(ctx, "order confirmation not sent",
			zap.String("store_id", g.StoreID),
			zap.String("order_id", rec.OrderID),
			zap.Error(err))
	}
	return rec, "", nil
}

func (s *Service) clearCart(ctx context.Context) bool {
	cleared := true
	if err := s.cart.ClearCart(ctx); err != nil {
		cleared = false
		logger.FromCtx(ctx).Error(ctx, "server cart clear failed", zap.Error(err))
	}
	if s.local != nil {
		s.local.Reset()
	}
	return cleared
}

// Draft builds the creation request of one store group.
func Draft(txID, userID string, buyer model.Buyer, g model.StoreGroup) model.OrderDraft {
	lines := make([]model.OrderLine, 0, len(g.Lines))
	for _, l := range g.Lines {
		name := l.Product.Name
		if name == "" {
			name = l.ProductID
		}
		lines = append(lines, model.OrderLine{
			ProductID: l.ProductID,
			Name:      name,
			UnitPrice: l.UnitPrice,
			Quantity:  l.Quantity,
		})
	}
	return model.OrderDraft{
		TransactionID: txID,
		StoreID:       g.StoreID,
		BuyerID:       userID,
		Buyer:         buyer,
		Lines:         lines,
		Delivery: model.Delivery{
			Method: g.DeliveryMethod,
			Status: model.DeliveryStatusPending,
		},
		TotalAmount: g.Subtotal,
	}
}

func fromDraft(d model.OrderDraft) model.OrderRecord {
	return model.OrderRecord{
		TransactionID: d.TransactionID,
		StoreID:       d.StoreID,
		BuyerID:       d.BuyerID,
		Status:        model.OrderPending,
		TotalAmount:   d.TotalAmount,
		Buyer:         d.Buyer,
		Lines:         d.Lines,
		Delivery:      d.Delivery,
	}
}

