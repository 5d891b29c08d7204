// Package order is the backend side of per-store orders: idempotent creation
// and the status and delivery lifecycle.
package order

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iliamunaev/multivendor-checkout/internal/analytics"
	"github.com/iliamunaev/multivendor-checkout/internal/apperr"
	"github.com/iliamunaev/multivendor-checkout/internal/auth"
	"github.com/iliamunaev/multivendor-checkout/internal/logger"
	"github.com/iliamunaev/multivendor-checkout/internal/model"
	"github.com/iliamunaev/multivendor-checkout/internal/service/courier"
	"github.com/iliamunaev/multivendor-checkout/internal/service/tracker"
)

// Repository persists orders.
type Repository interface {
	Create(ctx context.Context, rec model.OrderRecord) (model.OrderRecord, bool, error)
	ByTransaction(ctx context.Context, buyerID, transactionID string) ([]model.OrderRecord, error)
	Mutate(ctx context.Context, storeID, orderID string, fn func(*model.OrderRecord) error) (model.OrderRecord, error)
}

// Stores resolves store data the service checks against.
type Stores interface {
	Profile(ctx context.Context, storeID string) (model.StoreProfile, error)
	OwnerID(ctx context.Context, storeID string) (string, error)
}

// FactRecorder receives analytics facts. Record must not block.
type FactRecorder interface {
	Record(ctx context.Context, f analytics.Fact) bool
}

// Outcomes counts created and existing orders.
type Outcomes interface {
	OrderCreated(created bool)
}

type Option func(*Service)

func WithFacts(r FactRecorder) Option { return func(s *Service) { s.facts = r } }

func WithOutcomes(o Outcomes) Option { return func(s *Service) { s.outcomes = o } }

func WithTracker(t *tracker.Tracker) Option { return func(s *Service) { s.tr = t } }

// Service owns per-store orders.
type Service struct {
	orders   Repository
	stores   Stores
	tr       *tracker.Tracker
	facts    FactRecorder
	outcomes Outcomes
	now      func() time.Time
}

// New creates a Service. It panics on nil dependencies.
func New(orders Repository, stores Stores, opts ...Option) *Service {
	if orders == nil {
		panic("order.New: nil repository")
	}
	if stores == nil {
		panic("order.New: nil stores")
	}
	s := &Service{orders: orders, stores: stores, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if s.tr == nil {
		s.tr = &tracker.Tracker{}
	}
	return s
}

// Create stores the caller's order for storeID. Repeating a submission for
// the same transaction returns the stored order with created false.
func (s *Service) Create(ctx context.Context, p auth.Principal, storeID string, d model.OrderDraft) (model.OrderRecord, bool, error) {
	d.StoreID = storeID
	d.BuyerID = p.SubjectID
	if err := s.validateDraft(ctx, d); err != nil {
		return model.OrderRecord{}, false, err
	}

	s.tr.Inc()
	defer s.tr.Dec()

	rec, created, err := s.orders.Create(ctx, model.OrderRecord{
		TransactionID: d.TransactionID,
		StoreID:       d.StoreID,
		BuyerID:       d.BuyerID,
		Status:        model.OrderPending,
		TotalAmount:   d.TotalAmount,
		Buyer:         d.Buyer,
		Lines:         d.Lines,
		Delivery:      model.Delivery{Method: d.Delivery.Method, Status: model.DeliveryStatusPending},
	})
	if err != nil {
		return model.OrderRecord{}, false, err
	}

	if s.outcomes != nil {
		s.outcomes.OrderCreated(created)
	}
	if created {
		s.fact(ctx, rec, analytics.EventCreated)
		logger.FromCtx(ctx).Info(ctx, "order created",
			zap.String("order_id", rec.OrderID),
			zap.String("transaction_id", rec.TransactionID),
			zap.String("store_id", rec.StoreID))
	}
	return rec, created, nil
}

// validateDraft checks the draft against the store's shipping catalog: the
// total must equal the lines plus the delivery cost of the chosen method.
func (s *Service) validateDraft(ctx context.Context, d model.OrderDraft) error {
	switch {
	case d.TransactionID == "":
		return apperr.Validation("transaction_id", "is required")
	case len(d.Lines) == 0:
		return apperr.Validation("lines", "must not be empty")
	case d.Buyer.Name == "" || d.Buyer.Email == "":
		return apperr.Validation("buyer", "name and email are required")
	}

	sum := decimal.Zero
	for i, l := range d.Lines {
		if l.ProductID == "" {
			return apperr.Validation(fmt.Sprintf("lines[%d].product_id", i), "is required")
		}
		if l.Quantity <= 0 {
			return apperr.Validation(fmt.Sprintf("lines[%d].quantity", i), "must be positive")
		}
		if l.UnitPrice.IsNegative() {
			return apperr.Validation(fmt.Sprintf("lines[%d].unit_price", i), "must not be negative")
		}
		sum = sum.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}

	profile, err := s.stores.Profile(ctx, d.StoreID)
	if err != nil {
		return err
	}
	cost, err := courier.Cost(d.Delivery.Method, profile.Shipping)
	if err != nil {
		return err
	}
	if want := sum.Add(cost); !want.Equal(d.TotalAmount) {
		return apperr.Validation("total_amount", fmt.Sprintf("%s does not match lines and delivery %s", d.TotalAmount, want))
	}
	if d.Delivery.Method == model.DeliveryCourier && d.Buyer.Address == "" {
		return apperr.Validation("buyer.address", "is required for courier delivery")
	}
	return nil
}

// ByTransaction lists the caller's orders of one checkout.
func (s *Service) ByTransaction(ctx context.Context, p auth.Principal, transactionID string) ([]model.OrderRecord, error) {
	if transactionID == "" {
		return nil, apperr.Validation("transaction_id", "is required")
	}
	return s.orders.ByTransaction(ctx, p.SubjectID, transactionID)
}

var statusNext = map[model.OrderStatus][]model.OrderStatus{
	model.OrderPending: {model.OrderPacked, model.OrderCanceled},
	model.OrderPacked:  {model.OrderShipped, model.OrderCanceled},
	model.OrderShipped: {model.OrderCompleted},
}

var deliveryNext = map[model.DeliveryStatus][]model.DeliveryStatus{
	model.DeliveryStatusPending:   {model.DeliveryStatusInTransit},
	model.DeliveryStatusInTransit: {model.DeliveryStatusDelivered, model.DeliveryStatusReturned},
	model.DeliveryStatusDelivered: {model.DeliveryStatusReturned},
}

func allowed[T comparable](next map[T][]T, from, to T) bool {
	if from == to {
		return true
	}
	for _, n := range next[from] {
		if n == to {
			return true
		}
	}
	return false
}

// UpdateStatus moves an order along pending → packed → shipped → completed.
// Pending and packed orders may be canceled.
func (s *Service) UpdateStatus(ctx context.Context, p auth.Principal, storeID, orderID string, st model.OrderStatus) (model.OrderRecord, error) {
	if !st.Valid() {
		return model.OrderRecord{}, apperr.Validation("status", fmt.Sprintf("unknown status %q", st))
	}
	if err := s.authorize(ctx, p, storeID); err != nil {
		return model.OrderRecord{}, err
	}

	rec, err := s.orders.Mutate(ctx, storeID, orderID, func(r *model.OrderRecord) error {
		if !allowed(statusNext, r.Status, st) {
			return fmt.Errorf("order %s cannot move from %s to %s: %w", r.OrderID, r.Status, st, apperr.ErrConflict)
		}
		r.Status = st
		return nil
	})
	if err != nil {
		return model.OrderRecord{}, err
	}
	s.fact(ctx, rec, analytics.EventStatus)
	return rec, nil
}

// UpdateDelivery tracks the shipment. Dispatch marks the order shipped and
// delivery marks it completed.
func (s *Service) UpdateDelivery(ctx context.Context, p auth.Principal, storeID, orderID string, upd model.DeliveryUpdate) (model.OrderRecord, error) {
	if !upd.Status.Valid() {
		return model.OrderRecord{}, apperr.Validation("status", fmt.Sprintf("unknown delivery status %q", upd.Status))
	}
	if err := s.authorize(ctx, p, storeID); err != nil {
		return model.OrderRecord{}, err
	}

	rec, err := s.orders.Mutate(ctx, storeID, orderID, func(r *model.OrderRecord) error {
		if r.Status == model.OrderCanceled {
			return fmt.Errorf("order %s is canceled: %w", r.OrderID, apperr.ErrConflict)
		}
		if !allowed(deliveryNext, r.Delivery.Status, upd.Status) {
			return fmt.Errorf("delivery of %s cannot move from %s to %s: %w", r.OrderID, r.Delivery.Status, upd.Status, apperr.ErrConflict)
		}
		if upd.Status == model.DeliveryStatusInTransit && r.Status == model.OrderPending {
			return fmt.Errorf("order %s is not packed: %w", r.OrderID, apperr.ErrConflict)
		}

		r.Delivery.Status = upd.Status
		if upd.TrackingNumber != "" {
			r.Delivery.TrackingNumber = upd.TrackingNumber
		}
		if upd.EstimatedDelivery != nil {
			r.Delivery.EstimatedDelivery = upd.EstimatedDelivery
		}

		switch upd.Status {
		case model.DeliveryStatusInTransit:
			r.Status = model.OrderShipped
		case model.DeliveryStatusDelivered:
			r.Status = model.OrderCompleted
		}
		return nil
	})
	if err != nil {
		return model.OrderRecord{}, err
	}
	s.fact(ctx, rec, analytics.EventDelivery)
	return rec, nil
}

// authorize lets admins manage every store and vendors manage their own.
func (s *Service) authorize(ctx context.Context, p auth.Principal, storeID string) error {
	switch p.Role {
	case auth.RoleAdmin:
		return nil
	case auth.RoleVendor:
		owner, err := s.stores.OwnerID(ctx, storeID)
		if err != nil {
			return err
		}
		if owner == p.SubjectID {
			return nil
		}
	}
	return apperr.ErrForbidden
}

func (s *Service) fact(ctx context.Context, rec model.OrderRecord, event string) {
	if s.facts == nil {
		return
	}
	s.facts.Record(ctx, analytics.FactFromOrder(rec, event, s.now()))
}

// Running returns the number of order submissions being stored.
func (s *Service) Running() int64 {
	return s.tr.Running()
}
