package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliamunaev/multivendor-checkout/internal/apperr"
	"github.com/iliamunaev/multivendor-checkout/internal/model"
	"github.com/iliamunaev/multivendor-checkout/internal/service/tracker"
)

type fakeOrders struct {
	mu       sync.Mutex
	records  map[string]model.OrderRecord
	fail     map[string]error
	calls    []string
	conflict bool // answer duplicates with a 409 duplicate instead of the existing record

	inFlight    atomic.Int64
	maxInFlight atomic.Int64
	barrier     *barrier
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{records: map[string]model.OrderRecord{}, fail: map[string]error{}}
}

func (f *fakeOrders) CreateOrder(ctx context.Context, d model.OrderDraft) (model.OrderRecord, bool, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	if f.barrier != nil {
		if err := f.barrier.wait(ctx); err != nil {
			return model.OrderRecord{}, false, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, d.StoreID)

	if err := f.fail[d.StoreID]; err != nil {
		return model.OrderRecord{}, false, err
	}
	key := d.TransactionID + "/" + d.StoreID
	if rec, ok := f.records[key]; ok {
		if f.conflict {
			return model.OrderRecord{}, false, &apperr.StatusError{Code: 409, Reason: "duplicate", Message: "order already exists"}
		}
		return rec, false, nil
	}
	rec := model.OrderRecord{
		TransactionID: d.TransactionID,
		OrderID:       fmt.Sprintf("o-%d", len(f.records)+1),
		StoreID:       d.StoreID,
		Status:        model.OrderPending,
		TotalAmount:   d.TotalAmount,
		Lines:         d.Lines,
		Delivery:      d.Delivery,
	}
	f.records[key] = rec
	return rec, true, nil
}

// barrier releases once n callers are waiting.
type barrier struct {
	mu      sync.Mutex
	n       int
	waiting int
	ch      chan struct{}
}

func newBarrier(n int) *barrier { return &barrier{n: n, ch: make(chan struct{})} }

func (b *barrier) wait(ctx context.Context) error {
	b.mu.Lock()
	b.waiting++
	if b.waiting == b.n {
		close(b.ch)
	}
	b.mu.Unlock()

	select {
	case <-b.ch:
		return nil
	case <-time.After(time.Second):
		return errors.New("barrier timeout: submissions are not concurrent")
	case <-ctx.Done():
		return ctx.Err()
	}
}

type fakeIndex struct {
	mu       sync.Mutex
	appended []string
	err      error
}

func (f *fakeIndex) AppendTransaction(_ context.Context, txID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, txID)
	return f.err
}

type fakeNotifier struct {
	sent atomic.Int64
	err  error
}

func (f *fakeNotifier) SendOrderConfirmation(context.Context, model.OrderConfirmation) error {
	f.sent.Add(1)
	return f.err
}

type fakeCart struct {
	clears atomic.Int64
	resets atomic.Int64
	err    error
}

func (f *fakeCart) ClearCart(context.Context) error {
	f.clears.Add(1)
	return f.err
}

func (f *fakeCart) Reset() { f.resets.Add(1) }

func groups(ids ...string) []model.StoreGroup {
	out := make([]model.StoreGroup, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.StoreGroup{
			StoreID:        id,
			StoreName:      "Store " + id,
			DeliveryMethod: model.DeliveryPickup,
			Subtotal:       decimal.NewFromInt(10),
			Lines: []model.CartLine{{
				ProductID: "p-" + id, StoreID: id, Quantity: 1, UnitPrice: decimal.NewFromInt(10),
			}},
		})
	}
	return out
}

func input(ref string, g []model.StoreGroup) Input {
	return Input{
		Notification: model.PaymentNotification{ExternalReference: ref, Amount: decimal.NewFromInt(int64(10 * len(g)))},
		Groups:       g,
		Buyer:        model.Buyer{Name: "Dana", Email: "dana@example.com", Phone: "050"},
		UserID:       "user-1",
	}
}

type fixture struct {
	orders   *fakeOrders
	index    *fakeIndex
	notifier *fakeNotifier
	cart     *fakeCart
}

func newFixture() *fixture {
	return &fixture{orders: newFakeOrders(), index: &fakeIndex{}, notifier: &fakeNotifier{}, cart: &fakeCart{}}
}

func (f *fixture) service(opts ...Option) *Service {
	opts = append([]Option{WithLocalCart(f.cart)}, opts...)
	return New(f.orders, f.index, f.notifier, f.cart, opts...)
}

func TestNew_NilDependencyPanics(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { New(nil, &fakeIndex{}, &fakeNotifier{}, &fakeCart{}) })
	assert.Panics(t, func() { New(newFakeOrders(), nil, &fakeNotifier{}, &fakeCart{}) })
	assert.Panics(t, func() { New(newFakeOrders(), &fakeIndex{}, nil, &fakeCart{}) })
	assert.Panics(t, func() { New(newFakeOrders(), &fakeIndex{}, &fakeNotifier{}, nil) })
}

func TestFinalize_AllSuccess(t *testing.T) {
	t.Parallel()

	f := newFixture()
	res, err := f.service().Finalize(context.Background(), input("TX1", groups("S1", "S2")))
	require.NoError(t, err)

	require.Len(t, res.Orders, 2)
	assert.Empty(t, res.Failures)
	for i, want := range []string{"store:S1", "store:S2"} {
		assert.Equal(t, want, res.Steps[i].Name)
		assert.Equal(t, "ok", res.Steps[i].Status)
		assert.Empty(t, res.Steps[i].Detail)
	}
	assert.Equal(t, "TX1", res.TransactionID)
	assert.Equal(t, "TX1", res.Orders[0].TransactionID)
	assert.Equal(t, model.DeliveryStatusPending, res.Orders[0].Delivery.Status)

	assert.EqualValues(t, 1, f.cart.clears.Load(), "cart clears")
	assert.EqualValues(t, 1, f.cart.resets.Load(), "local resets")
	assert.Equal(t, []string{"TX1", "TX1"}, f.index.appended)
	assert.EqualValues(t, 2, f.notifier.sent.Load(), "confirmations")
}

func TestFinalize_DuplicateSubmissionIsIdempotent(t *testing.T) {
	t.Parallel()

	for _, conflict := range []bool{false, true} {
		conflict := conflict
		t.Run(fmt.Sprintf("conflict=%v", conflict), func(t *testing.T) {
			t.Parallel()

			f := newFixture()
			f.orders.conflict = conflict
			svc := f.service()
			in := input("TX1", groups("S1", "S2"))

			_, err := svc.Finalize(context.Background(), in)
			require.NoError(t, err)
			res, err := svc.Finalize(context.Background(), in)
			require.NoError(t, err, "a repeated finalize succeeds")

			assert.Len(t, f.orders.records, 2, "one record per store")
			assert.Len(t, res.Orders, 2)
			for _, st := range res.Steps {
				assert.Equal(t, "ok", st.Status)
				assert.Equal(t, "existing", st.Detail)
			}

			// Only the first run links and confirms the orders.
			assert.EqualValues(t, 2, f.notifier.sent.Load(), "confirmations")
			assert.Len(t, f.index.appended, 2, "index appends")
			assert.EqualValues(t, 2, f.cart.clears.Load(), "each run clears the cart once")
		})
	}
}

func TestFinalize_ForeignOrderConflictIsStoreFailure(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.orders.fail["S2"] = &apperr.StatusError{Code: 409, Reason: "conflict", Message: "conflict"}

	res, err := f.service().Finalize(context.Background(), input("TX1", groups("S1", "S2")))

	var partial *apperr.PartialOrderFailure
	require.ErrorAs(t, err, &partial)
	require.Len(t, res.Orders, 1)
	assert.Equal(t, "S1", res.Orders[0].StoreID)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "S2", res.Failures[0].StoreID)
	assert.Equal(t, "conflict", res.Failures[0].Kind)
	assert.Equal(t, "error", res.Steps[1].Status)
	assert.EqualValues(t, 1, f.notifier.sent.Load(), "only S1 is confirmed")
}

func TestFinalize_ForeignOrderConflictOnlyKeepsCart(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.orders.fail["S1"] = &apperr.StatusError{Code: 409, Reason: "conflict", Message: "conflict"}

	res, err := f.service().Finalize(context.Background(), input("TX1", groups("S1")))

	var total *apperr.TotalOrderFailure
	require.ErrorAs(t, err, &total)
	assert.Empty(t, res.Orders)
	assert.False(t, res.CartCleared)
	assert.Zero(t, f.cart.clears.Load())
	assert.Zero(t, f.notifier.sent.Load())
	assert.Empty(t, f.index.appended)
}

func TestFinalize_PartialFailure(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.orders.fail["S2"] = &apperr.StatusError{Code: 500, Message: "store down"}

	res, err := f.service().Finalize(context.Background(), input("TX1", groups("S1", "S2", "S3")))

	var partial *apperr.PartialOrderFailure
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, "partial_order_failure", apperr.Kind(err))
	assert.Len(t, res.Orders, 2)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "S2", res.Failures[0].StoreID)
	assert.Equal(t, "upstream", res.Failures[0].Kind)
	assert.Equal(t, "error", res.Steps[1].Status)
	assert.Equal(t, "upstream", res.Steps[1].Detail)
	assert.EqualValues(t, 1, f.cart.clears.Load())
	assert.True(t, res.CartCleared)
	// S3 is still submitted after S2 failed.
	assert.Equal(t, []string{"S1", "S2", "S3"}, f.orders.calls)
}

func TestFinalize_TotalFailurePreservesCart(t *testing.T) {
	t.Parallel()

	f := newFixture()
	for _, id := range []string{"S1", "S2"} {
		f.orders.fail[id] = apperr.Transport("POST /stores/"+id+"/orders", errors.New("connection refused"))
	}

	res, err := f.service().Finalize(context.Background(), input("TX1", groups("S1", "S2")))

	var total *apperr.TotalOrderFailure
	require.ErrorAs(t, err, &total)
	assert.Len(t, total.Failures, 2)
	assert.Empty(t, res.Orders)
	assert.Zero(t, f.cart.clears.Load())
	assert.Zero(t, f.cart.resets.Load())
	assert.Empty(t, f.index.appended)
	assert.Zero(t, f.notifier.sent.Load())
}

func TestFinalize_SideEffectFailuresDoNotFailCheckout(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.notifier.err = errors.New("smtp unavailable")
	f.index.err = errors.New("index unavailable")
	f.cart.err = errors.New("cart service unavailable")

	res, err := f.service().Finalize(context.Background(), input("TX1", groups("S1")))
	require.NoError(t, err)
	assert.Len(t, res.Orders, 1)
	assert.False(t, res.CartCleared, "server clear failed")
	assert.EqualValues(t, 1, f.cart.resets.Load(), "local cart is still reset")
}

func TestFinalize_SequentialByDefault(t *testing.T) {
	t.Parallel()

	f := newFixture()
	tr := &tracker.Tracker{}
	svc := f.service(WithTracker(tr))

	_, err := svc.Finalize(context.Background(), input("TX1", groups("S1", "S2", "S3", "S4")))
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.orders.maxInFlight.Load(), "submissions in flight")
	assert.Zero(t, svc.Running())
}

func TestFinalize_ParallelKeepsGroupOrder(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.orders.barrier = newBarrier(3)
	f.orders.fail["S2"] = errors.New("rejected")

	res, err := f.service(WithParallelism(3)).Finalize(context.Background(), input("TX1", groups("S1", "S2", "S3")))

	var partial *apperr.PartialOrderFailure
	require.ErrorAs(t, err, &partial)
	assert.EqualValues(t, 3, f.orders.maxInFlight.Load(), "concurrent submissions")
	for i, want := range []string{"store:S1", "store:S2", "store:S3"} {
		assert.Equal(t, want, res.Steps[i].Name)
	}
	require.Len(t, res.Orders, 2)
	assert.Equal(t, "S1", res.Orders[0].StoreID)
	assert.Equal(t, "S3", res.Orders[1].StoreID)
}

func TestFinalize_CanceledContext(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.orders.fail["S1"] = fmt.Errorf("create: %w", context.Canceled)

	res, err := f.service().Finalize(context.Background(), input("TX1", groups("S1")))
	require.ErrorAs(t, err, new(*apperr.TotalOrderFailure))
	assert.Equal(t, "canceled", res.Steps[0].Status)
}

func TestFinalize_ValidatesInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   Input
	}{
		{name: "missing_reference", in: input("", groups("S1"))},
		{name: "no_groups", in: input("TX1", nil)},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture()
			_, err := f.service().Finalize(context.Background(), tt.in)
			assert.True(t, apperr.IsValidation(err), "got %v", err)
			assert.Empty(t, f.orders.calls, "no store is called on invalid input")
		})
	}
}
