package cart

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/iliamunaev/multivendor-checkout/internal/apperr"
	"github.com/iliamunaev/multivendor-checkout/internal/bus"
	"github.com/iliamunaev/multivendor-checkout/internal/logger"
	"github.com/iliamunaev/multivendor-checkout/internal/model"
)

// LineSyncer is the cart service. SetQuantity returns the authoritative line.
type LineSyncer interface {
	SetQuantity(ctx context.Context, productID string, quantity int) (model.CartLine, error)
	RemoveLine(ctx context.Context, productID string) error
}

// EventType names a cart change.
type EventType string

const (
	EventUpdated EventType = "updated"
	EventRemoved EventType = "removed"
	EventCleared EventType = "cleared"
)

// Event is published on every local cart change, including reverts.
type Event struct {
	Type      EventType
	ProductID string
	Lines     []model.CartLine
}

// Draft is the buyer's local cart. Mutations apply immediately, then are
// reconciled to the cart service's answer or reverted when it fails.
type Draft struct {
	mu     sync.Mutex
	lines  []model.CartLine
	syncer LineSyncer
	events *bus.Bus[Event]
}

// NewDraft creates a Draft seeded with lines. events may be nil.
func NewDraft(lines []model.CartLine, syncer LineSyncer, events *bus.Bus[Event]) *Draft {
	if syncer == nil {
		panic("cart.NewDraft: nil syncer")
	}
	cp := make([]model.CartLine, len(lines))
	copy(cp, lines)
	return &Draft{lines: cp, syncer: syncer, events: events}
}

// Lines returns a copy of the current lines.
func (d *Draft) Lines() []model.CartLine {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked()
}

// Groups derives the store groups of the current lines.
func (d *Draft) Groups(choices map[string]model.DeliveryMethod, catalog map[string]model.StoreProfile) ([]model.StoreGroup, error) {
	return Group(d.Lines(), choices, catalog)
}

// Increment adds one unit of productID.
func (d *Draft) Increment(ctx context.Context, productID string) (model.CartLine, error) {
	return d.change(ctx, productID, +1)
}

// Decrement removes one unit of productID. A line never drops below one
// unit; use Remove to delete it.
func (d *Draft) Decrement(ctx context.Context, productID string) (model.CartLine, error) {
	return d.change(ctx, productID, -1)
}

func (d *Draft) change(ctx context.Context, productID string, delta int) (model.CartLine, error) {
	d.mu.Lock()
	i := d.indexLocked(productID)
	if i < 0 {
		d.mu.Unlock()
		return model.CartLine{}, apperr.Validation("product_id", "is not in the cart")
	}
	prev := d.lines[i].Quantity
	next := prev + delta
	if next < 1 {
		d.mu.Unlock()
		return model.CartLine{}, apperr.Validation("quantity", "cannot go below 1, remove the line instead")
	}
	d.lines[i].Quantity = next
	ev := d.eventLocked(EventUpdated, productID)
	d.mu.Unlock()
	d.publish(ev)

	line, err := d.syncer.SetQuantity(ctx, productID, next)

	d.mu.Lock()
	i = d.indexLocked(productID)
	if err != nil {
		// Revert only if no later mutation touched the line.
		if i >= 0 && d.lines[i].Quantity == next {
			d.lines[i].Quantity = prev
			ev = d.eventLocked(EventUpdated, productID)
			d.mu.Unlock()
			d.publish(ev)
		} else {
			d.mu.Unlock()
		}
		return model.CartLine{}, fmt.Errorf("sync quantity of %s: %w", productID, err)
	}
	if i < 0 || sameLine(line, d.lines[i]) {
		d.mu.Unlock()
		return line, nil
	}
	logger.FromCtx(ctx).Debug(ctx, "cart line reconciled to server",
		zap.String("product_id", productID),
		zap.Int("local", d.lines[i].Quantity),
		zap.Int("server", line.Quantity))
	d.lines[i] = line
	ev = d.eventLocked(EventUpdated, productID)
	d.mu.Unlock()
	d.publish(ev)
	return line, nil
}

// Remove deletes productID from the cart.
func (d *Draft) Remove(ctx context.Context, productID string) error {
	d.mu.Lock()
	i := d.indexLocked(productID)
	if i < 0 {
		d.mu.Unlock()
		return apperr.Validation("product_id", "is not in the cart")
	}
	removed := d.lines[i]
	d.lines = append(d.lines[:i:i], d.lines[i+1:]...)
	ev := d.eventLocked(EventRemoved, productID)
	d.mu.Unlock()
	d.publish(ev)

	if err := d.syncer.RemoveLine(ctx, productID); err != nil {
		d.mu.Lock()
		if d.indexLocked(productID) >= 0 {
			d.mu.Unlock()
			return fmt.Errorf("remove %s: %w", productID, err)
		}
		if i > len(d.lines) {
			i = len(d.lines)
		}
		restored := make([]model.CartLine, 0, len(d.lines)+1)
		restored = append(restored, d.lines[:i]...)
		restored = append(restored, removed)
		d.lines = append(restored, d.lines[i:]...)
		ev = d.eventLocked(EventUpdated, productID)
		d.mu.Unlock()
		d.publish(ev)
		return fmt.Errorf("remove %s: %w", productID, err)
	}
	return nil
}

// Reset drops every local line. The server cart is cleared separately.
func (d *Draft) Reset() {
	d.mu.Lock()
	d.lines = nil
	ev := d.eventLocked(EventCleared, "")
	d.mu.Unlock()
	d.publish(ev)
}

func (d *Draft) indexLocked(productID string) int {
	for i, l := range d.lines {
		if l.ProductID == productID {
			return i
		}
	}
	return -1
}

func (d *Draft) snapshotLocked() []model.CartLine {
	cp := make([]model.CartLine, len(d.lines))
	copy(cp, d.lines)
	return cp
}

func (d *Draft) eventLocked(t EventType, productID string) Event {
	return Event{Type: t, ProductID: productID, Lines: d.snapshotLocked()}
}

// publish runs outside the lock so subscribers may read the draft.
func (d *Draft) publish(ev Event) {
	if d.events != nil {
		d.events.Publish(ev)
	}
}

func sameLine(a, b model.CartLine) bool {
	return a.ProductID == b.ProductID &&
		a.StoreID == b.StoreID &&
		a.Quantity == b.Quantity &&
		a.UnitPrice.Equal(b.UnitPrice) &&
		a.Product == b.Product
}
