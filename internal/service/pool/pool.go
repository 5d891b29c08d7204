// Package pool provides a bounded concurrency semaphore.
package pool

import "context"

// Pool bounds how many store submissions of one checkout run at once.
type Pool struct {
	sem chan struct{}
}

// New creates a pool with at least one slot
// and at most 128 slots.
func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	if size > 128 {
		size = 128
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Size returns the number of slots.
func (p *Pool) Size() int { return cap(p.sem) }

// Acquire reserves one slot in the pool.
// If the pool is full, it blocks until a slot becomes available
// or the context is canceled.
// It returns ctx.Err() if acquisition is aborted due to cancellation.
func (p *Pool) Acquire(ctx context.Context) error {
	select {
	case p.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a previously acquired slot.
func (p *Pool) Release() {
	<-p.sem
}

// Run executes fn while holding a slot.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	if err := p.Acquire(ctx); err != nil {
		return err
	}
	defer p.Release()
	return fn()
}
