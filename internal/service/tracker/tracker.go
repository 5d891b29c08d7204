// Package tracker provides lightweight counters for running work.
package tracker

import "sync/atomic"

// Tracker counts in-flight store submissions using atomics.
// OnChange, when set, receives the new count after every change.
type Tracker struct {
	running  atomic.Int64
	OnChange func(running int64)
}

// Inc increments the running counter.
func (t *Tracker) Inc() { t.notify(t.running.Add(1)) }

// Dec decrements the running counter.
func (t *Tracker) Dec() { t.notify(t.running.Add(-1)) }

// Running returns the current running count.
func (t *Tracker) Running() int64 { return t.running.Load() }

func (t *Tracker) notify(n int64) {
	if t.OnChange != nil {
		t.OnChange(n)
	}
}
