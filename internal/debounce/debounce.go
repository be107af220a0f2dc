// Package debounce provides a single-slot cancel-and-replace timer and a
// re-entrancy guard.
package debounce

import (
	"sync"
	"sync/atomic"
	"time"
)

// Debouncer holds at most one pending call. Each Trigger cancels the pending
// call, if any, and schedules the new one after the delay. Last write wins.
type Debouncer struct {
	delay time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	pending func()
	gen     uint64
	running sync.WaitGroup
}

// New creates a debouncer with the given delay.
func New(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

// Trigger replaces any pending call with fn.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.pending = fn
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.pending == nil {
		// Superseded after the timer already fired.
		d.mu.Unlock()
		return
	}
	fn := d.take()
	d.running.Add(1)
	d.mu.Unlock()

	defer d.running.Done()
	fn()
}

// take clears the slot. Caller holds mu.
func (d *Debouncer) take() func() {
	fn := d.pending
	d.pending = nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	return fn
}

// Pending reports whether a call is waiting to fire.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

// Flush runs the pending call immediately on the caller's goroutine and waits
// for any call already firing. It reports whether a pending call ran.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	if d.pending == nil {
		d.mu.Unlock()
		d.running.Wait()
		return false
	}
	fn := d.take()
	d.mu.Unlock()

	fn()
	d.running.Wait()
	return true
}

// Stop cancels the pending call. It reports whether one was cancelled.
func (d *Debouncer) Stop() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == nil {
		return false
	}
	d.take()
	return true
}

// Guard drops calls that arrive while a previous one is still running.
type Guard struct {
	running atomic.Bool
}

// TryRun runs fn unless another call is in flight. ran is false when the
// call was dropped.
func (g *Guard) TryRun(fn func() error) (ran bool, err error) {
	if !g.running.CompareAndSwap(false, true) {
		return false, nil
	}
	defer g.running.Store(false)
	return true, fn()
}

// Running reports whether a call is in flight.
func (g *Guard) Running() bool {
	return g.running.Load()
}
