// Package clock provides a deterministic ports.Clock for tests. Production
// code uses ports.SystemClock.
package clock

import (
	"sync"
	"time"

	"github.com/bnema/botkeeper/internal/ports"
)

// Fake is a Clock whose time only moves when Advance is called. Tickers and
// AfterFunc timers fire during Advance in deadline order. AfterFunc callbacks
// run synchronously on the goroutine calling Advance; they must not call
// Advance themselves.
type Fake struct {
	mu      sync.Mutex
	current time.Time
	waiters []*waiter
	changed *sync.Cond
}

type waiter struct {
	deadline time.Time
	channel  chan time.Time
	callback func()
	interval time.Duration
	stopped  bool
	fired    bool
}

var _ ports.Clock = (*Fake)(nil)

func NewFake(initial time.Time) *Fake {
	c := &Fake{current: initial}
	c.changed = sync.NewCond(&c.mu)
	return c
}

func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// NewTicker panics if d <= 0, matching time.NewTicker.
func (c *Fake) NewTicker(d time.Duration) ports.Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	w := &waiter{
		deadline: c.current.Add(d),
		channel:  make(chan time.Time, 1),
		interval: d,
	}
	c.addLocked(w)
	return &fakeTicker{clock: c, waiter: w}
}

func (c *Fake) AfterFunc(d time.Duration, f func()) ports.Timer {
	c.mu.Lock()
	w := &waiter{deadline: c.current.Add(d), callback: f}
	if d <= 0 {
		w.fired = true
		c.mu.Unlock()
		f()
		return &fakeTimer{clock: c, waiter: w}
	}
	c.addLocked(w)
	c.mu.Unlock()
	return &fakeTimer{clock: c, waiter: w}
}

// Advance moves time forward by d, firing everything that falls due.
func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.current.Add(d)
	for {
		next := c.nextDueLocked(target)
		if next == nil {
			break
		}
		if next.deadline.After(c.current) {
			c.current = next.deadline
		}

		if next.interval > 0 {
			select {
			case next.channel <- c.current:
			default:
			}
			next.deadline = next.deadline.Add(next.interval)
			continue
		}

		next.fired = true
		if next.callback != nil {
			callback := next.callback
			c.mu.Unlock()
			callback()
			c.mu.Lock()
		}
	}
	c.current = target
	c.pruneLocked()
	c.mu.Unlock()
}

// WaitForWaiters blocks until at least n tickers or timers are pending.
func (c *Fake) WaitForWaiters(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingLocked() < n {
		c.changed.Wait()
	}
}

// Pending returns the number of tickers and timers that can still fire.
func (c *Fake) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

func (c *Fake) addLocked(w *waiter) {
	c.waiters = append(c.waiters, w)
	c.changed.Broadcast()
}

func (c *Fake) nextDueLocked(target time.Time) *waiter {
	var next *waiter
	for _, w := range c.waiters {
		if !w.active() || w.deadline.After(target) {
			continue
		}
		if next == nil || w.deadline.Before(next.deadline) {
			next = w
		}
	}
	return next
}

func (c *Fake) pendingLocked() int {
	count := 0
	for _, w := range c.waiters {
		if w.active() {
			count++
		}
	}
	return count
}

func (c *Fake) pruneLocked() {
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if w.active() {
			kept = append(kept, w)
		}
	}
	c.waiters = kept
	c.changed.Broadcast()
}

func (w *waiter) active() bool {
	return !w.stopped && !w.fired
}

type fakeTicker struct {
	clock  *Fake
	waiter *waiter
}

func (t *fakeTicker) C() <-chan time.Time {
	return t.waiter.channel
}

func (t *fakeTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.waiter.stopped = true
	t.clock.changed.Broadcast()
}

type fakeTimer struct {
	clock  *Fake
	waiter *waiter
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if !t.waiter.active() {
		return false
	}
	t.waiter.stopped = true
	t.clock.changed.Broadcast()
	return true
}
