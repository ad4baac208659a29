// Package clock provides an injectable time source so that the portal's
// timeouts and poll loops can be tested without waiting on the wall clock.
//
// The provisioning loop is single-threaded and its only waits are
// synchronous sleeps, so the interface is just Now and Sleep. The fake
// advances its own time when Sleep is called.
package clock

import (
	"sync"
	"time"
)

// Clock abstracts the time operations used by the portal.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// Sleep pauses the calling goroutine for at least d.
	Sleep(d time.Duration)
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// Fake returns a FakeClock initialized to the given time.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// FakeClock is a deterministic Clock for tests. Time moves only when Sleep
// or Advance is called; Sleep returns immediately after moving time forward.
//
// FakeClock is safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	slept   time.Duration
	hooks   []func(time.Time)
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Sleep advances the fake time by d.
func (c *FakeClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.slept += d
	c.mu.Unlock()
	c.Advance(d)
}

// Advance moves the fake time forward by d and runs any hooks registered
// with OnAdvance, outside the lock.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	now := c.current
	hooks := append([]func(time.Time){}, c.hooks...)
	c.mu.Unlock()

	for _, h := range hooks {
		h(now)
	}
}

// OnAdvance registers f to be called with the new time after every advance.
// Tests use it to make simulated hardware react to elapsed time.
func (c *FakeClock) OnAdvance(f func(now time.Time)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, f)
}

// Slept returns the total duration passed to Sleep.
func (c *FakeClock) Slept() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slept
}
