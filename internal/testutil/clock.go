package testutil

import (
	"sync"
	"time"
)

// FakeClock is a manually advanced wall clock for tests.
//
// It satisfies engine.Clock. Time only moves when the test calls Set or
// Advance, so pass results and golden traces are reproducible.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeClock struct {
	mu    sync.Mutex
	start time.Time
	now   time.Time
}

// NewFakeClock creates a clock frozen at start (converted to UTC).
func NewFakeClock(start time.Time) *FakeClock {
	start = start.UTC()
	return &FakeClock{start: start, now: start}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d. Negative durations are ignored:
// the clock never runs backward.
func (c *FakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return c.now
}

// Set jumps to t if t is not before the current time.
func (c *FakeClock) Set(t time.Time) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t = t.UTC(); t.After(c.now) {
		c.now = t
	}
	return c.now
}

// Reset returns the clock to its start time.
//
// Used for test reuse. After Reset(), Now() returns the start time again.
func (c *FakeClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.start
}
