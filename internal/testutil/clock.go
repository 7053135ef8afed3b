package testutil

import (
	"sync"
	"time"
)

// ManualClock is a deterministic time source for tests.
//
// Now returns the current reading and then advances it by the configured
// step, so consecutive revisions get distinct, predictable times. A zero step
// freezes the clock until Advance or Set is called.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewManualClock creates a clock reading start, frozen.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start.UTC()}
}

// NewSteppingClock creates a clock reading start that advances by step
// after every Now call.
func NewSteppingClock(start time.Time, step time.Duration) *ManualClock {
	return &ManualClock{now: start.UTC(), step: step}
}

// Now returns the current reading and applies the step.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Peek returns the current reading without stepping.
func (c *ManualClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}
