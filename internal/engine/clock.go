package engine

import "sync/atomic"

// Clock is the monotonic logical clock that stamps state transitions.
//
// Subscribers observe transitions in Seq order, and registry selectors use
// the current value as their memoization generation.
//
// NEVER use wall-clock timestamps for ordering transitions.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
// In practice only the Run goroutine calls Next.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock resuming from a known position, e.g. after a
// snapshot restore.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
