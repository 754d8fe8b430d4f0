package core

import (
	"sync/atomic"
	"time"
)

// LogicalClock is the monotonic sequence used to order change records. Seq
// values are strictly increasing and survive save/load through Restore, so
// replay order never depends on wall-clock time.
type LogicalClock struct {
	seq atomic.Int64
}

// NewLogicalClockAt returns a clock whose next value is start+1.
func NewLogicalClockAt(start int64) *LogicalClock {
	c := &LogicalClock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and advances the clock.
func (c *LogicalClock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number.
func (c *LogicalClock) Current() int64 {
	return c.seq.Load()
}

// Clock supplies wall-clock timestamps for records.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now returns the function result.
func (f ClockFunc) Now() time.Time { return f() }

func systemClock() Clock {
	return ClockFunc(func() time.Time { return time.Now().UTC() })
}
