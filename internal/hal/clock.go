// Package hal holds the small hardware abstractions the transmission engines
// are written against: a free running tick counter and interrupt masking.
package hal

import (
	"time"

	"periph.io/x/conn/v3/physic"
)

// Clock is a free running, monotonically increasing tick counter.
//
// Differences between two readings are taken with unsigned wrap-around
// arithmetic, so a counter that overflows between readings still yields the
// right delta.
type Clock interface {
	// Now returns the current counter value.
	Now() uint64
	// Frequency is the counter rate.
	Frequency() physic.Frequency
}

// Ticks converts d to counter ticks of c, rounding down.
func Ticks(c Clock, d time.Duration) uint64 {
	return DurationToTicks(d, c.Frequency())
}

// Duration converts n ticks of c to a time.Duration, rounding down.
func Duration(c Clock, n uint64) time.Duration {
	return TicksToDuration(n, c.Frequency())
}

// DurationToTicks converts d to ticks of a counter running at f.
func DurationToTicks(d time.Duration, f physic.Frequency) uint64 {
	if d <= 0 {
		return 0
	}
	hz := uint64(f / physic.Hertz)
	ns := uint64(d)
	// Split to keep ns*hz from overflowing for multi-second durations.
	return ns/1e9*hz + (ns%1e9)*hz/1e9
}

// TicksToDuration converts n ticks of a counter running at f to a duration.
func TicksToDuration(n uint64, f physic.Frequency) time.Duration {
	hz := uint64(f / physic.Hertz)
	if hz == 0 {
		return 0
	}
	return time.Duration(n/hz*1e9 + (n%hz)*1e9/hz)
}

// Since returns the ticks elapsed from ref to now.
func Since(c Clock, ref uint64) uint64 {
	return c.Now() - ref
}

// Monotonic is a Clock backed by the Go runtime monotonic clock, counting
// nanoseconds since it was created.
type Monotonic struct {
	start time.Time
}

// NewMonotonic returns a nanosecond Clock starting at zero.
func NewMonotonic() *Monotonic {
	return &Monotonic{start: time.Now()}
}

func (m *Monotonic) Now() uint64 {
	return uint64(time.Since(m.start))
}

func (m *Monotonic) Frequency() physic.Frequency {
	return physic.GigaHertz
}
