// Package sim provides simulated hardware for driving the transmission
// engines without a board: a stepping clock, recording pins and interrupt
// stalls.
package sim

import (
	"sync"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/coreman2200/pixelwire/internal/hal"
)

// Clock is a fake tick counter that advances by Step on every Now call, so
// spin loops written against hal.Clock make progress and terminate.
type Clock struct {
	mu   sync.Mutex
	now  uint64
	Step uint64
	Freq physic.Frequency
}

// NewClock returns a clock at f advancing step ticks per reading.
func NewClock(f physic.Frequency, step uint64) *Clock {
	return &Clock{Step: step, Freq: f}
}

// NewNanoClock returns a 1 GHz clock advancing step per reading.
func NewNanoClock(step time.Duration) *Clock {
	return NewClock(physic.GigaHertz, uint64(step))
}

func (c *Clock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += c.Step
	return c.now
}

func (c *Clock) Frequency() physic.Frequency {
	return c.Freq
}

// Peek returns the counter without advancing it.
func (c *Clock) Peek() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the counter forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.AdvanceTicks(hal.DurationToTicks(d, c.Freq))
}

// AdvanceTicks moves the counter forward by n ticks.
func (c *Clock) AdvanceTicks(n uint64) {
	c.mu.Lock()
	c.now += n
	c.mu.Unlock()
}

// Elapsed converts a tick delta of this clock to a duration.
func (c *Clock) Elapsed(from, to uint64) time.Duration {
	return hal.TicksToDuration(to-from, c.Freq)
}

// Stall is an hal.Interrupts that models pending interrupt handlers: every
// Restore lets the handlers run, which costs Cost on the clock. With Every
// set, only every Every-th restore pays.
type Stall struct {
	Clock *Clock
	Cost  time.Duration
	Every int

	mu       sync.Mutex
	restores int
	disabled int
}

func (s *Stall) Disable() hal.IRQState {
	s.mu.Lock()
	s.disabled++
	s.mu.Unlock()
	return 0
}

func (s *Stall) Restore(hal.IRQState) {
	s.mu.Lock()
	s.restores++
	n := s.restores
	s.mu.Unlock()
	if s.Every > 0 && n%s.Every != 0 {
		return
	}
	s.Clock.Advance(s.Cost)
}

// Restores returns how many times interrupts were re-enabled.
func (s *Stall) Restores() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restores
}

// Balanced reports whether every Disable was matched by a Restore.
func (s *Stall) Balanced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disabled == s.restores
}
