// Package latch tracks the reset window LED chips need between frames.
package latch

import (
	"sync"
	"time"

	"github.com/coreman2200/pixelwire/internal/hal"
)

// Timer records when the last frame finished and answers whether the
// chips have latched it.
type Timer struct {
	clock hal.Clock
	wait  uint64

	mu    sync.Mutex
	last  uint64
	valid bool
}

// New returns a timer that requires reset plus drain to elapse after each
// frame. drain is the time an asynchronous peripheral keeps shifting bits
// out of its FIFO after signalling completion.
func New(clock hal.Clock, reset, drain time.Duration) *Timer {
	return &Timer{clock: clock, wait: hal.Ticks(clock, reset+drain)}
}

// Window is the full wait applied after each frame.
func (t *Timer) Window() time.Duration {
	return hal.Duration(t.clock, t.wait)
}

// MarkSent records that a frame finished now.
func (t *Timer) MarkSent() {
	t.MarkSentAt(t.clock.Now())
}

// MarkSentAt records that a frame finished at the given tick.
func (t *Timer) MarkSentAt(at uint64) {
	t.mu.Lock()
	t.last = at
	t.valid = true
	t.mu.Unlock()
}

// LastSent returns the completion tick of the last frame, if any.
func (t *Timer) LastSent() (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.valid
}

// IsReadyToSend reports whether the reset window has elapsed.
func (t *Timer) IsReadyToSend() bool {
	return t.remaining() == 0
}

// Remaining returns how much of the window is left.
func (t *Timer) Remaining() time.Duration {
	return hal.Duration(t.clock, t.remaining())
}

func (t *Timer) remaining() uint64 {
	t.mu.Lock()
	last, valid := t.last, t.valid
	t.mu.Unlock()
	if !valid {
		return 0
	}
	elapsed := t.clock.Now() - last
	if elapsed >= t.wait {
		return 0
	}
	return t.wait - elapsed
}
