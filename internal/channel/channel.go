// Package channel adapts the transmission backends (bit-bang, UART, I2S
// DMA, RMT, PIO and SPI) to one contract: open the hardware, start a
// frame, observe completion.
package channel

import (
	"errors"
	"fmt"
	"time"
)

// State is the transmission state of a channel.
type State uint8

const (
	// Idle: nothing on the wire, hardware free.
	Idle State = iota
	// Pending: a frame is accepted but not yet streaming.
	Pending
	// Sending: data is streaming.
	Sending
	// Zeroing: data is out and the line is held idle for the latch time.
	Zeroing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Sending:
		return "sending"
	case Zeroing:
		return "zeroing"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Status is a snapshot of a channel. DoneAt is the clock tick at which the
// last data bit left the wire; it is only meaningful when State is Idle and
// a frame has been sent.
type Status struct {
	State  State
	DoneAt uint64
}

var (
	// ErrFrameIncomplete means a frame was cut short by a timing violation.
	// The chips latched whatever arrived; the caller resends.
	ErrFrameIncomplete = errors.New("channel: frame incomplete")
	// ErrBusy is returned by Start while a frame is still in flight.
	ErrBusy = errors.New("channel: busy")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("channel: closed")
	// ErrNotOpen is returned by Start before Open.
	ErrNotOpen = errors.New("channel: not open")
)

// Channel is one transmission backend bound to one strip.
type Channel interface {
	// Open claims and configures the hardware.
	Open() error
	// Start puts data on the wire. Synchronous channels return once the
	// frame is out; asynchronous ones once it is queued. data may be
	// reused by the caller as soon as Start returns.
	Start(data []byte) error
	Status() Status
	// Async reports whether Start returns before the frame is out.
	Async() bool
	// DrainLatency is the time hardware may keep streaming after it has
	// reported completion.
	DrainLatency() time.Duration
	// Close releases the hardware. It does not wait for a frame in flight.
	Close() error
}
