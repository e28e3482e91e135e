// Package channeltest provides simulated peripherals for the channel
// backends: a serial port, an I2S bus, an RMT controller and PIO hardware.
// They spend time on a sim.Clock so completion can be observed without a
// board.
package channeltest

import (
	"errors"
	"sync"
	"time"

	"github.com/coreman2200/pixelwire/internal/channel"
	"github.com/coreman2200/pixelwire/internal/sim"
)

// UART is a transmit-only serial port. Each Write records the characters
// and advances the clock by their line time.
type UART struct {
	Clock *sim.Clock
	// Gate, when set, blocks each Write until a value is received.
	Gate chan struct{}
	// NoDrain hides the Drain method, as for ports that cannot report an
	// empty transmit FIFO.
	NoDrain bool
	// Discard drops written characters instead of recording them.
	Discard bool

	mu     sync.Mutex
	baud   int
	invert bool
	chars  []byte
	writes int
	closed bool
}

var errPortClosed = errors.New("channeltest: port closed")

// Opener returns a channel.UARTOpener that hands out u.
func (u *UART) Opener() channel.UARTOpener {
	return func(baud int, invertTX bool) (channel.UARTPort, error) {
		u.mu.Lock()
		u.baud, u.invert, u.closed = baud, invertTX, false
		u.mu.Unlock()
		if u.NoDrain {
			return plainPort{u}, nil
		}
		return u, nil
	}
}

func (u *UART) Write(p []byte) (int, error) {
	if u.Gate != nil {
		<-u.Gate
	}
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return 0, errPortClosed
	}
	if !u.Discard {
		u.chars = append(u.chars, p...)
	}
	u.writes++
	baud := u.baud
	u.mu.Unlock()
	if baud > 0 {
		u.Clock.Advance(time.Duration(len(p)) * 8 * time.Second / time.Duration(baud))
	}
	return len(p), nil
}

// Drain returns at once: Write has already spent the line time.
func (u *UART) Drain() error { return nil }

func (u *UART) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.closed = true
	return nil
}

// Baud returns the rate the port was opened at.
func (u *UART) Baud() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.baud
}

// Inverted reports whether the port was opened with TX inverted.
func (u *UART) Inverted() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.invert
}

// Chars returns a copy of everything written.
func (u *UART) Chars() []byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]byte(nil), u.chars...)
}

// Writes returns the number of Write calls.
func (u *UART) Writes() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.writes
}

// Closed reports whether the port was closed.
func (u *UART) Closed() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.closed
}

// Reset forgets the recorded characters.
func (u *UART) Reset() {
	u.mu.Lock()
	u.chars, u.writes = nil, 0
	u.mu.Unlock()
}

type plainPort struct{ u *UART }

func (p plainPort) Write(b []byte) (int, error) { return p.u.Write(b) }
func (p plainPort) Close() error                { return p.u.Close() }
