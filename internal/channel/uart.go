package channel

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/coreman2200/pixelwire/internal/hal"
	"github.com/coreman2200/pixelwire/internal/symbol"
	"github.com/coreman2200/pixelwire/internal/timing"
)

// UARTFIFODepth is the transmit FIFO size assumed when a port cannot report
// when its last character has left.
const UARTFIFODepth = 128

// UARTPort is a transmit-only serial line configured for 6N1 framing.
// Ports that can wait for their transmit FIFO to empty also implement
// Drain() error.
type UARTPort interface {
	io.Writer
	Close() error
}

type drainer interface {
	Drain() error
}

// UARTOpener opens a port at baud with the TX line optionally inverted.
type UARTOpener func(baud int, invertTX bool) (UARTPort, error)

// UART sends each pair of data bits as one 6N1 character. Writes run on
// their own goroutine; the channel is Idle again once the port took the
// whole frame.
type UART struct {
	base
	clock   hal.Clock
	sym     *symbol.UART
	opener  UARTOpener
	port    UARTPort
	wire    []byte
	drain   time.Duration
	lastErr error
}

// NewUART returns a UART channel for p. The port is opened by Open.
func NewUART(name string, p timing.Profile, clock hal.Clock, opener UARTOpener, l *zerolog.Logger) (*UART, error) {
	sym, err := symbol.NewUART(p)
	if err != nil {
		return nil, err
	}
	u := &UART{clock: clock, sym: sym, opener: opener}
	u.init("uart("+name+")", l)
	return u, nil
}

// Symbols returns the character table.
func (u *UART) Symbols() *symbol.UART { return u.sym }

func (u *UART) Open() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return ErrClosed
	}
	port, err := u.opener(u.sym.Baud(), u.sym.InvertTX())
	if err != nil {
		return fmt.Errorf("channel: open %s at %d baud: %w", u.name, u.sym.Baud(), err)
	}
	u.port, u.opened = port, true
	if _, ok := port.(drainer); !ok {
		u.drain = UARTFIFODepth * u.sym.CharTime()
	}
	u.log.Debug().Int("baud", u.sym.Baud()).Bool("invert", u.sym.InvertTX()).Dur("drain", u.drain).Msg("open")
	return nil
}

func (u *UART) Start(data []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := u.begin(); err != nil {
		return err
	}
	if n := u.sym.EncodedLen(len(data)); cap(u.wire) < n {
		u.wire = make([]byte, n)
	} else {
		u.wire = u.wire[:n]
	}
	u.sym.Encode(u.wire, data)
	u.status.State = Sending
	go u.transmit(u.wire)
	return nil
}

func (u *UART) transmit(chars []byte) {
	_, err := u.port.Write(chars)
	if err == nil {
		if d, ok := u.port.(drainer); ok {
			err = d.Drain()
		}
	}
	u.mu.Lock()
	u.status = Status{State: Idle, DoneAt: u.clock.Now()}
	u.lastErr = err
	u.mu.Unlock()
	if err != nil {
		u.log.Error().Err(err).Int("chars", len(chars)).Msg("write")
	}
}

// Err returns the error of the last write, if any.
func (u *UART) Err() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastErr
}

func (u *UART) Status() Status { return u.snapshot() }

func (u *UART) Async() bool { return true }

func (u *UART) DrainLatency() time.Duration {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.drain
}

func (u *UART) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return nil
	}
	u.closed = true
	if u.port == nil {
		return nil
	}
	return u.port.Close()
}
