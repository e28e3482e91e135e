package channel

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/physic"

	"github.com/coreman2200/pixelwire/internal/dma"
	"github.com/coreman2200/pixelwire/internal/hal"
	"github.com/coreman2200/pixelwire/internal/symbol"
	"github.com/coreman2200/pixelwire/internal/timing"
)

// I2SFIFOBytes is the transmit FIFO of the I2S peripheral. It still holds
// samples when the DMA engine reports the idle descriptor.
const I2SFIFOBytes = 64

// i2sSlots is the number of sub-bits per data bit on the I2S line.
const i2sSlots = 4

// I2SBus is an I2S peripheral fed by a DMA engine walking a descriptor
// ring.
type I2SBus interface {
	// Configure sets the serial bit clock.
	Configure(bitClock physic.Frequency) error
	// Start walks r from its head.
	Start(r *dma.Ring) error
	// Position returns the descriptor being streamed and the tick at
	// which the engine entered it.
	Position() (desc int, at uint64)
	Close() error
}

// ringStatus maps the engine position onto a channel state. gap is the
// duration of the latch gap, subtracted so DoneAt is the end of the data.
func ringStatus(r *dma.Ring, desc int, at uint64, gap uint64) Status {
	switch r.At(desc).Segment {
	case dma.Data:
		return Status{State: Sending}
	case dma.Gap:
		return Status{State: Zeroing}
	}
	return Status{State: Idle, DoneAt: at - gap}
}

// gapBytes is the size of a latch gap of d at bitClock, rounded up to
// whole 32-bit stereo frames.
func gapBytes(d time.Duration, bitClock physic.Frequency) int {
	bits := hal.DurationToTicks(d, bitClock)
	n := int((bits + 7) / 8)
	return (n + 3) &^ 3
}

// bitsTime is how long n bits take at f.
func bitsTime(n int, f physic.Frequency) time.Duration {
	return time.Duration(int64(n) * int64(time.Second) / int64(f/physic.Hertz))
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

// I2S streams nibble samples through a DMA ring of data, latch gap and a
// self-looping idle descriptor. Two sample buffers alternate so the ring
// is rebound rather than rebuilt on each frame.
type I2S struct {
	base
	bus      I2SBus
	clock    hal.Clock
	profile  timing.Profile
	nib      *symbol.Nibbles
	bitClock physic.Frequency
	size     int

	wire    [2][]byte
	front   int
	ring    *dma.Ring
	gapTick uint64
	invert  bool
}

// NewI2S returns an I2S channel for frames of size bytes.
func NewI2S(name string, p timing.Profile, size int, clock hal.Clock, bus I2SBus, l *zerolog.Logger) (*I2S, error) {
	c, err := symbol.NewCadence(p, i2sSlots)
	if err != nil {
		return nil, err
	}
	nib, err := symbol.NewNibbles(c)
	if err != nil {
		return nil, err
	}
	ch := &I2S{
		bus:      bus,
		clock:    clock,
		profile:  p,
		nib:      nib,
		bitClock: p.Rate() * i2sSlots,
		size:     size,
		invert:   p.Inverted,
	}
	ch.init("i2s("+name+")", l)
	return ch, nil
}

// Symbols returns the sample table.
func (c *I2S) Symbols() *symbol.Nibbles { return c.nib }

// BitClock is the I2S serial clock.
func (c *I2S) BitClock() physic.Frequency { return c.bitClock }

// Ring returns the descriptor ring once open.
func (c *I2S) Ring() *dma.Ring {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ring
}

func (c *I2S) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	rest := byte(0)
	if c.invert {
		rest = 0xFF
	}
	n := c.nib.EncodedLen(c.size)
	c.wire[0], c.wire[1] = make([]byte, n), make([]byte, n)
	fill(c.wire[0], rest)
	fill(c.wire[1], rest)
	gap := make([]byte, gapBytes(c.profile.Reset, c.bitClock))
	fill(gap, rest)
	idle := make([]byte, 4)
	fill(idle, rest)
	ring, err := dma.NewBuilder(dma.Capacity(n, len(gap))).Data(c.wire[0]).Gap(gap).Idle(idle).Build()
	if err != nil {
		return fmt.Errorf("channel: %s ring: %w", c.name, err)
	}
	if err := c.bus.Configure(c.bitClock); err != nil {
		return fmt.Errorf("channel: %s: %w", c.name, err)
	}
	c.ring = ring
	c.gapTick = hal.Ticks(c.clock, bitsTime(len(gap)*8, c.bitClock))
	c.opened = true
	c.log.Debug().Int("samples", n).Int("gap", len(gap)).Int("descriptors", ring.Len()).Stringer("bclk", c.bitClock).Msg("open")
	return nil
}

func (c *I2S) Start(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}
	if len(data) != c.size {
		return fmt.Errorf("channel: %s takes %d bytes, got %d", c.name, c.size, len(data))
	}
	c.refresh()
	if err := c.begin(); err != nil {
		return err
	}
	c.front ^= 1
	buf := c.wire[c.front]
	c.nib.Encode(buf, data)
	if c.invert {
		for i := range buf {
			buf[i] = ^buf[i]
		}
	}
	if err := c.ring.Rebind(buf); err != nil {
		c.status.State = Idle
		return err
	}
	if err := c.bus.Start(c.ring); err != nil {
		c.status.State = Idle
		return fmt.Errorf("channel: %s: %w", c.name, err)
	}
	c.status.State = Sending
	return nil
}

// refresh polls the engine position. It must be called with mu held.
func (c *I2S) refresh() {
	if c.status.State == Idle {
		return
	}
	desc, at := c.bus.Position()
	c.status = ringStatus(c.ring, desc, at, c.gapTick)
}

func (c *I2S) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refresh()
	return c.status
}

func (c *I2S) Async() bool { return true }

func (c *I2S) DrainLatency() time.Duration {
	return bitsTime(I2SFIFOBytes*8, c.bitClock)
}

func (c *I2S) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if !c.opened {
		return nil
	}
	return c.bus.Close()
}
