package channeltest

import (
	"errors"
	"sync"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/coreman2200/pixelwire/internal/dma"
	"github.com/coreman2200/pixelwire/internal/hal"
	"github.com/coreman2200/pixelwire/internal/sim"
)

// I2S is an I2S bus whose DMA engine walks the ring in clock time. Position
// reads the clock, so polling it lets time pass.
type I2S struct {
	Clock *sim.Clock
	// FailStart makes Start return an error.
	FailStart bool
	// Discard skips recording started frames.
	Discard bool

	mu       sync.Mutex
	bitClock physic.Frequency
	ring     *dma.Ring
	start    uint64
	frames   [][]byte
	gaps     []int
	closed   bool
}

var errBusClosed = errors.New("channeltest: i2s bus closed")

func (b *I2S) Configure(bitClock physic.Frequency) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bitClock, b.closed = bitClock, false
	return nil
}

// Start records the bytes of the data and gap segments as they are now,
// since the engine would read them while streaming.
func (b *I2S) Start(r *dma.Ring) error {
	if b.FailStart {
		return errors.New("channeltest: i2s start failed")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errBusClosed
	}
	var data []byte
	for i := r.Head(); r.At(i).Segment == dma.Data; i = r.At(i).Next {
		data = append(data, r.At(i).Buf...)
	}
	b.ring = r
	if !b.Discard {
		b.frames = append(b.frames, data)
		b.gaps = append(b.gaps, r.Bytes(dma.Gap))
	}
	b.start = b.Clock.Now()
	return nil
}

// Position walks the ring by the number of bytes streamed since Start.
func (b *I2S) Position() (int, uint64) {
	now := b.Clock.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ring == nil {
		return 0, 0
	}
	r := b.ring
	streamed := b.bytesIn(now - b.start)
	off := 0
	i := r.Head()
	for r.At(i).Segment != dma.Idle {
		n := len(r.At(i).Buf)
		if streamed < off+n {
			return i, b.start + b.ticksFor(off)
		}
		off += n
		i = r.At(i).Next
	}
	return i, b.start + b.ticksFor(off)
}

func (b *I2S) bytesIn(ticks uint64) int {
	d := hal.TicksToDuration(ticks, b.Clock.Freq)
	return int(int64(d) * int64(b.bitClock/physic.Hertz) / int64(8*time.Second))
}

func (b *I2S) ticksFor(n int) uint64 {
	d := time.Duration(int64(n) * 8 * int64(time.Second) / int64(b.bitClock/physic.Hertz))
	return hal.DurationToTicks(d, b.Clock.Freq)
}

func (b *I2S) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// BitClock returns the configured serial clock.
func (b *I2S) BitClock() physic.Frequency {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bitClock
}

// Frames returns the data segment of every started frame.
func (b *I2S) Frames() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.frames...)
}

// GapBytes returns the latch gap size of every started frame.
func (b *I2S) GapBytes() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.gaps...)
}

// Closed reports whether the bus was closed.
func (b *I2S) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
