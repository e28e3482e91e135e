package channel

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"

	"github.com/coreman2200/pixelwire/internal/bitbang"
	"github.com/coreman2200/pixelwire/internal/hal"
	"github.com/coreman2200/pixelwire/internal/timing"
)

// DotStarPixelSize is the wire size of one APA102 pixel: a brightness
// header byte and three color bytes, laid out by the caller.
const DotStarPixelSize = 4

// DotStarFrameLen is the wire size of a frame of size pixel bytes.
func DotStarFrameLen(size int) int {
	n := size / DotStarPixelSize
	return 4 + size + 4 + (n+15)/16
}

// DotStarFrame wraps pixel data in the APA102 start and end frames. The
// end frame carries one extra byte per 16 pixels so the clock pulses
// reach the far end of the chain.
func DotStarFrame(dst, data []byte) []byte {
	dst = append(dst[:0], 0, 0, 0, 0)
	dst = append(dst, data...)
	n := len(data) / DotStarPixelSize
	for i := 0; i < 4+(n+15)/16; i++ {
		dst = append(dst, 0xFF)
	}
	return dst
}

// LPD8806Frame wraps pixel data in the zero bytes LPD8806 chips latch on:
// one byte per 32 pixels ahead of the data and as many after it.
func LPD8806Frame(dst, data []byte) []byte {
	n := (len(data)/3 + 31) / 32
	dst = dst[:0]
	for i := 0; i < n; i++ {
		dst = append(dst, 0)
	}
	dst = append(dst, data...)
	for i := 0; i < n; i++ {
		dst = append(dst, 0)
	}
	return dst
}

// clockedFrame returns the wire bytes of data for a two-wire family.
// APA102 and LPD8806 strips take start and end frames; WS2801 latches on a
// quiet clock line.
func clockedFrame(p timing.Profile, dst, data []byte) []byte {
	switch p.Family {
	case timing.APA102:
		return DotStarFrame(dst, data)
	case timing.LPD8806:
		return LPD8806Frame(dst, data)
	}
	return append(dst[:0], data...)
}

// DotStar sends two-wire frames over SPI.
type DotStar struct {
	base
	port    spi.Port
	clock   hal.Clock
	profile timing.Profile
	conn    spi.Conn
	wire    []byte
}

// NewDotStar returns a DotStar channel clocked at the family clock of p.
func NewDotStar(p timing.Profile, port spi.Port, clock hal.Clock, l *zerolog.Logger) (*DotStar, error) {
	if !p.TwoWire() {
		return nil, fmt.Errorf("channel: %s is not a clocked family", p.Family)
	}
	d := &DotStar{port: port, clock: clock, profile: p}
	d.init(fmt.Sprintf("dotstar(%s)", port), l)
	return d, nil
}

func (d *DotStar) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	conn, err := d.port.Connect(d.profile.Clock, spi.Mode3, 8)
	if err != nil {
		return fmt.Errorf("channel: %s: %w", d.name, err)
	}
	d.conn, d.opened = conn, true
	return nil
}

func (d *DotStar) Start(data []byte) error {
	d.mu.Lock()
	if err := d.begin(); err != nil {
		d.mu.Unlock()
		return err
	}
	d.wire = clockedFrame(d.profile, d.wire, data)
	d.status.State = Sending
	d.mu.Unlock()

	err := d.conn.Tx(d.wire, nil)
	d.set(Status{State: Idle, DoneAt: d.clock.Now()})
	if err != nil {
		return fmt.Errorf("channel: %s: %w", d.name, err)
	}
	return nil
}

func (d *DotStar) Status() Status { return d.snapshot() }

func (d *DotStar) Async() bool { return false }

func (d *DotStar) DrainLatency() time.Duration { return 0 }

func (d *DotStar) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if c, ok := d.port.(spi.PortCloser); ok {
		return c.Close()
	}
	return nil
}

// DotStarBitBang sends two-wire frames on two GPIO pins.
type DotStarBitBang struct {
	base
	clk, data gpio.PinOut
	clock     hal.Clock
	irq       hal.Interrupts
	profile   timing.Profile
	eng       *bitbang.TwoWire
	wire      []byte
}

// NewDotStarBitBang returns a two-wire channel on clk and data.
func NewDotStarBitBang(p timing.Profile, clk, data gpio.PinOut, clock hal.Clock, irq hal.Interrupts, l *zerolog.Logger) (*DotStarBitBang, error) {
	if !p.TwoWire() {
		return nil, fmt.Errorf("channel: %s is not a clocked family", p.Family)
	}
	d := &DotStarBitBang{clk: clk, data: data, clock: clock, irq: irq, profile: p}
	d.init(fmt.Sprintf("dotstar(%s,%s)", clk, data), l)
	return d, nil
}

func (d *DotStarBitBang) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	eng, err := bitbang.NewTwoWire(d.clk, d.data, d.clock, d.irq, d.profile.Clock)
	if err != nil {
		return err
	}
	d.eng, d.opened = eng, true
	return nil
}

func (d *DotStarBitBang) Start(data []byte) error {
	d.mu.Lock()
	if err := d.begin(); err != nil {
		d.mu.Unlock()
		return err
	}
	d.wire = clockedFrame(d.profile, d.wire, data)
	d.status.State = Sending
	d.mu.Unlock()

	d.eng.Send(d.wire)
	d.set(Status{State: Idle, DoneAt: d.clock.Now()})
	return nil
}

func (d *DotStarBitBang) Status() Status { return d.snapshot() }

func (d *DotStarBitBang) Async() bool { return false }

func (d *DotStarBitBang) DrainLatency() time.Duration { return 0 }

func (d *DotStarBitBang) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
