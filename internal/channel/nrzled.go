package channel

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/devices/v3/nrzled"

	"github.com/coreman2200/pixelwire/internal/hal"
	"github.com/coreman2200/pixelwire/internal/timing"
)

// NRZLEDFreq is the only SPI clock the nrzled driver accepts. It spends four
// SPI bits on each NRZ bit, so a bit lasts NRZLEDBit and its high time is
// one SPI bit for a 0 and three for a 1.
const NRZLEDFreq = 2500 * physic.KiloHertz

// NRZLEDBit is the NRZ bit period the nrzled driver produces.
const NRZLEDBit = 1600 * time.Nanosecond

// NRZLED hands frames to the periph nrzled driver, which does its own SPI
// expansion. Only three byte pixels without a settings block go through it,
// and inverted lines are not supported.
type NRZLED struct {
	base
	port  spi.Port
	clock hal.Clock
	opts  nrzled.Opts
	dev   *nrzled.Dev
	wire  []byte
}

// NRZLEDFits reports whether the fixed nrzled bit suits p: it must be no
// shorter than the family period and at most 30% longer, and its high times
// must sit either side of the family's 0/1 threshold.
func NRZLEDFits(p timing.Profile) bool {
	if p.TwoWire() || p.Period <= 0 {
		return false
	}
	if NRZLEDBit < p.Period || NRZLEDBit*10 > p.Period*13 {
		return false
	}
	spiBit := NRZLEDFreq.Period()
	threshold := (p.T0H + p.T1H) / 2
	return spiBit < threshold && 3*spiBit > threshold
}

// NewNRZLED returns a channel for pixels pixels of channels bytes each.
func NewNRZLED(p timing.Profile, port spi.Port, pixels, channels int, clock hal.Clock, l *zerolog.Logger) (*NRZLED, error) {
	if p.TwoWire() || p.Inverted {
		return nil, fmt.Errorf("channel: nrzled cannot drive %s (inverted=%t)", p.Family, p.Inverted)
	}
	if !NRZLEDFits(p) {
		return nil, fmt.Errorf("channel: nrzled bit of %s does not fit %s (period %s)", NRZLEDBit, p.Family, p.Period)
	}
	// The driver reads every SPI buffer as RGB triplets.
	if channels != 3 {
		return nil, fmt.Errorf("channel: nrzled takes 3 channels, got %d", channels)
	}
	n := &NRZLED{
		port:  port,
		clock: clock,
		opts: nrzled.Opts{
			NumPixels: pixels,
			Channels:  channels,
			Freq:      NRZLEDFreq,
		},
		wire: make([]byte, pixels*channels),
	}
	n.init(fmt.Sprintf("nrzled(%s)", port), l)
	return n, nil
}

func (n *NRZLED) Open() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrClosed
	}
	dev, err := nrzled.NewSPI(n.port, &n.opts)
	if err != nil {
		return fmt.Errorf("channel: %s: %w", n.name, err)
	}
	n.dev, n.opened = dev, true
	n.log.Debug().Str("dev", dev.String()).Stringer("freq", n.opts.Freq).Msg("open")
	return nil
}

func (n *NRZLED) Start(data []byte) error {
	n.mu.Lock()
	if err := n.begin(); err != nil {
		n.mu.Unlock()
		return err
	}
	if len(data) != len(n.wire) {
		n.status.State = Idle
		n.mu.Unlock()
		return fmt.Errorf("channel: %s takes %d bytes, got %d", n.name, len(n.wire), len(data))
	}
	// The driver sends the second byte of each triplet first.
	for i := 0; i+2 < len(data); i += 3 {
		n.wire[i], n.wire[i+1], n.wire[i+2] = data[i+1], data[i], data[i+2]
	}
	n.status.State = Sending
	n.mu.Unlock()

	_, err := n.dev.Write(n.wire)
	n.set(Status{State: Idle, DoneAt: n.clock.Now()})
	if err != nil {
		return fmt.Errorf("channel: %s: %w", n.name, err)
	}
	return nil
}

func (n *NRZLED) Status() Status { return n.snapshot() }

func (n *NRZLED) Async() bool { return false }

func (n *NRZLED) DrainLatency() time.Duration { return 0 }

func (n *NRZLED) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	if n.dev != nil {
		return n.dev.Halt()
	}
	return nil
}
