package channel

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"github.com/coreman2200/pixelwire/internal/hal"
	"github.com/coreman2200/pixelwire/internal/symbol"
	"github.com/coreman2200/pixelwire/internal/timing"
)

// spiSlots is the number of SPI bits per NRZ bit.
const spiSlots = 3

// SPI shifts NRZ sub-bits out of an SPI MOSI line, three per data bit,
// followed by an idle tail covering the latch time.
type SPI struct {
	base
	port    spi.Port
	clock   hal.Clock
	profile timing.Profile
	exp     *symbol.Expander
	freq    physic.Frequency
	conn    spi.Conn
	wire    []byte
	tail    int
	tailDur uint64
}

// NewSPI returns an SPI NRZ channel on port.
func NewSPI(p timing.Profile, port spi.Port, clock hal.Clock, l *zerolog.Logger) (*SPI, error) {
	c, err := symbol.NewCadence(p, spiSlots)
	if err != nil {
		return nil, err
	}
	freq := p.Rate() * spiSlots
	// Whole bytes of idle bits spanning the reset time.
	tail := int((hal.DurationToTicks(p.Reset, freq) + 7) / 8)
	s := &SPI{
		port:    port,
		clock:   clock,
		profile: p,
		exp:     symbol.NewExpander(c),
		freq:    freq,
		tail:    tail,
		tailDur: hal.Ticks(clock, bitsTime(tail*8, freq)),
	}
	s.init(fmt.Sprintf("spi(%s)", port), l)
	return s, nil
}

// Symbols returns the sub-bit table.
func (s *SPI) Symbols() *symbol.Expander { return s.exp }

// Freq is the SPI clock.
func (s *SPI) Freq() physic.Frequency { return s.freq }

// Tail is the number of idle bytes sent after each frame.
func (s *SPI) Tail() int { return s.tail }

func (s *SPI) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	conn, err := s.port.Connect(s.freq, spi.Mode3, 8)
	if err != nil {
		return fmt.Errorf("channel: %s: %w", s.name, err)
	}
	s.conn, s.opened = conn, true
	s.log.Debug().Stringer("freq", s.freq).Int("tail", s.tail).Msg("open")
	return nil
}

func (s *SPI) Start(data []byte) error {
	s.mu.Lock()
	if err := s.begin(); err != nil {
		s.mu.Unlock()
		return err
	}
	n := s.exp.EncodedLen(len(data))
	if cap(s.wire) < n+s.tail {
		s.wire = make([]byte, n+s.tail)
	}
	s.wire = s.wire[:n+s.tail]
	s.exp.Encode(s.wire, data)
	fill(s.wire[n:], 0)
	if s.profile.Inverted {
		for i := range s.wire {
			s.wire[i] = ^s.wire[i]
		}
	}
	s.status.State = Sending
	s.mu.Unlock()

	err := s.conn.Tx(s.wire, nil)
	s.set(Status{State: Idle, DoneAt: s.clock.Now() - s.tailDur})
	if err != nil {
		return fmt.Errorf("channel: %s: %w", s.name, err)
	}
	return nil
}

func (s *SPI) Status() Status { return s.snapshot() }

func (s *SPI) Async() bool { return false }

func (s *SPI) DrainLatency() time.Duration { return 0 }

func (s *SPI) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if c, ok := s.port.(spi.PortCloser); ok {
		return c.Close()
	}
	return nil
}
