package channel

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/physic"

	"github.com/coreman2200/pixelwire/internal/dma"
	"github.com/coreman2200/pixelwire/internal/hal"
	"github.com/coreman2200/pixelwire/internal/registry"
	"github.com/coreman2200/pixelwire/internal/symbol"
	"github.com/coreman2200/pixelwire/internal/timing"
)

// I2SMux drives up to eight strips from one I2S bus in parallel mode. Each
// strip is a lane; the bus sends once every open lane has updated since the
// previous frame. A lane waiting on its peers reports Pending, and closing
// a lane drops it from the set the others wait on.
type I2SMux struct {
	bus      I2SBus
	clock    hal.Clock
	profile  timing.Profile
	par      *symbol.Parallel
	bitClock physic.Frequency
	laneSize int
	lanes    *registry.Pool[*I2SLane]
	log      zerolog.Logger

	mu      sync.Mutex
	wire    []byte
	ring    *dma.Ring
	gapTick uint64
	started bool
	updated uint64
	busy    bool
	status  Status
	scratch [][]byte
}

// NewI2SMux returns a mux for lanes of laneSize bytes.
func NewI2SMux(p timing.Profile, laneSize int, clock hal.Clock, bus I2SBus, l *zerolog.Logger) (*I2SMux, error) {
	c, err := symbol.NewCadence(p, i2sSlots)
	if err != nil {
		return nil, err
	}
	if p.Inverted {
		return nil, fmt.Errorf("channel: i2s mux cannot drive inverted %s lanes", p.Family)
	}
	lg := log.Logger
	if l != nil {
		lg = *l
	}
	return &I2SMux{
		bus:      bus,
		clock:    clock,
		profile:  p,
		par:      symbol.NewParallel(c),
		bitClock: p.Rate() * i2sSlots,
		laneSize: laneSize,
		lanes:    registry.New[*I2SLane]("i2s-mux", symbol.MaxLanes),
		log:      lg.With().Str("channel", "i2smux").Logger(),
		scratch:  make([][]byte, symbol.MaxLanes),
	}, nil
}

// Lane returns lane id (0..7), or the first free one when id is negative.
// The lane slot is claimed by Open.
func (m *I2SMux) Lane(id int) *I2SLane {
	l := &I2SLane{mux: m, id: id, data: make([]byte, m.laneSize)}
	l.init("i2smux-lane", &m.log)
	return l
}

// LaneSize is the frame size of every lane.
func (m *I2SMux) LaneSize() int { return m.laneSize }

// Symbols returns the transposer.
func (m *I2SMux) Symbols() *symbol.Parallel { return m.par }

// open lazily configures the bus when the first lane opens.
func (m *I2SMux) open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}
	n := m.par.EncodedLen(m.laneSize)
	m.wire = make([]byte, n)
	gap := make([]byte, gapBytes(m.profile.Reset, m.bitClock))
	ring, err := dma.NewBuilder(dma.Capacity(n, len(gap))).Data(m.wire).Gap(gap).Idle(make([]byte, 4)).Build()
	if err != nil {
		return fmt.Errorf("channel: i2s mux ring: %w", err)
	}
	if err := m.bus.Configure(m.bitClock); err != nil {
		return err
	}
	m.ring, m.started = ring, true
	m.gapTick = hal.Ticks(m.clock, bitsTime(len(gap)*8, m.bitClock))
	return nil
}

// poll refreshes the bus state and sends when every open lane is ready.
// It must be called with m.mu held.
func (m *I2SMux) poll() {
	if m.busy {
		desc, at := m.bus.Position()
		m.status = ringStatus(m.ring, desc, at, m.gapTick)
		m.busy = m.status.State != Idle
	}
	if m.busy || m.updated == 0 {
		return
	}
	var open uint64
	m.lanes.Each(func(id int, _ *I2SLane) { open |= 1 << uint(id) })
	if m.updated&open != open {
		return
	}
	for i := range m.scratch {
		m.scratch[i] = nil
	}
	m.lanes.Each(func(id int, l *I2SLane) { m.scratch[id] = l.data })
	if err := m.par.Encode(m.wire, m.scratch, m.laneSize); err != nil {
		m.log.Error().Err(err).Msg("transpose")
		return
	}
	if err := m.bus.Start(m.ring); err != nil {
		m.log.Error().Err(err).Msg("start")
		return
	}
	m.updated = 0
	m.busy = true
	m.status = Status{State: Sending}
}

// laneStatus reports the state seen by lane id. It must be called with
// m.mu held.
func (m *I2SMux) laneStatus(id int) Status {
	m.poll()
	if m.updated&(1<<uint(id)) != 0 {
		return Status{State: Pending}
	}
	return m.status
}

func (m *I2SMux) release(id int) {
	m.mu.Lock()
	m.updated &^= 1 << uint(id)
	m.lanes.Release(id)
	last := m.started && m.lanes.Free() == m.lanes.Size()
	if last {
		m.started = false
	} else if m.started {
		m.poll()
	}
	m.mu.Unlock()
	if last {
		if err := m.bus.Close(); err != nil {
			m.log.Warn().Err(err).Msg("close bus")
		}
	}
}

// I2SLane is one strip of an I2SMux.
type I2SLane struct {
	base
	mux  *I2SMux
	id   int
	data []byte
}

// ID is the claimed lane, or the requested one before Open.
func (l *I2SLane) ID() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.id
}

func (l *I2SLane) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	id, err := l.mux.lanes.ClaimAt(l.id, l)
	if err != nil {
		return err
	}
	if err := l.mux.open(); err != nil {
		l.mux.release(id)
		return err
	}
	l.id, l.opened = id, true
	l.name = "i2smux-lane" + strconv.Itoa(id)
	l.log = l.log.With().Int("lane", id).Logger()
	l.log.Debug().Msg("claimed")
	return nil
}

func (l *I2SLane) Start(data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.usable(); err != nil {
		return err
	}
	if len(data) != len(l.data) {
		return fmt.Errorf("channel: %s takes %d bytes, got %d", l.name, len(l.data), len(data))
	}
	m := l.mux
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.laneStatus(l.id); st.State != Idle {
		return ErrBusy
	}
	copy(l.data, data)
	m.updated |= 1 << uint(l.id)
	m.poll()
	return nil
}

func (l *I2SLane) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.opened || l.closed {
		return l.status
	}
	m := l.mux
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.laneStatus(l.id)
}

func (l *I2SLane) Async() bool { return true }

func (l *I2SLane) DrainLatency() time.Duration {
	return bitsTime(I2SFIFOBytes*8, l.mux.bitClock)
}

func (l *I2SLane) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.opened {
		l.mux.release(l.id)
		l.log.Debug().Msg("released")
	}
	return nil
}
