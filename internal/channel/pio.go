package channel

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/coreman2200/pixelwire/internal/hal"
	"github.com/coreman2200/pixelwire/internal/pio"
	"github.com/coreman2200/pixelwire/internal/timing"
)

// PIOCyclesPerBit is the state machine cycle budget of one NRZ bit.
const PIOCyclesPerBit = 10

// PIOHardware feeds a state machine's TX FIFO from DMA and reports its
// transmit stall flag.
type PIOHardware interface {
	// SysFreq is the system clock in Hz the dividers are computed from.
	SysFreq() uint32
	Start(sm *pio.StateMachine, words []uint32) error
	// TxStalled reports whether sm has stalled on an empty FIFO since the
	// last Start, and the tick it did.
	TxStalled(sm *pio.StateMachine) (bool, uint64)
}

// PIO runs the NRZ side-set program on a state machine of a PIO block.
type PIO struct {
	base
	block   *pio.Block
	hw      PIOHardware
	clock   hal.Clock
	profile timing.Profile

	prog   pio.Program
	cycles pio.NRZCycles
	offset uint8
	sm     *pio.StateMachine
	words  []uint32
}

// NewPIO returns a channel that loads its program into block on Open.
func NewPIO(p timing.Profile, block *pio.Block, hw PIOHardware, clock hal.Clock, l *zerolog.Logger) (*PIO, error) {
	prog, cycles, err := pio.NRZ(p, PIOCyclesPerBit, hw.SysFreq())
	if err != nil {
		return nil, err
	}
	c := &PIO{block: block, hw: hw, clock: clock, profile: p, prog: prog, cycles: cycles}
	c.init(fmt.Sprintf("pio%d", block.Index()), l)
	return c, nil
}

// Cycles returns the phase lengths of the loaded program.
func (c *PIO) Cycles() pio.NRZCycles { return c.cycles }

// StateMachine returns the claimed state machine, nil before Open.
func (c *PIO) StateMachine() *pio.StateMachine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sm
}

func (c *PIO) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	offset, err := c.block.AddProgram(c.prog.Code, c.prog.Origin)
	if err != nil {
		return fmt.Errorf("channel: %s: %w", c.name, err)
	}
	sm, err := c.block.ClaimStateMachine()
	if err != nil {
		c.block.RemoveProgram(offset, len(c.prog.Code))
		return fmt.Errorf("channel: %s: %w", c.name, err)
	}
	sm.Init(offset, c.prog.Config)
	sm.SetEnabled(true)
	c.offset, c.sm, c.opened = offset, sm, true
	c.name = sm.String()
	c.log = c.log.With().Str("sm", sm.String()).Logger()
	c.log.Debug().
		Uint8("offset", offset).
		Uint16("clkdiv", c.prog.Config.ClkDivWhole).
		Uint8("frac", c.prog.Config.ClkDivFrac).
		Msg("claimed")
	return nil
}

func (c *PIO) Start(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refresh()
	if err := c.begin(); err != nil {
		return err
	}
	if cap(c.words) < len(data) {
		c.words = make([]uint32, len(data))
	}
	c.words = c.words[:len(data)]
	for i, b := range data {
		c.words[i] = pio.Word(b)
	}
	if err := c.hw.Start(c.sm, c.words); err != nil {
		c.status.State = Idle
		return fmt.Errorf("channel: %s: %w", c.name, err)
	}
	c.status.State = Sending
	return nil
}

// refresh must be called with mu held.
func (c *PIO) refresh() {
	if c.status.State != Sending {
		return
	}
	if stalled, at := c.hw.TxStalled(c.sm); stalled {
		c.status = Status{State: Idle, DoneAt: at}
	}
}

func (c *PIO) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refresh()
	return c.status
}

func (c *PIO) Async() bool { return true }

// DrainLatency covers the idle tail of the last bit, which the machine
// shifts out after stalling.
func (c *PIO) DrainLatency() time.Duration { return c.profile.Period }

func (c *PIO) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.opened {
		c.sm.Release()
		c.block.RemoveProgram(c.offset, len(c.prog.Code))
		c.log.Debug().Msg("released")
	}
	return nil
}
