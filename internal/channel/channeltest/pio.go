package channeltest

import (
	"errors"
	"sync"
	"time"

	"github.com/coreman2200/pixelwire/internal/hal"
	"github.com/coreman2200/pixelwire/internal/pio"
	"github.com/coreman2200/pixelwire/internal/sim"
)

// PIO runs each started state machine through the instruction emulator at
// once and reports the TX stall when the clock reaches the emulated
// cycle count.
type PIO struct {
	Clock *sim.Clock
	Freq  uint32

	mu    sync.Mutex
	ends  map[*pio.StateMachine]uint64
	trace map[*pio.StateMachine][]pio.Span
}

// NewPIO returns hardware with a sysFreq Hz system clock.
func NewPIO(c *sim.Clock, sysFreq uint32) *PIO {
	return &PIO{Clock: c, Freq: sysFreq, ends: map[*pio.StateMachine]uint64{}, trace: map[*pio.StateMachine][]pio.Span{}}
}

func (h *PIO) SysFreq() uint32 { return h.Freq }

func (h *PIO) Start(sm *pio.StateMachine, words []uint32) error {
	if !sm.Enabled() {
		return errors.New("channeltest: " + sm.String() + " not enabled")
	}
	emu := sm.Emulator()
	emu.Put(words...)
	if err := emu.Run(uint64(len(words)+1) * 32 * 32); err != nil {
		return err
	}
	d := sm.Config().CyclePeriod(h.Freq) * time.Duration(emu.Cycles())
	end := h.Clock.Now() + hal.Ticks(h.Clock, d)
	h.mu.Lock()
	h.ends[sm] = end
	h.trace[sm] = emu.Trace()
	h.mu.Unlock()
	return nil
}

func (h *PIO) TxStalled(sm *pio.StateMachine) (bool, uint64) {
	now := h.Clock.Now()
	h.mu.Lock()
	defer h.mu.Unlock()
	end, ok := h.ends[sm]
	if !ok {
		return true, now
	}
	return now >= end, end
}

// Trace returns the pin trace of the last frame started on sm.
func (h *PIO) Trace(sm *pio.StateMachine) []pio.Span {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.trace[sm]
}
