// Package bitbang generates LED waveforms by toggling GPIO pins against a
// free running cycle counter.
package bitbang

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"

	"github.com/coreman2200/pixelwire/internal/hal"
	"github.com/coreman2200/pixelwire/internal/timing"
)

// Engine emits single-wire NRZ frames on one pin.
type Engine struct {
	pin    gpio.PinOut
	clock  hal.Clock
	irq    hal.Interrupts
	c      timing.Cycles
	active gpio.Level
	idle   gpio.Level
}

// New parks pin at the idle level of p and returns an engine for it.
func New(pin gpio.PinOut, clock hal.Clock, irq hal.Interrupts, p timing.Profile) (*Engine, error) {
	if p.TwoWire() {
		return nil, fmt.Errorf("bitbang: %s is a two-wire family", p.Family)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	c := p.Cycles(clock.Frequency())
	if c.T0H == 0 {
		return nil, fmt.Errorf("bitbang: %s counter too slow for %s", clock.Frequency(), p.Family)
	}
	if irq == nil {
		irq = hal.NoInterrupts{}
	}
	if err := pin.Out(p.IdleLevel()); err != nil {
		return nil, fmt.Errorf("bitbang: park %s: %w", pin, err)
	}
	return &Engine{
		pin:    pin,
		clock:  clock,
		irq:    irq,
		c:      c,
		active: p.ActiveLevel(),
		idle:   p.IdleLevel(),
	}, nil
}

// Pin returns the data pin.
func (e *Engine) Pin() gpio.PinOut { return e.pin }

// Send transmits data MSB first with interrupts masked for the whole frame.
// It returns once the last bit period has elapsed.
func (e *Engine) Send(data []byte) {
	if len(data) == 0 {
		return
	}
	st := e.irq.Disable()
	ref := e.clock.Now() - e.c.Period
	for _, b := range data {
		ref = e.sendByte(b, ref)
	}
	e.waitPeriod(ref)
	e.irq.Restore(st)
}

// SendInterruptible transmits data like Send but lets pending interrupts run
// between bytes. If the line sat idle for a whole reset window while they
// ran, the chips have already latched a partial frame: the send stops and
// false is returned so the caller can resend the frame from the start.
func (e *Engine) SendInterruptible(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	st := e.irq.Disable()
	ref := e.clock.Now() - e.c.Period
	for i, b := range data {
		if i > 0 {
			// The falling edge of the last bit was at ref+T0H at the
			// earliest; measuring from ref is the conservative bound.
			e.irq.Restore(st)
			st = e.irq.Disable()
			if e.clock.Now()-ref >= e.c.Reset {
				e.irq.Restore(st)
				return false
			}
		}
		ref = e.sendByte(b, ref)
	}
	e.waitPeriod(ref)
	e.irq.Restore(st)
	return true
}

// sendByte clocks out the 8 bits of b. ref is the start of the previous bit
// and the start of the last bit sent is returned.
func (e *Engine) sendByte(b byte, ref uint64) uint64 {
	for mask := byte(0x80); mask != 0; mask >>= 1 {
		high := e.c.T0H
		if b&mask != 0 {
			high = e.c.T1H
		}
		now := e.clock.Now()
		for now-ref < e.c.Period {
			now = e.clock.Now()
		}
		ref = now
		_ = e.pin.Out(e.active)
		for now-ref < high {
			now = e.clock.Now()
		}
		_ = e.pin.Out(e.idle)
	}
	return ref
}

func (e *Engine) waitPeriod(ref uint64) {
	for e.clock.Now()-ref < e.c.Period {
	}
}
