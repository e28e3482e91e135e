package bitbang

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/coreman2200/pixelwire/internal/hal"
)

// TwoWire clocks bytes out on a data and a clock pin, MSB first. Data is
// set up while the clock is low and sampled by the chips on the rising edge.
type TwoWire struct {
	clk, data gpio.PinOut
	clock     hal.Clock
	irq       hal.Interrupts
	half      uint64
}

// NewTwoWire returns a two-wire engine running at most at rate.
func NewTwoWire(clk, data gpio.PinOut, clock hal.Clock, irq hal.Interrupts, rate physic.Frequency) (*TwoWire, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("bitbang: invalid clock rate %s", rate)
	}
	half := hal.DurationToTicks(rate.Period()/2, clock.Frequency())
	if half == 0 {
		half = 1
	}
	if irq == nil {
		irq = hal.NoInterrupts{}
	}
	if err := clk.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("bitbang: park %s: %w", clk, err)
	}
	if err := data.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("bitbang: park %s: %w", data, err)
	}
	return &TwoWire{clk: clk, data: data, clock: clock, irq: irq, half: half}, nil
}

// Send transmits data. Two-wire chips latch on the clock, not on time, so
// interrupts are only masked to keep the clock duty even.
func (w *TwoWire) Send(data []byte) {
	if len(data) == 0 {
		return
	}
	st := w.irq.Disable()
	defer w.irq.Restore(st)
	for _, b := range data {
		for mask := byte(0x80); mask != 0; mask >>= 1 {
			_ = w.data.Out(b&mask != 0)
			w.wait()
			_ = w.clk.Out(gpio.High)
			w.wait()
			_ = w.clk.Out(gpio.Low)
		}
	}
	_ = w.data.Out(gpio.Low)
}

func (w *TwoWire) wait() {
	ref := w.clock.Now()
	for w.clock.Now()-ref < w.half {
	}
}
