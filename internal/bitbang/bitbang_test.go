package bitbang

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"

	"github.com/coreman2200/pixelwire/internal/sim"
	"github.com/coreman2200/pixelwire/internal/timing"
)

func newEngine(t *testing.T, f timing.Family, pol timing.Polarity) (*Engine, *sim.Pin, *sim.Clock) {
	clock := sim.NewNanoClock(25 * time.Nanosecond)
	p := timing.MustLookup(f, pol)
	pin := sim.NewPin("GPIO18", 18, clock, p.IdleLevel())
	e, err := New(pin, clock, nil, p)
	require.NoError(t, err)
	return e, pin, clock
}

func TestSendWS2812Byte(t *testing.T) {
	e, pin, clock := newEngine(t, timing.WS2812, timing.Normal)
	e.Send([]byte{0b10110000})

	pulses := pin.Pulses()
	us := time.Microsecond
	want := []time.Duration{8 * us / 10, 4 * us / 10, 8 * us / 10, 8 * us / 10, 4 * us / 10, 4 * us / 10, 4 * us / 10, 4 * us / 10}
	assert.Equal(t, want, sim.HighWidths(pulses, gpio.High))

	starts := pin.Starts(gpio.High)
	require.Len(t, starts, 8)
	for i := 1; i < len(starts); i++ {
		assert.Equal(t, 1250*time.Nanosecond, clock.Elapsed(starts[i-1], starts[i]), "bit %d", i)
	}
	assert.Equal(t, gpio.Low, pin.Read())
}

func TestSendReturnsAfterLastPeriod(t *testing.T) {
	e, pin, clock := newEngine(t, timing.WS2812, timing.Normal)
	e.Send([]byte{0xFF})
	starts := pin.Starts(gpio.High)
	require.Len(t, starts, 8)
	assert.GreaterOrEqual(t, int64(clock.Elapsed(starts[7], clock.Peek())), int64(1250*time.Nanosecond))
}

func TestSendRoundTrip(t *testing.T) {
	for _, f := range []timing.Family{timing.WS2812, timing.WS2811, timing.SK6812, timing.APA106, timing.TM1814} {
		t.Run(f.String(), func(t *testing.T) {
			e, pin, _ := newEngine(t, f, timing.Normal)
			p := timing.MustLookup(f, timing.Normal)
			data := []byte{0x00, 0xFF, 0xA5, 0x3C, 0x81}
			e.Send(data)
			got := sim.DecodeNRZ(pin.Pulses(), p.ActiveLevel(), (p.T0H+p.T1H)/2)
			assert.Equal(t, data, got)
			assert.Equal(t, p.IdleLevel(), pin.Read())
		})
	}
}

func TestSendInverted(t *testing.T) {
	e, pin, _ := newEngine(t, timing.WS2812, timing.Inverted)
	assert.Equal(t, gpio.High, pin.Read())
	e.Send([]byte{0x80})
	widths := sim.HighWidths(pin.Pulses(), gpio.Low)
	require.Len(t, widths, 8)
	assert.Equal(t, 800*time.Nanosecond, widths[0])
	assert.Equal(t, gpio.High, pin.Read())
}

func TestSendEmpty(t *testing.T) {
	e, pin, _ := newEngine(t, timing.WS2812, timing.Normal)
	e.Send(nil)
	e.Send([]byte{})
	assert.True(t, e.SendInterruptible(nil))
	assert.Empty(t, pin.Edges())
	assert.Equal(t, 1, pin.Writes(), "only the park write")
}

func TestSendInterruptible(t *testing.T) {
	clock := sim.NewNanoClock(25 * time.Nanosecond)
	p := timing.MustLookup(timing.WS2812, timing.Normal)
	pin := sim.NewPin("GPIO18", 18, clock, gpio.Low)

	t.Run("short handlers", func(t *testing.T) {
		irq := &sim.Stall{Clock: clock, Cost: 2 * time.Microsecond}
		e, err := New(pin, clock, irq, p)
		require.NoError(t, err)
		pin.Reset()
		data := []byte{1, 2, 3, 4}
		require.True(t, e.SendInterruptible(data))
		assert.Equal(t, data, sim.DecodeNRZ(pin.Pulses(), gpio.High, 600*time.Nanosecond))
		assert.True(t, irq.Balanced())
		assert.GreaterOrEqual(t, irq.Restores(), len(data))
	})

	t.Run("handler longer than latch", func(t *testing.T) {
		irq := &sim.Stall{Clock: clock, Cost: 60 * time.Microsecond, Every: 2}
		e, err := New(pin, clock, irq, p)
		require.NoError(t, err)
		pin.Reset()
		assert.False(t, e.SendInterruptible([]byte{1, 2, 3, 4}))
		assert.True(t, irq.Balanced())
		assert.Equal(t, gpio.Low, pin.Read())
		// Only the first two bytes made it out before the stall.
		assert.Len(t, pin.Starts(gpio.High), 16)
	})
}

func TestNewRejectsTwoWire(t *testing.T) {
	clock := sim.NewNanoClock(time.Nanosecond)
	pin := sim.NewPin("D", 1, clock, gpio.Low)
	_, err := New(pin, clock, nil, timing.MustLookup(timing.APA102, timing.Normal))
	assert.Error(t, err)
}

func TestTwoWire(t *testing.T) {
	clock := sim.NewNanoClock(10 * time.Nanosecond)
	clk := sim.NewPin("SCLK", 11, clock, gpio.Low)
	data := sim.NewPin("MOSI", 10, clock, gpio.Low)
	w, err := NewTwoWire(clk, data, clock, nil, timing.MustLookup(timing.APA102, timing.Normal).Clock)
	require.NoError(t, err)
	frame := []byte{0x00, 0x00, 0x00, 0x00, 0xE1, 0x10, 0x20, 0x30, 0xFF, 0xFF, 0xFF, 0xFF}
	w.Send(frame)
	assert.Equal(t, frame, sim.SampleOnRise(clk, data))
	assert.Equal(t, gpio.Low, clk.Read())
	w.Send(nil)
	assert.Len(t, sim.SampleOnRise(clk, data), len(frame))
}
