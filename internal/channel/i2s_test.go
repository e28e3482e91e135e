package channel_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"

	"github.com/coreman2200/pixelwire/internal/channel"
	"github.com/coreman2200/pixelwire/internal/channel/channeltest"
	"github.com/coreman2200/pixelwire/internal/registry"
	"github.com/coreman2200/pixelwire/internal/sim"
	"github.com/coreman2200/pixelwire/internal/timing"
)

func newI2S(t *testing.T, f timing.Family, pol timing.Polarity) (*channel.I2S, *channeltest.I2S) {
	t.Helper()
	clock := sim.NewNanoClock(500 * time.Nanosecond)
	bus := &channeltest.I2S{Clock: clock}
	c, err := channel.NewI2S("i2s0", timing.MustLookup(f, pol), len(frame), clock, bus, nil)
	require.NoError(t, err)
	return c, bus
}

func TestI2SSend(t *testing.T) {
	c, bus := newI2S(t, timing.WS2812, timing.Normal)
	assert.True(t, c.Async())
	assert.Equal(t, 3200*physic.KiloHertz, c.BitClock())
	assert.ErrorIs(t, c.Start(frame), channel.ErrNotOpen)
	require.NoError(t, c.Open())
	assert.Equal(t, 3200*physic.KiloHertz, bus.BitClock())
	require.NoError(t, c.Ring().Validate())
	// 64 bytes at 3.2 MHz.
	assert.Equal(t, 160*time.Microsecond, c.DrainLatency())

	start := bus.Clock.Peek()
	require.NoError(t, c.Start(frame))
	assert.ErrorIs(t, c.Start(frame), channel.ErrBusy)
	st, seen := waitIdle(t, c)
	assert.Equal(t, []channel.State{channel.Sending, channel.Zeroing, channel.Idle}, seen)

	frames := bus.Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, frame, c.Symbols().Decode(frames[0]))
	// 50us of reset at 3.2 MHz is 20 bytes, already a multiple of 4.
	assert.Equal(t, []int{20}, bus.GapBytes())

	// DoneAt marks the end of the data, not of the latch gap: 24 samples
	// bytes take 60us.
	assert.InDelta(t, float64(60*time.Microsecond), float64(bus.Clock.Elapsed(start, st.DoneAt)), float64(time.Microsecond))
}

func TestI2SAlternatesBuffers(t *testing.T) {
	c, bus := newI2S(t, timing.WS2812, timing.Normal)
	require.NoError(t, c.Open())
	second := []byte{1, 2, 3, 4, 5, 6}
	require.NoError(t, c.Start(frame))
	waitIdle(t, c)
	require.NoError(t, c.Start(second))
	waitIdle(t, c)
	frames := bus.Frames()
	require.Len(t, frames, 2)
	assert.Equal(t, frame, c.Symbols().Decode(frames[0]))
	assert.Equal(t, second, c.Symbols().Decode(frames[1]))
	require.NoError(t, c.Ring().Validate())
}

func TestI2SInverted(t *testing.T) {
	c, bus := newI2S(t, timing.TM1814, timing.Normal)
	require.NoError(t, c.Open())
	require.NoError(t, c.Start(frame))
	waitIdle(t, c)
	raw := bus.Frames()[0]
	inv := make([]byte, len(raw))
	for i, b := range raw {
		inv[i] = ^b
	}
	assert.Equal(t, frame, c.Symbols().Decode(inv))
}

func TestI2SRejectsWrongSize(t *testing.T) {
	c, _ := newI2S(t, timing.WS2812, timing.Normal)
	require.NoError(t, c.Open())
	assert.Error(t, c.Start(frame[:2]))
	assert.Equal(t, channel.Idle, c.Status().State)
}

func TestI2SStartFailure(t *testing.T) {
	c, bus := newI2S(t, timing.WS2812, timing.Normal)
	require.NoError(t, c.Open())
	bus.FailStart = true
	assert.Error(t, c.Start(frame))
	assert.Equal(t, channel.Idle, c.Status().State)
	require.NoError(t, c.Close())
	assert.True(t, bus.Closed())
}

func TestI2SMux(t *testing.T) {
	clock := sim.NewNanoClock(500 * time.Nanosecond)
	bus := &channeltest.I2S{Clock: clock}
	mux, err := channel.NewI2SMux(timing.MustLookup(timing.WS2812, timing.Normal), 3, clock, bus, nil)
	require.NoError(t, err)

	a, b := mux.Lane(0), mux.Lane(-1)
	require.NoError(t, a.Open())
	require.NoError(t, b.Open())
	assert.Equal(t, 0, a.ID())
	assert.Equal(t, 1, b.ID())

	x, y := []byte{0xFF, 0x00, 0x81}, []byte{0x12, 0x34, 0x56}
	require.NoError(t, a.Start(x))
	assert.Equal(t, channel.Pending, a.Status().State, "waits for lane 1")
	assert.Equal(t, channel.Idle, b.Status().State)
	assert.Empty(t, bus.Frames())
	assert.ErrorIs(t, a.Start(x), channel.ErrBusy)

	require.NoError(t, b.Start(y))
	frames := bus.Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, x, mux.Symbols().DecodeLane(frames[0], 0))
	assert.Equal(t, y, mux.Symbols().DecodeLane(frames[0], 1))
	assert.Equal(t, []byte{0, 0, 0}, mux.Symbols().DecodeLane(frames[0], 2))

	waitIdle(t, a)
	waitIdle(t, b)

	require.NoError(t, a.Close())
	assert.False(t, bus.Closed())
	require.NoError(t, b.Close())
	assert.True(t, bus.Closed())
}

func TestI2SMuxLaneClaims(t *testing.T) {
	clock := sim.NewNanoClock(500 * time.Nanosecond)
	bus := &channeltest.I2S{Clock: clock}
	mux, err := channel.NewI2SMux(timing.MustLookup(timing.WS2812, timing.Normal), 3, clock, bus, nil)
	require.NoError(t, err)
	require.NoError(t, mux.Lane(3).Open())
	assert.ErrorIs(t, mux.Lane(3).Open(), registry.ErrClaimed)
	assert.ErrorIs(t, mux.Lane(8).Open(), registry.ErrRange)

	_, err = channel.NewI2SMux(timing.MustLookup(timing.TM1814, timing.Normal), 3, clock, bus, nil)
	assert.Error(t, err)
}

func TestI2SMuxFailedClaimLeavesBusAlone(t *testing.T) {
	clock := sim.NewNanoClock(500 * time.Nanosecond)
	bus := &channeltest.I2S{Clock: clock}
	mux, err := channel.NewI2SMux(timing.MustLookup(timing.WS2812, timing.Normal), 3, clock, bus, nil)
	require.NoError(t, err)

	bad := mux.Lane(9)
	assert.ErrorIs(t, bad.Open(), registry.ErrRange)
	require.NoError(t, bad.Close())
	assert.Zero(t, bus.BitClock(), "bus never configured")

	a := mux.Lane(2)
	require.NoError(t, a.Open())
	assert.ErrorIs(t, mux.Lane(2).Open(), registry.ErrClaimed)
	require.NoError(t, a.Close())
	assert.True(t, bus.Closed())
}

func TestI2SMuxClosingLaneReleasesPeers(t *testing.T) {
	clock := sim.NewNanoClock(500 * time.Nanosecond)
	bus := &channeltest.I2S{Clock: clock}
	mux, err := channel.NewI2SMux(timing.MustLookup(timing.WS2812, timing.Normal), 3, clock, bus, nil)
	require.NoError(t, err)
	a, b, c := mux.Lane(0), mux.Lane(1), mux.Lane(2)
	require.NoError(t, a.Open())
	require.NoError(t, b.Open())
	require.NoError(t, c.Open())

	x := []byte{0x11, 0x22, 0x33}
	require.NoError(t, a.Start(x))
	require.NoError(t, b.Start(x))
	assert.Equal(t, channel.Pending, a.Status().State)

	// Lane 2 never updates; once it closes the others go out.
	require.NoError(t, c.Close())
	frames := bus.Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, x, mux.Symbols().DecodeLane(frames[0], 0))
	assert.Equal(t, x, mux.Symbols().DecodeLane(frames[0], 1))
	waitIdle(t, a)
	waitIdle(t, b)

	// A pending lane that closes no longer holds up its peer.
	require.NoError(t, a.Start(x))
	require.NoError(t, a.Close())
	assert.Equal(t, channel.Idle, b.Status().State)
	require.NoError(t, b.Start(x))
	assert.Len(t, bus.Frames(), 2)
	require.NoError(t, b.Close())
	assert.True(t, bus.Closed())
}
