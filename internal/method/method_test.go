package method_test

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spitest"

	"github.com/coreman2200/pixelwire/internal/channel"
	"github.com/coreman2200/pixelwire/internal/channel/channeltest"
	"github.com/coreman2200/pixelwire/internal/diagnostics"
	"github.com/coreman2200/pixelwire/internal/method"
	"github.com/coreman2200/pixelwire/internal/registry"
	"github.com/coreman2200/pixelwire/internal/sim"
	"github.com/coreman2200/pixelwire/internal/timing"
)

type bench struct {
	clock *sim.Clock
	pins  map[string]*sim.Pin
	uart  *channeltest.UART
	rmt   *channeltest.RMT
	i2s   *channeltest.I2S
	board *method.Board
}

func newBench(rmtChannels int) *bench {
	clock := sim.NewNanoClock(25 * time.Nanosecond)
	b := &bench{
		clock: clock,
		pins:  map[string]*sim.Pin{},
		uart:  &channeltest.UART{Clock: clock},
		rmt:   channeltest.NewRMT(clock, rmtChannels, 50*time.Nanosecond),
		i2s:   &channeltest.I2S{Clock: clock},
	}
	b.board = &method.Board{
		Clock: clock,
		Pin: func(name string) (gpio.PinOut, error) {
			if p, ok := b.pins[name]; ok {
				return p, nil
			}
			p := sim.NewPin(name, len(b.pins), clock, gpio.Low)
			b.pins[name] = p
			return p, nil
		},
		Serial: func(string) channel.UARTOpener { return b.uart.Opener() },
		I2S:    []channel.I2SBus{b.i2s},
		RMT:    channel.NewRMTBus(b.rmt),
	}
	return b
}

func strip(backend method.Backend, pixels int) method.Config {
	return method.Config{
		Name:        fmt.Sprintf("%s-strip", backend),
		Family:      timing.WS2812,
		Backend:     backend,
		Pins:        []string{"GPIO18"},
		PixelCount:  pixels,
		ElementSize: 3,
		Channel:     -1,
	}
}

func open(t *testing.T, b *bench, c method.Config) *method.Method {
	t.Helper()
	m, err := method.New(c, b.board)
	require.NoError(t, err)
	require.NoError(t, m.Initialize())
	t.Cleanup(func() { m.Close() })
	return m
}

func TestBackendNames(t *testing.T) {
	for b := method.BitBang; b <= method.NRZLED; b++ {
		got, err := method.ParseBackend(b.String())
		require.NoError(t, err)
		assert.Equal(t, b, got)
	}
	got, err := method.ParseBackend(" I2S-Mux ")
	require.NoError(t, err)
	assert.Equal(t, method.I2SMux, got)
	_, err = method.ParseBackend("parallel-port")
	assert.ErrorIs(t, err, method.ErrConfig)
	assert.Equal(t, "backend(42)", method.Backend(42).String())
	assert.True(t, method.RMT.Async())
	assert.False(t, method.SPI.Async())
}

func TestConfigValidate(t *testing.T) {
	c := strip(method.BitBang, 10)
	require.NoError(t, c.Validate())
	assert.Equal(t, 30, c.Layout().Size())

	bad := c
	bad.PixelCount = -1
	assert.ErrorIs(t, bad.Validate(), method.ErrConfig)
	bad = c
	bad.Family = timing.Unknown
	assert.ErrorIs(t, bad.Validate(), method.ErrConfig)
	bad = c
	bad.Backend = method.Backend(99)
	assert.ErrorIs(t, bad.Validate(), method.ErrConfig)
	bad = c
	bad.TeardownTimeout = -time.Second
	assert.ErrorIs(t, bad.Validate(), method.ErrConfig)
}

func TestBuildSelectsChannel(t *testing.T) {
	b := newBench(2)
	for _, tc := range []struct {
		backend method.Backend
		name    string
	}{
		{method.BitBang, "bitbang(GPIO18(0))"},
		{method.UART, "uart(GPIO18)"},
		{method.I2S, "i2s(0)"},
		{method.RMT, "rmt"},
	} {
		c := strip(tc.backend, 4)
		ch, err := method.Build(c, timing.MustLookup(timing.WS2812, timing.Normal), b.board, nil)
		require.NoError(t, err, tc.backend)
		assert.Equal(t, tc.name, fmt.Sprint(ch))
	}

	_, err := method.Build(strip(method.PIO, 4), timing.MustLookup(timing.WS2812, timing.Normal), b.board, nil)
	assert.ErrorIs(t, err, method.ErrConfig, "board has no pio")
	_, err = method.Build(strip(method.SPI, 4), timing.MustLookup(timing.WS2812, timing.Normal), b.board, nil)
	assert.ErrorIs(t, err, method.ErrConfig, "board has no spi")
	_, err = method.Build(strip(method.RMT, 4), timing.MustLookup(timing.WS2812, timing.Normal), nil, nil)
	assert.ErrorIs(t, err, method.ErrConfig)
}

func TestBuildClockedFamily(t *testing.T) {
	b := newBench(1)
	c := strip(method.BitBang, 2)
	c.Family = timing.APA102
	c.ElementSize = 4
	c.Pins = []string{"DATA", "CLK"}
	ch, err := method.Build(c, timing.MustLookup(timing.APA102, timing.Normal), b.board, nil)
	require.NoError(t, err)
	assert.Equal(t, "dotstar(CLK(1),DATA(0))", fmt.Sprint(ch))

	c.Pins = c.Pins[:1]
	_, err = method.Build(c, timing.MustLookup(timing.APA102, timing.Normal), b.board, nil)
	assert.ErrorIs(t, err, method.ErrConfig, "clock pin missing")

	c.Backend = method.UART
	_, err = method.Build(c, timing.MustLookup(timing.APA102, timing.Normal), b.board, nil)
	assert.ErrorIs(t, err, method.ErrConfig)
}

func TestBuildNRZLEDLayout(t *testing.T) {
	b := newBench(1)
	var buf bytes.Buffer
	b.board.SPI = func(string) (spi.Port, error) { return spitest.NewRecordRaw(&buf), nil }
	p := timing.MustLookup(timing.WS2812, timing.Normal)

	c := strip(method.NRZLED, 4)
	c.Pins = []string{"SPI0.0"}
	ch, err := method.Build(c, p, b.board, nil)
	require.NoError(t, err)
	assert.Equal(t, "nrzled(recordraw)", fmt.Sprint(ch))

	withSettings := c
	withSettings.SettingsSize = 2
	_, err = method.Build(withSettings, p, b.board, nil)
	assert.ErrorIs(t, err, method.ErrConfig)

	rgbw := c
	rgbw.Family, rgbw.ElementSize = timing.SK6812, 4
	_, err = method.Build(rgbw, timing.MustLookup(timing.SK6812, timing.Normal), b.board, nil)
	assert.Error(t, err)

	slow := c
	slow.Family = timing.WS2811
	_, err = method.Build(slow, timing.MustLookup(timing.WS2811, timing.Normal), b.board, nil)
	assert.Error(t, err)
}

func TestBuildMuxLanesShareBus(t *testing.T) {
	b := newBench(1)
	p := timing.MustLookup(timing.WS2812, timing.Normal)
	a := strip(method.I2SMux, 4)
	a.Channel = 0
	la, err := method.Build(a, p, b.board, nil)
	require.NoError(t, err)
	a.Channel = 1
	lb, err := method.Build(a, p, b.board, nil)
	require.NoError(t, err)
	assert.NotSame(t, la, lb)

	wide := strip(method.I2SMux, 8)
	_, err = method.Build(wide, p, b.board, nil)
	assert.ErrorIs(t, err, method.ErrConfig, "lanes of one bus have one size")
	wide.Bus = 3
	_, err = method.Build(wide, p, b.board, nil)
	assert.ErrorIs(t, err, method.ErrConfig)
}

func TestUpdateWaitsForLatch(t *testing.T) {
	b := newBench(1)
	m := open(t, b, strip(method.BitBang, 2))
	assert.Equal(t, 6, m.DataSize())
	assert.True(t, m.IsReadyToUpdate())

	copy(m.Pixels(), []byte{0xFF, 0x00, 0xA5, 0x3C, 0x81, 0x7E})
	require.NoError(t, m.Update(false))
	first := m.Channel().Status().DoneAt
	assert.False(t, m.IsReadyToUpdate(), "latch window just started")

	require.NoError(t, m.Update(false))
	pin := b.pins["GPIO18"]
	starts := pin.Starts(gpio.High)
	require.Len(t, starts, 2*6*8)
	gap := b.clock.Elapsed(first, starts[6*8])
	assert.GreaterOrEqual(t, gap, m.Profile().Reset)
	assert.Equal(t, uint64(2), m.Frames())
}

func TestAsyncUpdateWaitsForDrain(t *testing.T) {
	b := newBench(1)
	m := open(t, b, strip(method.I2S, 2))
	ch := m.Channel()
	require.True(t, ch.Async())
	window := m.Profile().Reset + ch.DrainLatency()
	assert.Equal(t, 210*time.Microsecond, window)

	require.NoError(t, m.Update(false))
	var done uint64
	for {
		st := ch.Status()
		if st.State == channel.Idle {
			done = st.DoneAt
			break
		}
	}
	assert.False(t, m.IsReadyToUpdate(), "chips still latching")
	for !m.IsReadyToUpdate() {
	}
	waited := b.clock.Elapsed(done, b.clock.Peek())
	assert.GreaterOrEqual(t, waited, window)
	assert.Less(t, waited, window+10*time.Microsecond)

	require.NoError(t, m.Update(false))
	assert.Len(t, b.i2s.Frames(), 2)
}

func TestCloseDropsQueuedMuxFrame(t *testing.T) {
	b := newBench(1)
	rec := &diagnostics.Recorder{}
	ca := strip(method.I2SMux, 2)
	ca.Name, ca.Channel, ca.Diagnostics = "a", 0, rec
	cb := ca
	cb.Name, cb.Channel = "b", 1
	ma := open(t, b, ca)
	mb := open(t, b, cb)

	require.NoError(t, ma.Update(false))
	assert.Equal(t, channel.Pending, ma.State(), "lane b has not updated")

	start := time.Now()
	require.NoError(t, ma.Close())
	assert.Less(t, time.Since(start), time.Second)
	assert.Empty(t, rec.Codes())
	assert.Empty(t, b.i2s.Frames())

	require.NoError(t, mb.Update(false))
	assert.Len(t, b.i2s.Frames(), 1)
}

func TestReadyCheckDoesNotMoveLatch(t *testing.T) {
	b := newBench(1)
	m := open(t, b, strip(method.RMT, 2))
	require.NoError(t, m.Update(false))
	for !m.IsReadyToUpdate() {
	}
	// Repeated checks keep answering yes.
	for i := 0; i < 100; i++ {
		require.True(t, m.IsReadyToUpdate())
	}
	assert.Equal(t, channel.Idle, m.State())
}

func TestBufferConsistency(t *testing.T) {
	b := newBench(1)
	m := open(t, b, strip(method.UART, 2))
	m.Pixels()[0] = 1
	require.NoError(t, m.Update(true))
	assert.Equal(t, byte(1), m.Pixels()[0], "edits carried into the new editing buffer")

	m.Pixels()[0] = 2
	require.NoError(t, m.Update(false))
	assert.Equal(t, byte(1), m.Pixels()[0], "without consistency the editing buffer holds the frame before last")

	require.NoError(t, m.Update(false))
	for !m.IsReadyToUpdate() {
	}
	chars := b.uart.Chars()
	require.Len(t, chars, 3*6*4)
	sym := m.Channel().(*channel.UART).Symbols()
	assert.Equal(t, byte(1), sym.Decode(chars[:24])[0])
	assert.Equal(t, byte(2), sym.Decode(chars[24:48])[0])
	assert.Equal(t, byte(1), sym.Decode(chars[48:])[0])
}

func TestSettingsFollowPixels(t *testing.T) {
	b := newBench(1)
	c := strip(method.BitBang, 2)
	c.SettingsSize = 2
	m := open(t, b, c)
	assert.Equal(t, 8, m.DataSize())
	assert.Len(t, m.Pixels(), 6)
	m.Settings()[1] = 0x42
	assert.Equal(t, byte(0x42), m.Data()[7])
}

func TestZeroPixels(t *testing.T) {
	b := newBench(1)
	m := open(t, b, strip(method.UART, 0))
	assert.Zero(t, m.DataSize())
	require.NoError(t, m.Update(true))
	require.NoError(t, m.Update(false))
	assert.Zero(t, b.uart.Writes())
	assert.Zero(t, m.Frames())
}

func TestLifecycleErrors(t *testing.T) {
	b := newBench(1)
	m, err := method.New(strip(method.BitBang, 1), b.board)
	require.NoError(t, err)
	assert.ErrorIs(t, m.Update(false), method.ErrNotInitialized)
	assert.False(t, m.IsReadyToUpdate())

	require.NoError(t, m.Initialize())
	require.NoError(t, m.Initialize())
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.Update(false), method.ErrClosed)
	assert.ErrorIs(t, m.Initialize(), method.ErrClosed)
	assert.Equal(t, gpio.Low, b.pins["GPIO18"].Read())
}

func TestUpdateContextCancelled(t *testing.T) {
	b := newBench(1)
	b.uart.Gate = make(chan struct{})
	defer close(b.uart.Gate)
	m := open(t, b, strip(method.UART, 1))
	require.NoError(t, m.Update(false))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.UpdateContext(ctx, false), context.DeadlineExceeded)
	assert.Equal(t, uint64(1), m.Frames())
}

func TestClaimFailureReported(t *testing.T) {
	b := newBench(1)
	rec := &diagnostics.Recorder{}
	open(t, b, strip(method.RMT, 1))

	c := strip(method.RMT, 1)
	c.Name = "second"
	c.Diagnostics = rec
	m, err := method.New(c, b.board)
	require.NoError(t, err)
	err = m.Initialize()
	assert.ErrorIs(t, err, registry.ErrExhausted)
	assert.Equal(t, []string{diagnostics.ClaimFailed}, rec.Codes())
	assert.Equal(t, "second", rec.All()[0].Strip)
}

func TestCloseWaitsForFrame(t *testing.T) {
	b := newBench(1)
	c := strip(method.RMT, 8)
	m, err := method.New(c, b.board)
	require.NoError(t, err)
	require.NoError(t, m.Initialize())
	assert.Zero(t, b.board.RMT.Free())

	require.NoError(t, m.Update(false))
	require.NoError(t, m.Close())
	assert.Len(t, b.rmt.Sent(0), 1)
	assert.Equal(t, 1, b.board.RMT.Free())

	// The controller channel can be claimed again.
	again := open(t, b, c)
	require.NoError(t, again.Update(false))
}

func TestCloseTimesOut(t *testing.T) {
	b := newBench(1)
	b.uart.Gate = make(chan struct{})
	rec := &diagnostics.Recorder{}
	c := strip(method.UART, 4)
	c.TeardownTimeout = 20 * time.Millisecond
	c.Diagnostics = rec
	m, err := method.New(c, b.board)
	require.NoError(t, err)
	require.NoError(t, m.Initialize())
	require.NoError(t, m.Update(false))

	start := time.Now()
	require.NoError(t, m.Close())
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.True(t, b.uart.Closed())
	assert.Equal(t, []string{diagnostics.TeardownTimeout}, rec.Codes())
	close(b.uart.Gate)
}

func TestFrameIncompleteReported(t *testing.T) {
	b := newBench(1)
	b.board.IRQ = &sim.Stall{Clock: b.clock, Cost: 60 * time.Microsecond, Every: 2}
	rec := &diagnostics.Recorder{}
	c := strip(method.BitBangInterruptible, 2)
	c.Diagnostics = rec
	m := open(t, b, c)

	assert.ErrorIs(t, m.Update(false), channel.ErrFrameIncomplete)
	assert.Equal(t, []string{diagnostics.FrameIncomplete}, rec.Codes())
	assert.Equal(t, channel.Idle, m.State())

	b.board.IRQ.(*sim.Stall).Cost = 0
	assert.NoError(t, m.Update(false), "the strip stays usable")
}
