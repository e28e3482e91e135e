package method

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/coreman2200/pixelwire/internal/buffer"
	"github.com/coreman2200/pixelwire/internal/channel"
	"github.com/coreman2200/pixelwire/internal/diagnostics"
	"github.com/coreman2200/pixelwire/internal/hal"
	"github.com/coreman2200/pixelwire/internal/latch"
	"github.com/coreman2200/pixelwire/internal/registry"
	"github.com/coreman2200/pixelwire/internal/timing"
)

// Method drives one strip: it owns the pixel buffers, the channel and the
// latch timer.
//
// Data returns the buffer to edit. With an asynchronous channel the
// buffers swap on every Update, so Data must be called again afterwards.
type Method struct {
	cfg     Config
	profile timing.Profile
	layout  buffer.Layout
	clock   hal.Clock
	ch      channel.Channel
	frames  buffer.Frames
	latch   *latch.Timer
	log     zerolog.Logger
	diag    diagnostics.Sink
	timeout time.Duration

	mu          sync.Mutex
	initialized bool
	closed      bool
	inFlight    bool
	sent        uint64
}

// New builds the channel for c on board b and allocates the buffers. The
// hardware is claimed by Initialize.
func New(c Config, b *Board) (*Method, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	p, err := c.Profile()
	if err != nil {
		return nil, err
	}
	lg := log.Logger
	if c.Logger != nil {
		lg = *c.Logger
	}
	if c.Name == "" {
		c.Name = fmt.Sprintf("%s-%s", p.Family, c.Backend)
	}
	lg = lg.With().Str("strip", c.Name).Logger()
	ch, err := Build(c, p, b, &lg)
	if err != nil {
		return nil, err
	}
	return newMethod(c, p, b.Clock, ch, lg), nil
}

// NewWithChannel wraps an already built channel.
func NewWithChannel(c Config, clock hal.Clock, ch channel.Channel) (*Method, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	p, err := c.Profile()
	if err != nil {
		return nil, err
	}
	lg := log.Logger
	if c.Logger != nil {
		lg = *c.Logger
	}
	return newMethod(c, p, clock, ch, lg.With().Str("strip", c.Name).Logger()), nil
}

func newMethod(c Config, p timing.Profile, clock hal.Clock, ch channel.Channel, lg zerolog.Logger) *Method {
	m := &Method{
		cfg:     c,
		profile: p,
		layout:  c.Layout(),
		clock:   clock,
		ch:      ch,
		log:     lg,
		diag:    c.Diagnostics,
		timeout: c.TeardownTimeout,
		latch:   latch.New(clock, p.Reset, ch.DrainLatency()),
	}
	if m.timeout == 0 {
		m.timeout = DefaultTeardownTimeout
	}
	if m.diag == nil {
		m.diag = diagnostics.Log{L: lg}
	}
	if ch.Async() {
		m.frames = buffer.NewPair(m.layout.Size())
	} else {
		m.frames = buffer.NewSingle(m.layout.Size())
	}
	return m
}

// Name is the strip name.
func (m *Method) Name() string { return m.cfg.Name }

// Profile is the timing descriptor the strip runs with.
func (m *Method) Profile() timing.Profile { return m.profile }

// Channel returns the transmission channel.
func (m *Method) Channel() channel.Channel { return m.ch }

// Initialize claims and configures the hardware.
func (m *Method) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.initialized {
		return nil
	}
	if err := m.ch.Open(); err != nil {
		if errors.Is(err, registry.ErrExhausted) || errors.Is(err, registry.ErrClaimed) {
			m.diag.Report(diagnostics.Diagnostic{
				Severity:       diagnostics.Err,
				Code:           diagnostics.ClaimFailed,
				Strip:          m.cfg.Name,
				Summary:        "hardware channel unavailable",
				Detail:         err.Error(),
				SuggestedFixes: []string{"pick another channel or backend", "close strips sharing the peripheral"},
			})
		}
		return fmt.Errorf("method: initialize %s: %w", m.cfg.Name, err)
	}
	m.initialized = true
	m.log.Info().
		Stringer("family", m.profile.Family).
		Stringer("backend", m.cfg.Backend).
		Str("channel", fmt.Sprint(m.ch)).
		Int("pixels", m.cfg.PixelCount).
		Int("bytes", m.layout.Size()).
		Dur("latch", m.latch.Window()).
		Msg("initialized")
	return nil
}

// collect records the completion of the frame in flight. It must be called
// with mu held.
func (m *Method) collect() {
	if !m.inFlight {
		return
	}
	st := m.ch.Status()
	if st.State != channel.Idle {
		return
	}
	m.latch.MarkSentAt(st.DoneAt)
	m.frames.Release()
	m.inFlight = false
}

// readyLocked must be called with mu held.
func (m *Method) readyLocked() bool {
	m.collect()
	return !m.inFlight && m.latch.IsReadyToSend()
}

// IsReadyToUpdate reports whether a frame can be sent now: the previous
// one has left the wire and the chips have latched it. Calling it does not
// move the latch reference.
func (m *Method) IsReadyToUpdate() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized || m.closed {
		return false
	}
	return m.readyLocked()
}

// Update sends the editable buffer, waiting for readiness first.
func (m *Method) Update(maintainBufferConsistency bool) error {
	return m.UpdateContext(context.Background(), maintainBufferConsistency)
}

// UpdateContext is Update with a context that can cancel the wait for
// readiness. Once the frame is handed to the channel it is not cancelled.
func (m *Method) UpdateContext(ctx context.Context, maintainBufferConsistency bool) error {
	if m.cfg.PixelCount == 0 {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.usable()
	}
	for {
		m.mu.Lock()
		if err := m.usable(); err != nil {
			m.mu.Unlock()
			return err
		}
		if m.readyLocked() {
			break
		}
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		runtime.Gosched()
	}
	defer m.mu.Unlock()

	buf, err := m.frames.Swap(maintainBufferConsistency)
	if err != nil {
		return err
	}
	m.sent++
	err = m.ch.Start(buf)
	switch {
	case err == nil:
		m.inFlight = true
		if !m.ch.Async() {
			m.collect()
		}
		return nil
	case errors.Is(err, channel.ErrFrameIncomplete):
		// The chips latched what arrived; the latch window still applies.
		m.inFlight = true
		m.collect()
		m.diag.Report(diagnostics.Diagnostic{
			Severity:     diagnostics.Warn,
			Code:         diagnostics.FrameIncomplete,
			Strip:        m.cfg.Name,
			Summary:      "frame cut short by interrupt latency",
			LikelyCauses: []string{"interrupt handlers running longer than the reset time"},
			Evidence:     map[string]any{"frame": m.sent, "reset_us": m.profile.Reset.Microseconds()},
		})
		return err
	}
	m.frames.Release()
	return err
}

// usable must be called with mu held.
func (m *Method) usable() error {
	if m.closed {
		return ErrClosed
	}
	if !m.initialized {
		return ErrNotInitialized
	}
	return nil
}

// Data is the editable buffer: pixels followed by the settings block.
func (m *Method) Data() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames.Editing()
}

// DataSize is the size of Data.
func (m *Method) DataSize() int { return m.layout.Size() }

// Pixels is the pixel section of Data.
func (m *Method) Pixels() []byte { return m.layout.Pixels(m.Data()) }

// Settings is the settings section of Data.
func (m *Method) Settings() []byte { return m.layout.Settings(m.Data()) }

// State reports the channel state.
func (m *Method) State() channel.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collect()
	return m.ch.Status().State
}

// Frames is the number of frames handed to the channel.
func (m *Method) Frames() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent
}

// Close waits for a frame in flight, bounded by the teardown timeout, and
// releases the hardware. A frame still queued behind other mux lanes has not
// reached the wire and is dropped.
func (m *Method) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	start := time.Now()
	for m.collect(); m.inFlight; m.collect() {
		if m.ch.Status().State == channel.Pending {
			m.log.Debug().Msg("dropping queued frame")
			break
		}
		if time.Since(start) >= m.timeout {
			m.log.Warn().Dur("timeout", m.timeout).Stringer("state", m.ch.Status().State).Msg("teardown timed out, releasing hardware")
			m.diag.Report(diagnostics.Diagnostic{
				Severity: diagnostics.Warn,
				Code:     diagnostics.TeardownTimeout,
				Strip:    m.cfg.Name,
				Summary:  "frame still in flight at close",
				Evidence: map[string]any{"timeout_ms": m.timeout.Milliseconds()},
			})
			break
		}
		m.mu.Unlock()
		runtime.Gosched()
		m.mu.Lock()
	}
	err := m.ch.Close()
	m.log.Debug().Uint64("frames", m.sent).Msg("closed")
	return err
}
