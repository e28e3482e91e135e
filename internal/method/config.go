// Package method binds a strip configuration to one transmission channel
// and runs the update protocol around it: wait for the latch window and
// the hardware, hand the frame over, record when it left the wire.
package method

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/coreman2200/pixelwire/internal/buffer"
	"github.com/coreman2200/pixelwire/internal/diagnostics"
	"github.com/coreman2200/pixelwire/internal/timing"
)

// Backend selects how a strip is driven.
type Backend int

const (
	// BitBang toggles a GPIO pin with interrupts masked for the whole
	// frame. Two-wire families clock data and clock pins instead.
	BitBang Backend = iota
	// BitBangInterruptible lets interrupts run between bytes and reports
	// frames cut short by them.
	BitBangInterruptible
	UART
	I2S
	// I2SMux shares one I2S bus between up to eight strips.
	I2SMux
	RMT
	PIO
	// SPI expands NRZ bits into SPI bits, or clocks two-wire chips.
	SPI
	// NRZLED hands frames to the periph nrzled driver.
	NRZLED
)

var backendNames = []string{
	BitBang:              "bitbang",
	BitBangInterruptible: "bitbang-irq",
	UART:                 "uart",
	I2S:                  "i2s",
	I2SMux:               "i2s-mux",
	RMT:                  "rmt",
	PIO:                  "pio",
	SPI:                  "spi",
	NRZLED:               "nrzled",
}

func (b Backend) String() string {
	if b >= 0 && int(b) < len(backendNames) {
		return backendNames[b]
	}
	return fmt.Sprintf("backend(%d)", int(b))
}

// ParseBackend returns the backend named s.
func ParseBackend(s string) (Backend, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range backendNames {
		if name == s {
			return Backend(i), nil
		}
	}
	return BitBang, fmt.Errorf("%w: unknown backend %q", ErrConfig, s)
}

// Async reports whether the backend returns from a send before the frame
// is out.
func (b Backend) Async() bool {
	switch b {
	case UART, I2S, I2SMux, RMT, PIO:
		return true
	}
	return false
}

// DefaultTeardownTimeout bounds how long Close waits for a frame in
// flight.
const DefaultTeardownTimeout = 10 * time.Second

var (
	ErrConfig         = errors.New("method: invalid config")
	ErrClosed         = errors.New("method: closed")
	ErrNotInitialized = errors.New("method: not initialized")
)

// Config describes one strip.
type Config struct {
	Name     string
	Family   timing.Family
	Polarity timing.Polarity
	Backend  Backend
	// Pins names the data pin, then the clock pin for two-wire families
	// driven by bit-bang. SPI, nrzled and UART backends take a port name
	// instead.
	Pins         []string
	PixelCount   int
	ElementSize  int
	SettingsSize int
	// Channel is the hardware channel: RMT channel or I2S mux lane. A
	// negative value takes any free one.
	Channel int
	// Bus selects the I2S bus or PIO block.
	Bus int
	// Consistent copies each sent frame back into the editable buffer so
	// partial edits build on the last frame.
	Consistent      bool
	TeardownTimeout time.Duration
	Logger          *zerolog.Logger
	Diagnostics     diagnostics.Sink
}

// Layout returns the buffer layout of c.
func (c Config) Layout() buffer.Layout {
	return buffer.Layout{PixelCount: c.PixelCount, ElementSize: c.ElementSize, SettingsSize: c.SettingsSize}
}

// Profile resolves the timing descriptor of c.
func (c Config) Profile() (timing.Profile, error) {
	p, ok := timing.Lookup(c.Family, c.Polarity)
	if !ok {
		return p, fmt.Errorf("%w: unknown family %s", ErrConfig, c.Family)
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return p, nil
}

func (c Config) pin(i int) (string, error) {
	if i >= len(c.Pins) || c.Pins[i] == "" {
		return "", fmt.Errorf("%w: %s needs %d pin names for %s", ErrConfig, c.Name, i+1, c.Backend)
	}
	return c.Pins[i], nil
}

// Validate checks what can be checked without hardware.
func (c Config) Validate() error {
	if err := c.Layout().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if c.Backend < BitBang || c.Backend > NRZLED {
		return fmt.Errorf("%w: backend %s", ErrConfig, c.Backend)
	}
	if c.TeardownTimeout < 0 {
		return fmt.Errorf("%w: negative teardown timeout", ErrConfig)
	}
	_, err := c.Profile()
	return err
}
