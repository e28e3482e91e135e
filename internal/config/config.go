// Package config loads the yaml file describing the strips a pixelwire
// process drives.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/coreman2200/pixelwire/internal/diagnostics"
	"github.com/coreman2200/pixelwire/internal/method"
	"github.com/coreman2200/pixelwire/internal/timing"
)

type Strip struct {
	Name     string   `yaml:"name"`
	Family   string   `yaml:"family"`             // e.g. ws2812, sk6812, apa102
	Polarity string   `yaml:"polarity,omitempty"` // normal | inverted
	Backend  string   `yaml:"backend"`            // bitbang | uart | i2s | rmt | pio | spi | ...
	Pins     []string `yaml:"pins"`               // data pin or port, then clock pin

	Pixels       int `yaml:"pixels"`
	ElementSize  int `yaml:"element_size"`
	SettingsSize int `yaml:"settings_size,omitempty"`

	// Channel pins an RMT channel or I2S mux lane; unset takes any free one.
	Channel    *int `yaml:"channel,omitempty"`
	Bus        int  `yaml:"bus,omitempty"`
	Consistent bool `yaml:"consistent,omitempty"`
	TeardownMs int  `yaml:"teardown_ms,omitempty"`
}

type Preview struct {
	Screen bool `yaml:"screen"`          // draw frames on the terminal
	Every  int  `yaml:"every,omitempty"` // draw every n-th frame
}

type Config struct {
	Driver  string `yaml:"driver"` // "host" | "sim"
	Addr    string `yaml:"addr,omitempty"`
	FPS     int    `yaml:"fps"`
	Pattern string `yaml:"pattern,omitempty"`
	// Level is the lit byte value of the patterns, 255 when unset.
	Level uint8 `yaml:"level,omitempty"`
	// UARTInverter is set when the host TX line has an external inverter.
	UARTInverter bool `yaml:"uart_inverter,omitempty"`

	Preview Preview `yaml:"preview,omitempty"`
	Strips  []Strip `yaml:"strips"`
}

// Default is a single simulated WS2812 strip of 60 pixels.
func Default() *Config {
	return &Config{
		Driver:     "sim",
		Addr:       ":8080",
		FPS:        30,
		Pattern:    "ramp",
		Level:      128,
		Strips: []Strip{{
			Name:        "strip0",
			Family:      "ws2812",
			Backend:     "rmt",
			Pins:        []string{"GPIO18"},
			Pixels:      60,
			ElementSize: 3,
		}},
	}
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &c, nil
}

func Save(path string, c *Config) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

// Method converts s to a strip configuration. Unset element sizes default
// to three bytes, four for the two-wire families.
func (s Strip) Method(l *zerolog.Logger, d diagnostics.Sink) (method.Config, error) {
	fam, err := timing.ParseFamily(s.Family)
	if err != nil {
		return method.Config{}, fmt.Errorf("config: strip %q: %w", s.Name, err)
	}
	pol, err := timing.ParsePolarity(s.Polarity)
	if err != nil {
		return method.Config{}, fmt.Errorf("config: strip %q: %w", s.Name, err)
	}
	backend, err := method.ParseBackend(s.Backend)
	if err != nil {
		return method.Config{}, fmt.Errorf("config: strip %q: %w", s.Name, err)
	}
	size := s.ElementSize
	if size == 0 {
		size = 3
		if p, ok := timing.Lookup(fam, pol); ok && p.TwoWire() {
			size = 4
		}
	}
	ch := -1
	if s.Channel != nil {
		ch = *s.Channel
	}
	c := method.Config{
		Name:            s.Name,
		Family:          fam,
		Polarity:        pol,
		Backend:         backend,
		Pins:            s.Pins,
		PixelCount:      s.Pixels,
		ElementSize:     size,
		SettingsSize:    s.SettingsSize,
		Channel:         ch,
		Bus:             s.Bus,
		Consistent:      s.Consistent,
		TeardownTimeout: time.Duration(s.TeardownMs) * time.Millisecond,
		Logger:          l,
		Diagnostics:     d,
	}
	return c, c.Validate()
}
