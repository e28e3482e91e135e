package method

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/coreman2200/pixelwire/internal/channel"
	"github.com/coreman2200/pixelwire/internal/timing"
)

// Build picks the channel implementation for c on board b. Nothing is
// claimed until the channel is opened.
func Build(c Config, p timing.Profile, b *Board, l *zerolog.Logger) (channel.Channel, error) {
	if b == nil || b.Clock == nil {
		return nil, fmt.Errorf("%w: board without clock", ErrConfig)
	}
	if p.TwoWire() {
		return buildClocked(c, p, b, l)
	}
	size := c.Layout().Size()
	switch c.Backend {
	case BitBang, BitBangInterruptible:
		pin, err := b.pinOut(c, 0)
		if err != nil {
			return nil, err
		}
		return channel.NewBitBang(pin, b.Clock, b.IRQ, p, c.Backend == BitBangInterruptible, l), nil

	case UART:
		name, err := c.pin(0)
		if err != nil {
			return nil, err
		}
		if b.Serial == nil {
			return nil, fmt.Errorf("%w: board has no serial ports", ErrConfig)
		}
		return channel.NewUART(name, p, b.Clock, b.Serial(name), l)

	case I2S:
		if c.Bus < 0 || c.Bus >= len(b.I2S) || b.I2S[c.Bus] == nil {
			return nil, fmt.Errorf("%w: no i2s bus %d", ErrConfig, c.Bus)
		}
		return channel.NewI2S(fmt.Sprint(c.Bus), p, size, b.Clock, b.I2S[c.Bus], l)

	case I2SMux:
		m, err := b.mux(c.Bus, p, size, l)
		if err != nil {
			return nil, err
		}
		return m.Lane(c.Channel), nil

	case RMT:
		if b.RMT == nil {
			return nil, fmt.Errorf("%w: board has no rmt controller", ErrConfig)
		}
		return channel.NewRMT(p, c.Channel, b.Clock, b.RMT, l)

	case PIO:
		if c.Bus < 0 || c.Bus >= len(b.PIO) || b.PIOHardware == nil {
			return nil, fmt.Errorf("%w: no pio block %d", ErrConfig, c.Bus)
		}
		return channel.NewPIO(p, b.PIO[c.Bus], b.PIOHardware, b.Clock, l)

	case SPI:
		port, err := b.spiPort(c)
		if err != nil {
			return nil, err
		}
		return channel.NewSPI(p, port, b.Clock, l)

	case NRZLED:
		if c.SettingsSize > 0 {
			return nil, fmt.Errorf("%w: nrzled cannot send a settings block", ErrConfig)
		}
		port, err := b.spiPort(c)
		if err != nil {
			return nil, err
		}
		return channel.NewNRZLED(p, port, c.PixelCount, c.ElementSize, b.Clock, l)
	}
	return nil, fmt.Errorf("%w: backend %s", ErrConfig, c.Backend)
}

// buildClocked handles the two-wire families, which only SPI and bit-bang
// can drive.
func buildClocked(c Config, p timing.Profile, b *Board, l *zerolog.Logger) (channel.Channel, error) {
	switch c.Backend {
	case SPI:
		port, err := b.spiPort(c)
		if err != nil {
			return nil, err
		}
		return channel.NewDotStar(p, port, b.Clock, l)
	case BitBang, BitBangInterruptible:
		data, err := b.pinOut(c, 0)
		if err != nil {
			return nil, err
		}
		clk, err := b.pinOut(c, 1)
		if err != nil {
			return nil, err
		}
		return channel.NewDotStarBitBang(p, clk, data, b.Clock, b.IRQ, l)
	}
	return nil, fmt.Errorf("%w: %s cannot drive clocked family %s", ErrConfig, c.Backend, p.Family)
}
