package method

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"

	"github.com/coreman2200/pixelwire/internal/channel"
	"github.com/coreman2200/pixelwire/internal/hal"
	"github.com/coreman2200/pixelwire/internal/pio"
	"github.com/coreman2200/pixelwire/internal/timing"
)

// Board is the hardware strips are built on. Peripherals a board does not
// have are left nil and the backends needing them fail to build.
type Board struct {
	Clock hal.Clock
	IRQ   hal.Interrupts

	Pin    func(name string) (gpio.PinOut, error)
	SPI    func(name string) (spi.Port, error)
	Serial func(name string) channel.UARTOpener

	I2S         []channel.I2SBus
	RMT         *channel.RMTBus
	PIO         []*pio.Block
	PIOHardware channel.PIOHardware

	mu    sync.Mutex
	muxes map[int]*channel.I2SMux
}

// HostBoard returns a board backed by periph's pin and SPI registries,
// host ttys and the runtime clock. host.Init must have run.
func HostBoard(hasInverter bool) *Board {
	return &Board{
		Clock: hal.NewMonotonic(),
		IRQ:   hal.ThreadLock{},
		Pin: func(name string) (gpio.PinOut, error) {
			p := gpioreg.ByName(name)
			if p == nil {
				return nil, fmt.Errorf("method: no pin %q", name)
			}
			return p, nil
		},
		SPI: func(name string) (spi.Port, error) {
			return spireg.Open(name)
		},
		Serial: func(name string) channel.UARTOpener {
			return channel.SerialOpener(name, hasInverter)
		},
	}
}

// mux returns the I2S mux of bus, creating it for lanes of laneSize bytes
// on first use.
func (b *Board) mux(bus int, p timing.Profile, laneSize int, l *zerolog.Logger) (*channel.I2SMux, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.muxes[bus]; ok {
		if m.LaneSize() != laneSize {
			return nil, fmt.Errorf("%w: i2s mux %d runs %d byte lanes, strip needs %d", ErrConfig, bus, m.LaneSize(), laneSize)
		}
		return m, nil
	}
	if bus < 0 || bus >= len(b.I2S) || b.I2S[bus] == nil {
		return nil, fmt.Errorf("%w: no i2s bus %d", ErrConfig, bus)
	}
	m, err := channel.NewI2SMux(p, laneSize, b.Clock, b.I2S[bus], l)
	if err != nil {
		return nil, err
	}
	if b.muxes == nil {
		b.muxes = map[int]*channel.I2SMux{}
	}
	b.muxes[bus] = m
	return m, nil
}

func (b *Board) pinOut(c Config, i int) (gpio.PinOut, error) {
	name, err := c.pin(i)
	if err != nil {
		return nil, err
	}
	if b.Pin == nil {
		return nil, fmt.Errorf("%w: board has no gpio", ErrConfig)
	}
	return b.Pin(name)
}

func (b *Board) spiPort(c Config) (spi.Port, error) {
	name, err := c.pin(0)
	if err != nil {
		return nil, err
	}
	if b.SPI == nil {
		return nil, fmt.Errorf("%w: board has no spi", ErrConfig)
	}
	return b.SPI(name)
}
