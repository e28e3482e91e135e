package main

import (
	"io"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spitest"
	"periph.io/x/host/v3"

	"github.com/coreman2200/pixelwire/internal/channel"
	"github.com/coreman2200/pixelwire/internal/channel/channeltest"
	"github.com/coreman2200/pixelwire/internal/hal"
	"github.com/coreman2200/pixelwire/internal/method"
	"github.com/coreman2200/pixelwire/internal/pio"
	"github.com/coreman2200/pixelwire/internal/sim"
)

const (
	simRMTChannels = 8
	simRMTTick     = 50 * time.Nanosecond
	simI2SBuses    = 2
	simPIOBlocks   = 2
	simSysFreq     = 125_000_000
)

// hostBoard initialises periph and returns the host board.
func hostBoard(hasInverter bool) (*method.Board, error) {
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	return method.HostBoard(hasInverter), nil
}

// simBoard returns a board whose peripherals run on a simulated clock.
// Nothing reaches real hardware.
func simBoard() *method.Board {
	clock := sim.NewNanoClock(25 * time.Nanosecond)
	var mu sync.Mutex
	pins := map[string]*sim.Pin{}
	ports := map[string]*channeltest.UART{}
	rmt := channeltest.NewRMT(clock, simRMTChannels, simRMTTick)
	rmt.Discard = true
	b := &method.Board{
		Clock: clock,
		IRQ:   hal.NoInterrupts{},
		Pin: func(name string) (gpio.PinOut, error) {
			mu.Lock()
			defer mu.Unlock()
			p, ok := pins[name]
			if !ok {
				p = sim.NewPin(name, len(pins), clock, gpio.Low)
				pins[name] = p
			}
			return p, nil
		},
		SPI: func(string) (spi.Port, error) {
			return spitest.NewRecordRaw(io.Discard), nil
		},
		Serial: func(name string) channel.UARTOpener {
			mu.Lock()
			defer mu.Unlock()
			u, ok := ports[name]
			if !ok {
				u = &channeltest.UART{Clock: clock, Discard: true}
				ports[name] = u
			}
			return u.Opener()
		},
		RMT:         channel.NewRMTBus(rmt),
		PIOHardware: channeltest.NewPIO(clock, simSysFreq),
	}
	for i := 0; i < simI2SBuses; i++ {
		b.I2S = append(b.I2S, &channeltest.I2S{Clock: clock, Discard: true})
	}
	for i := 0; i < simPIOBlocks; i++ {
		b.PIO = append(b.PIO, pio.NewBlock(i))
	}
	return b
}
