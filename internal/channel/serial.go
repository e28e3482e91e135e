package channel

import (
	"fmt"

	"go.bug.st/serial"

	"github.com/coreman2200/pixelwire/internal/symbol"
)

// SerialOpener opens the named tty as a UARTPort. Host UARTs cannot invert
// their TX line, so an inverted line needs an external inverter and
// invertTX is only checked against hasInverter.
func SerialOpener(name string, hasInverter bool) UARTOpener {
	return func(baud int, invertTX bool) (UARTPort, error) {
		if invertTX && !hasInverter {
			return nil, fmt.Errorf("channel: %s needs an inverted TX line", name)
		}
		mode := &serial.Mode{
			BaudRate: baud,
			DataBits: symbol.UARTDataBits,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
		port, err := serial.Open(name, mode)
		if err != nil {
			return nil, err
		}
		return port, nil
	}
}
