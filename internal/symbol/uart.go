package symbol

import (
	"fmt"
	"time"

	"github.com/coreman2200/pixelwire/internal/timing"
)

// UART frame used to carry NRZ bits: one start bit, six data bits, one
// stop bit. Each UART bit lasts a quarter of an LED bit, so one character
// carries two LED bits. The start bit always opens the first LED bit's
// pulse and the stop bit always closes the second one.
const (
	UARTDataBits    = 6
	uartSlots       = 4
	uartBitsPerChar = 2
)

// UART maps pairs of data bits to 6N1 characters.
type UART struct {
	c        Cadence
	lut      [4]byte
	invertTX bool
	baud     int
}

// NewUART builds the character table for p.
func NewUART(p timing.Profile) (*UART, error) {
	c, err := NewCadence(p, uartSlots)
	if err != nil {
		return nil, err
	}
	u := &UART{
		c:        c,
		invertTX: !p.Inverted,
		baud:     int(uartSlots * time.Second / p.Period),
	}
	for v := 0; v < 4; v++ {
		active := uint32(c.Pattern(v&2 != 0))<<uartSlots | c.Pattern(v&1 != 0)
		if active&0x80 == 0 || active&0x01 != 0 {
			return nil, fmt.Errorf("symbol: %s cadence cannot be framed by start/stop bits", p.Family)
		}
		// Line slot i (0 is the start bit) carries data bit i-1, LSB
		// first. A data bit is 0 wherever the line must be active.
		var ch byte
		for i := 1; i <= UARTDataBits; i++ {
			if active&(0x80>>uint(i)) == 0 {
				ch |= 1 << uint(i-1)
			}
		}
		u.lut[v] = ch
	}
	return u, nil
}

// Baud is the UART bit rate.
func (u *UART) Baud() int { return u.baud }

// InvertTX reports whether the TX line must be inverted so that the UART's
// idle (mark) level matches the chips' idle level.
func (u *UART) InvertTX() bool { return u.invertTX }

// CharTime is how long one character occupies the line.
func (u *UART) CharTime() time.Duration {
	return time.Duration(2+UARTDataBits) * time.Second / time.Duration(u.baud)
}

// Char returns the character for the bit pair v (first bit in bit 1).
func (u *UART) Char(v byte) byte { return u.lut[v&3] }

// EncodedLen is the number of characters for n data bytes.
func (u *UART) EncodedLen(n int) int { return n * 8 / uartBitsPerChar }

// Encode writes four characters per data byte, most significant pair first.
func (u *UART) Encode(dst, src []byte) int {
	n := 0
	for _, b := range src {
		dst[n] = u.lut[b>>6]
		dst[n+1] = u.lut[(b>>4)&3]
		dst[n+2] = u.lut[(b>>2)&3]
		dst[n+3] = u.lut[b&3]
		n += 4
	}
	return n
}

// Decode rebuilds the line from each character's start, data and stop
// bits and classifies the two LED bits it carries.
func (u *UART) Decode(chars []byte) []byte {
	out := make([]byte, 0, len(chars)/4)
	var cur byte
	n := 0
	for _, ch := range chars {
		line := uint32(0x80)
		for i := 1; i <= UARTDataBits; i++ {
			if ch&(1<<uint(i-1)) == 0 {
				line |= 0x80 >> uint(i)
			}
		}
		for half := 1; half >= 0; half-- {
			group := (line >> uint(half*uartSlots)) & 0x0F
			active := 0
			for ; group != 0; group &= group - 1 {
				active++
			}
			cur <<= 1
			if u.c.Classify(active) {
				cur |= 1
			}
			n++
		}
		if n == 8 {
			out = append(out, cur)
			cur, n = 0, 0
		}
	}
	return out
}
