// Package symbol builds the lookup tables that expand data bits into the
// native units of each peripheral: SPI/I2S sub-bits, UART characters and
// RMT items. Every table is derived once from a timing.Profile.
package symbol

import (
	"fmt"
	"time"

	"github.com/coreman2200/pixelwire/internal/timing"
)

// Cadence splits one bit period into Slots equal sub-bits. A 0 bit keeps
// the line active for the first Zero sub-bits, a 1 bit for the first One.
type Cadence struct {
	Slots int
	Zero  int
	One   int
	Slot  time.Duration
}

// NewCadence fits p into slots sub-bits per period, rounding pulse widths
// to the nearest sub-bit while keeping Zero < One < Slots.
func NewCadence(p timing.Profile, slots int) (Cadence, error) {
	if p.TwoWire() {
		return Cadence{}, fmt.Errorf("symbol: %s has no NRZ timing", p.Family)
	}
	if slots < 3 || slots > 8 {
		return Cadence{}, fmt.Errorf("symbol: %d sub-bits per bit out of range", slots)
	}
	slot := p.Period / time.Duration(slots)
	c := Cadence{Slots: slots, Slot: slot, Zero: nearest(p.T0H, slot), One: nearest(p.T1H, slot)}
	if c.Zero < 1 {
		c.Zero = 1
	}
	if c.One <= c.Zero {
		c.One = c.Zero + 1
	}
	if c.One >= slots {
		c.One = slots - 1
	}
	if c.Zero >= c.One {
		return Cadence{}, fmt.Errorf("symbol: %s does not fit %d sub-bits", p.Family, slots)
	}
	return c, nil
}

func nearest(d, unit time.Duration) int {
	return int((d + unit/2) / unit)
}

// Pattern returns the sub-bits of one data bit, first sub-bit in the most
// significant of the low Slots bits.
func (c Cadence) Pattern(bit bool) uint32 {
	n := c.Zero
	if bit {
		n = c.One
	}
	return (uint32(1)<<uint(n) - 1) << uint(c.Slots-n)
}

// Classify decides which bit a group of sub-bits carries from how many of
// them were active.
func (c Cadence) Classify(active int) bool {
	return 2*active > c.Zero+c.One
}

// Expander packs the sub-bits of every data bit MSB first into bytes, the
// format sent through an SPI or serial shift register.
type Expander struct {
	c   Cadence
	lut [256]uint64
}

// NewExpander builds the byte to sub-bit table for c.
func NewExpander(c Cadence) *Expander {
	e := &Expander{c: c}
	for v := 0; v < 256; v++ {
		var out uint64
		for i := 7; i >= 0; i-- {
			out = out<<uint(c.Slots) | uint64(c.Pattern((v>>uint(i))&1 == 1))
		}
		e.lut[v] = out
	}
	return e
}

// Cadence returns the cadence the table was built from.
func (e *Expander) Cadence() Cadence { return e.c }

// EncodedLen is the number of bytes Encode produces for n data bytes.
func (e *Expander) EncodedLen(n int) int {
	return (n*8*e.c.Slots + 7) / 8
}

// Encode expands src into dst, which must hold EncodedLen(len(src)) bytes.
// The last byte is padded with idle sub-bits.
func (e *Expander) Encode(dst, src []byte) int {
	width := uint(8 * e.c.Slots)
	var acc uint64
	var bits uint
	n := 0
	for _, b := range src {
		v := e.lut[b]
		// Feed in at most 32 bits at a time so acc never overflows.
		for rem := width; rem > 0; {
			take := rem
			if take > 32 {
				take = 32
			}
			rem -= take
			acc = acc<<take | (v>>rem)&(1<<take-1)
			bits += take
			for bits >= 8 {
				bits -= 8
				dst[n] = byte(acc >> bits)
				n++
			}
		}
	}
	if bits > 0 {
		dst[n] = byte(acc << (8 - bits))
		n++
	}
	return n
}

// Decode recovers n data bytes from an expanded stream.
func (e *Expander) Decode(encoded []byte, n int) []byte {
	out := make([]byte, 0, n)
	slots := e.c.Slots
	bit := 0
	next := func() bool {
		v := encoded[bit/8]>>(7-uint(bit%8))&1 == 1
		bit++
		return v
	}
	for len(out) < n && (bit+8*slots) <= len(encoded)*8 {
		var b byte
		for i := 0; i < 8; i++ {
			active := 0
			for s := 0; s < slots; s++ {
				if next() {
					active++
				}
			}
			b <<= 1
			if e.c.Classify(active) {
				b |= 1
			}
		}
		out = append(out, b)
	}
	return out
}
