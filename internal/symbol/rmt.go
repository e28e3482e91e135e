package symbol

import (
	"fmt"
	"time"

	"github.com/coreman2200/pixelwire/internal/timing"
)

// MaxItemTicks is the largest duration one half of an RMT item can hold.
const MaxItemTicks = 1<<15 - 1

// Item is one RMT symbol: the line holds Level0 for Duration0 ticks, then
// Level1 for Duration1 ticks. A zero duration ends the transmission.
type Item struct {
	Duration0 uint16
	Level0    bool
	Duration1 uint16
	Level1    bool
}

// Pack returns the item in the controller's 32-bit memory layout.
func (it Item) Pack() uint32 {
	v := uint32(it.Duration0&MaxItemTicks) | uint32(it.Duration1&MaxItemTicks)<<16
	if it.Level0 {
		v |= 1 << 15
	}
	if it.Level1 {
		v |= 1 << 31
	}
	return v
}

// Unpack is the inverse of Item.Pack.
func Unpack(v uint32) Item {
	return Item{
		Duration0: uint16(v & MaxItemTicks),
		Level0:    v&(1<<15) != 0,
		Duration1: uint16((v >> 16) & MaxItemTicks),
		Level1:    v&(1<<31) != 0,
	}
}

// Ticks is the total duration of the item.
func (it Item) Ticks() int { return int(it.Duration0) + int(it.Duration1) }

// RMT holds the items for a 0 bit, a 1 bit and the latch gap, computed
// from the datasheet pulse widths at the controller's tick resolution.
type RMT struct {
	Bit0  Item
	Bit1  Item
	Reset []Item
	Tick  time.Duration

	active bool
}

// NewRMT derives the items of p for a controller ticking every tick.
func NewRMT(p timing.Profile, tick time.Duration) (*RMT, error) {
	if p.TwoWire() {
		return nil, fmt.Errorf("symbol: %s has no NRZ timing", p.Family)
	}
	if tick <= 0 {
		return nil, fmt.Errorf("symbol: invalid RMT tick %s", tick)
	}
	active := bool(p.ActiveLevel())
	pulse := func(high, period time.Duration) (Item, error) {
		h := nearest(high, tick)
		l := nearest(period-high, tick)
		if h < 1 || l < 1 || h > MaxItemTicks || l > MaxItemTicks {
			return Item{}, fmt.Errorf("symbol: %s does not fit RMT ticks of %s", p.Family, tick)
		}
		return Item{Duration0: uint16(h), Level0: active, Duration1: uint16(l), Level1: !active}, nil
	}
	r := &RMT{Tick: tick, active: active}
	var err error
	if r.Bit0, err = pulse(p.T0H, p.Period); err != nil {
		return nil, err
	}
	if r.Bit1, err = pulse(p.T1H, p.Period); err != nil {
		return nil, err
	}
	// The latch gap is spelled out as idle items so the reset time is on
	// the wire before the controller reports completion.
	remaining := int((p.Reset + tick - 1) / tick)
	for remaining > 0 {
		d0 := min(remaining, MaxItemTicks)
		remaining -= d0
		d1 := min(remaining, MaxItemTicks)
		remaining -= d1
		if d1 == 0 {
			// Split so neither half is the zero end marker.
			d1 = d0 / 2
			d0 -= d1
		}
		r.Reset = append(r.Reset, Item{Duration0: uint16(d0), Level0: !active, Duration1: uint16(d1), Level1: !active})
	}
	return r, nil
}

// EncodedLen is the number of items for n data bytes, latch included.
func (r *RMT) EncodedLen(n int) int { return n*8 + len(r.Reset) }

// Encode appends the items of src and the latch gap to dst.
func (r *RMT) Encode(dst []Item, src []byte) []Item {
	for _, b := range src {
		for mask := byte(0x80); mask != 0; mask >>= 1 {
			if b&mask != 0 {
				dst = append(dst, r.Bit1)
			} else {
				dst = append(dst, r.Bit0)
			}
		}
	}
	return append(dst, r.Reset...)
}

// Decode recovers data bytes from items, ignoring idle items.
func (r *RMT) Decode(items []Item) []byte {
	threshold := (int(r.Bit0.Duration0) + int(r.Bit1.Duration0)) / 2
	var out []byte
	var cur byte
	n := 0
	for _, it := range items {
		if it.Level0 != r.active || it.Duration0 == 0 {
			continue
		}
		cur <<= 1
		if int(it.Duration0) > threshold {
			cur |= 1
		}
		n++
		if n == 8 {
			out = append(out, cur)
			cur, n = 0, 0
		}
	}
	return out
}

// Duration is how long items occupy the line.
func (r *RMT) Duration(items []Item) time.Duration {
	total := 0
	for _, it := range items {
		total += it.Ticks()
	}
	return time.Duration(total) * r.Tick
}
