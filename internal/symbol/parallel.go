package symbol

import "fmt"

// MaxLanes is the width of a parallel sample.
const MaxLanes = 8

// Parallel expands up to eight lanes at once: every sub-bit becomes one
// byte whose bit i is the level of lane i.
type Parallel struct {
	c Cadence
}

// NewParallel returns a transposer for c.
func NewParallel(c Cadence) *Parallel { return &Parallel{c: c} }

// EncodedLen is the buffer size for lanes of n bytes.
func (p *Parallel) EncodedLen(n int) int { return n * 8 * p.c.Slots }

// Encode writes the parallel stream for lanes into dst. Lanes shorter than
// n bytes and nil lanes stay at rest for the missing bits.
func (p *Parallel) Encode(dst []byte, lanes [][]byte, n int) error {
	if len(lanes) > MaxLanes {
		return fmt.Errorf("symbol: %d lanes, at most %d", len(lanes), MaxLanes)
	}
	if len(dst) < p.EncodedLen(n) {
		return fmt.Errorf("symbol: parallel buffer of %d bytes, need %d", len(dst), p.EncodedLen(n))
	}
	slots := p.c.Slots
	zero, one := p.c.Pattern(false), p.c.Pattern(true)
	for i := 0; i < n; i++ {
		for bit := 0; bit < 8; bit++ {
			out := dst[(i*8+bit)*slots : (i*8+bit+1)*slots]
			for s := range out {
				out[s] = 0
			}
			for lane, data := range lanes {
				if i >= len(data) {
					continue
				}
				pat := zero
				if data[i]&(0x80>>uint(bit)) != 0 {
					pat = one
				}
				for s := 0; s < slots; s++ {
					if pat&(1<<uint(slots-1-s)) != 0 {
						out[s] |= 1 << uint(lane)
					}
				}
			}
		}
	}
	return nil
}

// DecodeLane recovers the bytes of one lane.
func (p *Parallel) DecodeLane(src []byte, lane int) []byte {
	slots := p.c.Slots
	var out []byte
	var cur byte
	n := 0
	for i := 0; i+slots <= len(src); i += slots {
		active := 0
		for s := 0; s < slots; s++ {
			if src[i+s]&(1<<uint(lane)) != 0 {
				active++
			}
		}
		cur <<= 1
		if p.c.Classify(active) {
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
