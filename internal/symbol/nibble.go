package symbol

import (
	"encoding/binary"
	"fmt"
)

// Nibbles maps each 4-bit group of data to a 16-bit I2S sample: four data
// bits, four sub-bits each, first bit in the most significant position.
type Nibbles struct {
	c   Cadence
	lut [16]uint16
}

// NewNibbles builds the sample table. c must use 4 sub-bits per bit.
func NewNibbles(c Cadence) (*Nibbles, error) {
	if c.Slots != 4 {
		return nil, fmt.Errorf("symbol: nibble samples need 4 sub-bits, got %d", c.Slots)
	}
	t := &Nibbles{c: c}
	for v := 0; v < 16; v++ {
		var s uint16
		for i := 3; i >= 0; i-- {
			s = s<<4 | uint16(c.Pattern((v>>uint(i))&1 == 1))
		}
		t.lut[v] = s
	}
	return t, nil
}

// Sample returns the sample for nibble v.
func (t *Nibbles) Sample(v byte) uint16 { return t.lut[v&0x0F] }

// EncodedLen is the DMA buffer size for n data bytes.
func (t *Nibbles) EncodedLen(n int) int { return n * 4 }

// Encode writes two little-endian samples per data byte, high nibble first.
func (t *Nibbles) Encode(dst, src []byte) int {
	n := 0
	for _, b := range src {
		binary.LittleEndian.PutUint16(dst[n:], t.lut[b>>4])
		binary.LittleEndian.PutUint16(dst[n+2:], t.lut[b&0x0F])
		n += 4
	}
	return n
}

// Decode recovers the data bytes from a DMA sample buffer.
func (t *Nibbles) Decode(samples []byte) []byte {
	out := make([]byte, 0, len(samples)/4)
	for i := 0; i+4 <= len(samples); i += 4 {
		hi := t.decodeSample(binary.LittleEndian.Uint16(samples[i:]))
		lo := t.decodeSample(binary.LittleEndian.Uint16(samples[i+2:]))
		out = append(out, hi<<4|lo)
	}
	return out
}

func (t *Nibbles) decodeSample(s uint16) byte {
	var v byte
	for i := 3; i >= 0; i-- {
		group := (s >> uint(4*i)) & 0x0F
		active := 0
		for ; group != 0; group &= group - 1 {
			active++
		}
		v <<= 1
		if t.c.Classify(active) {
			v |= 1
		}
	}
	return v
}
