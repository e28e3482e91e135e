// Package dma builds the descriptor rings an I2S/parallel DMA engine walks
// to stream a frame. Descriptors live in a fixed arena and link to each
// other by index.
package dma

import (
	"errors"
	"fmt"
)

// MaxChunk is the largest buffer one descriptor can point at.
const MaxChunk = 4092

// Segment names the part of the ring a descriptor belongs to.
type Segment uint8

const (
	Data Segment = iota
	Gap
	Idle
)

func (s Segment) String() string {
	switch s {
	case Data:
		return "data"
	case Gap:
		return "gap"
	case Idle:
		return "idle"
	}
	return fmt.Sprintf("segment(%d)", uint8(s))
}

// Descriptor points the engine at one buffer. EOF raises the engine's
// end-of-frame flag once the buffer has been streamed.
type Descriptor struct {
	Buf     []byte
	EOF     bool
	Next    int
	Segment Segment
}

var (
	ErrArenaFull   = errors.New("dma: descriptor arena full")
	ErrEmptyGap    = errors.New("dma: ring needs a latch gap")
	ErrEmptyIdle   = errors.New("dma: ring needs an idle buffer")
	ErrBrokenChain = errors.New("dma: broken descriptor chain")
)

// Ring is a descriptor chain: data -> gap -> idle, where the idle
// descriptor loops onto itself so the line stays at rest after a frame.
type Ring struct {
	descs []Descriptor
	head  int
	gap   int
	idle  int
}

// Builder assembles a Ring in an arena of fixed capacity.
type Builder struct {
	descs []Descriptor
	data  []byte
	gap   []byte
	idle  []byte
}

// NewBuilder returns a builder whose ring holds at most capacity
// descriptors.
func NewBuilder(capacity int) *Builder {
	return &Builder{descs: make([]Descriptor, 0, capacity)}
}

// Capacity is the number of descriptors needed for n data bytes with a
// single gap and idle descriptor each.
func Capacity(n, gap int) int {
	return chunks(n) + chunks(gap) + 1
}

func chunks(n int) int {
	if n == 0 {
		return 0
	}
	return (n + MaxChunk - 1) / MaxChunk
}

// Data sets the frame buffer.
func (b *Builder) Data(buf []byte) *Builder { b.data = buf; return b }

// Gap sets the buffer streamed after the data to hold the latch time.
func (b *Builder) Gap(buf []byte) *Builder { b.gap = buf; return b }

// Idle sets the buffer the engine loops over between frames.
func (b *Builder) Idle(buf []byte) *Builder { b.idle = buf; return b }

func (b *Builder) add(buf []byte, seg Segment) (first, last int, err error) {
	first, last = -1, -1
	for off := 0; off < len(buf); off += MaxChunk {
		end := off + MaxChunk
		if end > len(buf) {
			end = len(buf)
		}
		if len(b.descs) == cap(b.descs) {
			return -1, -1, fmt.Errorf("%w (%d)", ErrArenaFull, cap(b.descs))
		}
		i := len(b.descs)
		b.descs = append(b.descs, Descriptor{Buf: buf[off:end], Next: i + 1, Segment: seg})
		if first < 0 {
			first = i
		}
		last = i
	}
	return first, last, nil
}

// Build links the descriptors and checks the result.
//
// The last data descriptor and the last gap descriptor carry EOF, so the
// engine flags both "data done" and "latch gap done". The idle descriptor
// carries no EOF so looping on it stays silent.
func (b *Builder) Build() (*Ring, error) {
	if len(b.gap) == 0 {
		return nil, ErrEmptyGap
	}
	if len(b.idle) == 0 {
		return nil, ErrEmptyIdle
	}
	if len(b.idle) > MaxChunk {
		return nil, fmt.Errorf("dma: idle buffer of %d bytes exceeds one descriptor", len(b.idle))
	}
	b.descs = b.descs[:0]
	dFirst, dLast, err := b.add(b.data, Data)
	if err != nil {
		return nil, err
	}
	gFirst, gLast, err := b.add(b.gap, Gap)
	if err != nil {
		return nil, err
	}
	idle, _, err := b.add(b.idle, Idle)
	if err != nil {
		return nil, err
	}
	b.descs[gLast].EOF = true
	b.descs[idle].Next = idle
	head := gFirst
	if dFirst >= 0 {
		b.descs[dLast].EOF = true
		head = dFirst
	}
	r := &Ring{descs: b.descs, head: head, gap: gFirst, idle: idle}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Head is the first descriptor of a frame.
func (r *Ring) Head() int { return r.head }

// GapStart is the first latch gap descriptor.
func (r *Ring) GapStart() int { return r.gap }

// IdleIndex is the self-looping idle descriptor.
func (r *Ring) IdleIndex() int { return r.idle }

// Len is the number of descriptors.
func (r *Ring) Len() int { return len(r.descs) }

// At returns descriptor i.
func (r *Ring) At(i int) Descriptor { return r.descs[i] }

// Validate walks the chain from the head and checks the topology: every
// link in range, data then gap then idle, EOF exactly at the end of the
// data and of the gap, and the idle descriptor closing the loop.
func (r *Ring) Validate() error {
	n := len(r.descs)
	if n == 0 || r.idle < 0 || r.idle >= n {
		return ErrBrokenChain
	}
	seg := Data
	i := r.head
	for steps := 0; ; steps++ {
		if steps > n {
			return fmt.Errorf("%w: loop before idle", ErrBrokenChain)
		}
		if i < 0 || i >= n {
			return fmt.Errorf("%w: link to %d", ErrBrokenChain, i)
		}
		d := r.descs[i]
		if d.Segment < seg {
			return fmt.Errorf("%w: %s after %s at %d", ErrBrokenChain, d.Segment, seg, i)
		}
		seg = d.Segment
		if len(d.Buf) == 0 || len(d.Buf) > MaxChunk {
			return fmt.Errorf("%w: descriptor %d holds %d bytes", ErrBrokenChain, i, len(d.Buf))
		}
		if seg == Idle {
			if i != r.idle || d.Next != i {
				return fmt.Errorf("%w: idle descriptor %d does not loop", ErrBrokenChain, i)
			}
			if d.EOF {
				return fmt.Errorf("%w: idle descriptor carries EOF", ErrBrokenChain)
			}
			return nil
		}
		next := d.Next
		endOfSegment := next >= 0 && next < n && r.descs[next].Segment != seg
		if d.EOF != endOfSegment {
			return fmt.Errorf("%w: EOF flag wrong at %d", ErrBrokenChain, i)
		}
		i = next
	}
}

// Rebind points the data descriptors at buf, which must have the size the
// ring was built for. Used to follow a front/back buffer swap without
// rebuilding the ring.
func (r *Ring) Rebind(buf []byte) error {
	off := 0
	for i := r.head; i >= 0 && i < len(r.descs) && r.descs[i].Segment == Data; i = r.descs[i].Next {
		n := len(r.descs[i].Buf)
		if off+n > len(buf) {
			return fmt.Errorf("dma: rebind buffer of %d bytes too short", len(buf))
		}
		r.descs[i].Buf = buf[off : off+n]
		off += n
	}
	if off != len(buf) {
		return fmt.Errorf("dma: rebind buffer of %d bytes, ring holds %d", len(buf), off)
	}
	return nil
}

// Bytes returns the number of bytes the descriptors of seg point at.
func (r *Ring) Bytes(seg Segment) int {
	n := 0
	for _, d := range r.descs {
		if d.Segment == seg {
			n += len(d.Buf)
		}
	}
	return n
}
