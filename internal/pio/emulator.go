package pio

import (
	"errors"
	"fmt"
)

// ErrCycleLimit is returned when a program runs past the cycle budget
// without stalling.
var ErrCycleLimit = errors.New("pio: cycle limit reached")

// Span is a run of cycles at one pin level.
type Span struct {
	Level  bool
	Cycles uint64
}

// Emulator executes a state machine cycle by cycle against a TX FIFO and
// records the level of its first output pin. It covers what output
// programs use: JMP, OUT, SET, MOV, PULL, side-set, delays, wrap and
// autopull.
type Emulator struct {
	mem [MemorySize]uint16
	cfg Config

	pc      uint8
	x, y    uint32
	osr     uint32
	shifted uint8
	fifo    []uint32
	pin     bool
	cycles  uint64
	stalled bool
	trace   []Span
}

// NewEmulator starts at pc with the OSR empty.
func NewEmulator(mem [MemorySize]uint16, pc uint8, cfg Config) *Emulator {
	threshold := cfg.PullThreshold
	if threshold == 0 {
		threshold = 32
	}
	cfg.PullThreshold = threshold
	return &Emulator{mem: mem, cfg: cfg, pc: pc, pin: cfg.IdleLevel, shifted: threshold}
}

// Put queues words on the TX FIFO.
func (e *Emulator) Put(words ...uint32) { e.fifo = append(e.fifo, words...) }

// Pin is the current output level.
func (e *Emulator) Pin() bool { return e.pin }

// Cycles is the number of cycles run.
func (e *Emulator) Cycles() uint64 { return e.cycles }

// Stalled reports whether the machine is waiting on an empty FIFO.
func (e *Emulator) Stalled() bool { return e.stalled }

// Trace returns the pin history as runs of equal level.
func (e *Emulator) Trace() []Span { return append([]Span(nil), e.trace...) }

func (e *Emulator) emit(n uint64) {
	e.cycles += n
	if k := len(e.trace); k > 0 && e.trace[k-1].Level == e.pin {
		e.trace[k-1].Cycles += n
		return
	}
	e.trace = append(e.trace, Span{Level: e.pin, Cycles: n})
}

// Run executes until the machine stalls on an empty FIFO or limit cycles
// have passed.
func (e *Emulator) Run(limit uint64) error {
	start := e.cycles
	for e.cycles-start < limit {
		if err := e.Step(); err != nil {
			return err
		}
		if e.stalled {
			return nil
		}
	}
	return fmt.Errorf("%w after %d cycles at pc %d", ErrCycleLimit, limit, e.pc)
}

// Step executes one instruction. A stalled instruction applies its
// side-set and returns without consuming cycles.
func (e *Emulator) Step() error {
	in := e.mem[e.pc]
	sideBits := e.cfg.SidesetBits
	field := uint8(in>>8) & 0x1f
	delay := field & (1<<(5-sideBits) - 1)
	if sideBits > 0 {
		e.pin = (field>>(5-sideBits))&1 != 0
	}
	a1 := uint8(in>>5) & 7
	a2 := uint8(in) & 0x1f

	next := e.pc + 1
	if e.pc == e.cfg.Wrap {
		next = e.cfg.WrapTarget
	}
	e.stalled = false

	switch {
	case in&opMask == opJMP:
		if e.cond(JmpCond(a1)) {
			next = a2
		}
	case in&opMask == opOUT:
		n := a2
		if n == 0 {
			n = 32
		}
		if e.cfg.AutoPull && e.shifted >= e.cfg.PullThreshold {
			if !e.pull() {
				e.stalled = true
				return nil
			}
		}
		e.write(SrcDest(a1), e.shift(n), &next)
	case in&0xe080 == opPULL:
		ifEmpty, block := a1&2 != 0, a1&1 != 0
		if !ifEmpty || e.shifted >= e.cfg.PullThreshold {
			if !e.pull() {
				if block {
					e.stalled = true
					return nil
				}
				e.osr = e.x
				e.shifted = 0
			}
		}
	case in&opMask == opMOV:
		if a2>>3 != 0 {
			return fmt.Errorf("pio: unsupported mov op %#04x at %d", in, e.pc)
		}
		e.write(SrcDest(a1), e.read(SrcDest(a2&7)), &next)
	case in&opMask == opSET:
		e.write(SrcDest(a1), uint32(a2), &next)
	default:
		return fmt.Errorf("pio: unsupported instruction %#04x at %d", in, e.pc)
	}
	e.emit(1 + uint64(delay))
	e.pc = next % MemorySize
	return nil
}

func (e *Emulator) cond(c JmpCond) bool {
	switch c {
	case JmpAlways:
		return true
	case JmpXZero:
		return e.x == 0
	case JmpXNZeroDec:
		t := e.x != 0
		e.x--
		return t
	case JmpYZero:
		return e.y == 0
	case JmpYNZeroDec:
		t := e.y != 0
		e.y--
		return t
	case JmpXNotEqualY:
		return e.x != e.y
	case JmpOSRNotEmpty:
		return e.shifted < e.cfg.PullThreshold
	}
	return false
}

func (e *Emulator) pull() bool {
	if len(e.fifo) == 0 {
		return false
	}
	e.osr, e.fifo = e.fifo[0], e.fifo[1:]
	e.shifted = 0
	return true
}

func (e *Emulator) shift(n uint8) uint32 {
	var v uint32
	if n == 32 {
		v, e.osr = e.osr, 0
	} else if e.cfg.OutShiftRight {
		v = e.osr & (1<<n - 1)
		e.osr >>= n
	} else {
		v = e.osr >> (32 - n)
		e.osr <<= n
	}
	if int(e.shifted)+int(n) > 32 {
		e.shifted = 32
	} else {
		e.shifted += n
	}
	return v
}

func (e *Emulator) read(src SrcDest) uint32 {
	switch src {
	case Pins:
		if e.pin {
			return 1
		}
		return 0
	case X:
		return e.x
	case Y:
		return e.y
	case OSR:
		return e.osr
	}
	return 0
}

func (e *Emulator) write(dst SrcDest, v uint32, next *uint8) {
	switch dst {
	case Pins:
		e.pin = v&1 != 0
	case X:
		e.x = v
	case Y:
		e.y = v
	case PC:
		*next = uint8(v) % MemorySize
	case OSR:
		e.osr = v
		e.shifted = 0
	}
}

// Pulses returns the widths in cycles of every span at level active.
func Pulses(trace []Span, active bool) []uint64 {
	var out []uint64
	for _, s := range trace {
		if s.Level == active {
			out = append(out, s.Cycles)
		}
	}
	return out
}

// DecodeNRZ turns active pulse widths back into bytes: pulses longer than
// threshold cycles are 1 bits.
func DecodeNRZ(trace []Span, active bool, threshold uint64) []byte {
	var out []byte
	var cur byte
	n := 0
	for _, w := range Pulses(trace, active) {
		cur <<= 1
		if w > threshold {
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
