// Package pio assembles, places and emulates programs for RP2040-style
// programmable I/O blocks: 32 instruction slots shared by four state
// machines, each with its own FIFO, shift registers and clock divider.
package pio

import (
	"errors"
	"math"
)

// Major opcode bits.
const (
	opJMP  = 0x0000
	opWAIT = 0x2000
	opIN   = 0x4000
	opOUT  = 0x6000
	opPUSH = 0x8000
	opPULL = 0x8080
	opMOV  = 0xa000
	opIRQ  = 0xc000
	opSET  = 0xe000

	opMask = 0xe000
)

// SrcDest selects a register or pin set for OUT, SET and MOV.
type SrcDest uint8

const (
	Pins    SrcDest = 0
	X       SrcDest = 1
	Y       SrcDest = 2
	Null    SrcDest = 3
	PinDirs SrcDest = 4
	PC      SrcDest = 5
	ISR     SrcDest = 6
	OSR     SrcDest = 7
)

// JmpCond is the condition field of a JMP.
type JmpCond uint8

const (
	JmpAlways JmpCond = iota
	// JmpXZero jumps if X is zero.
	JmpXZero
	// JmpXNZeroDec jumps if X is non-zero, decrementing X either way.
	JmpXNZeroDec
	JmpYZero
	JmpYNZeroDec
	JmpXNotEqualY
	JmpPin
	// JmpOSRNotEmpty jumps while the OSR holds bits below the pull threshold.
	JmpOSRNotEmpty
)

// Assembler builds instruction words for programs using SidesetBits
// mandatory side-set bits.
type Assembler struct {
	SidesetBits uint8
}

// Instr is an instruction being assembled.
type Instr struct {
	asm Assembler
	v   uint16
}

func (asm Assembler) instr(v uint16) Instr { return Instr{asm: asm, v: v} }

func (asm Assembler) args(op uint16, a1, a2 uint8) Instr {
	return asm.instr(op | uint16(a1&7)<<5 | uint16(a2&0x1f))
}

// Jmp jumps to addr, relative to the program origin, when cond holds.
func (asm Assembler) Jmp(addr uint8, cond JmpCond) Instr {
	return asm.args(opJMP, uint8(cond), addr)
}

// Out shifts n bits (1..32) from the OSR into dest.
func (asm Assembler) Out(dest SrcDest, n uint8) Instr {
	return asm.args(opOUT, uint8(dest), n)
}

// Set writes value (0..31) to dest.
func (asm Assembler) Set(dest SrcDest, value uint8) Instr {
	return asm.args(opSET, uint8(dest), value)
}

// Mov copies src to dest.
func (asm Assembler) Mov(dest, src SrcDest) Instr {
	return asm.args(opMOV, uint8(dest), uint8(src)&7)
}

// Pull loads the OSR from the TX FIFO.
func (asm Assembler) Pull(ifEmpty, block bool) Instr {
	return asm.args(opPULL, boolBit(ifEmpty)<<1|boolBit(block), 0)
}

// Nop is mov y, y.
func (asm Assembler) Nop() Instr { return asm.Mov(Y, Y) }

// Side sets the side-set value driven while the instruction executes.
func (in Instr) Side(v uint8) Instr {
	in.v |= uint16(v) << (13 - in.asm.SidesetBits)
	return in
}

// Delay adds idle cycles after the instruction. Cycles beyond the delay
// field width are truncated.
func (in Instr) Delay(cycles uint8) Instr {
	mask := uint8(1)<<(5-in.asm.SidesetBits) - 1
	in.v |= uint16(cycles&mask) << 8
	return in
}

// Encode returns the 16-bit instruction word.
func (in Instr) Encode() uint16 { return in.v }

// MaxDelay is the largest delay encodable next to sidesetBits side-set bits.
func MaxDelay(sidesetBits uint8) uint8 { return 1<<(5-sidesetBits) - 1 }

var (
	errClkDivTooLarge = errors.New("pio: clock divider too large")
	errClkDivTooSmall = errors.New("pio: clock divider below 1")
)

// ClkDivFromPeriod returns the divider giving state machine cycles of
// period nanoseconds on a system clock of sysFreq Hz.
func ClkDivFromPeriod(period, sysFreq uint32) (whole uint16, frac uint8, err error) {
	// 256*whole + frac = 256*sysFreq*period/1e9
	return splitClkDiv(256 * uint64(period) * uint64(sysFreq) / 1e9)
}

// ClkDivFromFrequency returns the divider giving state machine cycles at
// freq Hz on a system clock of sysFreq Hz.
func ClkDivFromFrequency(freq, sysFreq uint32) (whole uint16, frac uint8, err error) {
	if freq == 0 {
		return 0, 0, errClkDivTooLarge
	}
	return splitClkDiv(256 * uint64(sysFreq) / uint64(freq))
}

func splitClkDiv(div uint64) (whole uint16, frac uint8, err error) {
	if div > 256*math.MaxUint16 {
		return 0, 0, errClkDivTooLarge
	} else if div < 256 {
		return 0, 0, errClkDivTooSmall
	}
	return uint16(div / 256), uint8(div % 256), nil
}

func boolBit(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
