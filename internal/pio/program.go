package pio

import (
	"fmt"
	"math"
	"time"

	"github.com/coreman2200/pixelwire/internal/timing"
)

// Config is the per state machine configuration a program needs.
type Config struct {
	WrapTarget uint8
	Wrap       uint8

	SidesetBits uint8

	// OUT shifting: direction, autopull and the pull threshold in bits.
	OutShiftRight bool
	AutoPull      bool
	PullThreshold uint8

	ClkDivWhole uint16
	ClkDivFrac  uint8

	// IdleLevel is the pin level before the first instruction runs.
	IdleLevel bool
}

// CyclePeriod is the state machine cycle time on a sysFreq Hz system clock.
func (c Config) CyclePeriod(sysFreq uint32) time.Duration {
	div := float64(c.ClkDivWhole) + float64(c.ClkDivFrac)/256
	return time.Duration(math.Round(div * 1e9 / float64(sysFreq)))
}

// Program is relocatable code plus the configuration it expects. Wrap
// addresses in Config are relative to the program start until placed.
type Program struct {
	Name   string
	Code   []uint16
	Origin int8
	Config Config
}

// NRZCycles splits one bit period into the three phases of the NRZ
// program: T1 cycles active for every bit, T2 more cycles active for a 1
// (idle for a 0) and T3 idle cycles.
type NRZCycles struct {
	T1, T2, T3 uint8
}

// Bit is the number of state machine cycles per bit.
func (c NRZCycles) Bit() int { return int(c.T1) + int(c.T2) + int(c.T3) }

// NRZCyclesFor derives the phase lengths of p with perBit cycles per bit.
func NRZCyclesFor(p timing.Profile, perBit int) (NRZCycles, error) {
	if p.TwoWire() {
		return NRZCycles{}, fmt.Errorf("pio: %s has no NRZ timing", p.Family)
	}
	scale := func(d time.Duration) int {
		return int(math.Round(float64(d) * float64(perBit) / float64(p.Period)))
	}
	t1 := scale(p.T0H)
	t2 := scale(p.T1H) - t1
	t3 := perBit - t1 - t2
	limit := int(MaxDelay(1)) + 1
	for _, t := range []int{t1, t2, t3} {
		if t < 1 || t > limit {
			return NRZCycles{}, fmt.Errorf("pio: %s does not fit %d cycles per bit (%d/%d/%d)", p.Family, perBit, t1, t2, t3)
		}
	}
	return NRZCycles{T1: uint8(t1), T2: uint8(t2), T3: uint8(t3)}, nil
}

// NRZ program layout.
const (
	nrzBitLoop = 0
	nrzDoZero  = 3
)

// NRZProgram returns the single-pin NRZ program for c. The pin is driven
// by side-set; active selects the level of the pulse.
//
//	bitloop: out x, 1      side idle   [T3-1]
//	         jmp !x do_zero side active [T1-1]
//	         jmp bitloop    side active [T2-1]
//	do_zero: nop            side idle   [T2-1]
func NRZProgram(c NRZCycles, active bool) Program {
	asm := Assembler{SidesetBits: 1}
	on, off := boolBit(active), boolBit(!active)
	code := []uint16{
		nrzBitLoop: asm.Out(X, 1).Side(off).Delay(c.T3 - 1).Encode(),
		asm.Jmp(nrzDoZero, JmpXZero).Side(on).Delay(c.T1 - 1).Encode(),
		asm.Jmp(nrzBitLoop, JmpAlways).Side(on).Delay(c.T2 - 1).Encode(),
		nrzDoZero: asm.Nop().Side(off).Delay(c.T2 - 1).Encode(),
	}
	return Program{
		Name:   "nrz",
		Code:   code,
		Origin: -1,
		Config: Config{
			WrapTarget:    nrzBitLoop,
			Wrap:          nrzDoZero,
			SidesetBits:   1,
			AutoPull:      true,
			PullThreshold: 8,
			IdleLevel:     !active,
		},
	}
}

// NRZ builds the program for p with the clock divider set so that one bit
// lasts p.Period on a sysFreq Hz system clock.
func NRZ(p timing.Profile, perBit int, sysFreq uint32) (Program, NRZCycles, error) {
	c, err := NRZCyclesFor(p, perBit)
	if err != nil {
		return Program{}, c, err
	}
	prog := NRZProgram(c, bool(p.ActiveLevel()))
	cycle := uint32(p.Period.Nanoseconds()) / uint32(perBit)
	whole, frac, err := ClkDivFromPeriod(cycle, sysFreq)
	if err != nil {
		return Program{}, c, fmt.Errorf("pio: %s at %d Hz: %w", p.Family, sysFreq, err)
	}
	prog.Config.ClkDivWhole, prog.Config.ClkDivFrac = whole, frac
	return prog, c, nil
}

// Word returns the FIFO word carrying data byte b for the NRZ program,
// which shifts left and pulls every 8 bits.
func Word(b byte) uint32 { return uint32(b) << 24 }
