// Package timing holds the bit timing descriptors of the supported LED chip
// families.
package timing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/coreman2200/pixelwire/internal/hal"
)

// Family names an LED chip family.
type Family int

const (
	Unknown Family = iota
	WS2812
	WS2812x
	WS2811
	SK6812
	APA106
	TM1814
	TM1829
	TM1914
	SM16825
	GS1903
	APA102
	LPD8806
	WS2801
	TLC59711
)

var familyNames = map[Family]string{
	WS2812:   "ws2812",
	WS2812x:  "ws2812x",
	WS2811:   "ws2811",
	SK6812:   "sk6812",
	APA106:   "apa106",
	TM1814:   "tm1814",
	TM1829:   "tm1829",
	TM1914:   "tm1914",
	SM16825:  "sm16825",
	GS1903:   "gs1903",
	APA102:   "apa102",
	LPD8806:  "lpd8806",
	WS2801:   "ws2801",
	TLC59711: "tlc59711",
}

var aliases = map[string]Family{
	"neopixel":   WS2812,
	"800kbps":    WS2812,
	"400kbps":    WS2811,
	"dotstar":    APA102,
	"sk6812rgbw": SK6812,
}

func (f Family) String() string {
	if s, ok := familyNames[f]; ok {
		return s
	}
	return fmt.Sprintf("family(%d)", int(f))
}

// ParseFamily returns the family named s, case insensitive.
func ParseFamily(s string) (Family, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for f, name := range familyNames {
		if name == s {
			return f, nil
		}
	}
	if f, ok := aliases[s]; ok {
		return f, nil
	}
	return Unknown, fmt.Errorf("timing: unknown chip family %q", s)
}

// Families returns every known family in declaration order.
func Families() []Family {
	out := make([]Family, 0, len(familyNames))
	for f := WS2812; f <= TLC59711; f++ {
		out = append(out, f)
	}
	return out
}

// Polarity selects normal or inverted signalling on the data line.
type Polarity int

const (
	Normal Polarity = iota
	Inverted
)

func (p Polarity) String() string {
	if p == Inverted {
		return "inverted"
	}
	return "normal"
}

// ParsePolarity accepts "normal", "inverted" and the empty string.
func ParsePolarity(s string) (Polarity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return Normal, nil
	case "inverted", "invert":
		return Inverted, nil
	}
	return Normal, fmt.Errorf("timing: unknown polarity %q", s)
}

// Profile is the bit timing descriptor of a chip family.
//
// T0H and T1H are the widths of the active pulse for a 0 and a 1 bit; for an
// inverted line the active pulse is low and the line idles high.
type Profile struct {
	Family   Family
	T0H      time.Duration
	T1H      time.Duration
	Period   time.Duration
	Reset    time.Duration
	Inverted bool
	// Clock is the data clock of two-wire chips and zero for single-wire ones.
	Clock physic.Frequency
}

var profiles = map[Family]Profile{
	WS2812:  {T0H: 400 * time.Nanosecond, T1H: 800 * time.Nanosecond, Period: 1250 * time.Nanosecond, Reset: 50 * time.Microsecond},
	WS2812x: {T0H: 400 * time.Nanosecond, T1H: 800 * time.Nanosecond, Period: 1250 * time.Nanosecond, Reset: 300 * time.Microsecond},
	WS2811:  {T0H: 500 * time.Nanosecond, T1H: 1200 * time.Nanosecond, Period: 2500 * time.Nanosecond, Reset: 50 * time.Microsecond},
	SK6812:  {T0H: 300 * time.Nanosecond, T1H: 600 * time.Nanosecond, Period: 1250 * time.Nanosecond, Reset: 80 * time.Microsecond},
	APA106:  {T0H: 350 * time.Nanosecond, T1H: 1360 * time.Nanosecond, Period: 1710 * time.Nanosecond, Reset: 50 * time.Microsecond},
	TM1814:  {T0H: 360 * time.Nanosecond, T1H: 720 * time.Nanosecond, Period: 1250 * time.Nanosecond, Reset: 200 * time.Microsecond, Inverted: true},
	TM1829:  {T0H: 300 * time.Nanosecond, T1H: 800 * time.Nanosecond, Period: 1250 * time.Nanosecond, Reset: 200 * time.Microsecond, Inverted: true},
	TM1914:  {T0H: 360 * time.Nanosecond, T1H: 720 * time.Nanosecond, Period: 1250 * time.Nanosecond, Reset: 200 * time.Microsecond, Inverted: true},
	SM16825: {T0H: 300 * time.Nanosecond, T1H: 900 * time.Nanosecond, Period: 1250 * time.Nanosecond, Reset: 200 * time.Microsecond},
	GS1903:  {T0H: 300 * time.Nanosecond, T1H: 900 * time.Nanosecond, Period: 1250 * time.Nanosecond, Reset: 40 * time.Microsecond},

	APA102:   {Clock: 10 * physic.MegaHertz},
	LPD8806:  {Clock: 2 * physic.MegaHertz},
	WS2801:   {Clock: physic.MegaHertz, Reset: 500 * time.Microsecond},
	TLC59711: {Clock: 10 * physic.MegaHertz, Reset: 2 * time.Microsecond},
}

// Lookup returns the descriptor of f as seen through pol. A family that is
// natively inverted and requested inverted ends up normal.
func Lookup(f Family, pol Polarity) (Profile, bool) {
	p, ok := profiles[f]
	if !ok {
		return Profile{}, false
	}
	p.Family = f
	p.Inverted = p.Inverted != (pol == Inverted)
	return p, true
}

// MustLookup is Lookup for families known to exist.
func MustLookup(f Family, pol Polarity) Profile {
	p, ok := Lookup(f, pol)
	if !ok {
		panic("timing: unknown family " + f.String())
	}
	return p
}

// TwoWire reports whether the family is clocked by a separate clock line.
func (p Profile) TwoWire() bool {
	return p.Clock != 0
}

// ActiveLevel is the level driven for the pulse of each bit.
func (p Profile) ActiveLevel() gpio.Level {
	return gpio.Level(!p.Inverted)
}

// IdleLevel is the level the line rests at between bits and frames.
func (p Profile) IdleLevel() gpio.Level {
	return gpio.Level(p.Inverted)
}

// Rate is the bit rate on the wire.
func (p Profile) Rate() physic.Frequency {
	if p.TwoWire() {
		return p.Clock
	}
	return physic.PeriodToFrequency(p.Period)
}

// FrameTime is the time spent on the wire for n bytes, latch excluded.
func (p Profile) FrameTime(n int) time.Duration {
	if p.TwoWire() {
		return time.Duration(n*8) * p.Clock.Period()
	}
	return time.Duration(n*8) * p.Period
}

var (
	errPulseOrder = errors.New("timing: pulse widths must satisfy T0H < T1H < period")
	errShortReset = errors.New("timing: reset must exceed ten bit periods")
	errNoClock    = errors.New("timing: two-wire family without clock")
)

// Validate checks the descriptor invariants.
func (p Profile) Validate() error {
	if p.TwoWire() {
		if p.Clock <= 0 {
			return errNoClock
		}
		return nil
	}
	if p.T0H <= 0 || p.T0H >= p.T1H || p.T1H >= p.Period {
		return fmt.Errorf("%w (%s: %s/%s/%s)", errPulseOrder, p.Family, p.T0H, p.T1H, p.Period)
	}
	if p.Reset <= 10*p.Period {
		return fmt.Errorf("%w (%s: %s)", errShortReset, p.Family, p.Reset)
	}
	return nil
}

// Cycles is a descriptor converted to ticks of a counter.
type Cycles struct {
	T0H    uint64
	T1H    uint64
	Period uint64
	Reset  uint64
}

// Cycles converts the descriptor to ticks of a counter running at f.
func (p Profile) Cycles(f physic.Frequency) Cycles {
	return Cycles{
		T0H:    hal.DurationToTicks(p.T0H, f),
		T1H:    hal.DurationToTicks(p.T1H, f),
		Period: hal.DurationToTicks(p.Period, f),
		Reset:  hal.DurationToTicks(p.Reset, f),
	}
}
