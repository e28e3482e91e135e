package sim

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// Edge is a level change recorded by Pin.
type Edge struct {
	At    uint64
	Level gpio.Level
}

// Pin is a gpio.PinOut that timestamps every level change with a Clock.
type Pin struct {
	N     string
	Num   int
	Clock *Clock

	mu     sync.Mutex
	level  gpio.Level
	edges  []Edge
	writes int
	halted bool
}

// NewPin returns a pin resting at level l.
func NewPin(name string, num int, c *Clock, l gpio.Level) *Pin {
	return &Pin{N: name, Num: num, Clock: c, level: l}
}

func (p *Pin) String() string {
	return fmt.Sprintf("%s(%d)", p.N, p.Num)
}

func (p *Pin) Halt() error {
	p.mu.Lock()
	p.halted = true
	p.mu.Unlock()
	return nil
}

func (p *Pin) Name() string     { return p.N }
func (p *Pin) Number() int      { return p.Num }
func (p *Pin) Function() string { return "Out/" + p.Read().String() }

// Read returns the current level.
func (p *Pin) Read() gpio.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

func (p *Pin) Out(l gpio.Level) error {
	at := p.Clock.Peek()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes++
	if l == p.level {
		return nil
	}
	p.level = l
	p.edges = append(p.edges, Edge{At: at, Level: l})
	return nil
}

var errNoPWM = errors.New("sim: pin does not support PWM")

func (p *Pin) PWM(gpio.Duty, physic.Frequency) error {
	return errNoPWM
}

// Edges returns a copy of the recorded level changes.
func (p *Pin) Edges() []Edge {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Edge(nil), p.edges...)
}

// Writes returns how many times Out was called.
func (p *Pin) Writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

// Halted reports whether Halt was called.
func (p *Pin) Halted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.halted
}

// Reset forgets the recorded edges.
func (p *Pin) Reset() {
	p.mu.Lock()
	p.edges = nil
	p.mu.Unlock()
}

// Pulse is a stretch of constant level on the line.
type Pulse struct {
	Level gpio.Level
	Width time.Duration
}

// Pulses converts the recorded edges into pulses, starting at the first
// edge. The last level, which lasts forever, is not included.
func (p *Pin) Pulses() []Pulse {
	edges := p.Edges()
	out := make([]Pulse, 0, len(edges))
	for i := 0; i+1 < len(edges); i++ {
		out = append(out, Pulse{Level: edges[i].Level, Width: p.Clock.Elapsed(edges[i].At, edges[i+1].At)})
	}
	return out
}

// DecodeNRZ recovers bytes from single-wire NRZ pulses: every active pulse
// is one bit, a 1 when wider than threshold. Trailing bits that do not fill
// a byte are dropped.
func DecodeNRZ(pulses []Pulse, active gpio.Level, threshold time.Duration) []byte {
	var out []byte
	var cur byte
	n := 0
	for _, p := range pulses {
		if p.Level != active {
			continue
		}
		cur <<= 1
		if p.Width > threshold {
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

// HighWidths returns the widths of the active pulses.
func HighWidths(pulses []Pulse, active gpio.Level) []time.Duration {
	var out []time.Duration
	for _, p := range pulses {
		if p.Level == active {
			out = append(out, p.Width)
		}
	}
	return out
}

// Starts returns the timestamps of the edges that go to the active level.
func (p *Pin) Starts(active gpio.Level) []uint64 {
	var out []uint64
	for _, e := range p.Edges() {
		if e.Level == active {
			out = append(out, e.At)
		}
	}
	return out
}

// SampleOnRise recovers the bytes clocked out on a two-wire bus by reading
// data at every rising edge of clk. data is assumed low before its first
// recorded edge.
func SampleOnRise(clk, data *Pin) []byte {
	de := data.Edges()
	var out []byte
	var cur byte
	n := 0
	for _, e := range clk.Edges() {
		if e.Level != gpio.High {
			continue
		}
		level := gpio.Low
		for _, d := range de {
			if d.At > e.At {
				break
			}
			level = d.Level
		}
		cur <<= 1
		if level == gpio.High {
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
