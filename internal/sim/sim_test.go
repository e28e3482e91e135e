package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"periph.io/x/conn/v3/gpio"
)

func TestClockSteps(t *testing.T) {
	c := NewNanoClock(10 * time.Nanosecond)
	assert.Equal(t, uint64(10), c.Now())
	assert.Equal(t, uint64(20), c.Now())
	assert.Equal(t, uint64(20), c.Peek())
	c.Advance(time.Microsecond)
	assert.Equal(t, uint64(1020), c.Peek())
	assert.Equal(t, time.Microsecond, c.Elapsed(20, 1020))
}

func TestStall(t *testing.T) {
	c := NewNanoClock(0)
	s := &Stall{Clock: c, Cost: time.Microsecond, Every: 2}
	for i := 0; i < 4; i++ {
		s.Restore(s.Disable())
	}
	assert.Equal(t, 4, s.Restores())
	assert.True(t, s.Balanced())
	assert.Equal(t, 2*time.Microsecond, c.Elapsed(0, c.Peek()))
	s.Disable()
	assert.False(t, s.Balanced())
}

func TestPinDecode(t *testing.T) {
	c := NewNanoClock(0)
	p := NewPin("D0", 0, c, gpio.Low)
	// 1 then 0: 800/450 and 400/850 ns.
	for _, w := range [][2]time.Duration{{800, 450}, {400, 850}} {
		p.Out(gpio.High)
		c.Advance(w[0])
		p.Out(gpio.Low)
		c.Advance(w[1])
	}
	p.Out(gpio.High)
	assert.Equal(t, []time.Duration{800, 400}, HighWidths(p.Pulses(), gpio.High))
	assert.Len(t, p.Starts(gpio.High), 3)
	assert.Equal(t, "D0(0)", p.String())
	assert.NoError(t, p.Halt())
	assert.True(t, p.Halted())
}
