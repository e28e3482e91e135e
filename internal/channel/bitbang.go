package channel

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/gpio"

	"github.com/coreman2200/pixelwire/internal/bitbang"
	"github.com/coreman2200/pixelwire/internal/hal"
	"github.com/coreman2200/pixelwire/internal/timing"
)

// BitBang drives a single-wire strip from a GPIO pin on the calling
// goroutine.
type BitBang struct {
	base
	pin           gpio.PinOut
	clock         hal.Clock
	irq           hal.Interrupts
	profile       timing.Profile
	interruptible bool
	eng           *bitbang.Engine
}

// NewBitBang returns a bit-bang channel. With interruptible set, interrupts
// are let through between bytes and a frame that stalls past the reset
// time fails with ErrFrameIncomplete.
func NewBitBang(pin gpio.PinOut, clock hal.Clock, irq hal.Interrupts, p timing.Profile, interruptible bool, l *zerolog.Logger) *BitBang {
	b := &BitBang{pin: pin, clock: clock, irq: irq, profile: p, interruptible: interruptible}
	b.init(fmt.Sprintf("bitbang(%s)", pin), l)
	return b
}

func (b *BitBang) Open() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	eng, err := bitbang.New(b.pin, b.clock, b.irq, b.profile)
	if err != nil {
		return err
	}
	b.eng, b.opened = eng, true
	return nil
}

func (b *BitBang) Start(data []byte) error {
	b.mu.Lock()
	if err := b.begin(); err != nil {
		b.mu.Unlock()
		return err
	}
	b.status.State = Sending
	b.mu.Unlock()

	ok := true
	if b.interruptible {
		ok = b.eng.SendInterruptible(data)
	} else {
		b.eng.Send(data)
	}
	b.set(Status{State: Idle, DoneAt: b.clock.Now()})
	if !ok {
		b.log.Warn().Int("bytes", len(data)).Msg("frame incomplete")
		return ErrFrameIncomplete
	}
	return nil
}

func (b *BitBang) Status() Status { return b.snapshot() }

func (b *BitBang) Async() bool { return false }

func (b *BitBang) DrainLatency() time.Duration { return 0 }

func (b *BitBang) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.opened {
		return b.pin.Out(b.profile.IdleLevel())
	}
	return nil
}
