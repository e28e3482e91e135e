package channeltest

import (
	"fmt"
	"sync"
	"time"

	"github.com/coreman2200/pixelwire/internal/channel"
	"github.com/coreman2200/pixelwire/internal/hal"
	"github.com/coreman2200/pixelwire/internal/sim"
	"github.com/coreman2200/pixelwire/internal/symbol"
)

// RMT is a remote-control peripheral with N channels ticking every
// TickTime. A transmission ends once the clock has passed the sum of its
// item durations.
type RMT struct {
	Clock    *sim.Clock
	N        int
	TickTime time.Duration
	// Discard skips recording transmitted items.
	Discard bool

	mu     sync.Mutex
	busy   map[int]uint64
	sent   map[int][][]symbol.Item
	stops  int
	events int
}

// NewRMT returns a controller with n channels.
func NewRMT(c *sim.Clock, n int, tick time.Duration) *RMT {
	return &RMT{Clock: c, N: n, TickTime: tick, busy: map[int]uint64{}, sent: map[int][][]symbol.Item{}}
}

func (r *RMT) Channels() int { return r.N }

func (r *RMT) Tick() time.Duration { return r.TickTime }

func (r *RMT) Transmit(ch int, items []symbol.Item) error {
	if ch < 0 || ch >= r.N {
		return fmt.Errorf("channeltest: rmt channel %d out of range", ch)
	}
	total := 0
	for _, it := range items {
		total += it.Ticks()
	}
	end := r.Clock.Now() + hal.DurationToTicks(time.Duration(total)*r.TickTime, r.Clock.Freq)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.busy[ch]; ok {
		return fmt.Errorf("channeltest: rmt channel %d busy", ch)
	}
	r.busy[ch] = end
	if !r.Discard {
		r.sent[ch] = append(r.sent[ch], append([]symbol.Item(nil), items...))
	}
	return nil
}

// Events reports every channel whose transmission has ended.
func (r *RMT) Events() []channel.RMTEvent {
	now := r.Clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []channel.RMTEvent
	for ch, end := range r.busy {
		if now >= end {
			out = append(out, channel.RMTEvent{Channel: ch, At: end})
			delete(r.busy, ch)
		}
	}
	r.events += len(out)
	return out
}

func (r *RMT) Stop(ch int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.busy, ch)
	r.stops++
}

// Sent returns the item lists transmitted on ch.
func (r *RMT) Sent(ch int) [][]symbol.Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]symbol.Item(nil), r.sent[ch]...)
}

// Stops returns how many times a channel was stopped.
func (r *RMT) Stops() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stops
}
