package channel

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coreman2200/pixelwire/internal/hal"
	"github.com/coreman2200/pixelwire/internal/registry"
	"github.com/coreman2200/pixelwire/internal/symbol"
	"github.com/coreman2200/pixelwire/internal/timing"
)

// RMTEvent is a transmit-end event of one controller channel.
type RMTEvent struct {
	Channel int
	At      uint64
}

// RMTController is a remote-control pulse peripheral: several channels
// each streaming items, one shared interrupt.
type RMTController interface {
	// Channels is the number of transmit channels.
	Channels() int
	// Tick is the item duration unit.
	Tick() time.Duration
	Transmit(ch int, items []symbol.Item) error
	// Events returns and clears the pending transmit-end events.
	Events() []RMTEvent
	Stop(ch int)
}

// RMTBus shares one controller between RMT channels and routes its
// transmit-end events to the channel owning each controller channel.
type RMTBus struct {
	ctrl   RMTController
	owners *registry.Pool[*RMT]
	mu     sync.Mutex
}

// NewRMTBus wraps ctrl.
func NewRMTBus(ctrl RMTController) *RMTBus {
	return &RMTBus{ctrl: ctrl, owners: registry.New[*RMT]("rmt", ctrl.Channels())}
}

// Poll drains the controller events and hands each to its owner. It plays
// the part of the shared interrupt handler.
func (b *RMTBus) Poll() {
	b.mu.Lock()
	events := b.ctrl.Events()
	b.mu.Unlock()
	for _, ev := range events {
		if owner, ok := b.owners.Lookup(ev.Channel); ok {
			owner.txEnd(ev.At)
		}
	}
}

// Free is the number of unclaimed controller channels.
func (b *RMTBus) Free() int { return b.owners.Free() }

// RMT streams the items of each frame, latch gap included, through one
// controller channel.
type RMT struct {
	base
	bus     *RMTBus
	clock   hal.Clock
	want    int
	id      int
	sym     *symbol.RMT
	items   []symbol.Item
	gapTick uint64
}

// NewRMT returns a channel on controller channel id, or any free one when
// id is negative.
func NewRMT(p timing.Profile, id int, clock hal.Clock, bus *RMTBus, l *zerolog.Logger) (*RMT, error) {
	sym, err := symbol.NewRMT(p, bus.ctrl.Tick())
	if err != nil {
		return nil, err
	}
	r := &RMT{bus: bus, clock: clock, want: id, id: -1, sym: sym}
	r.gapTick = hal.Ticks(clock, sym.Duration(sym.Reset))
	r.init("rmt", l)
	return r, nil
}

// Symbols returns the item table.
func (r *RMT) Symbols() *symbol.RMT { return r.sym }

// ID is the claimed controller channel, -1 before Open.
func (r *RMT) ID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id
}

func (r *RMT) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	id, err := r.bus.owners.ClaimAt(r.want, r)
	if err != nil {
		return fmt.Errorf("channel: rmt: %w", err)
	}
	r.id, r.opened = id, true
	r.name = "rmt" + strconv.Itoa(id)
	r.log = r.log.With().Int("rmt", id).Logger()
	r.log.Debug().Dur("tick", r.sym.Tick).Msg("claimed")
	return nil
}

func (r *RMT) Start(data []byte) error {
	r.bus.Poll()
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.begin(); err != nil {
		return err
	}
	r.items = r.sym.Encode(r.items[:0], data)
	r.status.State = Sending
	r.bus.mu.Lock()
	err := r.bus.ctrl.Transmit(r.id, r.items)
	r.bus.mu.Unlock()
	if err != nil {
		r.status.State = Idle
		return fmt.Errorf("channel: %s: %w", r.name, err)
	}
	return nil
}

func (r *RMT) txEnd(at uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.State == Idle {
		return
	}
	// The event fires after the latch items; DoneAt marks the data end.
	r.status = Status{State: Idle, DoneAt: at - r.gapTick}
}

func (r *RMT) Status() Status {
	r.bus.Poll()
	return r.snapshot()
}

func (r *RMT) Async() bool { return true }

func (r *RMT) DrainLatency() time.Duration { return 0 }

func (r *RMT) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.opened {
		r.bus.mu.Lock()
		r.bus.ctrl.Stop(r.id)
		r.bus.mu.Unlock()
		r.bus.owners.Release(r.id)
		r.log.Debug().Msg("released")
	}
	return nil
}
