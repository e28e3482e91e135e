package channel

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// base carries the open/closed bookkeeping shared by every channel.
type base struct {
	name string
	log  zerolog.Logger

	mu     sync.Mutex
	opened bool
	closed bool
	status Status
}

func (b *base) init(name string, l *zerolog.Logger) {
	lg := log.Logger
	if l != nil {
		lg = *l
	}
	b.name = name
	b.log = lg.With().Str("channel", name).Logger()
}

// usable must be called with mu held.
func (b *base) usable() error {
	if b.closed {
		return ErrClosed
	}
	if !b.opened {
		return ErrNotOpen
	}
	return nil
}

// begin checks the channel can take a frame and marks it Pending. It must
// be called with mu held.
func (b *base) begin() error {
	if err := b.usable(); err != nil {
		return err
	}
	if b.status.State != Idle {
		return ErrBusy
	}
	b.status.State = Pending
	return nil
}

func (b *base) set(s Status) {
	b.mu.Lock()
	b.status = s
	b.mu.Unlock()
}

func (b *base) snapshot() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// String returns the channel name.
func (b *base) String() string { return b.name }
