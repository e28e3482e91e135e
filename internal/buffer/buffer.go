// Package buffer owns the raw pixel bytes handed between the color layer and
// a transmission engine.
package buffer

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInFlight is returned by Swap while hardware still streams the sending
// buffer.
var ErrInFlight = errors.New("buffer: send in flight")

// Layout sizes a pixel buffer: PixelCount elements of ElementSize bytes,
// followed by a SettingsSize byte settings block.
type Layout struct {
	PixelCount   int
	ElementSize  int
	SettingsSize int
}

// Validate rejects negative sizes and pixels without bytes.
func (l Layout) Validate() error {
	if l.PixelCount < 0 || l.ElementSize < 0 || l.SettingsSize < 0 {
		return fmt.Errorf("buffer: negative layout %+v", l)
	}
	if l.PixelCount > 0 && l.ElementSize == 0 {
		return fmt.Errorf("buffer: %d pixels of zero size", l.PixelCount)
	}
	return nil
}

// PixelBytes is the size of the pixel section.
func (l Layout) PixelBytes() int { return l.PixelCount * l.ElementSize }

// Size is the full buffer size.
func (l Layout) Size() int { return l.PixelBytes() + l.SettingsSize }

// Pixels returns the pixel section of buf.
func (l Layout) Pixels(buf []byte) []byte { return buf[:l.PixelBytes():l.PixelBytes()] }

// Settings returns the trailing settings section of buf.
func (l Layout) Settings(buf []byte) []byte { return buf[l.PixelBytes():l.Size()] }

// Frames hands out the editable buffer and, on update, the one to transmit.
type Frames interface {
	// Editing is the buffer the application writes into.
	Editing() []byte
	// Swap returns the buffer to transmit and marks it in flight.
	Swap(maintainConsistency bool) ([]byte, error)
	// Release marks the in-flight buffer as drained.
	Release()
	// InFlight reports whether a buffer is being transmitted.
	InFlight() bool
}

// Single is the Frames of a synchronous engine: the editable buffer is
// transmitted in place, since nothing else runs until the send returns.
type Single struct {
	mu       sync.Mutex
	data     []byte
	inFlight bool
}

// NewSingle returns a zeroed buffer of size bytes.
func NewSingle(size int) *Single {
	return &Single{data: make([]byte, size)}
}

func (s *Single) Editing() []byte { return s.data }

func (s *Single) Swap(bool) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return nil, ErrInFlight
	}
	s.inFlight = true
	return s.data, nil
}

func (s *Single) Release() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

func (s *Single) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Pair is the front/back buffer of an asynchronous engine.
//
// The editing buffer is owned by the application; the sending buffer is
// owned by the hardware from Swap until Release.
type Pair struct {
	mu       sync.Mutex
	editing  []byte
	sending  []byte
	inFlight bool
}

// NewPair returns two zeroed buffers of size bytes.
func NewPair(size int) *Pair {
	return &Pair{editing: make([]byte, size), sending: make([]byte, size)}
}

func (p *Pair) Editing() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.editing
}

// Sending returns the buffer last handed to the hardware.
func (p *Pair) Sending() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sending
}

// Swap exchanges the buffers so the application's latest edits become the
// sending buffer. With maintainConsistency the new editing buffer is
// refreshed from it, so reads after the swap see what was written before.
// Without it the editing buffer holds the frame before last.
func (p *Pair) Swap(maintainConsistency bool) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight {
		return nil, ErrInFlight
	}
	p.editing, p.sending = p.sending, p.editing
	if maintainConsistency {
		copy(p.editing, p.sending)
	}
	p.inFlight = true
	return p.sending, nil
}

func (p *Pair) Release() {
	p.mu.Lock()
	p.inFlight = false
	p.mu.Unlock()
}

func (p *Pair) InFlight() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}
