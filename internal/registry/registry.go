// Package registry hands out exclusive hardware slots (DMA channels, state
// machines, RMT channels, mux lanes) and maps each claimed slot back to the
// instance that owns it, so shared interrupt handlers can dispatch by id.
package registry

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrExhausted is returned when every slot of a pool is claimed.
	ErrExhausted = errors.New("registry: no free slot")
	// ErrClaimed is returned when a specific slot is already owned.
	ErrClaimed = errors.New("registry: slot already claimed")
	// ErrRange is returned for a slot id outside the pool.
	ErrRange = errors.New("registry: slot out of range")
)

// Pool is a fixed set of slots with claim/release semantics.
type Pool[T any] struct {
	name string

	mu      sync.Mutex
	claimed uint64
	owners  []T
}

// New returns a pool of size slots, at most 64.
func New[T any](name string, size int) *Pool[T] {
	if size < 0 || size > 64 {
		panic(fmt.Sprintf("registry: %s: invalid size %d", name, size))
	}
	return &Pool[T]{name: name, owners: make([]T, size)}
}

// Name returns the pool name.
func (p *Pool[T]) Name() string { return p.name }

// Size returns the number of slots.
func (p *Pool[T]) Size() int { return len(p.owners) }

// Claim assigns the lowest free slot to owner.
func (p *Pool[T]) Claim(owner T) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.owners {
		if p.claimed&(1<<uint(i)) == 0 {
			p.set(i, owner)
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w in %s (%d slots)", ErrExhausted, p.name, len(p.owners))
}

// ClaimAt assigns slot id to owner. A negative id claims any free slot.
func (p *Pool[T]) ClaimAt(id int, owner T) (int, error) {
	if id < 0 {
		return p.Claim(owner)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if id >= len(p.owners) {
		return -1, fmt.Errorf("%w: %s %d of %d", ErrRange, p.name, id, len(p.owners))
	}
	if p.claimed&(1<<uint(id)) != 0 {
		return -1, fmt.Errorf("%w: %s %d", ErrClaimed, p.name, id)
	}
	p.set(id, owner)
	return id, nil
}

func (p *Pool[T]) set(i int, owner T) {
	p.claimed |= 1 << uint(i)
	p.owners[i] = owner
}

// Release frees slot id. Releasing a free slot is a no-op.
func (p *Pool[T]) Release(id int) {
	if id < 0 || id >= len(p.owners) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var zero T
	p.claimed &^= 1 << uint(id)
	p.owners[id] = zero
}

// Lookup returns the owner of slot id.
func (p *Pool[T]) Lookup(id int) (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var zero T
	if id < 0 || id >= len(p.owners) || p.claimed&(1<<uint(id)) == 0 {
		return zero, false
	}
	return p.owners[id], true
}

// IsClaimed reports whether slot id is owned.
func (p *Pool[T]) IsClaimed(id int) bool {
	_, ok := p.Lookup(id)
	return ok
}

// Free returns the number of unclaimed slots.
func (p *Pool[T]) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for i := range p.owners {
		if p.claimed&(1<<uint(i)) == 0 {
			n++
		}
	}
	return n
}

// Each calls fn for every claimed slot in ascending order, outside the lock.
func (p *Pool[T]) Each(fn func(id int, owner T)) {
	p.mu.Lock()
	ids := make([]int, 0, len(p.owners))
	owners := make([]T, 0, len(p.owners))
	for i, o := range p.owners {
		if p.claimed&(1<<uint(i)) != 0 {
			ids = append(ids, i)
			owners = append(owners, o)
		}
	}
	p.mu.Unlock()
	for i, id := range ids {
		fn(id, owners[i])
	}
}
