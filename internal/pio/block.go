package pio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/coreman2200/pixelwire/internal/registry"
)

// Sizes of one PIO block.
const (
	MemorySize    = 32
	StateMachines = 4
)

var (
	ErrOutOfProgramSpace = errors.New("pio: out of program space")
	ErrNoSpaceAtOffset   = errors.New("pio: program does not fit at offset")
)

// Block is one PIO instance: shared instruction memory and its state
// machines.
type Block struct {
	index int

	mu   sync.Mutex
	mem  [MemorySize]uint16
	used uint32

	sms *registry.Pool[*StateMachine]
}

// NewBlock returns an empty block.
func NewBlock(index int) *Block {
	return &Block{
		index: index,
		sms:   registry.New[*StateMachine](fmt.Sprintf("pio%d-sm", index), StateMachines),
	}
}

// Index is the block number.
func (b *Block) Index() int { return b.index }

// Memory returns a copy of the instruction memory.
func (b *Block) Memory() [MemorySize]uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mem
}

// Used returns the mask of occupied instruction slots.
func (b *Block) Used() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

func programMask(n int) uint32 {
	if n >= 32 {
		return ^uint32(0)
	}
	return 1<<uint(n) - 1
}

// AddProgram loads code at origin, or at the highest free offset when
// origin is negative. JMP targets are relocated by the offset.
func (b *Block) AddProgram(code []uint16, origin int8) (offset uint8, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	off := b.findOffset(len(code), origin)
	if off < 0 {
		return 0, fmt.Errorf("%w (%d instructions, used %#08x)", ErrOutOfProgramSpace, len(code), b.used)
	}
	b.write(code, uint8(off))
	return uint8(off), nil
}

// AddProgramAtOffset loads code at offset.
func (b *Block) AddProgramAtOffset(code []uint16, offset uint8) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(code) == 0 || int(offset)+len(code) > MemorySize || b.used&(programMask(len(code))<<offset) != 0 {
		return ErrNoSpaceAtOffset
	}
	b.write(code, offset)
	return nil
}

func (b *Block) write(code []uint16, offset uint8) {
	for i, in := range code {
		if in&opMask == opJMP {
			in += uint16(offset)
		}
		b.mem[int(offset)+i] = in
	}
	b.used |= programMask(len(code)) << offset
}

func (b *Block) findOffset(n int, origin int8) int {
	if n == 0 || n > MemorySize {
		return -1
	}
	mask := programMask(n)
	if origin >= 0 {
		if int(origin) > MemorySize-n || b.used&(mask<<uint(origin)) != 0 {
			return -1
		}
		return int(origin)
	}
	// Fill from the top so fixed-origin programs keep the low slots.
	for i := MemorySize - n; i >= 0; i-- {
		if b.used&(mask<<uint(i)) == 0 {
			return i
		}
	}
	return -1
}

// RemoveProgram frees n slots at offset. The slots are overwritten with
// jumps to themselves so a machine still pointed there parks.
func (b *Block) RemoveProgram(offset uint8, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if int(offset)+n > MemorySize {
		panic("pio: program bounds")
	}
	for i := int(offset); i < int(offset)+n; i++ {
		b.mem[i] = opJMP | uint16(i)
	}
	b.used &^= programMask(n) << offset
}

// ClaimStateMachine reserves a free state machine.
func (b *Block) ClaimStateMachine() (*StateMachine, error) {
	sm := &StateMachine{block: b}
	id, err := b.sms.Claim(sm)
	if err != nil {
		return nil, err
	}
	sm.index = id
	return sm, nil
}

// StateMachine returns the owner of machine i.
func (b *Block) StateMachine(i int) (*StateMachine, bool) {
	return b.sms.Lookup(i)
}

// FreeStateMachines is the number of unclaimed machines.
func (b *Block) FreeStateMachines() int { return b.sms.Free() }

// StateMachine is a claimed state machine of a block.
type StateMachine struct {
	block *Block
	index int

	mu      sync.Mutex
	offset  uint8
	cfg     Config
	enabled bool
}

// Block returns the owning block.
func (sm *StateMachine) Block() *Block { return sm.block }

// Index is the machine number within its block.
func (sm *StateMachine) Index() int { return sm.index }

func (sm *StateMachine) String() string {
	return fmt.Sprintf("pio%d-sm%d", sm.block.index, sm.index)
}

// Init points the machine at a program loaded at offset. Wrap addresses in
// cfg are relative to the program and get relocated here.
func (sm *StateMachine) Init(offset uint8, cfg Config) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	cfg.WrapTarget += offset
	cfg.Wrap += offset
	sm.offset, sm.cfg, sm.enabled = offset, cfg, false
}

// SetEnabled starts or stops the machine.
func (sm *StateMachine) SetEnabled(on bool) {
	sm.mu.Lock()
	sm.enabled = on
	sm.mu.Unlock()
}

// Enabled reports whether the machine runs.
func (sm *StateMachine) Enabled() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.enabled
}

// Offset is the program start.
func (sm *StateMachine) Offset() uint8 {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.offset
}

// Config is the relocated configuration.
func (sm *StateMachine) Config() Config {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.cfg
}

// Emulator returns an emulator over the block's current memory with the
// machine's configuration, starting at its program offset.
func (sm *StateMachine) Emulator() *Emulator {
	return NewEmulator(sm.block.Memory(), sm.Offset(), sm.Config())
}

// Release stops the machine and frees it.
func (sm *StateMachine) Release() {
	sm.SetEnabled(false)
	if owner, ok := sm.block.sms.Lookup(sm.index); ok && owner == sm {
		sm.block.sms.Release(sm.index)
	}
}
