package hal

import "runtime"

// IRQState is the opaque interrupt mask saved by Interrupts.Disable.
type IRQState uint32

// Interrupts masks and restores interrupts for the calling execution context.
type Interrupts interface {
	Disable() IRQState
	Restore(IRQState)
}

// ThreadLock is the host stand-in for interrupt masking: it pins the calling
// goroutine to its OS thread for the duration of a frame. The kernel can
// still preempt the thread, which is the hazard the interruptible bit-bang
// variant detects.
type ThreadLock struct{}

func (ThreadLock) Disable() IRQState {
	runtime.LockOSThread()
	return 0
}

func (ThreadLock) Restore(IRQState) {
	runtime.UnlockOSThread()
}

// NoInterrupts does nothing.
type NoInterrupts struct{}

func (NoInterrupts) Disable() IRQState { return 0 }

func (NoInterrupts) Restore(IRQState) {}
