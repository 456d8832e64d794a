package sema

import "sync/atomic"

// Cond is a condition variable associated with a Locker, built the way
// erlangtui-go1.17.13's sync.Cond is: a generation semaphore that
// Wait parks on after releasing L, and that Signal/Broadcast release
// into. Pentagon's corelib waitable primitives (CreateWaitable /
// WaitableWait / WaitableSelect2) are built directly on Semaphore
// rather than on Cond, but Cond is kept as a general-purpose primitive
// other managed collaborators (the scheduler's own run-queue wakeups,
// for instance) can use without re-deriving the wait/release dance.
type Cond struct {
	L    Locker
	sema Semaphore
}

// Locker is anything with Lock/Unlock; *Mutex satisfies it.
type Locker interface {
	Lock()
	Unlock()
}

// NewCond returns a new Cond associated with l.
func NewCond(l Locker) *Cond {
	return &Cond{L: l}
}

// Wait atomically unlocks c.L and suspends execution, then relocks
// c.L before returning. Callers must hold c.L and re-check their
// condition in a loop, since Wait may return on an unrelated signal.
func (c *Cond) Wait() {
	c.L.Unlock()
	c.sema.Acquire(false)
	c.L.Lock()
}

// Signal wakes one goroutine waiting on c, if any.
func (c *Cond) Signal() {
	c.sema.Release(true)
}

// Broadcast wakes all goroutines waiting on c.
func (c *Cond) Broadcast() {
	for atomic.LoadInt32(&c.sema.nwait) > 0 {
		c.sema.Release(true)
	}
}
