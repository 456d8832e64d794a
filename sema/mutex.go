package sema

import "sync/atomic"

// Mutex is Pentagon's managed mutual-exclusion lock: an uncontended
// two-state CAS fast path backed by a Semaphore for the contended
// path, the same split erlangtui-go1.17.13's sync.Mutex makes between
// its fast path and runtime_SemacquireMutex. Starvation mode (the
// upstream Go mutex's decision to switch a long-waiting mutex to
// strict FIFO handoff) is out of scope here. Contended waiters block on
// the semaphore FIFO and Unlock releases it with handoff, but a woken
// waiter still has to win the CAS on locked: a Lock call's fast path
// can take the mutex first, and the waiter then tries again.
type Mutex struct {
	locked int32
	sem    Semaphore
}

// Lock acquires m, blocking if it is already held.
func (m *Mutex) Lock() {
	if atomic.CompareAndSwapInt32(&m.locked, 0, 1) {
		return
	}
	m.lockSlow()
}

func (m *Mutex) lockSlow() {
	for {
		if atomic.CompareAndSwapInt32(&m.locked, 0, 1) {
			return
		}
		m.sem.Acquire(false)
		if atomic.CompareAndSwapInt32(&m.locked, 0, 1) {
			return
		}
		// Woken by a handoff release that raced with another locker;
		// loop and try again rather than re-queue at the back.
	}
}

// Unlock releases m. Unlocking a mutex not held by the caller is a
// programmer error, per spec.md's mutex section, and is not detected
// here — Pentagon's managed code never calls Unlock without a matching
// Lock because the JIT only ever emits the pair together.
func (m *Mutex) Unlock() {
	atomic.StoreInt32(&m.locked, 0)
	m.sem.Release(true)
}

// TryLock attempts to acquire m without blocking.
func (m *Mutex) TryLock() bool {
	return atomic.CompareAndSwapInt32(&m.locked, 0, 1)
}
