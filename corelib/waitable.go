// Package corelib is the native side of Pentagon's managed class
// library surface (spec.md §1, "the corelib class library written in
// the managed language" is out of scope; its internal-call bindings
// are in scope where named). It implements the six managed internal
// calls spec.md §4.3/§4.4 lists by name — CreateWaitable,
// ReleaseWaitable, WaitableSend, WaitableWait, WaitableSelect2,
// WaitableAfter — as a thin handle table over sema.Semaphore, plus the
// GC root handle table spec.md §5 calls out as the one piece of
// "runtime globals" state the collector's harvest step seeds into the
// root set alongside snooped references.
package corelib

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Itay2805/pentagon/sched"
	"github.com/Itay2805/pentagon/sema"
)

// waitable is a counted semaphore wrapped with a close flag, so a
// released handle wakes every blocked waiter with "closed" (0) instead
// of leaving them parked forever.
type waitable struct {
	sem     *sema.Semaphore
	closed  int32
	waiting int32
}

// Table is a process-wide (or test-scoped) registry of waitable
// handles. The zero value is ready to use.
type Table struct {
	mu      sync.Mutex
	entries map[uint64]*waitable
	next    uint64
}

// NewTable constructs an empty waitable handle table.
func NewTable() *Table {
	return &Table{entries: make(map[uint64]*waitable)}
}

func (t *Table) lookup(handle uint64) *waitable {
	t.mu.Lock()
	w := t.entries[handle]
	t.mu.Unlock()
	return w
}

// CreateWaitable allocates a new counted-semaphore waitable seeded
// with count permits and returns its handle.
func (t *Table) CreateWaitable(count int64) uint64 {
	w := &waitable{sem: sema.New(int32(count))}
	t.mu.Lock()
	t.next++
	h := t.next
	t.entries[h] = w
	t.mu.Unlock()
	return h
}

// ReleaseWaitable closes handle: every current and future blocked
// WaitableWait call on it returns 0 ("closed") instead of hanging.
func (t *Table) ReleaseWaitable(handle uint64) {
	w := t.lookup(handle)
	if w == nil {
		return
	}
	atomic.StoreInt32(&w.closed, 1)
	for atomic.LoadInt32(&w.waiting) > 0 {
		w.sem.Release(true)
	}
	t.mu.Lock()
	delete(t.entries, handle)
	t.mu.Unlock()
}

// WaitableSend adds one permit to handle. block is accepted for
// symmetry with the managed-side signature but never actually blocks:
// Pentagon's waitables are unbounded counting semaphores, so a send
// always succeeds immediately unless the waitable was already closed.
func (t *Table) WaitableSend(handle uint64, block bool) bool {
	w := t.lookup(handle)
	if w == nil || atomic.LoadInt32(&w.closed) != 0 {
		return false
	}
	w.sem.Release(true)
	return true
}

// WaitableWait blocks (if block is true) until handle has a permit or
// is closed. Returns 0 for closed, 1 for a spurious non-blocking poll
// that found nothing ready, 2 for a normal receive (spec.md §4.3).
func (t *Table) WaitableWait(handle uint64, block bool) int {
	w := t.lookup(handle)
	if w == nil || atomic.LoadInt32(&w.closed) != 0 {
		return 0
	}
	if !block {
		if w.sem.TryAcquire() {
			return 2
		}
		return 1
	}
	atomic.AddInt32(&w.waiting, 1)
	w.sem.Acquire(false)
	atomic.AddInt32(&w.waiting, -1)
	if atomic.LoadInt32(&w.closed) != 0 {
		return 0
	}
	return 2
}

// WaitableSelect2 races two waitables, returning the index (0 or 1) of
// whichever delivers first. With block == false it polls both without
// parking and returns -1 if neither has a permit ready yet.
//
// A losing side's goroutine may still acquire a permit after this call
// returns, with nothing left to consume it; spec.md §4.3 does not
// define select cancellation, and implementing real cancellation needs
// a handler table this package does not have reason to build for the
// one caller (a timer-vs-target race for timed waits) that exists
// today.
func (t *Table) WaitableSelect2(h1, h2 uint64, block bool) int {
	w1, w2 := t.lookup(h1), t.lookup(h2)
	if !block {
		if w1 != nil && w1.sem.TryAcquire() {
			return 0
		}
		if w2 != nil && w2.sem.TryAcquire() {
			return 1
		}
		return -1
	}

	// Each racing goroutine binds its own thread, since a contended
	// Acquire parks the caller.
	result := make(chan int, 2)
	if w1 != nil {
		go func() { sched.Bind(); defer sched.DropCurrent(); w1.sem.Acquire(false); result <- 0 }()
	}
	if w2 != nil {
		go func() { sched.Bind(); defer sched.DropCurrent(); w2.sem.Acquire(false); result <- 1 }()
	}
	return <-result
}

// WaitableAfter returns a single-send waitable that delivers after
// micros microseconds: the timer side of a timed-wait WaitableSelect2
// race (spec.md §4.3, "Cancellation / timeouts").
func (t *Table) WaitableAfter(micros int64) uint64 {
	h := t.CreateWaitable(0)
	w := t.lookup(h)
	go func() {
		time.Sleep(time.Duration(micros) * time.Microsecond)
		w.sem.Release(true)
	}()
	return h
}
