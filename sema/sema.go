// Package sema implements Pentagon's semaphore: the FIFO/LIFO
// wait-queue-with-ticket-handoff primitive spec.md §4.3 describes as
// the foundation for every mutex, condition variable, and wait handle
// in the system. The shape — a fast-path CAS, a contended path that
// re-checks under a lock before parking, and a handoff mode that skips
// the requeue/re-race on release — is the one erlangtui-go1.17.13's
// sync.Mutex documents for runtime_SemacquireMutex/runtime_Semrelease;
// Pentagon reimplements it from scratch against its own scheduler
// rather than building on sync.Mutex/sync.Cond (a sync.Mutex serves
// only as each semaphore's internal lock), since the semaphore itself is exactly
// the component spec.md asks to be specified (sync.Mutex would hide
// it behind the standard library's own copy).
package sema

import (
	"sync"
	"sync/atomic"

	"github.com/Itay2805/pentagon/fail"
	"github.com/Itay2805/pentagon/sched"
)

// waiter is a waiting-thread descriptor: acquired implicitly (it's
// just a stack-local value), linked into a semaphore's queue, and
// released by the signaller (spec.md §3).
type waiter struct {
	thread *sched.Thread
	ticket int32
	next   *waiter
}

// Semaphore is a value-and-waiters semaphore with a per-instance lock
// and two atomic counters, per spec.md §4.3.
type Semaphore struct {
	mu    sync.Mutex
	value int32
	nwait int32
	head  *waiter
	tail  *waiter
}

// New constructs a semaphore with the given initial permit count.
func New(initial int32) *Semaphore {
	return &Semaphore{value: initial}
}

func (s *Semaphore) tryFastAcquire() bool {
	for {
		v := atomic.LoadInt32(&s.value)
		if v <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt32(&s.value, v, v-1) {
			return true
		}
	}
}

// Acquire blocks until a permit is available. If lifo is true, a
// contended waiter is queued at the head (shorter tail latency for
// barging callers, per spec.md §4.3's mutex note); otherwise FIFO.
func (s *Semaphore) Acquire(lifo bool) {
	if s.tryFastAcquire() {
		return
	}

	assertSelfBound()
	self := sched.Self()
	w := &waiter{thread: self}

	for {
		s.mu.Lock()
		atomic.AddInt32(&s.nwait, 1)

		if s.tryFastAcquire() {
			atomic.AddInt32(&s.nwait, -1)
			s.mu.Unlock()
			return
		}

		if lifo {
			s.enqueueLIFO(w)
		} else {
			s.enqueueFIFO(w)
		}

		// Park releasing the lock as part of park-atomicity: the
		// enqueue must be visible to a concurrent Release before this
		// thread can miss its wakeup (spec.md §5 ordering guarantees).
		sched.Park(self, s.mu.Unlock)

		if w.ticket != 0 {
			return
		}
		if s.tryFastAcquire() {
			return
		}
		// Spurious wake with no ticket and no permit: loop and
		// re-queue.
	}
}

// Release makes one permit available, waking a queued waiter if any.
// If handoff is true and a waiter can be served directly, the permit
// is handed to it without requeuing, and Release yields so the waiter
// runs out the remainder of this time slice (spec.md §4.3).
func (s *Semaphore) Release(handoff bool) {
	atomic.AddInt32(&s.value, 1)
	// Order matters: increment value before loading nwait, or a waiter
	// that is mid-enqueue (already past its own nwait++ but not yet
	// parked) can be missed (spec.md §5's documented missed-wakeup
	// bug).
	if atomic.LoadInt32(&s.nwait) == 0 {
		return
	}

	s.mu.Lock()
	if s.nwait == 0 {
		s.mu.Unlock()
		return
	}
	w := s.dequeue()
	if w == nil {
		s.mu.Unlock()
		return
	}
	atomic.AddInt32(&s.nwait, -1)
	s.mu.Unlock()

	if handoff && s.tryFastAcquire() {
		// The permit tryFastAcquire just consumed is handed straight to
		// w, which returns from Acquire on w.ticket != 0 without itself
		// touching value (this is Go's cansemacquire+ticket handoff:
		// exactly one permit moves from Release to w, net change zero).
		w.ticket = 1
		sched.Ready(w.thread)
		sched.Yield()
		return
	}
	sched.Ready(w.thread)
}

func (s *Semaphore) enqueueLIFO(w *waiter) {
	w.next = s.head
	s.head = w
	if s.tail == nil {
		s.tail = w
	}
}

func (s *Semaphore) enqueueFIFO(w *waiter) {
	w.next = nil
	if s.tail == nil {
		s.head, s.tail = w, w
		return
	}
	s.tail.next = w
	s.tail = w
}

func (s *Semaphore) dequeue() *waiter {
	w := s.head
	if w == nil {
		return nil
	}
	s.head = w.next
	if s.head == nil {
		s.tail = nil
	}
	w.next = nil
	return w
}

// TryAcquire attempts to take a permit without blocking, never
// queuing the caller as a waiter on failure.
func (s *Semaphore) TryAcquire() bool {
	return s.tryFastAcquire()
}

// Value reports the current permit count, for diagnostics/tests only.
func (s *Semaphore) Value() int32 { return atomic.LoadInt32(&s.value) }

// assertSelfBound panics via fail.Throw if the calling goroutine has
// no bound Thread; Acquire needs one to park.
func assertSelfBound() {
	if sched.Self() == nil {
		fail.Throw("sema: calling goroutine has no bound sched.Thread; call sched.Bind() first")
	}
}
