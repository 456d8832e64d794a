package sched

import (
	goruntime "runtime"
	"sync/atomic"

	"github.com/Itay2805/pentagon/fail"
)

// Ready marks t runnable (spec.md §4.3).
func Ready(t *Thread) {
	select {
	case t.runnable <- struct{}{}:
	default:
		// Already has a pending wakeup; park will see it immediately.
	}
}

// Park blocks the calling thread until a matching Ready, first
// invoking releaseLock (typically a mutex/spinlock Unlock) so the
// unpark-race is closed the same way the teacher's goparkunlock
// couples unlocking the channel lock with going to sleep (chan.go's
// goparkunlock call sites). releaseLock may be nil.
//
// A blocking call is itself a safepoint (spec.md §4.3), so Park marks
// self parked before it sleeps and checks in both before and after:
// before, in case a Suspend raced the parked store and is waiting on
// the ordinary paused/resume handshake instead; after, in case a
// Ready arrived (and woke this thread) before a concurrent handshake
// that found self already parked had a chance to call Resume.
func Park(self *Thread, releaseLock func()) {
	if releaseLock != nil {
		releaseLock()
	}
	atomic.StoreInt32(&self.parked, 1)
	CheckSafepoint(self)
	<-self.runnable
	atomic.StoreInt32(&self.parked, 0)
	CheckSafepoint(self)
}

// Yield moves the calling goroutine to the back of Go's own local run
// queue. Pentagon has no run queue of its own to reorder — the
// underlying goroutine scheduler already does this — so Yield is a
// thin, honestly-named wrapper over runtime.Gosched rather than a
// simulation of one.
func Yield() {
	goruntime.Gosched()
}

// Schedule is Yield's "global run queue" counterpart in spec.md's
// vocabulary. Go's scheduler does not expose separate local/global
// queues to library code, so both compile to the same primitive here;
// the distinction matters to spec.md's scheduler, not to this
// reference backend.
func Schedule() {
	goruntime.Gosched()
}

// DisablePreemption increments the calling thread's nestable
// preemption-disable counter. Must be balanced by EnablePreemption.
// Required across any heap allocation, the entire write barrier, and
// any region touching page-table state (spec.md §4.3).
func DisablePreemption() {
	t := Self()
	if t == nil {
		return
	}
	atomic.AddInt32(&t.preempt, 1)
}

// EnablePreemption decrements the calling thread's preemption-disable
// counter.
func EnablePreemption() {
	t := Self()
	if t == nil {
		return
	}
	if atomic.AddInt32(&t.preempt, -1) < 0 {
		fail.Throw("sched: preemption counter went negative")
	}
}

// preemptible reports whether t may be paused at an arbitrary
// safepoint right now.
func preemptible(t *Thread) bool {
	return atomic.LoadInt32(&t.preempt) == 0
}

// SuspendState is the token Resume needs to let a suspended thread
// continue.
type SuspendState struct {
	t *Thread
}

// Suspend blocks the caller until t reaches its next safepoint
// (function entry, backward branch, allocation, blocking call, or
// external call — spec.md §4.3) and pauses there. While suspended,
// reads of t's GCLocalData are permitted; this is the mechanism the
// GC's four handshakes use to publish trace_on/snoop (spec.md §4.2).
//
// t must itself call CheckSafepoint periodically (the JIT inserts
// these at the points spec.md names) OR already be parked: a thread
// blocked in Park runs nothing and reads nothing, so it is already at
// a safepoint and Suspend returns for it immediately rather than
// waiting on a CheckSafepoint call a sleeping thread cannot make.
func Suspend(t *Thread) SuspendState {
	atomic.StoreInt32(&t.safepointReq, 1)
	if atomic.LoadInt32(&t.parked) != 0 {
		return SuspendState{t: t}
	}
	<-t.paused
	return SuspendState{t: t}
}

// Resume lets a thread suspended via Suspend continue.
func Resume(s SuspendState) {
	atomic.StoreInt32(&s.t.safepointReq, 0)
	close(s.t.resume)
	// Reset for the next handshake cycle's Suspend/Resume pair.
	s.t.paused = make(chan struct{})
	s.t.resume = make(chan struct{})
}

// CheckSafepoint is the call the JIT emits at function entry, backward
// branches, before allocations, and before blocking external calls
// (spec.md §4.3, §4.4). If another thread has called Suspend on self,
// CheckSafepoint blocks here until the matching Resume, publishing
// nothing itself — GCLocalData is read directly by the suspender
// while this goroutine is parked on <-self.resume.
func CheckSafepoint(self *Thread) {
	if atomic.LoadInt32(&self.safepointReq) == 0 {
		return
	}
	if !preemptible(self) {
		// A safepoint reached while preemption is disabled (inside an
		// allocation or the write barrier) is not actually safe to
		// stop at; the next check after the disabled region ends will
		// catch it.
		return
	}
	paused := self.paused
	resume := self.resume
	close(paused)
	<-resume
}
