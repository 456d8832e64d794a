// Package sched implements Pentagon's cooperative, work-stealing-style
// scheduler surface: threads, park/ready, yield/schedule, preemption
// disable/enable, and the suspend/resume safepoint primitive the GC
// uses for its handshakes (spec.md §4.3).
//
// Pentagon threads are not OS threads: the scheduler that would
// multiplex them onto cores is out of scope (spec.md §1 — boot/trap
// machinery is an external collaborator), so each Thread here is
// backed by exactly one Go goroutine, and park/ready/yield are
// implemented on top of native channels and runtime.Gosched the way
// the teacher's chan.go uses gopark/goready/sudog to block and wake a
// goroutine waiting on a channel. What is genuinely Pentagon's own is
// the safepoint/handshake machinery layered on top, which the teacher
// has no equivalent of (Go's own GC handshakes live in the runtime
// itself, not in a library a goroutine can call into).
package sched

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/Itay2805/pentagon/object"
)

// GCLocalData is the per-thread state the collector publishes and
// reads during its cycle (spec.md §3, "Thread ... carries a thread-
// control block with gc_local_data").
type GCLocalData struct {
	AllocColor object.Color
	TraceOn    bool
	Snoop      bool

	// Buffer holds this thread's write-barrier log: pre-image
	// snapshots of managed-pointer fields for objects it has dirtied
	// while trace_on, keyed by the object header so Prepare (spec.md
	// §4.2) can clear LogPointer on each before resetting the buffer.
	Buffer []LogEntry

	// Snooped is the tentative-root set accumulated while Snoop is on.
	// Only the owning thread writes it; the collector only reads it
	// while the thread is suspended at a handshake.
	Snooped map[*object.Header]struct{}
}

// LogEntry is one write-barrier pre-image record: the object whose
// field snapshot this is, and the snapshotted values themselves.
// Object.LogPointer points at Values[0]; the two are always published
// together.
type LogEntry struct {
	Object *object.Header
	Values []unsafe.Pointer // one per object.Type.ManagedPointerOffsets entry
}

// Thread is Pentagon's unit of scheduling. Every managed thread has
// one; the GC's conductor goroutine is not bound and has none, so the
// handshakes never suspend it.
type Thread struct {
	id uint64

	// preempt is the nestable preemption-disable counter (spec.md
	// §4.3): >0 means this thread may not be suspended at anything
	// other than a point it chose itself.
	preempt int32

	// safepointReq, when non-zero, means some other thread (the GC)
	// asked this thread to pause at its next safepoint check.
	safepointReq int32
	paused       chan struct{} // closed by this thread on reaching the safepoint
	resume       chan struct{} // closed by the suspender to let it continue

	// parked is non-zero while this thread is blocked inside Park, i.e.
	// at the "blocking call" safepoint spec.md §4.3 lists alongside
	// function entry/backward branch/allocation. A parked thread runs
	// no code and touches no GCLocalData, so Suspend treats it as
	// already stopped instead of waiting on a CheckSafepoint call that,
	// being asleep, it will never make.
	parked int32

	runnable chan struct{} // buffered 1: park/ready rendezvous

	GC GCLocalData

	// ShadowTop is the JIT-owned pointer to this thread's topmost
	// shadow-stack frame (spec.md §6, "{prev, method_info_ref,
	// object_count, objects[]}"). sched has no notion of frame layout;
	// it only carries the pointer so the collector can ask the jit
	// package (via gc.ShadowStackWalker) to decode it while the thread
	// is suspended at a handshake.
	ShadowTop unsafe.Pointer
}

var nextThreadID uint64

func newThread() *Thread {
	return &Thread{
		id:       atomic.AddUint64(&nextThreadID, 1),
		paused:   make(chan struct{}),
		resume:   make(chan struct{}),
		runnable: make(chan struct{}, 1),
	}
}

// ID returns the thread's scheduler-assigned identity, stable for its
// lifetime.
func (t *Thread) ID() uint64 { return t.id }

// SetTopFrame publishes the JIT's current shadow-stack top for this
// thread (spec.md §6's set_top_frame). Called on every managed call
// and return; must be visible to a collector reading it while this
// thread is suspended at a handshake.
func (t *Thread) SetTopFrame(p unsafe.Pointer) {
	atomic.StorePointer(&t.ShadowTop, p)
}

// TopFrame returns the thread's current shadow-stack top, read by the
// collector only while t is suspended.
func (t *Thread) TopFrame() unsafe.Pointer {
	return atomic.LoadPointer(&t.ShadowTop)
}

var (
	registryMu sync.Mutex
	byGoid     = map[int64]*Thread{}
	allThreads = map[uint64]*Thread{}
)

// Bind registers the calling goroutine as a new Pentagon thread and
// returns it. Call once per goroutine that will act as a mutator
// (spec.md §3, "Thread: created ready").
func Bind() *Thread {
	t := newThread()
	gid := goroutineID()
	registryMu.Lock()
	byGoid[gid] = t
	allThreads[t.id] = t
	registryMu.Unlock()
	return t
}

// Self returns the calling goroutine's bound Thread, or nil if it was
// never bound. Most package-level helpers (DisablePreemption, Yield,
// ...) operate on Self() so callers don't have to thread a *Thread
// through every call.
func Self() *Thread {
	registryMu.Lock()
	t := byGoid[goroutineID()]
	registryMu.Unlock()
	return t
}

// DropCurrent unregisters the calling goroutine's thread: spec.md §3,
// "dies when execution returns from entry".
func DropCurrent() {
	gid := goroutineID()
	registryMu.Lock()
	if t, ok := byGoid[gid]; ok {
		delete(byGoid, gid)
		delete(allThreads, t.id)
	}
	registryMu.Unlock()
}

// AllThreads returns a snapshot of every currently registered thread,
// for the GC's handshake roster (spec.md §5, "the all-threads list has
// its own lock, held across every handshake for the duration of
// iteration").
func AllThreads() []*Thread {
	registryMu.Lock()
	defer registryMu.Unlock()
	out := make([]*Thread, 0, len(allThreads))
	for _, t := range allThreads {
		out = append(out, t)
	}
	return out
}

// LockAllThreads holds the all-threads registry lock for the duration
// of fn. Sweep uses this purely to serialise with thread creation
// (spec.md §4.2), not to synchronise with mutators' heap activity.
func LockAllThreads(fn func()) {
	registryMu.Lock()
	defer registryMu.Unlock()
	fn()
}
