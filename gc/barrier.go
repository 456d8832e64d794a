package gc

import (
	"sync/atomic"
	"unsafe"

	"github.com/Itay2805/pentagon/object"
	"github.com/Itay2805/pentagon/sched"
)

// Update is the write barrier the JIT compiles every managed store
// `o.f = v` into: `gc_update(o, off, v)` (spec.md §4.2). Preemption is
// disabled for its whole duration, since it touches page-table dirty
// state (via heap.MarkDirty) same as an allocation does.
func (g *GC) Update(o *object.Header, off uintptr, new unsafe.Pointer) {
	sched.DisablePreemption()
	defer sched.EnablePreemption()

	self := sched.Self()

	if self.GC.TraceOn && o.Color == g.whiteColor() && atomic.LoadPointer(&o.LogPointer) == nil {
		g.logPreImage(self, o)
	}

	slot := (*unsafe.Pointer)(unsafe.Add(unsafe.Pointer(o), off))
	atomic.StorePointer(slot, new)
	g.h.MarkDirty(unsafe.Pointer(o))

	if self.GC.Snoop && new != nil {
		if self.GC.Snooped == nil {
			self.GC.Snooped = make(map[*object.Header]struct{})
		}
		self.GC.Snooped[object.HeaderAt(new)] = struct{}{}
	}
}

// logPreImage snapshots o's current managed-pointer field values and
// publishes them via a CAS on o.LogPointer, so a thread racing to log
// the same object never clobbers a pre-image another thread already
// published (spec.md §4.2's double-checked reserve-then-publish).
func (g *GC) logPreImage(self *sched.Thread, o *object.Header) {
	offsets := o.Type.ManagedPointerOffsets
	if len(offsets) == 0 {
		return
	}
	values := make([]unsafe.Pointer, len(offsets))
	for i, off := range offsets {
		slot := (*unsafe.Pointer)(unsafe.Add(unsafe.Pointer(o), off))
		values[i] = atomic.LoadPointer(slot)
	}
	if atomic.CompareAndSwapPointer(&o.LogPointer, nil, unsafe.Pointer(&values[0])) {
		self.GC.Buffer = append(self.GC.Buffer, sched.LogEntry{Object: o, Values: values})
	}
	// On CAS failure another thread already published a (necessarily
	// consistent, since both snapshots were read before either
	// published) pre-image; this thread's copy is simply discarded.
}
