package gc

import (
	"sync/atomic"
	"unsafe"

	"github.com/Itay2805/pentagon/object"
	"github.com/Itay2805/pentagon/sched"
)

// ShadowStackWalker, when set by the jit package, decodes a thread's
// shadow-stack frame chain into object roots (spec.md §6). gc has no
// notion of frame layout itself; this hook keeps that knowledge in
// jit while still letting harvest walk every live stack.
var ShadowStackWalker func(top unsafe.Pointer, yield func(o *object.Header))

// collectOnce runs the four handshakes, mark, and sweep exactly once
// (spec.md §4.2's full cycle). Called with cycleMu held.
func (g *GC) collectOnce() {
	threads := sched.AllThreads()

	g.handshake(threads, func(t *sched.Thread) {
		t.GC.Snoop = true
		t.GC.Snooped = make(map[*object.Header]struct{})
	})

	g.handshake(threads, func(t *sched.Thread) {
		t.GC.TraceOn = true
	})

	newBlack := g.whiteColor()
	// Harvest's colour flip: a single writer (this goroutine, the
	// collector), done once before handshake 3 begins. Mutators are not
	// suspended at this point, and Update and BindThread read g.black
	// concurrently, so the store is atomic.
	atomic.StoreUint32(&g.black, uint32(newBlack))

	roots := make([]*object.Header, 0, 64)
	for _, r := range g.roots {
		roots = r.GCRoots(roots)
	}
	g.handshake(threads, func(t *sched.Thread) {
		t.GC.AllocColor = newBlack
		t.GC.Snoop = false
		for o := range t.GC.Snooped {
			roots = append(roots, o)
		}
		t.GC.Snooped = nil
		roots = g.shadowStackRoots(t, roots)
	})

	g.mark(roots)

	g.handshake(threads, func(t *sched.Thread) {
		t.GC.TraceOn = false
		g.prepareThread(t)
	})

	g.sweep()
}

func (g *GC) handshake(threads []*sched.Thread, publish func(t *sched.Thread)) {
	for _, t := range threads {
		s := sched.Suspend(t)
		publish(t)
		sched.Resume(s)
	}
}

// prepareThread clears a thread's write-barrier log (spec.md §4.2,
// "Prepare"): every logged object's log pointer is nulled before the
// buffer itself is cleared, so a stale pointer never survives past the
// cycle that published it.
func (g *GC) prepareThread(t *sched.Thread) {
	for _, e := range t.GC.Buffer {
		e.Object.LogPointer = nil
	}
	t.GC.Buffer = t.GC.Buffer[:0]
}

func (g *GC) shadowStackRoots(t *sched.Thread, roots []*object.Header) []*object.Header {
	if ShadowStackWalker == nil {
		return roots
	}
	top := t.TopFrame()
	if top == nil {
		return roots
	}
	ShadowStackWalker(top, func(o *object.Header) {
		if o != nil {
			roots = append(roots, o)
		}
	})
	return roots
}
