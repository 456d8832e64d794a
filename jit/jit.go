// Package jit is Pentagon's half of the JIT/GC integration contract
// (spec.md §6): the shadow-stack frame layout managed code pushes on
// every call, and the four entry points generated code calls into —
// gc_new, gc_update, set_top_frame, and throw. The actual CIL-to-
// native code generator that would emit calls to these functions is
// out of scope (spec.md §1); this package is the runtime side of that
// boundary, the part a code generator links against.
//
// Nothing in the example pack hand-rolls a JIT ABI, so this package's
// shape is grounded directly on spec.md §6's frame description and on
// sched/gc's own conventions (CheckSafepoint at entry/backward-branch,
// preemption-disabled allocation) rather than on a teacher file.
package jit

import (
	"unsafe"

	"github.com/Itay2805/pentagon/fail"
	"github.com/Itay2805/pentagon/gc"
	"github.com/Itay2805/pentagon/heap"
	"github.com/Itay2805/pentagon/object"
	"github.com/Itay2805/pentagon/sched"
)

func init() {
	gc.ShadowStackWalker = walkShadowStack
}

// Frame is one shadow-stack frame: spec.md §6's `{prev,
// method_info_ref, object_count, objects[]}`. Generated code
// allocates one per managed call and fills Objects as it spills
// managed-pointer locals/temporaries that must stay visible to a
// concurrent collector.
type Frame struct {
	Prev          *Frame
	MethodInfoRef uintptr
	Objects       []unsafe.Pointer
}

// PushFrame links a new frame onto t's shadow stack and publishes it
// as the new top via set_top_frame, returning the frame for the
// generated code to fill in and later pass to PopFrame.
func PushFrame(t *sched.Thread, methodInfoRef uintptr, objectCount int) *Frame {
	f := &Frame{
		Prev:          (*Frame)(t.TopFrame()),
		MethodInfoRef: methodInfoRef,
		Objects:       make([]unsafe.Pointer, objectCount),
	}
	SetTopFrame(t, f)
	return f
}

// PopFrame restores t's previous shadow-stack top on return from the
// call that pushed f.
func PopFrame(t *sched.Thread, f *Frame) {
	SetTopFrame(t, f.Prev)
}

// SetTopFrame is spec.md §6's set_top_frame entry point.
func SetTopFrame(t *sched.Thread, f *Frame) {
	t.SetTopFrame(unsafe.Pointer(f))
}

// SetObject stores v into local slot i of f, the generated-code path
// for keeping a managed reference reachable from the shadow stack
// between safepoints.
func (f *Frame) SetObject(i int, v unsafe.Pointer) {
	f.Objects[i] = v
}

func walkShadowStack(top unsafe.Pointer, yield func(o *object.Header)) {
	for f := (*Frame)(top); f != nil; f = f.Prev {
		for _, v := range f.Objects {
			if v != nil {
				yield(object.HeaderAt(v))
			}
		}
	}
}

// New is spec.md §6's gc_new(type): called at a safepoint (allocation
// is one of the four named safepoint kinds), it allocates a zeroed
// instance of typ coloured with the calling thread's current
// alloc_color.
func New(t *sched.Thread, h *heap.Heap, typ *object.Type) (unsafe.Pointer, error) {
	sched.CheckSafepoint(t)
	p, err := h.Alloc(typ.ManagedSize, t.GC.AllocColor)
	if err != nil {
		return nil, err
	}
	// A reused slot still holds its previous occupant's fields.
	if hdrSize := unsafe.Sizeof(object.Header{}); typ.ManagedSize > hdrSize {
		clear(unsafe.Slice((*byte)(unsafe.Add(p, hdrSize)), typ.ManagedSize-hdrSize))
	}
	object.HeaderAt(p).Type = typ
	return p, nil
}

// Update is spec.md §6's gc_update(o, off, new): every compiled
// managed store `o.f = v` becomes this call.
func Update(g *gc.GC, o *object.Header, off uintptr, new unsafe.Pointer) {
	g.Update(o, off, new)
}

// Throw is spec.md §6's throw entry point. Exception dispatch tables
// are produced by the CIL metadata parser (out of scope per spec.md
// §1), so there is no handler search here: this unwinds the shadow
// stack for diagnostics and terminates via fail.Throw, the same way
// an unhandled exception would in a build with no attached debugger.
func Throw(t *sched.Thread, ex unsafe.Pointer) {
	depth := 0
	for f := (*Frame)(t.TopFrame()); f != nil; f = f.Prev {
		depth++
	}
	fail.Throw("unhandled managed exception (object %p, %d shadow frames)", ex, depth)
}
