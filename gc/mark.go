package gc

import (
	"unsafe"

	"github.com/Itay2805/pentagon/object"
)

// mark drains roots onto a mark stack, blackening every white object
// transitively reachable from them through white objects (spec.md
// §4.2, "Mark"). An object that is already black, root or not, is
// neither recoloured nor scanned. An object
// with a published log pointer is traced through its pre-image
// snapshot instead of its live fields, so a concurrent mutator write
// racing with this walk cannot hide a reference mark never saw.
func (g *GC) mark(roots []*object.Header) {
	white := g.whiteColor()
	black := g.blackColor()

	stack := make([]*object.Header, 0, len(roots)+64)
	stack = append(stack, roots...)

	for len(stack) > 0 {
		o := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if o == nil || o.Color != white {
			continue
		}
		o.Color = black

		if o.LogPointer == nil {
			o.Type.PointerFields(unsafe.Pointer(o), func(slot *unsafe.Pointer) {
				if v := loadSlot(slot); v != nil {
					stack = append(stack, object.HeaderAt(v))
				}
			})
			continue
		}

		n := len(o.Type.ManagedPointerOffsets)
		values := unsafe.Slice((*unsafe.Pointer)(o.LogPointer), n)
		for _, v := range values {
			if v != nil {
				stack = append(stack, object.HeaderAt(v))
			}
		}
	}
}
