package gc

import (
	"testing"
	"unsafe"

	"github.com/Itay2805/pentagon/heap"
	"github.com/Itay2805/pentagon/object"
	"github.com/Itay2805/pentagon/paging"
	"github.com/Itay2805/pentagon/sched"
)

// newTestHeap builds a small heap over a Fake backend, the same
// pattern heap's own tests use to get dereferenceable synthetic
// memory without a real mmap reservation.
func newTestHeap(t *testing.T) *heap.Heap {
	t.Helper()
	backend := paging.NewFake()
	h := heap.New(backend,
		heap.WithPoolSize(1<<20),
		heap.WithSubpoolsPerPool(4),
		heap.WithNumCPU(1),
	)
	if err := h.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return h
}

// pointerType describes a type with a single managed-pointer field
// immediately after the header, enough to let two instances reference
// each other.
var pointerType = &object.Type{
	ManagedSize:           32,
	ManagedPointerOffsets: []uintptr{unsafe.Sizeof(object.Header{})},
}

func allocNode(t *testing.T, h *heap.Heap, color object.Color) *object.Header {
	t.Helper()
	p, err := h.Alloc(64, color)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	hdr := object.HeaderAt(p)
	hdr.Type = pointerType
	return hdr
}

func fieldSlot(hdr *object.Header) *unsafe.Pointer {
	return (*unsafe.Pointer)(unsafe.Add(unsafe.Pointer(hdr), pointerType.ManagedPointerOffsets[0]))
}

func TestMarkKeepsReachableObjectsBlack(t *testing.T) {
	h := newTestHeap(t)
	g := New(h)

	self := sched.Bind()
	defer sched.DropCurrent()

	// mark only scans objects it finds white, so the root starts white
	// as harvested roots do.
	root := allocNode(t, h, g.whiteColor())
	child := allocNode(t, h, g.whiteColor())
	*fieldSlot(root) = unsafe.Pointer(child)

	self.GC.AllocColor = g.blackColor()

	g.mark([]*object.Header{root})

	if child.Color != g.blackColor() {
		t.Fatalf("child.Color = %v, want black (%v)", child.Color, g.blackColor())
	}
}

func TestWriteBarrierPreservesPreImage(t *testing.T) {
	h := newTestHeap(t)
	g := New(h)

	self := sched.Bind()
	defer sched.DropCurrent()

	x := allocNode(t, h, g.whiteColor())
	y := allocNode(t, h, g.whiteColor())
	*fieldSlot(x) = unsafe.Pointer(y)

	self.GC.TraceOn = true

	g.Update(x, pointerType.ManagedPointerOffsets[0], nil)

	if x.LogPointer == nil {
		t.Fatal("expected write barrier to publish a log pointer for a white object")
	}
	if *fieldSlot(x) != nil {
		t.Fatal("expected the live field to be overwritten with nil")
	}

	g.mark([]*object.Header{x})

	if y.Color != g.blackColor() {
		t.Fatalf("y.Color = %v, want black: write barrier should have preserved the pre-image", y.Color)
	}
}

func TestSweepFreesWhiteObjects(t *testing.T) {
	h := newTestHeap(t)
	g := New(h)

	live := allocNode(t, h, g.blackColor())
	dead := allocNode(t, h, g.whiteColor())
	_ = dead

	g.sweep()

	if live.Color != g.blackColor() {
		t.Fatalf("live object recoloured during sweep: %v", live.Color)
	}
	if dead.Color != object.Blue {
		t.Fatalf("dead.Color = %v, want Blue", dead.Color)
	}
}
