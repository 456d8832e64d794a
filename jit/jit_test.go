package jit

import (
	"testing"
	"unsafe"

	"github.com/Itay2805/pentagon/gc"
	"github.com/Itay2805/pentagon/heap"
	"github.com/Itay2805/pentagon/object"
	"github.com/Itay2805/pentagon/paging"
	"github.com/Itay2805/pentagon/sched"
)

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

func TestWalkShadowStackYieldsFrameObjects(t *testing.T) {
	h := newTestHeap(t)
	g := gc.New(h)
	self := g.BindThread()
	defer sched.DropCurrent()

	typ := &object.Type{ManagedSize: 32}
	obj, err := New(self, h, typ)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	frame := PushFrame(self, 0xdead, 1)
	frame.SetObject(0, obj)
	defer PopFrame(self, frame)

	var roots []*object.Header
	walkShadowStack(self.TopFrame(), func(o *object.Header) {
		roots = append(roots, o)
	})
	if len(roots) != 1 || roots[0] != object.HeaderAt(obj) {
		t.Fatalf("walkShadowStack returned %v, want the pushed frame's object", roots)
	}
}

func TestPushPopFrameRestoresTop(t *testing.T) {
	self := sched.Bind()
	defer sched.DropCurrent()

	if self.TopFrame() != nil {
		t.Fatal("expected a freshly bound thread to have no shadow frame")
	}
	f1 := PushFrame(self, 1, 0)
	if unsafe.Pointer(f1) != self.TopFrame() {
		t.Fatal("expected top frame to be f1")
	}
	f2 := PushFrame(self, 2, 0)
	if unsafe.Pointer(f2) != self.TopFrame() {
		t.Fatal("expected top frame to be f2")
	}
	PopFrame(self, f2)
	if unsafe.Pointer(f1) != self.TopFrame() {
		t.Fatal("expected top frame to be restored to f1 after popping f2")
	}
	PopFrame(self, f1)
	if self.TopFrame() != nil {
		t.Fatal("expected top frame to be nil after popping f1")
	}
}
