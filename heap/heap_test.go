package heap

import (
	"testing"
	"unsafe"

	"github.com/Itay2805/pentagon/object"
	"github.com/Itay2805/pentagon/paging"
)

type uintptrKey = uintptr

func ptrKey(p unsafe.Pointer) uintptrKey { return uintptr(p) }
func ptrOf(hdr *object.Header) unsafe.Pointer { return unsafe.Pointer(hdr) }

func newTestHeap(t *testing.T) *Heap {
	t.Helper()
	backend := paging.NewFake()
	h := New(backend,
		WithPoolSize(1<<20),
		WithSubpoolsPerPool(4),
		WithNumCPU(1),
	)
	if err := h.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return h
}

func TestAllocReturnsDistinctBlueSlots(t *testing.T) {
	h := newTestHeap(t)

	seen := map[uintptrKey]bool{}
	for i := 0; i < 100; i++ {
		p, err := h.Alloc(48, object.ColorA)
		if err != nil {
			t.Fatalf("Alloc #%d: %v", i, err)
		}
		hdr := object.HeaderAt(p)
		if hdr.Color != object.ColorA {
			t.Fatalf("Alloc #%d: Color = %v, want ColorA", i, hdr.Color)
		}
		key := ptrKey(p)
		if seen[key] {
			t.Fatalf("Alloc #%d returned a slot already handed out: %p", i, p)
		}
		seen[key] = true
	}
}

func TestAllocTooLarge(t *testing.T) {
	h := newTestHeap(t)
	if _, err := h.Alloc(1<<40, object.ColorA); err != ErrTooLarge {
		t.Fatalf("Alloc(huge) error = %v, want ErrTooLarge", err)
	}
}

func TestFindRoundTrips(t *testing.T) {
	h := newTestHeap(t)
	p, err := h.Alloc(48, object.ColorB)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	found := h.Find(p)
	if found != p {
		t.Fatalf("Find(%p) = %p, want same address", p, found)
	}
}

func TestFindRejectsBlueSlot(t *testing.T) {
	h := newTestHeap(t)
	p, err := h.Alloc(48, object.ColorB)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	object.HeaderAt(p).Color = object.Blue
	if got := h.Find(p); got != nil {
		t.Fatalf("Find(blue slot) = %p, want nil", got)
	}
}

func TestAllObjectsListLinksEveryAllocation(t *testing.T) {
	h := newTestHeap(t)
	const n = 10
	for i := 0; i < n; i++ {
		if _, err := h.Alloc(48, object.ColorA); err != nil {
			t.Fatalf("Alloc #%d: %v", i, err)
		}
	}
	count := 0
	h.IterateObjects(func(hdr *object.Header) { count++ })
	if count != n {
		t.Fatalf("IterateObjects visited %d objects, want %d", count, n)
	}
}

func TestMarkDirtyAndIterateDirtyObjects(t *testing.T) {
	h := newTestHeap(t)
	p, err := h.Alloc(48, object.ColorA)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	h.MarkDirty(p)

	var visited []uintptr
	h.IterateDirtyObjects(func(hdr *object.Header) {
		visited = append(visited, uintptr(ptrOf(hdr)))
	})
	if len(visited) == 0 {
		t.Fatal("IterateDirtyObjects visited nothing after MarkDirty")
	}

	// A second pass should see nothing: ClearDirty runs after each
	// visited page.
	visited = visited[:0]
	h.IterateDirtyObjects(func(hdr *object.Header) {
		visited = append(visited, uintptr(ptrOf(hdr)))
	})
	if len(visited) != 0 {
		t.Fatalf("IterateDirtyObjects revisited a page whose dirty bit should have cleared: %v", visited)
	}
}
