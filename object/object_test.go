package object

import (
	"testing"
	"unsafe"
)

func TestHeaderAtViewsExistingMemory(t *testing.T) {
	var backing Header
	backing.Rank = 7
	hdr := HeaderAt(unsafe.Pointer(&backing))
	if hdr.Rank != 7 {
		t.Fatalf("HeaderAt view Rank = %d, want 7", hdr.Rank)
	}
	hdr.Color = ColorA
	if backing.Color != ColorA {
		t.Fatal("HeaderAt should view, not copy, the underlying memory")
	}
}

func TestArrayTypeComputedOnce(t *testing.T) {
	elem := &Type{ManagedSize: 8}
	calls := 0
	makeArray := func(e *Type) *Type {
		calls++
		return &Type{ElementType: e}
	}

	a1 := elem.ArrayType(makeArray)
	a2 := elem.ArrayType(makeArray)
	if a1 != a2 {
		t.Fatal("expected ArrayType to return the same cached instance")
	}
	if calls != 1 {
		t.Fatalf("make called %d times, want 1", calls)
	}
}

func TestPointerFieldsYieldsEachOffset(t *testing.T) {
	typ := &Type{ManagedPointerOffsets: []uintptr{unsafe.Sizeof(Header{}), unsafe.Sizeof(Header{}) + 8}}

	buf := make([]byte, 64)
	base := unsafe.Pointer(&buf[0])
	want := unsafe.Pointer(&buf[1])
	*(*unsafe.Pointer)(unsafe.Add(base, typ.ManagedPointerOffsets[0])) = want

	var visited []*unsafe.Pointer
	typ.PointerFields(base, func(slot *unsafe.Pointer) {
		visited = append(visited, slot)
	})

	if len(visited) != 2 {
		t.Fatalf("PointerFields visited %d slots, want 2", len(visited))
	}
	if *visited[0] != want {
		t.Fatalf("first slot = %p, want %p", *visited[0], want)
	}
}
