package corelib

import (
	"sync"

	"github.com/Itay2805/pentagon/object"
)

// RootTable is the "corelib root handle" spec.md §5 names as the one
// piece of runtime-global state the GC harvest step seeds the root set
// with, alongside each thread's snooped set. Managed code pins a
// reference here (a GCHandle, in .NET terms) to keep it alive across
// collections independent of any thread's stack or snoop state.
type RootTable struct {
	mu      sync.Mutex
	handles map[uint64]*object.Header
	next    uint64
}

// NewRootTable constructs an empty root handle table.
func NewRootTable() *RootTable {
	return &RootTable{handles: make(map[uint64]*object.Header)}
}

// Pin registers o as a GC root and returns a handle for later Unpin.
func (r *RootTable) Pin(o *object.Header) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	h := r.next
	r.handles[h] = o
	return h
}

// Unpin removes a previously pinned handle.
func (r *RootTable) Unpin(handle uint64) {
	r.mu.Lock()
	delete(r.handles, handle)
	r.mu.Unlock()
}

// GCRoots implements gc.Root: every currently pinned handle is a root
// for the in-progress cycle's harvest step.
func (r *RootTable) GCRoots(dst []*object.Header) []*object.Header {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.handles {
		dst = append(dst, o)
	}
	return dst
}
