// Package heap implements Pentagon's managed object heap: a virtual
// address-range segregated-size-class allocator that exploits
// page-table presence and dirty state both for lazy backing-store
// commit and as the GC's remembered set (spec.md §4.1).
//
// The allocator's shape mirrors the teacher's runtime/malloc.go
// hierarchy of caches (MCache -> MCentral -> MHeap) in spirit: cheap,
// mostly-lock-free fast paths backed by coarser, contended slow paths.
// The actual data structure is different because Pentagon's pools are
// a flat function of address (spec.md §3) rather than the teacher's
// free-list-of-spans model, so there is no mspan/mcentral equivalent —
// region try-locking plays that role instead (spec.md §4.1, "Free-slot
// search").
package heap

import (
	"errors"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/Itay2805/pentagon/config"
	"github.com/Itay2805/pentagon/object"
	"github.com/Itay2805/pentagon/paging"
	"github.com/Itay2805/pentagon/sched"
)

// ErrTooLarge is returned when a request exceeds the largest size
// class (512 MiB).
var ErrTooLarge = errors.New("heap: allocation exceeds max size class")

// ErrOOM is returned when every candidate slot for a size class was
// either contended or backing-store exhausted. The mutator-facing
// allocation path, jit.New, returns it to its caller unchanged: it does
// not trigger a collection and does not retry the allocation.
var ErrOOM = errors.New("heap: out of memory")

// region is one lock-striped slice of a pool's subpools. spec.md:
// "Lock region: consecutive subpools sharing one spinlock; exactly
// cpu_count regions per pool to guarantee try-lock progress." A
// sync.Mutex stands in for the spinlock; TryLock gives the same
// skip-on-contention behaviour without busy-waiting a goroutine.
type region struct {
	mu           sync.Mutex
	firstSubpool int
	numSubpools  int
}

type pool struct {
	index   int
	offset  uintptr // byte offset of this pool's start from the heap base
	objSize uintptr
	huge    bool // objSize >= LargeObjectThreshold
	regions []region
}

// Heap is the managed object heap. The zero value is not usable; build
// one with New, then call Init to fix the base address before any
// Alloc/Find.
//
// Pool layout is computed at New time as offsets from a not-yet-known
// base, because the base a real mmap reservation lands on can differ
// from the preferred address (paging.Backend.Reserve documents why, by
// analogy with the teacher's sysReserve). Init resolves base once the
// reservation succeeds.
type Heap struct {
	preferredBase uintptr
	base          uintptr // valid only after Init
	subpoolSize   uintptr
	poolSize      uintptr
	backend       paging.Backend
	pools         [config.NumPools]*pool

	allObjects unsafe.Pointer // atomic *object.Header, singly linked via Header.Next

	allocCursor uint64 // round-robins the starting region to spread contention
}

// Option configures geometry for tests; production code uses New with
// no options and gets spec.md's production layout.
type Option func(*geometry)

type geometry struct {
	base            uintptr
	poolSize        uintptr
	subpoolsPerPool int
	numCPU          int
}

// WithBase overrides the heap's virtual base address.
func WithBase(base uintptr) Option { return func(g *geometry) { g.base = base } }

// WithPoolSize overrides the per-pool virtual address span. Tests use
// this to shrink 512 GiB pools down to something a synthetic backend
// can represent with plain maps.
func WithPoolSize(n uintptr) Option { return func(g *geometry) { g.poolSize = n } }

// WithSubpoolsPerPool overrides the subpool count per pool.
func WithSubpoolsPerPool(n int) Option { return func(g *geometry) { g.subpoolsPerPool = n } }

// WithNumCPU overrides the lock-region count per pool (normally
// config.NumCPU).
func WithNumCPU(n int) Option { return func(g *geometry) { g.numCPU = n } }

// New constructs a Heap over backend with the given geometry.
func New(backend paging.Backend, opts ...Option) *Heap {
	g := geometry{
		base:            config.HeapBase,
		poolSize:        config.PoolSize,
		subpoolsPerPool: config.SubpoolsPerPool,
		numCPU:          config.NumCPU,
	}
	for _, o := range opts {
		o(&g)
	}
	if g.numCPU < 1 {
		g.numCPU = 1
	}

	h := &Heap{
		preferredBase: g.base,
		subpoolSize:   g.poolSize / uintptr(g.subpoolsPerPool),
		poolSize:      g.poolSize,
		backend:       backend,
	}

	regionsPerPool := g.numCPU
	subpoolsPerRegion := g.subpoolsPerPool / regionsPerPool
	if subpoolsPerRegion < 1 {
		subpoolsPerRegion = 1
		regionsPerPool = g.subpoolsPerPool
	}

	for p := 0; p < config.NumPools; p++ {
		objSize := sizeForPool(p)
		pl := &pool{
			index:   p,
			offset:  uintptr(p) * g.poolSize,
			objSize: objSize,
			huge:    objSize >= config.LargeObjectThreshold,
			regions: make([]region, regionsPerPool),
		}
		for r := range pl.regions {
			pl.regions[r] = region{
				firstSubpool: r * subpoolsPerRegion,
				numSubpools:  subpoolsPerRegion,
			}
		}
		h.pools[p] = pl
	}
	return h
}

// Init reserves the heap's virtual range. Fails with an error wrapping
// the backend's failure if the physical/virtual memory primitives
// cannot satisfy the reservation.
func (h *Heap) Init() error {
	total := h.poolSize * uintptr(config.NumPools)
	actual, err := h.backend.Reserve(h.preferredBase, total)
	if err != nil {
		return err
	}
	h.base = actual
	return nil
}

// granularity returns the page-table materialisation/dirty-tracking
// unit for a pool: huge pages for >=2MiB objects, regular pages
// otherwise (spec.md §4.1 "Free-slot search").
func (pl *pool) granularity() uintptr {
	if pl.huge {
		return config.HugePageSize
	}
	return config.PageSize
}

// absBase returns pl's absolute virtual base address.
func (h *Heap) absBase(pl *pool) uintptr {
	return h.base + pl.offset
}

// Alloc returns a pointer to a blue slot in the correct size class,
// recoloured to allocColor, or nil if every candidate region was
// either contended or exhausted.
//
// Preemption must be disabled for the duration of an allocation
// (spec.md §4.3); Alloc does this itself so callers never need to
// remember.
func (h *Heap) Alloc(size uintptr, allocColor object.Color) (unsafe.Pointer, error) {
	p, objSize, ok := sizeClassFor(size)
	if !ok {
		return nil, ErrTooLarge
	}
	pl := h.pools[p]

	sched.DisablePreemption()
	defer sched.EnablePreemption()

	start := int(atomic.AddUint64(&h.allocCursor, 1)) % len(pl.regions)
	for i := range pl.regions {
		r := &pl.regions[(start+i)%len(pl.regions)]
		if !r.mu.TryLock() {
			continue // contended region: skip entirely this call
		}
		addr, found := h.searchRegion(pl, r, objSize)
		r.mu.Unlock()
		if found {
			hdr := object.HeaderAt(unsafe.Pointer(addr))
			hdr.Color = allocColor
			hdr.Rank = int32(p)
			hdr.LogPointer = nil
			h.pushAllObjects(hdr)
			return unsafe.Pointer(addr), nil
		}
	}
	return nil, ErrOOM
}

// searchRegion scans the subpools owned by r for a blue slot,
// materialising backing pages on demand. Must be called with r locked.
func (h *Heap) searchRegion(pl *pool, r *region, objSize uintptr) (uintptr, bool) {
	gran := pl.granularity()
	for sp := r.firstSubpool; sp < r.firstSubpool+r.numSubpools; sp++ {
		subpoolBase := h.absBase(pl) + uintptr(sp)*h.subpoolSize
		nObjs := h.subpoolSize / objSize
		for i := uintptr(0); i < nObjs; i++ {
			addr := subpoolBase + i*objSize

			if pl.huge {
				if !h.backend.Present(addr) {
					if !h.commitHugeObject(addr, objSize) {
						// Rolled back; slot stays unbacked (free by
						// construction). Move to the next candidate.
						continue
					}
				}
			} else {
				page := addr &^ (gran - 1)
				if !h.backend.Present(page) {
					// A slot larger than one page is committed whole.
					span := gran
					if objSize > span {
						span = objSize
					}
					if err := h.backend.Commit(page, span); err != nil {
						continue
					}
				}
			}

			hdr := object.HeaderAt(unsafe.Pointer(addr))
			if hdr.Color == object.Blue {
				return addr, true
			}
		}
	}
	return 0, false
}

// commitHugeObject backs a whole huge object with contiguous pages,
// rolling back any partial allocation on OOM (spec.md §4.1).
func (h *Heap) commitHugeObject(addr, size uintptr) bool {
	if err := h.backend.Commit(addr, size); err != nil {
		_ = h.backend.Decommit(addr, size)
		return false
	}
	return true
}

// pushAllObjects lock-free pushes hdr onto the global all-objects
// list via CAS on the head, the same way the teacher treats lock-free
// structures it can get away with (no single writer needed because
// correctness only depends on eventual reachability via Next links,
// not publication order; spec.md §5).
func (h *Heap) pushAllObjects(hdr *object.Header) {
	for {
		head := atomic.LoadPointer(&h.allObjects)
		hdr.Next = head
		if atomic.CompareAndSwapPointer(&h.allObjects, head, unsafe.Pointer(hdr)) {
			return
		}
	}
}

// AllObjectsHead returns the current head of the all-objects list, for
// the GC's mark/sweep walk.
func (h *Heap) AllObjectsHead() *object.Header {
	return (*object.Header)(atomic.LoadPointer(&h.allObjects))
}

// CASAllObjectsHead attempts to advance the all-objects head from old
// to new, used by sweep's lock-free excision at the list head.
func (h *Heap) CASAllObjectsHead(old, new *object.Header) bool {
	return atomic.CompareAndSwapPointer(&h.allObjects, unsafe.Pointer(old), unsafe.Pointer(new))
}

// UnlinkAfter excises old from the all-objects list, replacing it with
// new (old.Next) in whichever slot currently points at it: the global
// head if prev is nil, or prev.Next otherwise. It reports whether the
// CAS succeeded; on failure the caller is expected to re-find prev's
// current successor and retry, per spec.md §4.2's sweep description
// ("unlink with CAS at the head, falling back to a re-find on
// contention").
func (h *Heap) UnlinkAfter(prev, old, new *object.Header) bool {
	if prev == nil {
		return h.CASAllObjectsHead(old, new)
	}
	return atomic.CompareAndSwapPointer(&prev.Next, unsafe.Pointer(old), unsafe.Pointer(new))
}

// poolForAddr returns the pool index owning addr, or -1 if addr falls
// outside the heap's reserved range.
func (h *Heap) poolForAddr(addr uintptr) int {
	if addr < h.base {
		return -1
	}
	p := int((addr - h.base) / h.poolSize)
	if p < 0 || p >= config.NumPools {
		return -1
	}
	return p
}

// Find returns the object whose slot contains ptr, or nil if ptr has
// no backing page or falls outside the heap (spec.md §4.1, interior-
// pointer tolerant for stack scanning).
func (h *Heap) Find(ptr unsafe.Pointer) unsafe.Pointer {
	addr := uintptr(ptr)
	p := h.poolForAddr(addr)
	if p < 0 {
		return nil
	}
	pl := h.pools[p]
	offsetInPool := addr - h.absBase(pl)
	slotIdx := offsetInPool / pl.objSize
	base := h.absBase(pl) + slotIdx*pl.objSize

	gran := pl.granularity()
	page := base &^ (gran - 1)
	if !h.backend.Present(page) {
		return nil
	}
	hdr := object.HeaderAt(unsafe.Pointer(base))
	if hdr.Color == object.Blue {
		return nil
	}
	return unsafe.Pointer(base)
}

// SizeClassOf returns the slot size of the object at ptr (spec.md §3:
// size is a pure function of address).
func (h *Heap) SizeClassOf(ptr unsafe.Pointer) uintptr {
	p := h.poolForAddr(uintptr(ptr))
	if p < 0 {
		return 0
	}
	return h.pools[p].objSize
}

// IterateObjects visits every live slot in the heap.
func (h *Heap) IterateObjects(cb func(hdr *object.Header)) {
	for hdr := h.AllObjectsHead(); hdr != nil; hdr = (*object.Header)(hdr.Next) {
		cb(hdr)
	}
}

// IterateDirtyObjects visits every live slot on a dirty page, clearing
// the page's dirty bit only after it has been fully visited so no
// write is lost between read-dirty and clear-dirty (spec.md §4.1).
func (h *Heap) IterateDirtyObjects(cb func(hdr *object.Header)) {
	for _, dirtyAddr := range h.backend.DirtySnapshot() {
		p := h.poolForAddr(dirtyAddr)
		if p < 0 {
			continue
		}
		pl := h.pools[p]
		gran := pl.granularity()
		pageStart := dirtyAddr &^ (gran - 1)
		nObjs := gran / pl.objSize
		if nObjs == 0 {
			nObjs = 1
		}
		for i := uintptr(0); i < nObjs; i++ {
			addr := pageStart + i*pl.objSize
			if addr < h.absBase(pl) || addr >= h.absBase(pl)+h.poolSize {
				continue
			}
			hdr := object.HeaderAt(unsafe.Pointer(addr))
			if hdr.Color != object.Blue {
				cb(hdr)
			}
		}
		h.backend.ClearDirty(pageStart, gran)
	}
}

// MarkDirty records a write to the page covering addr, using the size
// class of the object at addr to choose huge-page or regular-page
// granularity. The write barrier (gc.Update) calls this for every
// reference-typed store, regardless of colour, so the dirty bit
// remains a faithful remembered set even outside the log-pointer
// mechanism.
func (h *Heap) MarkDirty(addr unsafe.Pointer) {
	p := h.poolForAddr(uintptr(addr))
	if p < 0 {
		return
	}
	pl := h.pools[p]
	h.backend.MarkDirty(uintptr(addr), pl.granularity())
}
