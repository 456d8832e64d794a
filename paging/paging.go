// Package paging is the external collaborator spec.md §1 calls "the
// boot/trap/paging machinery": a lower-level physical-page allocator
// (palloc/pfree) and four-level page tables that the heap consumes but
// does not build. On bare-metal Pentagon this lives in ring 0; here it
// is a from-scratch userspace reference backend built the same way the
// teacher's runtime builds its own OS shims (runtime/malloc.go's
// sysReserve/sysMap/sysAlloc), using golang.org/x/sys/unix for the raw
// mmap/mprotect syscalls a privileged runtime would otherwise hand-roll
// per-OS.
//
// Two things the heap needs from real page tables are modelled:
//
//   - Presence: whether a given virtual page is backed by memory yet.
//     Lazily materialising a page table entry is the heap's sole
//     mechanism for bringing new virtual capacity online (spec §4.1);
//     here that is an mprotect from PROT_NONE to PROT_READ|PROT_WRITE.
//   - Dirty: whether a page has been written since the last clear.
//     A real four-level page table sets this automatically, in
//     hardware, the instant a store retires. Trapping every store in
//     pure Go would require a SIGSEGV-based page-fault handler, which
//     is what CPython- and V8-style conservative GCs do but is out of
//     proportion for a reference backend with no JIT of its own to
//     cooperate with signal delivery. Pentagon instead has every
//     caller that is establishing hardware-dirty-equivalent state call
//     MarkDirty at the same instruction that would fault in hardware —
//     gc.Update, immediately after the store. The bit is set
//     synchronously by the same write that would set a real PTE dirty
//     bit, so the observable semantics match: nothing can read a dirty
//     bit as clear after a write has landed.
package paging

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Backend is the interface the heap programs against. It exists so
// tests can swap in a pure in-memory fake without mmap'ing real
// address space.
type Backend interface {
	// Reserve reserves size bytes as PROT_NONE: address space is
	// claimed but unbacked. preferred is a hint, not a guarantee —
	// the teacher's sysReserve/mallocinit only ever treat their address
	// argument as a preference and retry elsewhere on failure
	// (runtime/malloc.go:297-359); Reserve returns the address it
	// actually got.
	Reserve(preferred, size uintptr) (actual uintptr, err error)
	// Commit materialises [addr, addr+size) for read/write access. addr
	// and size must be page-aligned to the relevant granularity.
	Commit(addr, size uintptr) error
	// Decommit returns [addr, addr+size) to PROT_NONE, rolling back a
	// partial huge-object commit on OOM.
	Decommit(addr, size uintptr) error
	// Present reports whether the page covering addr has been
	// committed.
	Present(addr uintptr) bool
	// MarkDirty records a store to addr.
	MarkDirty(addr uintptr, granularity uintptr)
	// Dirty reports whether any byte in the granularity-aligned region
	// covering addr has been marked dirty since the last ClearDirty.
	Dirty(addr uintptr, granularity uintptr) bool
	// ClearDirty clears the dirty bit for the granularity-aligned
	// region covering addr. Must be called after visiting, never
	// before, so no write is lost between read-dirty and clear-dirty.
	ClearDirty(addr uintptr, granularity uintptr)
	// DirtySnapshot returns a point-in-time copy of every currently
	// dirty granule's base address, so a caller can iterate without
	// holding the backend lock for the whole walk.
	DirtySnapshot() []uintptr
}

// MMapBackend is the reference Backend: real virtual memory via mmap,
// real commit/decommit via mprotect, and a dirty bit tracked in an
// address set (map).
type MMapBackend struct {
	mu        sync.Mutex
	present   map[uintptr]struct{} // page-aligned addr -> committed
	dirty     map[uintptr]struct{} // granularity-aligned addr -> dirty
	pageShift uint
}

// NewMMapBackend constructs a backend that tracks presence at
// pageSize granularity (the smallest commit unit the heap will ever
// issue; must be a power of two, typically 4 KiB).
func NewMMapBackend(pageSize uintptr) *MMapBackend {
	shift := uint(0)
	for (uintptr(1) << shift) < pageSize {
		shift++
	}
	return &MMapBackend{
		present:   make(map[uintptr]struct{}),
		dirty:     make(map[uintptr]struct{}),
		pageShift: shift,
	}
}

// sliceAt builds a []byte view over raw address space so the
// reflect-based unix.Mprotect can compute addr/len from it, the same
// trick sysMap-style shims use to hand a syscall wrapper an
// already-reserved region.
func sliceAt(addr, size uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size))
}

// reserveAttempts bounds the mallocinit-style retry loop that walks
// to the next candidate address when the preferred one is taken
// (runtime/malloc.go's mallocinit bumps p by 256<<30 and tries again).
const reserveAttempts = 64

func (b *MMapBackend) Reserve(preferred, size uintptr) (uintptr, error) {
	// A preferred of 0 means "no preference": let the kernel place it,
	// same as a plain anonymous mmap with no hint.
	if preferred == 0 {
		addr, _, errno := unix.Syscall6(unix.SYS_MMAP, 0, size,
			uintptr(unix.PROT_NONE), uintptr(unix.MAP_PRIVATE|unix.MAP_ANON), ^uintptr(0), 0)
		if errno != 0 {
			return 0, fmt.Errorf("paging: reserve (unhinted) %d bytes: %w", size, errno)
		}
		return addr, nil
	}

	// mmap(2) with a caller-chosen fixed address isn't exposed by
	// unix.Mmap (it always lets the kernel choose), so this goes
	// straight to the syscall the way a privileged sysReserve would.
	// MAP_FIXED_NOREPLACE fails instead of silently unmapping whatever
	// was already there, so a collision just advances to the next
	// candidate rather than corrupting unrelated mappings.
	p := preferred
	for i := 0; i < reserveAttempts; i++ {
		addr, _, errno := unix.Syscall6(unix.SYS_MMAP, p, size,
			uintptr(unix.PROT_NONE),
			uintptr(unix.MAP_PRIVATE|unix.MAP_ANON|unix.MAP_FIXED_NOREPLACE),
			^uintptr(0), 0)
		if errno == 0 {
			return addr, nil
		}
		if errno != unix.EEXIST {
			return 0, fmt.Errorf("paging: reserve %#x..%#x: %w", p, p+size, errno)
		}
		p += size
	}
	return 0, fmt.Errorf("paging: reserve: no free range found near %#x after %d attempts", preferred, reserveAttempts)
}

func (b *MMapBackend) Commit(addr, size uintptr) error {
	if err := unix.Mprotect(sliceAt(addr, size), unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("paging: commit %#x..%#x: %w", addr, addr+size, err)
	}
	b.mu.Lock()
	for p := pageFloor(addr, b.pageShift); p < addr+size; p += uintptr(1) << b.pageShift {
		b.present[p] = struct{}{}
	}
	b.mu.Unlock()
	return nil
}

func (b *MMapBackend) Decommit(addr, size uintptr) error {
	if err := unix.Mprotect(sliceAt(addr, size), unix.PROT_NONE); err != nil {
		return fmt.Errorf("paging: decommit %#x..%#x: %w", addr, addr+size, err)
	}
	b.mu.Lock()
	for p := pageFloor(addr, b.pageShift); p < addr+size; p += uintptr(1) << b.pageShift {
		delete(b.present, p)
		delete(b.dirty, p)
	}
	b.mu.Unlock()
	return nil
}

func (b *MMapBackend) Present(addr uintptr) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.present[pageFloor(addr, b.pageShift)]
	return ok
}

func (b *MMapBackend) MarkDirty(addr uintptr, granularity uintptr) {
	key := alignDown(addr, granularity)
	b.mu.Lock()
	b.dirty[key] = struct{}{}
	b.mu.Unlock()
}

func (b *MMapBackend) Dirty(addr uintptr, granularity uintptr) bool {
	key := alignDown(addr, granularity)
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.dirty[key]
	return ok
}

func (b *MMapBackend) ClearDirty(addr uintptr, granularity uintptr) {
	key := alignDown(addr, granularity)
	b.mu.Lock()
	delete(b.dirty, key)
	b.mu.Unlock()
}

func (b *MMapBackend) DirtySnapshot() []uintptr {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]uintptr, 0, len(b.dirty))
	for addr := range b.dirty {
		out = append(out, addr)
	}
	return out
}

func alignDown(addr, granularity uintptr) uintptr {
	return addr &^ (granularity - 1)
}

func pageFloor(addr uintptr, shift uint) uintptr {
	return addr &^ ((uintptr(1) << shift) - 1)
}
