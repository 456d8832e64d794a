// Package config holds the compile-time tunables shared by heap, gc and
// sched. There is no runtime configuration surface: pool geometry is part
// of the address layout every other package relies on, so changing it is
// a recompile, not a flag.
package config

import goruntime "runtime"

const (
	// NumPools is the number of top-level size-class pools. Pool p holds
	// objects of size 2^(p+4) bytes, so pool 0 is 16 B and pool 25 is
	// 512 MiB.
	NumPools = 26

	// MinSizeClassShift is the power of two of the smallest size class
	// (16 B).
	MinSizeClassShift = 4

	// PoolSize is the virtual address span reserved for each pool
	// (512 GiB).
	PoolSize = 512 << 30

	// SubpoolsPerPool is the number of 1 GiB subpools a pool is divided
	// into.
	SubpoolsPerPool = 512

	// SubpoolSize is the size in bytes of one subpool (1 GiB).
	SubpoolSize = PoolSize / SubpoolsPerPool

	// HugePageSize is the granularity at which the heap backs >=2MiB
	// objects and at which it tracks the coarse dirty bit.
	HugePageSize = 2 << 20

	// PageSize is the granularity at which the heap backs small objects
	// and at which it tracks the fine dirty bit.
	PageSize = 4 << 10

	// MaxSizeClassBytes is the largest request the heap will service
	// (512 MiB, pool 25).
	MaxSizeClassBytes = 1 << (NumPools - 1 + MinSizeClassShift)

	// LargeObjectThreshold is the size at which the free-slot search
	// switches to the >=2MiB huge-page regime (spec §4.1).
	LargeObjectThreshold = HugePageSize

	// SmallObjectThreshold is the size below which several objects share
	// one 4 KiB page. The free-slot search does not branch on it: below
	// LargeObjectThreshold it commits the page holding a slot on first
	// touch, or the whole slot when the slot is larger than a page.
	SmallObjectThreshold = PageSize
)

// HeapBase is the fixed virtual address at which the managed heap's
// top-level pool directory begins. It is a package variable rather than
// a constant so tests can reserve a smaller synthetic range.
var HeapBase uintptr = 0x0000_4000_0000_0000

// NumCPU is the number of lock regions per pool (spec: "exactly cpu_count
// regions per pool to guarantee try-lock progress"). It is resolved once
// at process start from runtime.NumCPU and can be overridden by tests that
// want to exercise contention deterministically.
var NumCPU = goruntime.NumCPU()
