package heap

import "github.com/Itay2805/pentagon/config"

// Size classes.
//
// Unlike the teacher's runtime, which buckets small requests into ~70
// size classes chosen to waste at most 12.5% per class (msize.go),
// Pentagon's heap is address-range segregated: pool p holds exactly
// size 2^(p+4) bytes, and which pool an address belongs to is a pure
// function of the address itself (spec.md §3). There is no
// class_to_size table to build — sizeClassFor rounds up to a power of
// two and takes its log, and sizeForPool is one shift.

// sizeClassFor returns the pool index and the size that pool's objects
// occupy for a requested allocation size. ok is false if size exceeds
// the largest size class.
func sizeClassFor(size uintptr) (pool int, objSize uintptr, ok bool) {
	// spec.md §8: size 0 is mapped explicitly to the smallest class
	// rather than left undefined (the source computes this via
	// clz(size-1), which is undefined at zero).
	if size == 0 {
		size = 1
	}
	aligned := nextPowerOfTwo(size)
	if aligned < minSizeClassBytes {
		aligned = minSizeClassBytes
	}
	if aligned > config.MaxSizeClassBytes {
		return 0, 0, false
	}
	p := log2(aligned) - config.MinSizeClassShift
	return p, aligned, true
}

const minSizeClassBytes = uintptr(1) << config.MinSizeClassShift

// sizeForPool returns the object size of pool p (2^(p+4) bytes).
func sizeForPool(p int) uintptr {
	return uintptr(1) << (p + config.MinSizeClassShift)
}

func nextPowerOfTwo(n uintptr) uintptr {
	if n&(n-1) == 0 {
		return n
	}
	p := uintptr(1)
	for p < n {
		p <<= 1
	}
	return p
}

func log2(n uintptr) int {
	l := -1
	for n != 0 {
		n >>= 1
		l++
	}
	return l
}
