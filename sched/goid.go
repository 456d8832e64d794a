package sched

import (
	"bytes"
	"runtime"
	"strconv"
)

// goroutineID extracts the calling goroutine's numeric id by parsing
// the header line of runtime.Stack, the same trick several goroutine-
// local-storage shims use since the runtime does not export one. It is
// consulted by Bind, Self and DropCurrent; since DisablePreemption and
// EnablePreemption call Self, every heap allocation and every write
// barrier call pays for a few of these small stack captures.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		return -1
	}
	id, err := strconv.ParseInt(string(b[:i]), 10, 64)
	if err != nil {
		return -1
	}
	return id
}
