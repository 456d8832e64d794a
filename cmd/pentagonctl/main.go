// Command pentagonctl is a demo/integration harness exercising the
// heap, gc, sched, jit, and corelib packages end to end outside of a
// real boot/JIT environment. It stands in for the boot loader's
// post-paging entry point (spec.md §1's boot/trap machinery is an
// external collaborator): allocate a small object graph, run a
// collection cycle on demand, and print what survived.
package main

import (
	"flag"
	"log/slog"
	"os"
	"unsafe"

	"github.com/Itay2805/pentagon/config"
	"github.com/Itay2805/pentagon/corelib"
	"github.com/Itay2805/pentagon/gc"
	"github.com/Itay2805/pentagon/heap"
	"github.com/Itay2805/pentagon/jit"
	"github.com/Itay2805/pentagon/object"
	"github.com/Itay2805/pentagon/paging"
	"github.com/Itay2805/pentagon/sched"
)

func main() {
	verbose := flag.Bool("v", false, "enable debug-level logging")
	objects := flag.Int("objects", 16, "number of linked-list nodes to allocate before collecting")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(*objects); err != nil {
		slog.Error("pentagonctl failed", "error", err)
		os.Exit(1)
	}
}

// nodeType is a cons-cell-shaped managed type: one managed pointer
// field (the tail) immediately after the header, used purely to give
// the demo an object graph worth tracing.
var nodeType = &object.Type{
	ManagedSize:           unsafe.Sizeof(object.Header{}) + unsafe.Sizeof(unsafe.Pointer(nil)),
	ManagedPointerOffsets: []uintptr{unsafe.Sizeof(object.Header{})},
}

func tailSlot(hdr *object.Header) *unsafe.Pointer {
	return (*unsafe.Pointer)(unsafe.Add(unsafe.Pointer(hdr), nodeType.ManagedPointerOffsets[0]))
}

func run(n int) error {
	backend := paging.NewMMapBackend(config.PageSize)
	h := heap.New(backend)
	if err := h.Init(); err != nil {
		return err
	}

	roots := corelib.NewRootTable()
	collector := gc.New(h, roots)

	self := collector.BindThread()
	defer sched.DropCurrent()

	slog.Info("allocating object graph", "count", n)

	var head unsafe.Pointer
	for i := 0; i < n; i++ {
		obj, err := jit.New(self, h, nodeType)
		if err != nil {
			return err
		}
		hdr := object.HeaderAt(obj)
		*tailSlot(hdr) = head
		head = obj
	}
	handle := roots.Pin(object.HeaderAt(head))
	defer roots.Unpin(handle)

	// Only the head is pinned; every other node is reachable from it
	// through the tail links, so a cycle should leave the whole chain
	// black.
	slog.Info("running collection cycle")
	collector.Wait()

	live := 0
	h.IterateObjects(func(hdr *object.Header) {
		if hdr.Color != object.Blue {
			live++
		}
	})
	slog.Info("collection complete", "live_objects", live)
	return nil
}
