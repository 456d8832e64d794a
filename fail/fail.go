// Package fail implements Pentagon's fatal-assertion path.
//
// The teacher's runtime cannot import anything to report a broken
// invariant, so it rolls a bare throw() that prints and halts. Pentagon
// is ordinary user-space Go and can afford log/slog and
// runtime/debug.Stack, but the contract is the same one spec.md §7
// describes: a broken heap invariant or shadow-frame mismatch
// terminates the core and prints a trace. There is no recovery path —
// callers of Throw never expect it to return.
package fail

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
)

// Throw reports a fatal invariant violation and terminates the process.
// It mirrors the runtime's throw(string): no unwinding, no deferred
// cleanup, just a message and a trace.
func Throw(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	slog.Error("fatal: "+msg, "stack", string(debug.Stack()))
	os.Exit(2)
}

// Assert calls Throw if cond is false. Used at the handful of points
// where a heap or GC invariant must hold unconditionally.
func Assert(cond bool, format string, args ...any) {
	if !cond {
		Throw(format, args...)
	}
}
