package gc

import (
	"github.com/Itay2805/pentagon/object"
	"github.com/Itay2805/pentagon/sched"
)

// sweep walks the all-objects list once, under lock_all_threads purely
// to serialise with thread creation (spec.md §4.2): any node still
// white is unlinked and recoloured blue, returning its slot to the
// heap's free pool; black nodes are left for the colour flip at the
// start of the next cycle to reinterpret as the next cycle's white.
//
// Finalisation collapses to nothing: spec.md §4.2 notes the source
// defers real finalisation queuing, and nothing in this implementation
// registers finalisers, so a recoloured-to-blue object is simply
// logically freed with no queue step.
func (g *GC) sweep() {
	white := g.whiteColor()

	sched.LockAllThreads(func() {
		var prev *object.Header
		cur := g.h.AllObjectsHead()
		for cur != nil {
			next := (*object.Header)(cur.Next)

			if cur.Color != white {
				prev = cur
				cur = next
				continue
			}

			if !g.h.UnlinkAfter(prev, cur, next) {
				// Contended at this exact point (a concurrent push
				// landed at the head while we were excising): re-find
				// from the current head and retry.
				prev = nil
				cur = g.h.AllObjectsHead()
				continue
			}

			cur.Color = object.Blue
			cur.LogPointer = nil
			cur.Next = nil
			cur = next
		}
	})
}
