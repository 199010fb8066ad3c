package evac

import "github.com/kiln-io/kiln/internal/heap"

// PreservedMark is a saved object header word. The object is identified
// by its region index and word offset; after a failed evacuation it
// still resides at that original location.
type PreservedMark struct {
	Region int
	Offset uint64
	Mark   uint64
}

// PreservedMarksSet holds one stack of preserved marks per copy worker.
type PreservedMarksSet struct {
	stacks [][]PreservedMark
}

// NumStacks returns the number of per-worker stacks.
func (ps *PreservedMarksSet) NumStacks() int { return len(ps.stacks) }

// Total returns the total number of preserved mark records.
func (ps *PreservedMarksSet) Total() int {
	n := 0
	for _, s := range ps.stacks {
		n += len(s)
	}
	return n
}

// RestoreStack replays one stack's saved header words onto the objects
// they were taken from. Stacks are disjoint, so distinct stacks restore
// concurrently.
func (ps *PreservedMarksSet) RestoreStack(i int, h *heap.Heap) int {
	for _, m := range ps.stacks[i] {
		h.RegionAt(m.Region).SetMark(m.Offset, m.Mark)
	}
	return len(ps.stacks[i])
}
