// Package evac holds the state the copy phase hands to the cleanup
// pipeline: per-worker copy statistics, preserved object marks, the
// buffered card log, and the set of regions that failed evacuation.
package evac

import (
	"fmt"

	"github.com/kiln-io/kiln/internal/cardtable"
	"github.com/kiln-io/kiln/internal/heap"
	"github.com/kiln-io/kiln/internal/policy"
)

// WorkerCopyState is one copy worker's private statistics. It is owned
// by that worker during evacuation and read only after all workers have
// returned.
type WorkerCopyState struct {
	WorkerID    int
	CopiedBytes uint64
	// SurvivingYoungWords is indexed by 1-based young collection-set
	// index; element 0 is unused.
	SurvivingYoungWords []uint64
	OldPLABWasteWords   uint64

	marks []PreservedMark
}

// PreserveMark saves an object's header word before a relocation attempt
// that may need to be undone.
func (s *WorkerCopyState) PreserveMark(region int, offset, mark uint64) {
	s.marks = append(s.marks, PreservedMark{Region: region, Offset: offset, Mark: mark})
}

// CopyStateSet is the collection of per-worker copy states plus the
// shared structures the copy phase produced.
type CopyStateSet struct {
	states  []*WorkerCopyState
	rdcqs   *cardtable.RedirtyQueueSet
	flushed bool
}

// NewCopyStateSet returns states for the given worker count. Each
// worker's surviving-young-words array covers youngLength young regions
// (1-based indexing).
func NewCopyStateSet(workerCount, youngLength int) *CopyStateSet {
	cs := &CopyStateSet{
		states: make([]*WorkerCopyState, workerCount),
		rdcqs:  cardtable.NewRedirtyQueueSet(),
	}
	for i := range cs.states {
		cs.states[i] = &WorkerCopyState{
			WorkerID:            i,
			SurvivingYoungWords: make([]uint64, youngLength+1),
		}
	}
	return cs
}

// NumWorkers returns the number of copy workers.
func (cs *CopyStateSet) NumWorkers() int { return len(cs.states) }

// State returns the given worker's copy state.
func (cs *CopyStateSet) State(i int) *WorkerCopyState { return cs.states[i] }

// RedirtyQueueSet returns the buffered card log filled during copying.
func (cs *CopyStateSet) RedirtyQueueSet() *cardtable.RedirtyQueueSet { return cs.rdcqs }

// FlushStats merges every worker's statistics into global counters.
// Serial: must complete before occupancy recomputation. Flushing twice
// is a bug.
func (cs *CopyStateSet) FlushStats(h *heap.Heap, pol *policy.Policy) {
	if cs.flushed {
		panic("evac: copy statistics flushed twice")
	}
	cs.flushed = true
	var copied, plabWaste uint64
	for _, s := range cs.states {
		copied += s.CopiedBytes
		plabWaste += s.OldPLABWasteWords
	}
	h.SetUsedBytes(h.UsedBytes() + copied)
	pol.OldPLABStats().AddWasteWords(plabWaste)
}

// Flushed reports whether FlushStats has run.
func (cs *CopyStateSet) Flushed() bool { return cs.flushed }

// SurvivingYoungWords returns the element-wise sum of every worker's
// surviving-young-words array.
func (cs *CopyStateSet) SurvivingYoungWords() []uint64 {
	if len(cs.states) == 0 {
		return nil
	}
	out := make([]uint64, len(cs.states[0].SurvivingYoungWords))
	for _, s := range cs.states {
		if len(s.SurvivingYoungWords) != len(out) {
			panic(fmt.Sprintf("evac: worker %d surviving-words length %d, want %d",
				s.WorkerID, len(s.SurvivingYoungWords), len(out)))
		}
		for i, w := range s.SurvivingYoungWords {
			out[i] += w
		}
	}
	return out
}

// PreservedMarksSet gathers each worker's preserved-mark stack for
// parallel restoration.
func (cs *CopyStateSet) PreservedMarksSet() *PreservedMarksSet {
	ps := &PreservedMarksSet{}
	for _, s := range cs.states {
		ps.stacks = append(ps.stacks, s.marks)
	}
	return ps
}
