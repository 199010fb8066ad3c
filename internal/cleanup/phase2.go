package cleanup

import (
	"fmt"
	"sync/atomic"

	"github.com/kiln-io/kiln/internal/cardtable"
	"github.com/kiln-io/kiln/internal/evac"
	"github.com/kiln-io/kiln/internal/heap"
)

// threadsPerWorker shards mutator threads across TLAB-resize workers.
// There is not much work per thread, so the batch is large.
const threadsPerWorker = 250

// NewCleanupPhase2 builds the second post-evacuation batched task:
// derived-pointer fixup, eager humongous reclamation, preserved-mark
// restoration, retained-bitmap clearing, card redirtying, TLAB resizing,
// and finally freeing the collection set.
func NewCleanupPhase2(env *Env, copyStates *evac.CopyStateSet, failures *evac.FailureRegionSet, summary *PauseSummary) *BatchedTask {
	bt := NewBatchedTask("post-evacuate-cleanup-2", env.logger())

	if env.DerivedPointers != nil {
		bt.AddSerialTask(&updateDerivedPointersTask{
			baseSubTask: baseSubTask{name: "update-derived-pointers"},
			table:       env.DerivedPointers,
		})
	}
	if env.Heap.NumReclaimCandidates() > 0 {
		bt.AddSerialTask(&eagerlyReclaimHumongousTask{
			baseSubTask: baseSubTask{name: "eagerly-reclaim-humongous"},
			env:         env,
			summary:     summary,
		})
	}
	if failures.EvacuationFailed() {
		bt.AddParallelTask(newRestorePreservedMarksTask(env, copyStates.PreservedMarksSet(), summary))
		// Keep marks on bitmaps in retained regions during concurrent
		// start: they will all be old.
		if !env.Marking.InConcurrentStart() {
			bt.AddParallelTask(newClearRetainedBitmapsTask(env, failures))
		}
	}
	bt.AddParallelTask(newRedirtyLoggedCardsTask(env, copyStates.RedirtyQueueSet(), failures, summary))
	if env.ResizeTLABs {
		bt.AddParallelTask(newResizeTLABsTask(env))
	}
	bt.AddParallelTask(newFreeCollectionSetTask(env, copyStates.SurvivingYoungWords(), failures, summary))
	return bt
}

// updateDerivedPointersTask fixes up pointers computed as offsets from a
// base pointer that moved during evacuation.
type updateDerivedPointersTask struct {
	baseSubTask
	table DerivedPointerTable
}

func (t *updateDerivedPointersTask) WorkerCost() float64 { return 1.0 }

func (t *updateDerivedPointersTask) DoWork(workerID int) { t.table.UpdatePointers() }

// eagerlyReclaimHumongousTask frees dead humongous objects immediately,
// outside formal marking.
//
// Checking candidacy alone is sufficient at this point: candidacy was
// decided before the pause and is only ever revoked during it (any
// remembered reference found while scanning revokes it), and humongous
// start regions never contain other objects, so no intra-region
// references exist. Object arrays are skipped: reclaiming them would
// require cleaning remembered-set entries pointing into them.
type eagerlyReclaimHumongousTask struct {
	baseSubTask
	env     *Env
	summary *PauseSummary

	objectsReclaimed int
	regionsReclaimed int
	bytesFreed       uint64
}

func (t *eagerlyReclaimHumongousTask) WorkerCost() float64 { return 1.0 }

func (t *eagerlyReclaimHumongousTask) DoWork(workerID int) {
	h := t.env.Heap
	m := t.env.Marking
	log := t.env.logger()

	total := h.NumHumongousObjects()
	candidates := 0
	for i := 0; i < h.RegionCount(); i++ {
		r := h.RegionAt(i)
		if !r.IsHumongousStart() {
			continue
		}
		if !h.IsReclaimCandidate(i) {
			continue
		}
		candidates++
		objs := r.Objects()
		if len(objs) == 0 || objs[0].Kind != heap.ObjPrimitiveArray {
			// Never reclaim object-array humongous objects here.
			continue
		}

		m.HumongousObjectEagerlyReclaimed(r)
		t.objectsReclaimed++
		objWords := objs[0].Size

		h.HumongousObjRegionsIterate(r, func(rr *heap.Region) {
			t.bytesFreed += rr.Used()
			t.regionsReclaimed++
			h.FreeRegion(rr)
		})
		h.DeregisterHumongousObject(i)

		log.Debugf("reclaimed humongous region", map[string]any{
			"region":    i,
			"sizeBytes": objWords * heap.WordBytes,
		})
	}

	t.summary.RecordHumongous(total, candidates, t.objectsReclaimed, t.bytesFreed)
}

// Finish atomically publishes reclaimed totals to old-generation
// accounting.
func (t *eagerlyReclaimHumongousTask) Finish() {
	h := t.env.Heap
	h.RemoveFromOldGenSets(0, t.regionsReclaimed)
	h.DecrementSummaryBytes(t.bytesFreed)
	if m := t.env.Metrics; m != nil {
		m.AddHumongousReclaimed(t.objectsReclaimed)
		m.AddBytesFreed(t.bytesFreed)
	}
}

// restorePreservedMarksTask replays header words saved before relocation
// attempts onto objects still at their original location.
type restorePreservedMarksTask struct {
	baseSubTask
	env      *Env
	marks    *evac.PreservedMarksSet
	summary  *PauseSummary
	cursor   atomic.Int64
	restored atomic.Int64
}

func newRestorePreservedMarksTask(env *Env, marks *evac.PreservedMarksSet, summary *PauseSummary) *restorePreservedMarksTask {
	return &restorePreservedMarksTask{
		baseSubTask: baseSubTask{name: "restore-preserved-marks"},
		env:         env,
		marks:       marks,
		summary:     summary,
	}
}

func (t *restorePreservedMarksTask) WorkerCost() float64 { return float64(t.marks.Total()) }

func (t *restorePreservedMarksTask) MaxWorkers() int { return t.marks.NumStacks() }

func (t *restorePreservedMarksTask) DoWork(workerID int) {
	for {
		n := int(t.cursor.Add(1)) - 1
		if n >= t.marks.NumStacks() {
			return
		}
		t.restored.Add(int64(t.marks.RestoreStack(n, t.env.Heap)))
	}
}

func (t *restorePreservedMarksTask) Finish() {
	t.summary.AddPreservedMarksRestored(int(t.restored.Load()))
}

// clearRetainedBitmapsTask clears the liveness bitmap of each retained
// region so a later concurrent marking pass starts clean.
type clearRetainedBitmapsTask struct {
	baseSubTask
	env      *Env
	failures *evac.FailureRegionSet
	claimer  *heap.Claimer
}

func newClearRetainedBitmapsTask(env *Env, failures *evac.FailureRegionSet) *clearRetainedBitmapsTask {
	if env.Marking.InConcurrentStart() {
		panic("cleanup: must not clear retained bitmaps during concurrent start")
	}
	return &clearRetainedBitmapsTask{
		baseSubTask: baseSubTask{name: "clear-retained-bitmaps"},
		env:         env,
		failures:    failures,
		claimer:     heap.NewClaimer(failures.Count()),
	}
}

func (t *clearRetainedBitmapsTask) WorkerCost() float64 { return float64(t.failures.Count()) }

func (t *clearRetainedBitmapsTask) MaxWorkers() int { return t.failures.Count() }

func (t *clearRetainedBitmapsTask) DoWork(workerID int) {
	for {
		pos, ok := t.claimer.Next()
		if !ok {
			return
		}
		r := t.env.Heap.RegionAt(t.failures.RegionIndexAt(pos))
		if r.TopAtMarkStart() != 0 {
			panic(fmt.Sprintf("cleanup: TAMS not reset for region %d", r.Index()))
		}
		t.env.Marking.ClearBitmapForRegion(r)
	}
}

// redirtyLoggedCardsTask drains the buffered card log and re-marks each
// referenced card dirty, unless the owning region is about to be freed.
type redirtyLoggedCardsTask struct {
	baseSubTask
	env      *Env
	rdcqs    *cardtable.RedirtyQueueSet
	failures *evac.FailureRegionSet
	summary  *PauseSummary
	nodes    atomic.Pointer[cardtable.BufferNode]
	dirtied  atomic.Uint64
}

func newRedirtyLoggedCardsTask(env *Env, rdcqs *cardtable.RedirtyQueueSet, failures *evac.FailureRegionSet, summary *PauseSummary) *redirtyLoggedCardsTask {
	t := &redirtyLoggedCardsTask{
		baseSubTask: baseSubTask{name: "redirty-logged-cards"},
		env:         env,
		rdcqs:       rdcqs,
		failures:    failures,
		summary:     summary,
	}
	t.nodes.Store(rdcqs.CompletedBuffers())
	return t
}

func (t *redirtyLoggedCardsTask) WorkerCost() float64 {
	// Rough heuristic; needs more investigation.
	return float64(t.env.ActiveWorkers)
}

// willBecomeFree reports whether the region is freed later this pause:
// in the collection set and not failed. Dirtying such a region's cards
// would be wasted work and could corrupt post-free state.
func (t *redirtyLoggedCardsTask) willBecomeFree(r *heap.Region) bool {
	return r.InCollectionSet() && !t.failures.Contains(r.Index())
}

func (t *redirtyLoggedCardsTask) DoWork(workerID int) {
	ct := t.env.CardTable
	h := t.env.Heap
	var dirtied uint64
	for {
		node := t.nodes.Load()
		if node == nil {
			break
		}
		if !t.nodes.CompareAndSwap(node, node.Next()) {
			continue
		}
		for _, card := range node.Cards() {
			r := h.RegionContainingByte(ct.AddrForCard(card))
			if !t.willBecomeFree(r) {
				ct.MarkDirty(card)
				dirtied++
			}
		}
	}
	t.dirtied.Add(dirtied)
}

// Finish merges unclaimed buffers back into the global dirty-card log
// and asserts the local queue drained completely.
func (t *redirtyLoggedCardsTask) Finish() {
	t.rdcqs.MergeInto(t.env.DirtyQueue)
	t.rdcqs.VerifyEmpty()
	n := t.dirtied.Load()
	t.summary.AddCardsRedirtied(n)
	if m := t.env.Metrics; m != nil {
		m.AddCardsRedirtied(n)
	}
}

// resizeTLABsTask resizes each live mutator thread's private allocation
// buffer based on its recent allocation rate.
type resizeTLABsTask struct {
	baseSubTask
	claimer *heap.ThreadClaimer
}

func newResizeTLABsTask(env *Env) *resizeTLABsTask {
	return &resizeTLABsTask{
		baseSubTask: baseSubTask{name: "resize-tlabs"},
		claimer:     heap.NewThreadClaimer(env.Heap.Threads(), threadsPerWorker),
	}
}

func (t *resizeTLABsTask) WorkerCost() float64 {
	return float64(t.claimer.Length()) / threadsPerWorker
}

func (t *resizeTLABsTask) DoWork(workerID int) {
	t.claimer.Apply(func(th *heap.MutatorThread) {
		th.TLAB().Resize()
	})
}
