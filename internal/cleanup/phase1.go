package cleanup

import (
	"sync/atomic"

	"github.com/kiln-io/kiln/internal/evac"
	"github.com/kiln-io/kiln/internal/heap"
	"github.com/kiln-io/kiln/internal/remset"
)

// restoreRetainedChunksPerWorker tunes how many region chunks one worker
// handles when undoing self-forwards in retained regions.
const restoreRetainedChunksPerWorker = 16

// NewCleanupPhase1 builds the first post-evacuation batched task: merge
// copy statistics, recompute occupancy, optionally sample candidate
// statistics, run remembered-set post-scan cleanup, and restore regions
// that failed evacuation.
func NewCleanupPhase1(env *Env, copyStates *evac.CopyStateSet, failures *evac.FailureRegionSet) *BatchedTask {
	evacFailed := failures.EvacuationFailed()

	bt := NewBatchedTask("post-evacuate-cleanup-1", env.logger())
	bt.AddSerialTask(&mergeCopyStatsTask{
		baseSubTask: baseSubTask{name: "merge-copy-stats"},
		env:         env,
		copyStates:  copyStates,
	})
	bt.AddSerialTask(&recalculateUsedTask{
		baseSubTask: baseSubTask{name: "recalculate-used"},
		env:         env,
		evacFailed:  evacFailed,
	})
	if env.SampleCandidates {
		bt.AddSerialTask(&sampleCandidatesTask{
			baseSubTask: baseSubTask{name: "sample-cset-candidates"},
			env:         env,
		})
	}
	bt.AddParallelTask(&remSetCleanupTask{
		baseSubTask: baseSubTask{name: "remset-cleanup-after-scan"},
		inner:       env.RemSet.NewCleanupAfterScan(),
	})
	if evacFailed {
		bt.AddParallelTask(newRestoreRetainedRegionsTask(env, failures))
	}
	return bt
}

// mergeCopyStatsTask flushes every worker's copy-phase statistics into
// global counters. Serial: occupancy recomputation depends on it.
type mergeCopyStatsTask struct {
	baseSubTask
	env        *Env
	copyStates *evac.CopyStateSet
}

func (t *mergeCopyStatsTask) WorkerCost() float64 { return 1.0 }

func (t *mergeCopyStatsTask) DoWork(workerID int) {
	t.copyStates.FlushStats(t.env.Heap, t.env.Policy)
}

// recalculateUsedTask recomputes total heap occupancy. Near-free unless
// evacuation failed, because failure changes which bytes count as live.
type recalculateUsedTask struct {
	baseSubTask
	env        *Env
	evacFailed bool
}

func (t *recalculateUsedTask) WorkerCost() float64 {
	if t.evacFailed {
		return 1.0
	}
	return AlmostNoWork
}

func (t *recalculateUsedTask) DoWork(workerID int) {
	t.env.Heap.UpdateUsedAfterPause(t.evacFailed)
}

// sampleCandidatesTask aggregates remembered-set memory usage across the
// current collection-set candidates.
type sampleCandidatesTask struct {
	baseSubTask
	env *Env
}

func (t *sampleCandidatesTask) WorkerCost() float64 { return 1.0 }

func (t *sampleCandidatesTask) DoWork(workerID int) {
	var total remset.MemoryStats
	for _, r := range t.env.Heap.CollectionSetCandidates() {
		total.Add(r.RemSet().MemoryStats())
	}
	t.env.Heap.SetCandidateStats(total)
}

// remSetCleanupTask adapts the remembered-set subsystem's own post-scan
// teardown. The work is opaque to the pipeline.
type remSetCleanupTask struct {
	baseSubTask
	inner *remset.CleanupAfterScan
}

func (t *remSetCleanupTask) WorkerCost() float64 { return t.inner.WorkerCost() }

func (t *remSetCleanupTask) DoWork(workerID int) { t.inner.Work(workerID) }

// restoreRetainedRegionsTask undoes partial forwarding-pointer
// installation in regions that failed evacuation, sharding each region
// into chunks claimed by an atomic cursor. Failed regions arrive with
// their live-byte estimate cleared; chunk workers rebuild it while
// restoring.
type restoreRetainedRegionsTask struct {
	baseSubTask
	env      *Env
	failures *evac.FailureRegionSet
	cursor   atomic.Int64
	chunks   int
}

func newRestoreRetainedRegionsTask(env *Env, failures *evac.FailureRegionSet) *restoreRetainedRegionsTask {
	chunks := env.ChunksPerRegion
	if chunks <= 0 {
		chunks = 1
	}
	return &restoreRetainedRegionsTask{
		baseSubTask: baseSubTask{name: "restore-retained-regions"},
		env:         env,
		failures:    failures,
		chunks:      chunks,
	}
}

func (t *restoreRetainedRegionsTask) WorkerCost() float64 {
	if !t.failures.EvacuationFailed() {
		panic("cleanup: restore-retained-regions scheduled without evacuation failures")
	}
	workersPerRegion := float64(t.chunks) / restoreRetainedChunksPerWorker
	return workersPerRegion * float64(t.failures.Count())
}

func (t *restoreRetainedRegionsTask) DoWork(workerID int) {
	h := t.env.Heap
	total := int64(t.failures.Count() * t.chunks)
	wordsPerRegion := h.WordsPerRegion()
	for {
		n := t.cursor.Add(1) - 1
		if n >= total {
			return
		}
		idx := t.failures.RegionIndexAt(int(n) / t.chunks)
		chunk := int(n) % t.chunks
		r := h.RegionAt(idx)
		if chunk == 0 {
			// TAMS goes back to bottom while the region is restored;
			// the bitmap clearing in the next phase requires it there.
			r.SetTopAtMarkStart(0)
		}
		live := r.RemoveSelfForwardsInChunk(chunk, t.chunks, wordsPerRegion)
		r.AddLiveBytes(live * heap.WordBytes)
	}
}
