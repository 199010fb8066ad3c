package cleanup

import (
	"testing"

	"github.com/kiln-io/kiln/internal/cardtable"
	"github.com/kiln-io/kiln/internal/evac"
	"github.com/kiln-io/kiln/internal/heap"
	"github.com/kiln-io/kiln/internal/workers"
)

// registerHumongous sets up a two-region humongous object of the given
// kind and registers it as an eager-reclaim candidate.
func registerHumongous(env *Env, startIdx int, kind heap.ObjectKind) *heap.Region {
	start := env.Heap.RegionAt(startIdx)
	start.SetType(heap.RegionHumongousStart)
	start.AddObject(heap.Object{
		Offset: 0,
		Size:   2 * env.Heap.WordsPerRegion(),
		Kind:   kind,
	})
	cont := env.Heap.RegionAt(startIdx + 1)
	cont.SetType(heap.RegionHumongousCont)
	cont.SetUsed(testRegionBytes)
	env.Heap.RegisterHumongousObject(start, true)
	return start
}

func runPhase2(t *testing.T, env *Env, copyStates *evac.CopyStateSet, failures *evac.FailureRegionSet, summary *PauseSummary) {
	t.Helper()
	pool := workers.NewPool(4)
	defer pool.Stop()
	NewCleanupPhase2(env, copyStates, failures, summary).Run(pool)
}

func TestPhase2EagerlyReclaimsPrimitiveArray(t *testing.T) {
	env := newTestEnv(t, 8)
	start := registerHumongous(env, 2, heap.ObjPrimitiveArray)
	startUsed := start.Used()
	env.Heap.SetUsedBytes(startUsed + testRegionBytes)

	summary := NewPauseSummary("test")
	runPhase2(t, env, evac.NewCopyStateSet(1, 0), evac.NewFailureRegionSet(env.Heap.RegionCount()), summary)

	if !start.IsFree() || !env.Heap.RegionAt(3).IsFree() {
		t.Error("humongous regions not freed")
	}
	if summary.HumongousReclaimed() != 1 {
		t.Errorf("expected 1 object reclaimed, got %d", summary.HumongousReclaimed())
	}
	if summary.HumongousCandidates() != 1 || summary.HumongousTotal() != 1 {
		t.Errorf("candidates=%d total=%d", summary.HumongousCandidates(), summary.HumongousTotal())
	}
	wantFreed := startUsed + testRegionBytes
	if summary.HumongousBytesFreed() != wantFreed {
		t.Errorf("expected %d bytes freed, got %d", wantFreed, summary.HumongousBytesFreed())
	}
	if env.Heap.UsedBytes() != 0 {
		t.Errorf("summary occupancy not decremented, got %d", env.Heap.UsedBytes())
	}
	if env.Marking.HumongousReclaimedCount() != 1 {
		t.Error("marking not notified of the reclaim")
	}
}

// Object-array humongous objects stay allocated: reclaiming them would
// require cleaning remembered-set entries pointing into them.
func TestPhase2SkipsObjectArrayHumongous(t *testing.T) {
	env := newTestEnv(t, 8)
	start := registerHumongous(env, 2, heap.ObjObjectArray)

	summary := NewPauseSummary("test")
	runPhase2(t, env, evac.NewCopyStateSet(1, 0), evac.NewFailureRegionSet(env.Heap.RegionCount()), summary)

	if start.IsFree() {
		t.Error("object-array humongous object was reclaimed")
	}
	if !start.IsHumongousStart() {
		t.Errorf("start region type changed to %v", start.Type())
	}
	if summary.HumongousReclaimed() != 0 {
		t.Errorf("expected 0 reclaimed, got %d", summary.HumongousReclaimed())
	}
	if summary.HumongousCandidates() != 1 {
		t.Errorf("expected the candidate to be counted, got %d", summary.HumongousCandidates())
	}
}

// Reclamation must withdraw the object's registration: a later pause
// re-registering a different object at the same start index must not
// inherit the old candidacy.
func TestEagerReclaimDeregistersObject(t *testing.T) {
	env := newTestEnv(t, 8)
	registerHumongous(env, 2, heap.ObjPrimitiveArray)

	summary := NewPauseSummary("test")
	runPhase2(t, env, evac.NewCopyStateSet(1, 0), evac.NewFailureRegionSet(env.Heap.RegionCount()), summary)

	if env.Heap.NumHumongousObjects() != 0 || env.Heap.NumReclaimCandidates() != 0 {
		t.Fatalf("reclaimed object still registered: objects=%d candidates=%d",
			env.Heap.NumHumongousObjects(), env.Heap.NumReclaimCandidates())
	}

	// Next pause: a new object starts at the same index, not a candidate.
	start := env.Heap.RegionAt(2)
	start.SetType(heap.RegionHumongousStart)
	start.AddObject(heap.Object{Offset: 0, Size: env.Heap.WordsPerRegion(), Kind: heap.ObjPrimitiveArray})
	env.Heap.RegisterHumongousObject(start, false)

	if env.Heap.IsReclaimCandidate(2) {
		t.Error("new object inherited stale candidacy")
	}
	if env.Heap.NumHumongousObjects() != 1 {
		t.Errorf("expected 1 object registered, got %d", env.Heap.NumHumongousObjects())
	}
	bt := NewCleanupPhase2(env, evac.NewCopyStateSet(1, 0), evac.NewFailureRegionSet(env.Heap.RegionCount()), NewPauseSummary("test"))
	if bt.NumSerialTasks() != 0 {
		t.Error("eager reclaim scheduled with no candidates")
	}
}

func TestRedirtySkipsRegionsAboutToBeFreed(t *testing.T) {
	env := newTestEnv(t, 8)

	evacuated, _ := env.Heap.AllocateRegion(heap.RegionEden)
	failed, _ := env.Heap.AllocateRegion(heap.RegionEden)
	old, _ := env.Heap.AllocateRegion(heap.RegionOld)
	env.Heap.AddToCollectionSet(evacuated)
	env.Heap.AddToCollectionSet(failed)

	failures := evac.NewFailureRegionSet(env.Heap.RegionCount())
	failures.Record(failed.Index())

	ct := env.CardTable
	cardEvac := ct.CardIndexFor(uint64(evacuated.Index()) * testRegionBytes)
	cardFailed := ct.CardIndexFor(uint64(failed.Index()) * testRegionBytes)
	cardOld := ct.CardIndexFor(uint64(old.Index()) * testRegionBytes)

	rdcqs := cardtable.NewRedirtyQueueSet()
	rdcqs.Enqueue(cardtable.NewBufferNode([]uint64{cardEvac, cardFailed, cardOld}))

	summary := NewPauseSummary("test")
	task := newRedirtyLoggedCardsTask(env, rdcqs, failures, summary)
	task.SetMaxWorkers(1)
	task.DoWork(0)
	task.Finish()

	if ct.IsDirty(cardEvac) {
		t.Error("card for a region about to be freed was dirtied")
	}
	if !ct.IsDirty(cardFailed) {
		t.Error("card for a retained region not dirtied")
	}
	if !ct.IsDirty(cardOld) {
		t.Error("card for an old region not dirtied")
	}
	if summary.CardsRedirtied() != 2 {
		t.Errorf("expected 2 cards redirtied, got %d", summary.CardsRedirtied())
	}
	// Processed buffers rejoin the global dirty-card log at teardown.
	if env.DirtyQueue.NumBuffers() != 1 {
		t.Errorf("expected 1 buffer merged into the global log, got %d", env.DirtyQueue.NumBuffers())
	}
}

// Eager humongous reclamation runs before redirtying and may free
// collection-set regions early. Their cards must still be recognized
// and left clean.
func TestRedirtySkipsRegionsFreedEarlierInPause(t *testing.T) {
	env := newTestEnv(t, 8)
	r, _ := env.Heap.AllocateRegion(heap.RegionEden)
	env.Heap.AddToCollectionSet(r)
	env.Heap.FreeRegion(r)

	ct := env.CardTable
	card := ct.CardIndexFor(uint64(r.Index()) * testRegionBytes)
	rdcqs := cardtable.NewRedirtyQueueSet()
	rdcqs.Enqueue(cardtable.NewBufferNode([]uint64{card}))

	summary := NewPauseSummary("test")
	task := newRedirtyLoggedCardsTask(env, rdcqs, evac.NewFailureRegionSet(env.Heap.RegionCount()), summary)
	task.SetMaxWorkers(1)
	task.DoWork(0)
	task.Finish()

	if ct.IsDirty(card) {
		t.Error("card for a region freed earlier in the pause was dirtied")
	}
	if summary.CardsRedirtied() != 0 {
		t.Errorf("expected 0 cards redirtied, got %d", summary.CardsRedirtied())
	}
}

func TestRestorePreservedMarks(t *testing.T) {
	env := newTestEnv(t, 4)
	r := env.Heap.RegionAt(0)
	r.AddObject(heap.Object{Offset: 0, Size: 8, Mark: 0})
	r.AddObject(heap.Object{Offset: 8, Size: 8, Mark: 0})

	copyStates := evac.NewCopyStateSet(2, 0)
	copyStates.State(0).PreserveMark(0, 0, 0x11)
	copyStates.State(1).PreserveMark(0, 8, 0x22)

	summary := NewPauseSummary("test")
	task := newRestorePreservedMarksTask(env, copyStates.PreservedMarksSet(), summary)
	if task.MaxWorkers() != 2 {
		t.Errorf("expected max workers 2 (one per stack), got %d", task.MaxWorkers())
	}
	task.SetMaxWorkers(2)
	task.DoWork(0)
	task.DoWork(1)
	task.Finish()

	objs := r.Objects()
	if objs[0].Mark != 0x11 || objs[1].Mark != 0x22 {
		t.Errorf("marks not restored: %#x %#x", objs[0].Mark, objs[1].Mark)
	}
	if summary.PreservedMarksRestored() != 2 {
		t.Errorf("expected 2 restored, got %d", summary.PreservedMarksRestored())
	}
}

func TestClearRetainedBitmaps(t *testing.T) {
	env := newTestEnv(t, 4)
	r, _ := env.Heap.AllocateRegion(heap.RegionEden)
	env.Heap.AddToCollectionSet(r)
	r.HandleEvacuationFailure()
	env.Marking.Mark(r.Index(), 10)

	failures := evac.NewFailureRegionSet(env.Heap.RegionCount())
	failures.Record(r.Index())

	task := newClearRetainedBitmapsTask(env, failures)
	if task.MaxWorkers() != 1 {
		t.Errorf("max workers %d, want 1", task.MaxWorkers())
	}
	task.SetMaxWorkers(1)
	task.DoWork(0)

	if !env.Marking.BitmapEmpty(r.Index()) {
		t.Error("retained region bitmap not cleared")
	}
}

func TestClearRetainedBitmapsDuringConcurrentStartPanics(t *testing.T) {
	env := newTestEnv(t, 4)
	env.Marking.SetInConcurrentStart(true)
	failures := evac.NewFailureRegionSet(4)
	failures.Record(0)
	defer func() {
		if recover() == nil {
			t.Error("expected panic constructing bitmap clear during concurrent start")
		}
	}()
	newClearRetainedBitmapsTask(env, failures)
}

func TestClearRetainedBitmapsStaleTAMSPanics(t *testing.T) {
	env := newTestEnv(t, 4)
	r := env.Heap.RegionAt(0)
	r.SetTopAtMarkStart(100)
	failures := evac.NewFailureRegionSet(4)
	failures.Record(0)

	task := newClearRetainedBitmapsTask(env, failures)
	task.SetMaxWorkers(1)
	defer func() {
		if recover() == nil {
			t.Error("expected panic for a retained region with stale TAMS")
		}
	}()
	task.DoWork(0)
}

func TestResizeTLABs(t *testing.T) {
	env := newTestEnv(t, 4)
	busy := heap.NewMutatorThread(0)
	busy.TLAB().AllocatedBytes = 8 * 1024 * 1024
	busy.TLAB().Refills = 8
	idle := heap.NewMutatorThread(1)
	env.Heap.AddThread(busy)
	env.Heap.AddThread(idle)

	before := idle.TLAB().DesiredBytes
	task := newResizeTLABsTask(env)
	task.DoWork(0)

	if busy.TLAB().Refills != 0 || busy.TLAB().AllocatedBytes != 0 {
		t.Error("busy thread counters not reset")
	}
	if idle.TLAB().DesiredBytes >= before {
		t.Errorf("idle thread TLAB did not shrink: %d -> %d", before, idle.TLAB().DesiredBytes)
	}
}

func TestPhase2TaskComposition(t *testing.T) {
	env := newTestEnv(t, 8)
	bt := NewCleanupPhase2(env, evac.NewCopyStateSet(1, 0), evac.NewFailureRegionSet(8), NewPauseSummary("test"))
	// No derived pointers, no reclaim candidates, no failures, no TLAB
	// resizing: just redirty and free.
	if bt.NumSerialTasks() != 0 {
		t.Errorf("expected 0 serial tasks, got %d", bt.NumSerialTasks())
	}
	if bt.NumParallelTasks() != 2 {
		t.Errorf("expected 2 parallel tasks, got %d", bt.NumParallelTasks())
	}

	env2 := newTestEnv(t, 8)
	env2.ResizeTLABs = true
	env2.DerivedPointers = stubDerivedPointers{}
	registerHumongous(env2, 2, heap.ObjPrimitiveArray)
	failures := evac.NewFailureRegionSet(8)
	failures.Record(0)
	bt2 := NewCleanupPhase2(env2, evac.NewCopyStateSet(1, 0), failures, NewPauseSummary("test"))
	if bt2.NumSerialTasks() != 2 {
		t.Errorf("expected 2 serial tasks, got %d", bt2.NumSerialTasks())
	}
	// Preserved marks, bitmap clear, redirty, TLABs, free.
	if bt2.NumParallelTasks() != 5 {
		t.Errorf("expected 5 parallel tasks, got %d", bt2.NumParallelTasks())
	}
}

type stubDerivedPointers struct{}

func (stubDerivedPointers) UpdatePointers() {}
