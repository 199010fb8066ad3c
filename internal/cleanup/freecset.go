package cleanup

import (
	"fmt"
	"time"

	"github.com/kiln-io/kiln/internal/evac"
	"github.com/kiln-io/kiln/internal/heap"
)

// FreeCSetStats accumulates one worker's collection-set freeing
// statistics. Each worker owns its instance exclusively during the
// parallel phase; a single thread merges them at teardown. Merging is
// commutative and associative.
type FreeCSetStats struct {
	beforeUsedBytes   uint64 // usage in regions successfully evacuated
	afterUsedBytes    uint64 // usage in regions failing evacuation
	bytesAllocatedOld uint64 // size of young regions turned into old
	failureUsedWords  uint64 // live size in failed regions
	failureWasteWords uint64 // wasted size in failed regions
	rsLength          uint64 // remembered set size
	regionsFreed      int
}

// Merge folds other into s.
func (s *FreeCSetStats) Merge(other *FreeCSetStats) {
	s.beforeUsedBytes += other.beforeUsedBytes
	s.afterUsedBytes += other.afterUsedBytes
	s.bytesAllocatedOld += other.bytesAllocatedOld
	s.failureUsedWords += other.failureUsedWords
	s.failureWasteWords += other.failureWasteWords
	s.rsLength += other.rsLength
	s.regionsFreed += other.regionsFreed
}

// AccountRSLength records a region's remembered-set occupancy for
// policy feedback.
func (s *FreeCSetStats) AccountRSLength(r *heap.Region) {
	s.rsLength += r.RemSet().Occupied()
}

// AccountEvacuatedRegion records a successfully evacuated region about
// to be freed.
func (s *FreeCSetStats) AccountEvacuatedRegion(r *heap.Region) {
	used := r.Used()
	if used == 0 {
		panic(fmt.Sprintf("cleanup: region %d (%s) in collection set with zero used", r.Index(), r.Type()))
	}
	s.beforeUsedBytes += used
	s.regionsFreed++
}

// AccountFailedRegion records a region that failed evacuation. Moving a
// young region to old "allocates" the whole region there, in addition to
// any already evacuated objects; old regions cause no additional
// allocation since their bytes are accounted elsewhere.
func (s *FreeCSetStats) AccountFailedRegion(r *heap.Region, regionBytes uint64) {
	usedWords := r.LiveBytes() / heap.WordBytes
	grainWords := regionBytes / heap.WordBytes
	s.failureUsedWords += usedWords
	s.failureWasteWords += grainWords - usedWords
	s.afterUsedBytes += r.Used()
	if r.IsYoung() {
		s.bytesAllocatedOld += regionBytes
	}
}

// RegionsFreed returns the freed-region count.
func (s *FreeCSetStats) RegionsFreed() int { return s.regionsFreed }

// RSLength returns the accumulated remembered-set length.
func (s *FreeCSetStats) RSLength() uint64 { return s.rsLength }

// FailureUsedWords returns live words recorded in failed regions.
func (s *FreeCSetStats) FailureUsedWords() uint64 { return s.failureUsedWords }

// FailureWasteWords returns wasted words recorded in failed regions.
func (s *FreeCSetStats) FailureWasteWords() uint64 { return s.failureWasteWords }

// BytesAllocatedOld returns bytes newly accounted to the old generation.
func (s *FreeCSetStats) BytesAllocatedOld() uint64 { return s.bytesAllocatedOld }

// Report publishes merged totals to the pause summary, the heap, and
// policy. Runs once, on the teardown thread, after all workers joined.
func (s *FreeCSetStats) Report(env *Env, summary *PauseSummary) {
	summary.SetRegionsFreed(s.regionsFreed)
	summary.SetCollectionSetUsedBefore(s.beforeUsedBytes + s.afterUsedBytes)
	summary.AddCollectionSetUsedAfter(s.afterUsedBytes)

	env.Heap.DecrementSummaryBytes(s.beforeUsedBytes)
	env.Policy.OldPLABStats().AddFailureUsedAndWaste(s.failureUsedWords, s.failureWasteWords)
	env.Policy.OldGenAllocTracker().AddAllocatedBytes(s.bytesAllocatedOld)
	env.Policy.RecordRemSetLength(s.rsLength)
	env.Policy.CSetRegionsFreed()
}

// freeCSetWork is the per-worker closure applied to every claimed
// collection-set region.
type freeCSetWork struct {
	env            *Env
	surviving      []uint64
	workerID       int
	stats          *FreeCSetStats
	failures       *evac.FailureRegionSet
	summary        *PauseSummary
	youngTime      time.Duration
	nonYoungTime   time.Duration
	retainedEvents int
}

func (w *freeCSetWork) doRegion(r *heap.Region) {
	if !r.InCollectionSet() {
		panic(fmt.Sprintf("cleanup: region %d missing from collection set", r.Index()))
	}
	start := time.Now()
	young := r.IsYoung()

	w.stats.AccountRSLength(r)

	if young {
		idx := r.YoungIndexInCSet()
		if idx == 0 || idx > w.env.Heap.CollectionSet().YoungRegionLength() {
			panic(fmt.Sprintf("cleanup: young index %d wrong for region %d with %d young regions",
				idx, r.Index(), w.env.Heap.CollectionSet().YoungRegionLength()))
		}
		r.RecordSurvWordsInGroup(w.surviving[idx])
	}

	if w.failures.Contains(r.Index()) {
		w.handleFailedRegion(r)
	} else {
		w.handleEvacuatedRegion(r)
	}

	d := time.Since(start)
	if young {
		w.youngTime += d
	} else {
		w.nonYoungTime += d
	}
}

func (w *freeCSetWork) handleEvacuatedRegion(r *heap.Region) {
	w.stats.AccountEvacuatedRegion(r)
	// Free the region together with its remembered set.
	w.env.Heap.FreeRegion(r)
}

func (w *freeCSetWork) handleFailedRegion(r *heap.Region) {
	// Regions that failed evacuation always become old: update old-gen
	// statistics only.
	w.stats.AccountFailedRegion(r, w.env.Heap.RegionBytes())
	w.retainedEvents++

	r.HandleEvacuationFailure()

	// Adding to the old set needs the lock; held briefly per region.
	w.env.Heap.OldSetAdd(r)
}

func (w *freeCSetWork) reportTiming() {
	if w.youngTime > 0 {
		w.summary.AddYoungFreeTime(w.youngTime)
	}
	if w.nonYoungTime > 0 {
		w.summary.AddNonYoungFreeTime(w.nonYoungTime)
	}
	if w.retainedEvents > 0 {
		w.summary.AddRegionsRetained(w.retainedEvents)
	}
}

// freeCollectionSetTask frees or reclassifies every region in the
// collection set and publishes the merged statistics at teardown. The
// collection set is cleared only after statistics are reported;
// clearing first would lose the data the report needs.
type freeCollectionSetTask struct {
	baseSubTask
	env           *Env
	surviving     []uint64
	failures      *evac.FailureRegionSet
	summary       *PauseSummary
	workerStats   []FreeCSetStats
	claimer       *heap.Claimer
	activeWorkers int
}

func newFreeCollectionSetTask(env *Env, surviving []uint64, failures *evac.FailureRegionSet, summary *PauseSummary) *freeCollectionSetTask {
	env.Heap.ClearEden()
	return &freeCollectionSetTask{
		baseSubTask: baseSubTask{name: "free-collection-set"},
		env:         env,
		surviving:   surviving,
		failures:    failures,
		summary:     summary,
	}
}

func (t *freeCollectionSetTask) WorkerCost() float64 {
	return float64(t.env.Heap.CollectionSet().Len())
}

func (t *freeCollectionSetTask) MaxWorkers() int {
	return t.env.Heap.CollectionSet().Len()
}

func (t *freeCollectionSetTask) SetMaxWorkers(n int) {
	t.activeWorkers = n
	t.workerStats = make([]FreeCSetStats, n)
	t.claimer = heap.NewClaimer(t.env.Heap.CollectionSet().Len())
}

func (t *freeCollectionSetTask) DoWork(workerID int) {
	w := freeCSetWork{
		env:       t.env,
		surviving: t.surviving,
		workerID:  workerID,
		stats:     &t.workerStats[workerID],
		failures:  t.failures,
		summary:   t.summary,
	}
	cs := t.env.Heap.CollectionSet()
	for {
		pos, ok := t.claimer.Next()
		if !ok {
			break
		}
		w.doRegion(cs.RegionAt(pos))
	}
	w.reportTiming()
}

func (t *freeCollectionSetTask) Finish() {
	start := time.Now()

	var total FreeCSetStats
	for i := range t.workerStats {
		total.Merge(&t.workerStats[i])
	}
	total.Report(t.env, t.summary)

	if m := t.env.Metrics; m != nil {
		m.AddRegionsFreed(total.regionsFreed)
		m.AddRegionsRetained(t.summary.RegionsRetained())
	}

	t.summary.SetSerialFreeCSetTime(time.Since(start))
	t.env.Heap.CollectionSet().Clear()
}
