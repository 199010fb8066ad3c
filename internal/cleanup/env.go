package cleanup

import (
	"sync"
	"time"

	"github.com/kiln-io/kiln/internal/cardtable"
	"github.com/kiln-io/kiln/internal/heap"
	"github.com/kiln-io/kiln/internal/logging"
	"github.com/kiln-io/kiln/internal/marking"
	"github.com/kiln-io/kiln/internal/metrics"
	"github.com/kiln-io/kiln/internal/policy"
	"github.com/kiln-io/kiln/internal/remset"
)

// DerivedPointerTable fixes up pointers computed as offsets from a base
// that moved during evacuation. Present only on platforms that maintain
// one.
type DerivedPointerTable interface {
	UpdatePointers()
}

// Env carries the pipeline's collaborators. Every sub-task receives its
// collaborators explicitly through Env at construction; there is no
// ambient global heap.
type Env struct {
	Heap       *heap.Heap
	CardTable  *cardtable.CardTable
	DirtyQueue *cardtable.RedirtyQueueSet // global dirty-card log
	RemSet     *remset.Tracker
	Policy     *policy.Policy
	Marking    *marking.Marking

	// DerivedPointers is nil when the platform keeps no derived-pointer
	// table.
	DerivedPointers DerivedPointerTable

	// Metrics is optional; a nil value disables metric publication.
	Metrics *metrics.CleanupMetrics
	Log     *logging.Logger

	// ActiveWorkers is the size of the worker pool the pipeline runs on.
	ActiveWorkers int
	// ChunksPerRegion shards failed-region restoration work.
	ChunksPerRegion int
	// ResizeTLABs enables thread-local allocation buffer resizing.
	ResizeTLABs bool
	// SampleCandidates gates collection-set-candidate statistics
	// sampling; the trigger policy lives outside this pipeline.
	SampleCandidates bool
}

func (e *Env) logger() *logging.Logger {
	if e.Log != nil {
		return e.Log
	}
	return logging.Global()
}

// PauseSummary is the mutable pause record the pipeline fills in:
// regions freed and retained, bytes used before and after, humongous
// reclamation totals, and per-phase work items.
type PauseSummary struct {
	PauseID string

	mu                      sync.Mutex
	regionsFreed            int
	regionsRetained         int
	collectionSetUsedBefore uint64
	collectionSetUsedAfter  uint64
	humongousTotal          int
	humongousCandidates     int
	humongousReclaimed      int
	humongousBytesFreed     uint64
	cardsRedirtied          uint64
	preservedMarksRestored  int
	youngFreeTime           time.Duration
	nonYoungFreeTime        time.Duration
	serialFreeCSetTime      time.Duration
}

// NewPauseSummary returns an empty summary tagged with the pause ID.
func NewPauseSummary(pauseID string) *PauseSummary {
	return &PauseSummary{PauseID: pauseID}
}

// SetRegionsFreed records the number of regions freed.
func (s *PauseSummary) SetRegionsFreed(n int) {
	s.mu.Lock()
	s.regionsFreed = n
	s.mu.Unlock()
}

// RegionsFreed returns the number of regions freed.
func (s *PauseSummary) RegionsFreed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regionsFreed
}

// AddRegionsRetained adds retained-region work items.
func (s *PauseSummary) AddRegionsRetained(n int) {
	s.mu.Lock()
	s.regionsRetained += n
	s.mu.Unlock()
}

// RegionsRetained returns the number of regions retained as old.
func (s *PauseSummary) RegionsRetained() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regionsRetained
}

// SetCollectionSetUsedBefore records bytes used in the set before the
// pause.
func (s *PauseSummary) SetCollectionSetUsedBefore(n uint64) {
	s.mu.Lock()
	s.collectionSetUsedBefore = n
	s.mu.Unlock()
}

// CollectionSetUsedBefore returns bytes used in the set before the
// pause.
func (s *PauseSummary) CollectionSetUsedBefore() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collectionSetUsedBefore
}

// AddCollectionSetUsedAfter adds bytes still used in the set after the
// pause (retained regions).
func (s *PauseSummary) AddCollectionSetUsedAfter(n uint64) {
	s.mu.Lock()
	s.collectionSetUsedAfter += n
	s.mu.Unlock()
}

// CollectionSetUsedAfter returns bytes still used after the pause.
func (s *PauseSummary) CollectionSetUsedAfter() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collectionSetUsedAfter
}

// RecordHumongous records humongous reclamation work items.
func (s *PauseSummary) RecordHumongous(total, candidates, reclaimed int, bytesFreed uint64) {
	s.mu.Lock()
	s.humongousTotal = total
	s.humongousCandidates = candidates
	s.humongousReclaimed = reclaimed
	s.humongousBytesFreed = bytesFreed
	s.mu.Unlock()
}

// HumongousReclaimed returns the number of humongous objects reclaimed.
func (s *PauseSummary) HumongousReclaimed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.humongousReclaimed
}

// HumongousTotal returns the number of humongous objects scanned.
func (s *PauseSummary) HumongousTotal() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.humongousTotal
}

// HumongousCandidates returns the number of reclaim candidates seen.
func (s *PauseSummary) HumongousCandidates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.humongousCandidates
}

// HumongousBytesFreed returns bytes freed by eager reclamation.
func (s *PauseSummary) HumongousBytesFreed() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.humongousBytesFreed
}

// AddCardsRedirtied adds to the redirtied-card work item.
func (s *PauseSummary) AddCardsRedirtied(n uint64) {
	s.mu.Lock()
	s.cardsRedirtied += n
	s.mu.Unlock()
}

// CardsRedirtied returns the number of cards redirtied.
func (s *PauseSummary) CardsRedirtied() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cardsRedirtied
}

// AddPreservedMarksRestored adds restored preserved-mark records.
func (s *PauseSummary) AddPreservedMarksRestored(n int) {
	s.mu.Lock()
	s.preservedMarksRestored += n
	s.mu.Unlock()
}

// PreservedMarksRestored returns restored preserved-mark records.
func (s *PauseSummary) PreservedMarksRestored() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preservedMarksRestored
}

// AddYoungFreeTime accumulates time spent freeing young regions.
func (s *PauseSummary) AddYoungFreeTime(d time.Duration) {
	s.mu.Lock()
	s.youngFreeTime += d
	s.mu.Unlock()
}

// AddNonYoungFreeTime accumulates time spent freeing non-young regions.
func (s *PauseSummary) AddNonYoungFreeTime(d time.Duration) {
	s.mu.Lock()
	s.nonYoungFreeTime += d
	s.mu.Unlock()
}

// YoungFreeTime returns accumulated young free time across workers.
func (s *PauseSummary) YoungFreeTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.youngFreeTime
}

// NonYoungFreeTime returns accumulated non-young free time across
// workers.
func (s *PauseSummary) NonYoungFreeTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nonYoungFreeTime
}

// SetSerialFreeCSetTime records teardown time of the free sub-task.
func (s *PauseSummary) SetSerialFreeCSetTime(d time.Duration) {
	s.mu.Lock()
	s.serialFreeCSetTime = d
	s.mu.Unlock()
}

// SerialFreeCSetTime returns teardown time of the free sub-task.
func (s *PauseSummary) SerialFreeCSetTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serialFreeCSetTime
}
