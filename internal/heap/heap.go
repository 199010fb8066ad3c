// Package heap models a region-based heap: the region directory,
// collection set, free and old region sets, humongous bookkeeping, and
// the claimers that shard region work across parallel workers.
package heap

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kiln-io/kiln/internal/remset"
)

// Config describes heap geometry.
type Config struct {
	// RegionBytes is the fixed region size. Must be a positive multiple
	// of WordBytes.
	RegionBytes uint64
	// RegionCount is the number of regions in the directory.
	RegionCount int
}

// Heap owns the region directory and the global region sets. All
// collection-set regions are mutated via per-region claiming during the
// cleanup pipeline; the old-set add is the only mutation that takes a
// lock.
type Heap struct {
	regionBytes uint64
	regions     []*Region

	freeMu   sync.Mutex
	freeList []*Region

	// oldMu guards oldSet. Held briefly per region when a failed region
	// is retained as old.
	oldMu  sync.Mutex
	oldSet map[int]*Region

	cset *CollectionSet

	edenMu  sync.Mutex
	eden    []*Region
	threads []*MutatorThread

	candMu          sync.Mutex
	candidates      []*Region // collection-set candidates for future pauses
	candidateStats  remset.MemoryStats
	reclaimCandMu   sync.Mutex
	reclaimCand     map[int]bool
	humongousCount  int
	oldGenHumongous int

	usedBytes atomic.Uint64
}

// New constructs a heap with all regions free.
func New(cfg Config) (*Heap, error) {
	if cfg.RegionBytes == 0 || cfg.RegionBytes%WordBytes != 0 {
		return nil, fmt.Errorf("heap: region size %d is not a multiple of the word size", cfg.RegionBytes)
	}
	if cfg.RegionCount <= 0 {
		return nil, fmt.Errorf("heap: region count %d must be positive", cfg.RegionCount)
	}
	h := &Heap{
		regionBytes: cfg.RegionBytes,
		regions:     make([]*Region, cfg.RegionCount),
		oldSet:      make(map[int]*Region),
		reclaimCand: make(map[int]bool),
		cset:        &CollectionSet{},
	}
	for i := range h.regions {
		r := newRegion(i)
		h.regions[i] = r
		h.freeList = append(h.freeList, r)
	}
	return h, nil
}

// RegionBytes returns the fixed region size in bytes.
func (h *Heap) RegionBytes() uint64 { return h.regionBytes }

// WordsPerRegion returns the region capacity in words.
func (h *Heap) WordsPerRegion() uint64 { return h.regionBytes / WordBytes }

// RegionCount returns the number of regions in the directory.
func (h *Heap) RegionCount() int { return len(h.regions) }

// RegionAt returns the region at the given directory index.
func (h *Heap) RegionAt(i int) *Region { return h.regions[i] }

// RegionContainingByte returns the region covering the given byte offset
// from the heap base.
func (h *Heap) RegionContainingByte(off uint64) *Region {
	idx := int(off / h.regionBytes)
	if idx < 0 || idx >= len(h.regions) {
		panic(fmt.Sprintf("heap: byte offset %d outside heap", off))
	}
	return h.regions[idx]
}

// BottomByte returns the byte offset of the region's first word.
func (h *Heap) BottomByte(r *Region) uint64 {
	return uint64(r.index) * h.regionBytes
}

// AllocateRegion takes a region off the free list and classifies it.
func (h *Heap) AllocateRegion(t RegionType) (*Region, error) {
	h.freeMu.Lock()
	defer h.freeMu.Unlock()
	if len(h.freeList) == 0 {
		return nil, fmt.Errorf("heap: free list exhausted")
	}
	r := h.freeList[len(h.freeList)-1]
	h.freeList = h.freeList[:len(h.freeList)-1]
	r.typ = t
	if t == RegionEden {
		h.edenMu.Lock()
		h.eden = append(h.eden, r)
		h.edenMu.Unlock()
	}
	return r, nil
}

// FreeRegion returns a region and its remembered set to the free pool.
func (h *Heap) FreeRegion(r *Region) {
	r.reset()
	h.freeMu.Lock()
	h.freeList = append(h.freeList, r)
	h.freeMu.Unlock()
}

// FreeListLength returns the number of free regions.
func (h *Heap) FreeListLength() int {
	h.freeMu.Lock()
	defer h.freeMu.Unlock()
	return len(h.freeList)
}

// OnFreeList reports whether the region is currently free.
func (h *Heap) OnFreeList(r *Region) bool {
	h.freeMu.Lock()
	defer h.freeMu.Unlock()
	for _, f := range h.freeList {
		if f == r {
			return true
		}
	}
	return false
}

// OldSetAdd adds a retained region to the old set. Callers hold no other
// locks; this is the pipeline's single hard lock.
func (h *Heap) OldSetAdd(r *Region) {
	h.oldMu.Lock()
	h.oldSet[r.index] = r
	h.oldMu.Unlock()
}

// OldSetContains reports old-set membership by region index.
func (h *Heap) OldSetContains(index int) bool {
	h.oldMu.Lock()
	defer h.oldMu.Unlock()
	_, ok := h.oldSet[index]
	return ok
}

// OldSetLength returns the old-set size.
func (h *Heap) OldSetLength() int {
	h.oldMu.Lock()
	defer h.oldMu.Unlock()
	return len(h.oldSet)
}

// CollectionSet returns the current collection set.
func (h *Heap) CollectionSet() *CollectionSet { return h.cset }

// AddToCollectionSet appends a region to the collection set. Young
// regions receive the next 1-based young index.
func (h *Heap) AddToCollectionSet(r *Region) {
	r.inCSet = true
	if r.IsYoung() {
		h.cset.youngLength++
		r.youngIndexInCSet = h.cset.youngLength
	}
	h.cset.regions = append(h.cset.regions, r)
}

// ClearEden empties the eden region list. The regions themselves are in
// the collection set and are freed or retained by the pipeline.
func (h *Heap) ClearEden() {
	h.edenMu.Lock()
	h.eden = nil
	h.edenMu.Unlock()
}

// EdenLength returns the number of eden regions.
func (h *Heap) EdenLength() int {
	h.edenMu.Lock()
	defer h.edenMu.Unlock()
	return len(h.eden)
}

// SetCollectionSetCandidates installs the candidate regions whose
// remembered-set memory usage the sampling sub-task aggregates.
func (h *Heap) SetCollectionSetCandidates(rs []*Region) {
	h.candMu.Lock()
	h.candidates = rs
	h.candMu.Unlock()
}

// CollectionSetCandidates returns the current candidate regions.
func (h *Heap) CollectionSetCandidates() []*Region {
	h.candMu.Lock()
	defer h.candMu.Unlock()
	return h.candidates
}

// SetCandidateStats publishes aggregated candidate memory stats.
func (h *Heap) SetCandidateStats(s remset.MemoryStats) {
	h.candMu.Lock()
	h.candidateStats = s
	h.candMu.Unlock()
}

// CandidateStats returns the last published candidate memory stats.
func (h *Heap) CandidateStats() remset.MemoryStats {
	h.candMu.Lock()
	defer h.candMu.Unlock()
	return h.candidateStats
}

// RegisterHumongousObject records a humongous object starting at the
// given region and optionally marks it an eager-reclaim candidate.
// Candidacy is decided before the pause and only ever revoked during it.
func (h *Heap) RegisterHumongousObject(start *Region, candidate bool) {
	h.reclaimCandMu.Lock()
	defer h.reclaimCandMu.Unlock()
	h.humongousCount++
	h.oldGenHumongous++
	if candidate {
		h.reclaimCand[start.index] = true
	}
}

// DeregisterHumongousObject removes a reclaimed humongous object from
// the humongous bookkeeping, withdrawing any remaining candidacy. A
// later object registered at the same start region begins with a clean
// slate.
func (h *Heap) DeregisterHumongousObject(index int) {
	h.reclaimCandMu.Lock()
	delete(h.reclaimCand, index)
	h.humongousCount--
	h.reclaimCandMu.Unlock()
}

// RevokeReclaimCandidate withdraws eager-reclaim candidacy, typically
// because a remembered reference to the object was found during scanning.
func (h *Heap) RevokeReclaimCandidate(index int) {
	h.reclaimCandMu.Lock()
	delete(h.reclaimCand, index)
	h.reclaimCandMu.Unlock()
}

// IsReclaimCandidate reports whether the humongous object starting at
// the given region index is still an eager-reclaim candidate.
func (h *Heap) IsReclaimCandidate(index int) bool {
	h.reclaimCandMu.Lock()
	defer h.reclaimCandMu.Unlock()
	return h.reclaimCand[index]
}

// NumHumongousObjects returns the number of registered humongous objects.
func (h *Heap) NumHumongousObjects() int {
	h.reclaimCandMu.Lock()
	defer h.reclaimCandMu.Unlock()
	return h.humongousCount
}

// NumReclaimCandidates returns the number of current candidates.
func (h *Heap) NumReclaimCandidates() int {
	h.reclaimCandMu.Lock()
	defer h.reclaimCandMu.Unlock()
	return len(h.reclaimCand)
}

// HumongousObjRegionsIterate applies fn to the start region and every
// continuation region of the humongous object starting at start.
func (h *Heap) HumongousObjRegionsIterate(start *Region, fn func(*Region)) {
	if !start.IsHumongousStart() {
		panic(fmt.Sprintf("heap: region %d is not a humongous start", start.index))
	}
	fn(start)
	for i := start.index + 1; i < len(h.regions) && h.regions[i].typ == RegionHumongousCont; i++ {
		fn(h.regions[i])
	}
}

// RemoveFromOldGenSets adjusts old-generation accounting after regions
// leave the old or humongous sets outside a normal transition.
func (h *Heap) RemoveFromOldGenSets(oldRegions, humongousRegions int) {
	h.reclaimCandMu.Lock()
	h.oldGenHumongous -= humongousRegions
	h.reclaimCandMu.Unlock()
	if oldRegions > 0 {
		h.oldMu.Lock()
		// Reclaimed old regions are removed individually by FreeRegion;
		// nothing to do beyond the count adjustment today.
		h.oldMu.Unlock()
	}
}

// UsedBytes returns the heap's summary occupancy.
func (h *Heap) UsedBytes() uint64 { return h.usedBytes.Load() }

// SetUsedBytes installs the summary occupancy.
func (h *Heap) SetUsedBytes(n uint64) { h.usedBytes.Store(n) }

// DecrementSummaryBytes subtracts freed bytes from summary occupancy.
func (h *Heap) DecrementSummaryBytes(n uint64) {
	for {
		cur := h.usedBytes.Load()
		next := uint64(0)
		if cur > n {
			next = cur - n
		}
		if h.usedBytes.CompareAndSwap(cur, next) {
			return
		}
	}
}

// UpdateUsedAfterPause recomputes summary occupancy. Without evacuation
// failures the running counter is already correct and this is near-free;
// with failures the directory is rescanned because failure changes which
// bytes count as live.
func (h *Heap) UpdateUsedAfterPause(evacFailed bool) {
	if !evacFailed {
		return
	}
	var total uint64
	for _, r := range h.regions {
		if !r.IsFree() {
			total += r.used
		}
	}
	h.usedBytes.Store(total)
}

// AddThread registers a mutator thread for TLAB resizing.
func (h *Heap) AddThread(t *MutatorThread) {
	h.threads = append(h.threads, t)
}

// Threads returns the registered mutator threads.
func (h *Heap) Threads() []*MutatorThread { return h.threads }

// CollectionSet is the ordered set of regions selected for one pause.
type CollectionSet struct {
	regions     []*Region
	youngLength int
}

// Len returns the number of regions in the set.
func (cs *CollectionSet) Len() int { return len(cs.regions) }

// RegionAt returns the region at the given set position.
func (cs *CollectionSet) RegionAt(pos int) *Region { return cs.regions[pos] }

// Regions returns the ordered regions.
func (cs *CollectionSet) Regions() []*Region { return cs.regions }

// YoungRegionLength returns the number of young regions in the set.
func (cs *CollectionSet) YoungRegionLength() int { return cs.youngLength }

// Clear drains the collection set and drops membership flags. Must run
// only after freeing statistics have been reported.
func (cs *CollectionSet) Clear() {
	for _, r := range cs.regions {
		r.inCSet = false
		r.youngIndexInCSet = 0
	}
	cs.regions = nil
	cs.youngLength = 0
}
