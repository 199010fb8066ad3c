package evac

import (
	"sync"
	"sync/atomic"
)

// FailureRegionSet records which collection-set regions failed
// evacuation. The copy phase populates it; the cleanup pipeline reads it
// and additionally iterates the failed regions in recorded order.
type FailureRegionSet struct {
	bits []atomic.Uint64

	mu    sync.Mutex
	order []int
}

// NewFailureRegionSet returns an empty set covering numRegions region
// indices.
func NewFailureRegionSet(numRegions int) *FailureRegionSet {
	return &FailureRegionSet{bits: make([]atomic.Uint64, (numRegions+63)/64)}
}

// Record marks a region as failed. Returns true on the first record for
// that region.
func (fs *FailureRegionSet) Record(index int) bool {
	word, bit := index/64, uint64(1)<<(index%64)
	for {
		old := fs.bits[word].Load()
		if old&bit != 0 {
			return false
		}
		if fs.bits[word].CompareAndSwap(old, old|bit) {
			fs.mu.Lock()
			fs.order = append(fs.order, index)
			fs.mu.Unlock()
			return true
		}
	}
}

// Contains reports whether the region failed evacuation.
func (fs *FailureRegionSet) Contains(index int) bool {
	return fs.bits[index/64].Load()&(uint64(1)<<(index%64)) != 0
}

// EvacuationFailed reports whether any region failed.
func (fs *FailureRegionSet) EvacuationFailed() bool {
	return fs.Count() > 0
}

// Count returns the number of failed regions.
func (fs *FailureRegionSet) Count() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.order)
}

// RegionIndexAt returns the failed region index at the given recorded
// position.
func (fs *FailureRegionSet) RegionIndexAt(pos int) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.order[pos]
}

// Regions returns the failed region indices in recorded order.
func (fs *FailureRegionSet) Regions() []int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]int, len(fs.order))
	copy(out, fs.order)
	return out
}
