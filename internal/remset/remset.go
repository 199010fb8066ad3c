// Package remset models per-region remembered sets: the index of
// external pointers into a region, its occupancy, and the memory the
// backing card-set structures consume. The cleanup pipeline consults
// occupancy for policy feedback and aggregates memory stats when
// sampling collection-set candidates.
package remset

import "sync"

// MemoryStats describes memory held by a remembered set's card-set
// backing storage.
type MemoryStats struct {
	UsedBytes      uint64
	CommittedBytes uint64
}

// Add accumulates another region's stats.
func (s *MemoryStats) Add(o MemoryStats) {
	s.UsedBytes += o.UsedBytes
	s.CommittedBytes += o.CommittedBytes
}

// RemSet is one region's remembered set.
type RemSet struct {
	mu       sync.Mutex
	occupied uint64
	mem      MemoryStats
}

// New returns an empty remembered set.
func New() *RemSet {
	return &RemSet{}
}

// Occupied returns the number of occupied entries.
func (rs *RemSet) Occupied() uint64 {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.occupied
}

// AddReferences records n incoming references.
func (rs *RemSet) AddReferences(n uint64) {
	rs.mu.Lock()
	rs.occupied += n
	rs.mem.UsedBytes += n * 16
	if rs.mem.UsedBytes > rs.mem.CommittedBytes {
		// Backing storage commits in 4 KiB steps.
		rs.mem.CommittedBytes = (rs.mem.UsedBytes + 4095) &^ 4095
	}
	rs.mu.Unlock()
}

// MemoryStats returns the card-set memory usage.
func (rs *RemSet) MemoryStats() MemoryStats {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.mem
}

// Clear empties the set, releasing its entries and backing memory.
func (rs *RemSet) Clear() {
	rs.mu.Lock()
	rs.occupied = 0
	rs.mem = MemoryStats{}
	rs.mu.Unlock()
}
