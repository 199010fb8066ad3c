// Package marking is the cleanup pipeline's narrow view of the
// concurrent marking subsystem: per-region liveness bitmaps, the
// concurrent-start collector state, and the notification hook for
// eagerly reclaimed humongous objects.
package marking

import (
	"fmt"
	"sync/atomic"

	"github.com/kiln-io/kiln/internal/heap"
)

// Marking holds one liveness bit per heap word, grouped by region.
type Marking struct {
	h       *heap.Heap
	bitmaps [][]uint64

	inConcurrentStart  atomic.Bool
	humongousReclaimed atomic.Int64
}

// New returns empty bitmaps for every region of h.
func New(h *heap.Heap) *Marking {
	wordsPer := int(h.WordsPerRegion())
	m := &Marking{h: h, bitmaps: make([][]uint64, h.RegionCount())}
	for i := range m.bitmaps {
		m.bitmaps[i] = make([]uint64, (wordsPer+63)/64)
	}
	return m
}

// Mark sets the liveness bit for the word at the given region offset.
func (m *Marking) Mark(region int, offsetWords uint64) {
	m.bitmaps[region][offsetWords/64] |= 1 << (offsetWords % 64)
}

// IsMarked reports the liveness bit for the word at the given region
// offset.
func (m *Marking) IsMarked(region int, offsetWords uint64) bool {
	return m.bitmaps[region][offsetWords/64]&(1<<(offsetWords%64)) != 0
}

// ClearBitmapForRegion clears the region's entire liveness bitmap so a
// later concurrent marking pass starts clean.
func (m *Marking) ClearBitmapForRegion(r *heap.Region) {
	bm := m.bitmaps[r.Index()]
	for i := range bm {
		bm[i] = 0
	}
}

// BitmapEmpty reports whether the region's bitmap has no bits set.
func (m *Marking) BitmapEmpty(region int) bool {
	for _, w := range m.bitmaps[region] {
		if w != 0 {
			return false
		}
	}
	return true
}

// HumongousObjectEagerlyReclaimed tells marking that the humongous
// object starting at r was reclaimed outside a marking cycle. The
// object must not be marked; a marked eagerly-reclaimed object is a
// correctness bug.
func (m *Marking) HumongousObjectEagerlyReclaimed(r *heap.Region) {
	objs := r.Objects()
	if len(objs) > 0 && m.IsMarked(r.Index(), objs[0].Offset) {
		panic(fmt.Sprintf("marking: eagerly reclaimed humongous region %d is marked in bitmap", r.Index()))
	}
	m.ClearBitmapForRegion(r)
	m.humongousReclaimed.Add(1)
}

// HumongousReclaimedCount returns how many humongous objects marking was
// notified about.
func (m *Marking) HumongousReclaimedCount() int {
	return int(m.humongousReclaimed.Load())
}

// SetInConcurrentStart flags whether the current pause starts a
// concurrent marking cycle.
func (m *Marking) SetInConcurrentStart(b bool) {
	m.inConcurrentStart.Store(b)
}

// InConcurrentStart reports whether the current pause starts a
// concurrent marking cycle.
func (m *Marking) InConcurrentStart() bool {
	return m.inConcurrentStart.Load()
}
