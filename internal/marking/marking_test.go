package marking

import (
	"testing"

	"github.com/kiln-io/kiln/internal/heap"
)

func newTestMarking(t *testing.T) (*heap.Heap, *Marking) {
	t.Helper()
	h, err := heap.New(heap.Config{RegionBytes: 64 * 1024, RegionCount: 4})
	if err != nil {
		t.Fatalf("heap.New failed: %v", err)
	}
	return h, New(h)
}

func TestMarkAndClear(t *testing.T) {
	h, m := newTestMarking(t)

	m.Mark(1, 100)
	if !m.IsMarked(1, 100) {
		t.Error("bit not set")
	}
	if m.IsMarked(1, 101) || m.IsMarked(2, 100) {
		t.Error("unrelated bits set")
	}
	if m.BitmapEmpty(1) {
		t.Error("bitmap should not be empty")
	}

	m.ClearBitmapForRegion(h.RegionAt(1))
	if !m.BitmapEmpty(1) {
		t.Error("bitmap not cleared")
	}
}

func TestHumongousEagerReclaimNotification(t *testing.T) {
	h, m := newTestMarking(t)
	r := h.RegionAt(0)
	r.SetType(heap.RegionHumongousStart)
	r.AddObject(heap.Object{Offset: 0, Size: 64, Kind: heap.ObjPrimitiveArray})

	// Stale bits elsewhere in the region are allowed; only the object
	// header bit matters.
	m.Mark(0, 512)

	m.HumongousObjectEagerlyReclaimed(r)
	if !m.BitmapEmpty(0) {
		t.Error("bitmap not cleared after reclaim")
	}
	if m.HumongousReclaimedCount() != 1 {
		t.Errorf("expected 1 reclaim, got %d", m.HumongousReclaimedCount())
	}
}

func TestHumongousEagerReclaimMarkedPanics(t *testing.T) {
	h, m := newTestMarking(t)
	r := h.RegionAt(0)
	r.SetType(heap.RegionHumongousStart)
	r.AddObject(heap.Object{Offset: 0, Size: 64, Kind: heap.ObjPrimitiveArray})
	m.Mark(0, 0)

	defer func() {
		if recover() == nil {
			t.Error("expected panic for reclaiming a marked object")
		}
	}()
	m.HumongousObjectEagerlyReclaimed(r)
}

func TestInConcurrentStartFlag(t *testing.T) {
	_, m := newTestMarking(t)
	if m.InConcurrentStart() {
		t.Error("new marking should not be in concurrent start")
	}
	m.SetInConcurrentStart(true)
	if !m.InConcurrentStart() {
		t.Error("flag not set")
	}
}
