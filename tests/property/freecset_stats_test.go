package property

import (
	"math/rand"
	"testing"
	"testing/quick"

	"github.com/kiln-io/kiln/internal/cleanup"
	"github.com/kiln-io/kiln/internal/heap"
)

// buildCSet returns a heap whose collection set holds count eden regions
// with varying occupancy and remembered-set sizes.
func buildCSet(t testing.TB, count int) (*heap.Heap, []*heap.Region) {
	h, err := heap.New(heap.Config{RegionBytes: 64 * 1024, RegionCount: count * 2})
	if err != nil {
		t.Fatalf("heap.New failed: %v", err)
	}
	var regions []*heap.Region
	for i := 0; i < count; i++ {
		r, err := h.AllocateRegion(heap.RegionEden)
		if err != nil {
			t.Fatalf("AllocateRegion failed: %v", err)
		}
		for o := 0; o <= i%7; o++ {
			r.AddObject(heap.Object{Offset: uint64(o) * 16, Size: 16, Kind: heap.ObjPlain})
		}
		r.SetLiveBytes(r.Used() / 2)
		r.RemSet().AddReferences(uint64(i * 3))
		h.AddToCollectionSet(r)
		regions = append(regions, r)
	}
	return h, regions
}

// accountPartitioned accounts every region exactly once, spread across
// the given number of per-worker stats in the given visit order, then
// merges the per-worker stats in a shuffled order.
func accountPartitioned(h *heap.Heap, regions []*heap.Region, failed map[int]bool, order []int, workers int, rng *rand.Rand) *cleanup.FreeCSetStats {
	stats := make([]cleanup.FreeCSetStats, workers)
	for pos, idx := range order {
		s := &stats[pos%workers]
		r := regions[idx]
		s.AccountRSLength(r)
		if failed[r.Index()] {
			s.AccountFailedRegion(r, h.RegionBytes())
		} else {
			s.AccountEvacuatedRegion(r)
		}
	}
	var total cleanup.FreeCSetStats
	for _, i := range rng.Perm(workers) {
		total.Merge(&stats[i])
	}
	return &total
}

// Merging per-worker statistics must yield identical totals regardless
// of which worker accounted which region, the visit order, and the merge
// order.
func TestFreeCSetStatsMergeOrderIndependent(t *testing.T) {
	const regionCount = 24
	h, regions := buildCSet(t, regionCount)
	failed := map[int]bool{}
	for i, r := range regions {
		if i%5 == 0 {
			failed[r.Index()] = true
		}
	}

	identity := make([]int, regionCount)
	for i := range identity {
		identity[i] = i
	}
	ref := accountPartitioned(h, regions, failed, identity, 1, rand.New(rand.NewSource(0)))

	for _, workers := range []int{1, 2, 4, 8} {
		workers := workers
		property := func(seed int64) bool {
			rng := rand.New(rand.NewSource(seed))
			got := accountPartitioned(h, regions, failed, rng.Perm(regionCount), workers, rng)
			return got.RegionsFreed() == ref.RegionsFreed() &&
				got.RSLength() == ref.RSLength() &&
				got.FailureUsedWords() == ref.FailureUsedWords() &&
				got.FailureWasteWords() == ref.FailureWasteWords() &&
				got.BytesAllocatedOld() == ref.BytesAllocatedOld()
		}
		if err := quick.Check(property, &quick.Config{MaxCount: 50}); err != nil {
			t.Errorf("workers=%d: %v", workers, err)
		}
	}
}
