package remset

import (
	"sync"
	"testing"
)

func TestAddReferencesAndMemory(t *testing.T) {
	rs := New()
	rs.AddReferences(10)
	if rs.Occupied() != 10 {
		t.Errorf("expected 10 entries, got %d", rs.Occupied())
	}
	mem := rs.MemoryStats()
	if mem.UsedBytes != 160 {
		t.Errorf("expected 160 used bytes, got %d", mem.UsedBytes)
	}
	if mem.CommittedBytes != 4096 {
		t.Errorf("expected 4096 committed bytes, got %d", mem.CommittedBytes)
	}

	rs.AddReferences(300)
	mem = rs.MemoryStats()
	if mem.UsedBytes != 4960 {
		t.Errorf("expected 4960 used bytes, got %d", mem.UsedBytes)
	}
	if mem.CommittedBytes != 8192 {
		t.Errorf("committed should grow in 4KiB steps, got %d", mem.CommittedBytes)
	}

	rs.Clear()
	if rs.Occupied() != 0 || rs.MemoryStats().UsedBytes != 0 {
		t.Error("Clear did not empty the set")
	}
}

func TestMemoryStatsAdd(t *testing.T) {
	a := MemoryStats{UsedBytes: 100, CommittedBytes: 4096}
	a.Add(MemoryStats{UsedBytes: 50, CommittedBytes: 4096})
	if a.UsedBytes != 150 || a.CommittedBytes != 8192 {
		t.Errorf("unexpected sum %+v", a)
	}
}

func TestCleanupAfterScanClearsAllFlags(t *testing.T) {
	tr := NewTracker(5000)
	for i := 0; i < tr.NumRegions(); i++ {
		tr.MarkScanned(i)
	}

	c := tr.NewCleanupAfterScan()
	if c.WorkerCost() <= 1.0 {
		t.Errorf("5000 regions should cost more than one worker, got %f", c.WorkerCost())
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			c.Work(id)
		}(w)
	}
	wg.Wait()

	for i := 0; i < tr.NumRegions(); i++ {
		if tr.Scanned(i) {
			t.Fatalf("region %d still flagged scanned", i)
		}
	}
}
