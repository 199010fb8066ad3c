package remset

import "sync/atomic"

// Tracker owns the transient per-region scan state built while scanning
// heap roots during a pause. Once scanning is complete the state must be
// torn down before the pause ends; the cleanup pipeline runs that
// teardown in parallel via CleanupAfterScan.
type Tracker struct {
	scanned []atomic.Bool
}

// NewTracker returns scan state for the given number of regions.
func NewTracker(numRegions int) *Tracker {
	return &Tracker{scanned: make([]atomic.Bool, numRegions)}
}

// MarkScanned flags a region's remembered set as scanned this pause.
func (t *Tracker) MarkScanned(region int) {
	t.scanned[region].Store(true)
}

// Scanned reports whether a region was flagged this pause.
func (t *Tracker) Scanned(region int) bool {
	return t.scanned[region].Load()
}

// NumRegions returns the tracked region count.
func (t *Tracker) NumRegions() int { return len(t.scanned) }

// CleanupAfterScan is the remembered-set subsystem's own post-scan
// teardown, sliced across workers by an atomic cursor over region
// indices.
type CleanupAfterScan struct {
	t      *Tracker
	cursor atomic.Int64
}

// NewCleanupAfterScan returns the teardown work for this pause.
func (t *Tracker) NewCleanupAfterScan() *CleanupAfterScan {
	return &CleanupAfterScan{t: t}
}

// WorkerCost scales with the number of tracked regions.
func (c *CleanupAfterScan) WorkerCost() float64 {
	// One worker comfortably clears a few thousand flags.
	return float64(c.t.NumRegions()) / 4096.0
}

// Work clears scan flags for regions claimed by this worker.
func (c *CleanupAfterScan) Work(workerID int) {
	for {
		n := int(c.cursor.Add(1)) - 1
		if n >= c.t.NumRegions() {
			return
		}
		c.t.scanned[n].Store(false)
	}
}
