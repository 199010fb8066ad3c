// Package policy accumulates the feedback the cleanup pipeline reports
// to the collector's sizing and pause-shaping policy: remembered-set
// lengths, old-generation allocation, and allocation-buffer statistics.
package policy

import "sync"

// Policy receives feedback from the cleanup pipeline. All methods are
// safe for concurrent use, though the pipeline reports through a single
// teardown thread.
type Policy struct {
	mu               sync.Mutex
	rsLength         uint64
	csetFreedEvents  int
	oldGenAlloc      OldGenAllocTracker
	oldPLAB          PLABStats
	survivingRecords []uint64
}

// New returns an empty policy accumulator.
func New() *Policy {
	return &Policy{}
}

// RecordRemSetLength records the total remembered-set length observed
// while freeing the collection set.
func (p *Policy) RecordRemSetLength(n uint64) {
	p.mu.Lock()
	p.rsLength = n
	p.mu.Unlock()
}

// RemSetLength returns the last recorded remembered-set length.
func (p *Policy) RemSetLength() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rsLength
}

// CSetRegionsFreed notes that a pause finished freeing its collection
// set.
func (p *Policy) CSetRegionsFreed() {
	p.mu.Lock()
	p.csetFreedEvents++
	p.mu.Unlock()
}

// CSetFreedEvents returns how many pauses reported freeing.
func (p *Policy) CSetFreedEvents() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.csetFreedEvents
}

// OldGenAllocTracker returns the old-generation allocation tracker.
func (p *Policy) OldGenAllocTracker() *OldGenAllocTracker {
	return &p.oldGenAlloc
}

// OldPLABStats returns the old-generation allocation-buffer statistics.
func (p *Policy) OldPLABStats() *PLABStats {
	return &p.oldPLAB
}

// OldGenAllocTracker tracks bytes allocated in the old generation since
// the last pause. Retaining a failed young region "allocates" its full
// capacity there.
type OldGenAllocTracker struct {
	mu        sync.Mutex
	allocated uint64
}

// AddAllocatedBytes adds to the since-last-pause total.
func (t *OldGenAllocTracker) AddAllocatedBytes(n uint64) {
	t.mu.Lock()
	t.allocated += n
	t.mu.Unlock()
}

// AllocatedBytesSinceLastPause returns the running total.
func (t *OldGenAllocTracker) AllocatedBytesSinceLastPause() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allocated
}

// Reset clears the total at the start of a new mutator phase.
func (t *OldGenAllocTracker) Reset() {
	t.mu.Lock()
	t.allocated = 0
	t.mu.Unlock()
}

// PLABStats accumulates promotion-buffer usage for old-generation
// allocation sizing.
type PLABStats struct {
	mu                sync.Mutex
	failureUsedWords  uint64
	failureWasteWords uint64
	wasteWords        uint64
}

// AddFailureUsedAndWaste records live and wasted words measured in
// regions that failed evacuation.
func (s *PLABStats) AddFailureUsedAndWaste(used, waste uint64) {
	s.mu.Lock()
	s.failureUsedWords += used
	s.failureWasteWords += waste
	s.mu.Unlock()
}

// AddWasteWords records ordinary buffer waste flushed from copy workers.
func (s *PLABStats) AddWasteWords(n uint64) {
	s.mu.Lock()
	s.wasteWords += n
	s.mu.Unlock()
}

// FailureUsedWords returns accumulated live words from failed regions.
func (s *PLABStats) FailureUsedWords() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failureUsedWords
}

// FailureWasteWords returns accumulated wasted words from failed regions.
func (s *PLABStats) FailureWasteWords() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failureWasteWords
}

// WasteWords returns accumulated ordinary buffer waste.
func (s *PLABStats) WasteWords() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wasteWords
}
