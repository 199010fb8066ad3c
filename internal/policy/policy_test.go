package policy

import "testing"

func TestRemSetLengthAndFreedEvents(t *testing.T) {
	p := New()
	p.RecordRemSetLength(123)
	if p.RemSetLength() != 123 {
		t.Errorf("expected 123, got %d", p.RemSetLength())
	}
	p.CSetRegionsFreed()
	p.CSetRegionsFreed()
	if p.CSetFreedEvents() != 2 {
		t.Errorf("expected 2 freed events, got %d", p.CSetFreedEvents())
	}
}

func TestOldGenAllocTracker(t *testing.T) {
	p := New()
	tr := p.OldGenAllocTracker()
	tr.AddAllocatedBytes(100)
	tr.AddAllocatedBytes(50)
	if tr.AllocatedBytesSinceLastPause() != 150 {
		t.Errorf("expected 150, got %d", tr.AllocatedBytesSinceLastPause())
	}
	tr.Reset()
	if tr.AllocatedBytesSinceLastPause() != 0 {
		t.Error("Reset did not clear the total")
	}
}

func TestPLABStats(t *testing.T) {
	p := New()
	s := p.OldPLABStats()
	s.AddFailureUsedAndWaste(30, 12)
	s.AddFailureUsedAndWaste(10, 8)
	s.AddWasteWords(5)
	if s.FailureUsedWords() != 40 {
		t.Errorf("expected 40 failure used words, got %d", s.FailureUsedWords())
	}
	if s.FailureWasteWords() != 20 {
		t.Errorf("expected 20 failure waste words, got %d", s.FailureWasteWords())
	}
	if s.WasteWords() != 5 {
		t.Errorf("expected 5 waste words, got %d", s.WasteWords())
	}
}
