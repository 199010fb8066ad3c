package cardtable

import "testing"

func TestCardMapping(t *testing.T) {
	ct := New(64 * 1024)
	if ct.NumCards() != 128 {
		t.Fatalf("expected 128 cards, got %d", ct.NumCards())
	}
	if idx := ct.CardIndexFor(0); idx != 0 {
		t.Errorf("offset 0 maps to card %d", idx)
	}
	if idx := ct.CardIndexFor(CardBytes - 1); idx != 0 {
		t.Errorf("last byte of card 0 maps to card %d", idx)
	}
	if idx := ct.CardIndexFor(CardBytes); idx != 1 {
		t.Errorf("first byte of card 1 maps to card %d", idx)
	}
	if addr := ct.AddrForCard(3); addr != 3*CardBytes {
		t.Errorf("card 3 starts at %d", addr)
	}
}

func TestCardIndexOutOfRangePanics(t *testing.T) {
	ct := New(1024)
	defer func() {
		if recover() == nil {
			t.Error("expected panic for out-of-range offset")
		}
	}()
	ct.CardIndexFor(1024)
}

func TestMarkDirtyClean(t *testing.T) {
	ct := New(4096)
	if ct.IsDirty(2) {
		t.Error("new table has a dirty card")
	}
	ct.MarkDirty(2)
	if !ct.IsDirty(2) {
		t.Error("card not dirty after MarkDirty")
	}
	ct.MarkClean(2)
	if ct.IsDirty(2) {
		t.Error("card still dirty after MarkClean")
	}
}
