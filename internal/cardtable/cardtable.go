// Package cardtable provides the coarse-grained dirty-card marking
// structure used to track possible cross-region references, plus the
// buffered card log the cleanup pipeline drains when redirtying cards.
package cardtable

import (
	"fmt"
	"sync/atomic"
)

// CardBytes is the number of heap bytes covered by one card.
const CardBytes = 512

// Card values.
const (
	CleanCard uint32 = 0
	DirtyCard uint32 = 1
)

// CardTable maps heap byte offsets to per-card dirty state. Marking is
// atomic so workers draining disjoint buffers may dirty the same card.
type CardTable struct {
	cards []uint32
}

// New returns a clean card table covering heapBytes of address space.
func New(heapBytes uint64) *CardTable {
	n := (heapBytes + CardBytes - 1) / CardBytes
	return &CardTable{cards: make([]uint32, n)}
}

// NumCards returns the number of cards in the table.
func (t *CardTable) NumCards() uint64 { return uint64(len(t.cards)) }

// CardIndexFor returns the card covering the given heap byte offset.
func (t *CardTable) CardIndexFor(byteOff uint64) uint64 {
	idx := byteOff / CardBytes
	if idx >= uint64(len(t.cards)) {
		panic(fmt.Sprintf("cardtable: byte offset %d outside table", byteOff))
	}
	return idx
}

// AddrForCard returns the heap byte offset of the card's first byte.
func (t *CardTable) AddrForCard(idx uint64) uint64 {
	if idx >= uint64(len(t.cards)) {
		panic(fmt.Sprintf("cardtable: card %d outside table", idx))
	}
	return idx * CardBytes
}

// MarkDirty dirties the card.
func (t *CardTable) MarkDirty(idx uint64) {
	atomic.StoreUint32(&t.cards[idx], DirtyCard)
}

// MarkClean cleans the card.
func (t *CardTable) MarkClean(idx uint64) {
	atomic.StoreUint32(&t.cards[idx], CleanCard)
}

// IsDirty reports whether the card is dirty.
func (t *CardTable) IsDirty(idx uint64) bool {
	return atomic.LoadUint32(&t.cards[idx]) == DirtyCard
}
