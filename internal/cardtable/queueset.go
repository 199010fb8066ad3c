package cardtable

import (
	"fmt"
	"sync/atomic"
)

// BufferCapacity is the number of card indices one buffer holds.
const BufferCapacity = 256

// BufferNode is one buffered batch of logged card indices. Nodes form an
// intrusive singly-linked list; the next pointer is atomic because the
// redirty task pops nodes with compare-and-swap.
type BufferNode struct {
	next  atomic.Pointer[BufferNode]
	cards []uint64
}

// NewBufferNode returns a node holding the given card indices.
func NewBufferNode(cards []uint64) *BufferNode {
	return &BufferNode{cards: cards}
}

// Cards returns the buffered card indices.
func (n *BufferNode) Cards() []uint64 { return n.cards }

// Next returns the following node in the list.
func (n *BufferNode) Next() *BufferNode { return n.next.Load() }

// RedirtyQueueSet is a lock-free stack of card buffers filled by the
// copy phase and drained by the redirty sub-task. No two workers process
// the same buffer.
type RedirtyQueueSet struct {
	head       atomic.Pointer[BufferNode]
	numBuffers atomic.Int64
}

// NewRedirtyQueueSet returns an empty queue set.
func NewRedirtyQueueSet() *RedirtyQueueSet {
	return &RedirtyQueueSet{}
}

// Enqueue pushes a completed buffer.
func (qs *RedirtyQueueSet) Enqueue(n *BufferNode) {
	for {
		head := qs.head.Load()
		n.next.Store(head)
		if qs.head.CompareAndSwap(head, n) {
			qs.numBuffers.Add(1)
			return
		}
	}
}

// CompletedBuffers returns the current head of the buffer list. The
// list remains owned by the queue set; drainers claim nodes from their
// own snapshot pointer with compare-and-swap.
func (qs *RedirtyQueueSet) CompletedBuffers() *BufferNode {
	return qs.head.Load()
}

// NumBuffers returns the number of buffers in the set.
func (qs *RedirtyQueueSet) NumBuffers() int {
	return int(qs.numBuffers.Load())
}

// MergeInto moves every buffer from qs to dst, leaving qs empty. Called
// at task teardown so unclaimed buffers rejoin the global dirty-card
// log.
func (qs *RedirtyQueueSet) MergeInto(dst *RedirtyQueueSet) {
	head := qs.head.Swap(nil)
	qs.numBuffers.Store(0)
	for n := head; n != nil; {
		next := n.Next()
		dst.Enqueue(n)
		n = next
	}
}

// VerifyEmpty panics unless every buffer has been merged away. A
// non-empty set here is a correctness bug, not a recoverable error.
func (qs *RedirtyQueueSet) VerifyEmpty() {
	if n := qs.head.Load(); n != nil {
		panic(fmt.Sprintf("cardtable: redirty queue set not empty, %d buffers remain", qs.NumBuffers()))
	}
}
