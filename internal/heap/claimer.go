package heap

import "sync/atomic"

// Claimer hands out positions in [0, limit) to parallel workers, each
// position exactly once. It is a single atomic cursor: claiming is
// lock-free and duplication-free by construction.
type Claimer struct {
	cursor atomic.Int64
	limit  int64
}

// NewClaimer returns a claimer over [0, limit).
func NewClaimer(limit int) *Claimer {
	return &Claimer{limit: int64(limit)}
}

// Next claims the next unclaimed position. The second result is false
// once the range is exhausted.
func (c *Claimer) Next() (int, bool) {
	n := c.cursor.Add(1) - 1
	if n >= c.limit {
		return 0, false
	}
	return int(n), true
}

// Remaining returns a lower bound on unclaimed positions.
func (c *Claimer) Remaining() int {
	n := c.limit - c.cursor.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}

// ThreadClaimer shards mutator threads across workers in fixed-size
// batches. There is little work per thread, so batches are large.
type ThreadClaimer struct {
	threads  []*MutatorThread
	perClaim int
	cursor   atomic.Int64
}

// NewThreadClaimer returns a claimer handing out batches of perClaim
// threads.
func NewThreadClaimer(threads []*MutatorThread, perClaim int) *ThreadClaimer {
	if perClaim <= 0 {
		perClaim = 1
	}
	return &ThreadClaimer{threads: threads, perClaim: perClaim}
}

// Length returns the total number of threads.
func (c *ThreadClaimer) Length() int { return len(c.threads) }

// Apply claims batches until the list is exhausted, calling fn for every
// thread in each claimed batch.
func (c *ThreadClaimer) Apply(fn func(*MutatorThread)) {
	for {
		start := int(c.cursor.Add(int64(c.perClaim))) - c.perClaim
		if start >= len(c.threads) {
			return
		}
		end := start + c.perClaim
		if end > len(c.threads) {
			end = len(c.threads)
		}
		for _, t := range c.threads[start:end] {
			fn(t)
		}
	}
}
