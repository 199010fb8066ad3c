// Package workers provides the fixed-size worker pool the cleanup
// pipeline dispatches sub-tasks onto. Jobs run to completion without
// yielding; there is no cancellation, because the pipeline runs inside a
// stop-the-world pause.
package workers

import "sync"

type job struct {
	workerID int
	fn       func(workerID int)
	done     *sync.WaitGroup
}

// Pool is a fixed-size pool of worker goroutines.
type Pool struct {
	n    int
	jobs chan job

	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPool starts a pool with n workers. n must be at least 1.
func NewPool(n int) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{n: n, jobs: make(chan job)}
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		j.fn(j.workerID)
		j.done.Done()
	}
}

// ActiveWorkers returns the pool size.
func (p *Pool) ActiveWorkers() int { return p.n }

// Submit schedules fn to run with the given sub-task-local worker ID.
// done must have been incremented by the caller; the pool decrements it
// when fn returns.
func (p *Pool) Submit(workerID int, done *sync.WaitGroup, fn func(workerID int)) {
	p.jobs <- job{workerID: workerID, fn: fn, done: done}
}

// Stop shuts the pool down after in-flight jobs complete.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.jobs) })
	p.wg.Wait()
}
