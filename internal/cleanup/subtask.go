package cleanup

import (
	"sync"
	"time"

	"github.com/kiln-io/kiln/internal/logging"
	"github.com/kiln-io/kiln/internal/workers"
)

// AlmostNoWork is the cost sentinel for sub-tasks with next to nothing
// to do. Such tasks still run, but they are excluded from the
// proportional worker allocation and pinned to a single worker.
const AlmostNoWork = 0.01

// SubTask is one unit of cleanup work. Parameters are captured at
// construction; DoWork may run on several workers, each call independent
// and idempotent per worker ID; Finish runs exactly once after every
// worker has returned and performs the task's publication side effects.
type SubTask interface {
	// Name identifies the sub-task in logs and timings.
	Name() string
	// WorkerCost is the task's relative cost, used only for worker
	// allocation, never for correctness.
	WorkerCost() float64
	// MaxWorkers is the most workers the task can use. Zero means no
	// limit.
	MaxWorkers() int
	// SetMaxWorkers tells the task how many workers it was allocated,
	// before any DoWork call.
	SetMaxWorkers(n int)
	// DoWork runs the task's slice of work for one worker. workerID is
	// local to the task, in [0, allocated).
	DoWork(workerID int)
	// Finish publishes results after all workers have joined.
	Finish()
}

// baseSubTask supplies the defaults most sub-tasks share.
type baseSubTask struct {
	name string
}

func (b baseSubTask) Name() string      { return b.name }
func (b baseSubTask) MaxWorkers() int   { return 0 }
func (b baseSubTask) SetMaxWorkers(int) {}
func (b baseSubTask) Finish()           {}

// BatchedTask is an ordered list of serial sub-tasks followed by a set
// of parallel sub-tasks. It owns its sub-tasks exclusively.
type BatchedTask struct {
	name     string
	serial   []SubTask
	parallel []SubTask
	log      *logging.Logger
}

// NewBatchedTask returns an empty batched task.
func NewBatchedTask(name string, log *logging.Logger) *BatchedTask {
	if log == nil {
		log = logging.Global()
	}
	return &BatchedTask{name: name, log: log}
}

// Name returns the batched task's name.
func (bt *BatchedTask) Name() string { return bt.name }

// AddSerialTask appends a sub-task that runs on exactly one worker,
// strictly before any parallel sub-task, in registration order.
func (bt *BatchedTask) AddSerialTask(st SubTask) {
	bt.serial = append(bt.serial, st)
}

// AddParallelTask adds a sub-task whose work is sliced across workers.
func (bt *BatchedTask) AddParallelTask(st SubTask) {
	bt.parallel = append(bt.parallel, st)
}

// NumSerialTasks returns the number of serial sub-tasks.
func (bt *BatchedTask) NumSerialTasks() int { return len(bt.serial) }

// NumParallelTasks returns the number of parallel sub-tasks.
func (bt *BatchedTask) NumParallelTasks() int { return len(bt.parallel) }

// Run executes the batched task on the pool: serial sub-tasks first, one
// at a time in order, then all parallel sub-tasks concurrently with
// worker counts from PlanWorkers, then every sub-task's Finish in
// registration order. A panic anywhere is fatal to the pause; Finish is
// not run on partially-valid state.
func (bt *BatchedTask) Run(pool *workers.Pool) {
	start := time.Now()

	for _, st := range bt.serial {
		st.SetMaxWorkers(1)
		var wg sync.WaitGroup
		wg.Add(1)
		pool.Submit(0, &wg, st.DoWork)
		wg.Wait()
	}

	plan := PlanWorkers(bt.parallel, pool.ActiveWorkers())
	var wg sync.WaitGroup
	for i, st := range bt.parallel {
		st.SetMaxWorkers(plan[i])
	}
	for i, st := range bt.parallel {
		for w := 0; w < plan[i]; w++ {
			wg.Add(1)
			pool.Submit(w, &wg, st.DoWork)
		}
	}
	wg.Wait()

	for _, st := range bt.serial {
		st.Finish()
	}
	for _, st := range bt.parallel {
		st.Finish()
	}

	bt.log.Debugf("batched task done", map[string]any{
		"task":       bt.name,
		"serial":     len(bt.serial),
		"parallel":   len(bt.parallel),
		"durationMs": time.Since(start).Milliseconds(),
	})
}
