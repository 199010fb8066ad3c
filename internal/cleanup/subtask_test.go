package cleanup

import (
	"io"
	"sync"
	"testing"

	"github.com/kiln-io/kiln/internal/logging"
	"github.com/kiln-io/kiln/internal/workers"
)

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Level: logging.LevelError, Output: io.Discard})
}

// recordTask appends events to a shared trace so tests can assert
// execution order.
type recordTask struct {
	baseSubTask
	cost float64

	mu        *sync.Mutex
	trace     *[]string
	allocated int
}

func (t *recordTask) WorkerCost() float64 { return t.cost }

func (t *recordTask) SetMaxWorkers(n int) { t.allocated = n }

func (t *recordTask) DoWork(workerID int) {
	if workerID < 0 || (t.allocated > 0 && workerID >= t.allocated) {
		panic("worker ID outside allocation")
	}
	t.record("work:" + t.name)
}

func (t *recordTask) Finish() { t.record("finish:" + t.name) }

func (t *recordTask) record(ev string) {
	t.mu.Lock()
	*t.trace = append(*t.trace, ev)
	t.mu.Unlock()
}

func TestBatchedTaskOrdering(t *testing.T) {
	var mu sync.Mutex
	var trace []string
	mk := func(name string, cost float64) *recordTask {
		return &recordTask{baseSubTask: baseSubTask{name: name}, cost: cost, mu: &mu, trace: &trace}
	}

	bt := NewBatchedTask("test-batch", testLogger())
	bt.AddSerialTask(mk("s1", 1))
	bt.AddSerialTask(mk("s2", 1))
	bt.AddParallelTask(mk("p1", 4))
	bt.AddParallelTask(mk("p2", 1))

	pool := workers.NewPool(4)
	defer pool.Stop()
	bt.Run(pool)

	idx := func(ev string) int {
		for i, e := range trace {
			if e == ev {
				return i
			}
		}
		t.Fatalf("event %q missing from trace %v", ev, trace)
		return -1
	}
	lastIdx := func(ev string) int {
		last := -1
		for i, e := range trace {
			if e == ev {
				last = i
			}
		}
		if last == -1 {
			t.Fatalf("event %q missing from trace %v", ev, trace)
		}
		return last
	}

	// Serial tasks run one at a time, in order, before any parallel work.
	if idx("work:s1") > idx("work:s2") {
		t.Error("serial tasks ran out of order")
	}
	if idx("work:s2") > idx("work:p1") || idx("work:s2") > idx("work:p2") {
		t.Error("parallel work started before serial work completed")
	}

	// All Finish calls come after all work, in registration order.
	for _, ev := range []string{"work:s1", "work:s2"} {
		if idx(ev) > idx("finish:s1") {
			t.Errorf("%s after first finish", ev)
		}
	}
	if lastIdx("work:p1") > idx("finish:s1") || lastIdx("work:p2") > idx("finish:s1") {
		t.Error("finish ran before parallel work completed")
	}
	if !(idx("finish:s1") < idx("finish:s2") && idx("finish:s2") < idx("finish:p1") && idx("finish:p1") < idx("finish:p2")) {
		t.Errorf("finish order wrong: %v", trace)
	}
}

func TestBatchedTaskCounts(t *testing.T) {
	bt := NewBatchedTask("counts", testLogger())
	if bt.Name() != "counts" {
		t.Errorf("unexpected name %q", bt.Name())
	}
	bt.AddSerialTask(&costTask{cost: 1})
	bt.AddParallelTask(&costTask{cost: 1})
	bt.AddParallelTask(&costTask{cost: 1})
	if bt.NumSerialTasks() != 1 || bt.NumParallelTasks() != 2 {
		t.Errorf("serial=%d parallel=%d", bt.NumSerialTasks(), bt.NumParallelTasks())
	}
}
