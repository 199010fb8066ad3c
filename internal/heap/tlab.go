package heap

// TLAB bounds for resizing.
const (
	MinTLABBytes = 2 * 1024
	MaxTLABBytes = 512 * 1024
)

// TLAB is a thread-local allocation buffer. Resize adapts the desired
// size to the thread's observed allocation rate since the last pause.
type TLAB struct {
	DesiredBytes   uint64
	AllocatedBytes uint64
	Refills        uint64
}

// Resize recomputes the desired buffer size from allocation activity and
// clears the per-pause counters.
func (t *TLAB) Resize() {
	if t.Refills > 0 {
		target := t.AllocatedBytes / t.Refills
		// Move halfway toward the observed per-refill allocation.
		t.DesiredBytes = (t.DesiredBytes + target) / 2
	} else if t.AllocatedBytes == 0 {
		// Idle thread: shrink toward the minimum.
		t.DesiredBytes /= 2
	}
	if t.DesiredBytes < MinTLABBytes {
		t.DesiredBytes = MinTLABBytes
	}
	if t.DesiredBytes > MaxTLABBytes {
		t.DesiredBytes = MaxTLABBytes
	}
	t.AllocatedBytes = 0
	t.Refills = 0
}

// MutatorThread is an application thread with a private allocation
// buffer.
type MutatorThread struct {
	ID   int
	tlab TLAB
}

// NewMutatorThread returns a thread with the default TLAB size.
func NewMutatorThread(id int) *MutatorThread {
	return &MutatorThread{ID: id, tlab: TLAB{DesiredBytes: 64 * 1024}}
}

// TLAB returns the thread's allocation buffer.
func (m *MutatorThread) TLAB() *TLAB { return &m.tlab }
