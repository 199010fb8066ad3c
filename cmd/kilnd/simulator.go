package main

import (
	"math/rand"

	"github.com/google/uuid"

	"github.com/kiln-io/kiln/internal/cardtable"
	"github.com/kiln-io/kiln/internal/cleanup"
	"github.com/kiln-io/kiln/internal/config"
	"github.com/kiln-io/kiln/internal/evac"
	"github.com/kiln-io/kiln/internal/heap"
	"github.com/kiln-io/kiln/internal/logging"
	"github.com/kiln-io/kiln/internal/marking"
	"github.com/kiln-io/kiln/internal/metrics"
	"github.com/kiln-io/kiln/internal/policy"
	"github.com/kiln-io/kiln/internal/remset"
	"github.com/kiln-io/kiln/internal/workers"
)

// simulator drives synthetic allocate/collect cycles: it fills eden
// regions with objects, picks a collection set, fakes the copy phase
// (including occasional evacuation failures), and runs the cleanup
// pipeline.
type simulator struct {
	cfg  *config.Config
	log  *logging.Logger
	h    *heap.Heap
	ct   *cardtable.CardTable
	dcq  *cardtable.RedirtyQueueSet
	rs   *remset.Tracker
	pol  *policy.Policy
	mark *marking.Marking
	m    *metrics.CleanupMetrics
	pool *workers.Pool
	rng  *rand.Rand
}

func newSimulator(cfg *config.Config, log *logging.Logger) (*simulator, error) {
	h, err := heap.New(heap.Config{
		RegionBytes: cfg.Heap.RegionBytes,
		RegionCount: cfg.Heap.RegionCount,
	})
	if err != nil {
		return nil, err
	}
	s := &simulator{
		cfg:  cfg,
		log:  log,
		h:    h,
		ct:   cardtable.New(cfg.Heap.RegionBytes * uint64(cfg.Heap.RegionCount)),
		dcq:  cardtable.NewRedirtyQueueSet(),
		rs:   remset.NewTracker(cfg.Heap.RegionCount),
		pol:  policy.New(),
		mark: marking.New(h),
		m:    metrics.NewCleanupMetrics(),
		pool: workers.NewPool(cfg.Cleanup.Workers),
		rng:  rand.New(rand.NewSource(1)),
	}
	for i := 0; i < 32; i++ {
		h.AddThread(heap.NewMutatorThread(i))
	}
	return s, nil
}

func (s *simulator) Close() {
	s.pool.Stop()
}

// RunCycle allocates into eden, selects a collection set, simulates the
// copy phase, and runs both cleanup phases.
func (s *simulator) RunCycle() {
	edenRegions := 4 + s.rng.Intn(4)
	var cset []*heap.Region
	for i := 0; i < edenRegions; i++ {
		r, err := s.h.AllocateRegion(heap.RegionEden)
		if err != nil {
			s.log.Warn("free list exhausted, skipping cycle")
			return
		}
		s.fillRegion(r)
		cset = append(cset, r)
	}
	for _, r := range cset {
		s.h.AddToCollectionSet(r)
	}

	failures := evac.NewFailureRegionSet(s.h.RegionCount())
	copyStates := evac.NewCopyStateSet(s.cfg.Cleanup.Workers, s.h.CollectionSet().YoungRegionLength())

	// Fake the copy phase: most regions evacuate, a few fail.
	for _, r := range cset {
		st := copyStates.State(s.rng.Intn(copyStates.NumWorkers()))
		if s.rng.Intn(8) == 0 {
			failures.Record(r.Index())
			r.SetLiveBytes(0)
			objs := r.Objects()
			for i := range objs {
				st.PreserveMark(r.Index(), objs[i].Offset, objs[i].Mark)
				objs[i].SelfForwarded = true
			}
		} else {
			st.CopiedBytes += r.LiveBytes()
			st.SurvivingYoungWords[r.YoungIndexInCSet()] += r.LiveBytes() / heap.WordBytes
		}
	}

	// Buffer a few card-log entries pointing at survivors and old
	// regions.
	var cards []uint64
	for i := 0; i < cardtable.BufferCapacity && i < s.h.RegionCount(); i++ {
		cards = append(cards, s.ct.CardIndexFor(uint64(s.rng.Intn(s.h.RegionCount()))*s.h.RegionBytes()))
	}
	copyStates.RedirtyQueueSet().Enqueue(cardtable.NewBufferNode(cards))

	env := &cleanup.Env{
		Heap:             s.h,
		CardTable:        s.ct,
		DirtyQueue:       s.dcq,
		RemSet:           s.rs,
		Policy:           s.pol,
		Marking:          s.mark,
		Metrics:          s.m,
		Log:              s.log,
		ActiveWorkers:    s.pool.ActiveWorkers(),
		ChunksPerRegion:  s.cfg.Cleanup.ChunksPerRegion,
		ResizeTLABs:      s.cfg.Cleanup.ResizeTLABs,
		SampleCandidates: s.cfg.Cleanup.SampleCandidates,
	}
	summary := cleanup.NewPauseSummary(uuid.NewString())
	cleanup.RunPostEvacuateCleanup(env, copyStates, failures, summary, s.pool)
}

func (s *simulator) fillRegion(r *heap.Region) {
	words := s.h.WordsPerRegion()
	objSize := uint64(32)
	n := words / objSize / 4 // quarter-full regions
	for i := uint64(0); i < n; i++ {
		r.AddObject(heap.Object{
			Offset: i * objSize,
			Size:   objSize,
			Kind:   heap.ObjPlain,
			Mark:   0x1,
		})
	}
	r.SetLiveBytes(r.Used() / 2)
	r.RemSet().AddReferences(uint64(s.rng.Intn(64)))
	s.rs.MarkScanned(r.Index())
}
