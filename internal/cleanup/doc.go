// Package cleanup implements the post-evacuation cleanup pipeline: the
// coordinated parallel tasks that run immediately after live objects
// have been copied out of a collection set, before the heap is
// consistent again.
//
// Two batched tasks run back to back at the end of every young
// collection pause:
//
//   - Phase 1 merges per-worker copy statistics, recomputes heap
//     occupancy, samples collection-set-candidate memory statistics,
//     runs remembered-set post-scan cleanup, and restores regions that
//     failed evacuation.
//   - Phase 2 updates derived pointers, eagerly reclaims dead humongous
//     objects, restores preserved object marks, clears retained-region
//     bitmaps, redirties logged cards, resizes TLABs, and frees every
//     region in the collection set.
//
// A batched task is an ordered list of serial sub-tasks followed by a
// set of parallel sub-tasks. Serial sub-tasks run on exactly one worker,
// in declaration order, strictly before any parallel sub-task. Workers
// are assigned to parallel sub-tasks proportionally to each sub-task's
// declared cost (see PlanWorkers).
//
// # Usage
//
//	env := &cleanup.Env{Heap: h, CardTable: ct, DirtyQueue: dcq, ...}
//	summary := cleanup.NewPauseSummary(uuid.NewString())
//	cleanup.RunPostEvacuateCleanup(env, copyStates, failures, summary, pool)
//
// Evacuation failure is an expected partial outcome, handled by the
// retained-region path. Invariant violations panic: the pipeline runs
// inside a stop-the-world pause where continuing risks silent heap
// corruption.
package cleanup
