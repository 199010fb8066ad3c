package cleanup

import "sort"

// PlanWorkers computes an integer worker allocation for the parallel
// sub-tasks given an available worker budget. The allocation is
// non-decreasing in cost, respects each task's MaxWorkers, sums to at
// most the budget when feasible, and gives every task at least one
// worker. Tasks at or below the AlmostNoWork sentinel are pinned to
// exactly one worker and excluded from the proportional pool.
func PlanWorkers(tasks []SubTask, available int) []int {
	alloc := make([]int, len(tasks))
	if len(tasks) == 0 {
		return alloc
	}
	if available < 1 {
		available = 1
	}
	// With fewer workers than tasks, "every task gets a worker" and
	// "stay within budget" cannot both hold. The former wins: a task
	// with zero workers would never run, while the pool simply queues
	// the overflow submissions.
	for i := range alloc {
		alloc[i] = 1
	}
	remaining := available - len(tasks)
	if remaining <= 0 {
		return alloc
	}

	type entry struct {
		idx  int
		cost float64
		frac float64
	}
	var pool []entry
	var total float64
	for i, st := range tasks {
		c := st.WorkerCost()
		if c <= AlmostNoWork {
			continue
		}
		pool = append(pool, entry{idx: i, cost: c})
		total += c
	}
	if total == 0 {
		return alloc
	}

	headroom := func(i int) int {
		max := tasks[i].MaxWorkers()
		if max <= 0 {
			return remaining
		}
		h := max - alloc[i]
		if h < 0 {
			h = 0
		}
		return h
	}

	granted := 0
	for k := range pool {
		share := float64(remaining) * pool[k].cost / total
		whole := int(share)
		if h := headroom(pool[k].idx); whole > h {
			whole = h
			share = float64(whole)
		}
		alloc[pool[k].idx] += whole
		granted += whole
		pool[k].frac = share - float64(whole)
	}

	// Hand out the remainder by largest fractional share, costliest
	// first on ties, so the allocation stays monotone in cost.
	sort.SliceStable(pool, func(a, b int) bool {
		if pool[a].frac != pool[b].frac {
			return pool[a].frac > pool[b].frac
		}
		return pool[a].cost > pool[b].cost
	})
	for k := 0; granted < remaining && k < len(pool); k++ {
		if headroom(pool[k].idx) == 0 {
			continue
		}
		alloc[pool[k].idx]++
		granted++
	}
	return alloc
}
