package cleanup

import (
	"time"

	"github.com/kiln-io/kiln/internal/evac"
	"github.com/kiln-io/kiln/internal/workers"
)

// RunPostEvacuateCleanup constructs and runs both cleanup phases in
// fixed order. The pause driver calls this once per pause, after the
// copy phase has produced copyStates and failures.
func RunPostEvacuateCleanup(env *Env, copyStates *evac.CopyStateSet, failures *evac.FailureRegionSet, summary *PauseSummary, pool *workers.Pool) {
	log := env.logger().WithPauseID(summary.PauseID)
	start := time.Now()

	NewCleanupPhase1(env, copyStates, failures).Run(pool)
	NewCleanupPhase2(env, copyStates, failures, summary).Run(pool)

	if m := env.Metrics; m != nil {
		m.ObservePauseCleanup(time.Since(start))
	}
	log.Infof("post-evacuate cleanup done", map[string]any{
		"regionsFreed":    summary.RegionsFreed(),
		"regionsRetained": summary.RegionsRetained(),
		"usedBefore":      summary.CollectionSetUsedBefore(),
		"usedAfter":       summary.CollectionSetUsedAfter(),
		"cardsRedirtied":  summary.CardsRedirtied(),
		"durationMs":      time.Since(start).Milliseconds(),
	})
}
