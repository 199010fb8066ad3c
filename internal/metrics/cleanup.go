package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CleanupMetrics holds metrics published by the post-evacuation cleanup
// pipeline.
type CleanupMetrics struct {
	// RegionsFreed counts collection-set regions returned to the free
	// list.
	RegionsFreed prometheus.Counter

	// RegionsRetained counts collection-set regions retained as old
	// after evacuation failure.
	RegionsRetained prometheus.Counter

	// HumongousReclaimed counts humongous objects eagerly reclaimed.
	HumongousReclaimed prometheus.Counter

	// CardsRedirtied counts card-table entries re-marked dirty.
	CardsRedirtied prometheus.Counter

	// BytesFreed counts bytes returned to the free pool.
	BytesFreed prometheus.Counter

	// CleanupDuration observes the wall time of the full two-phase
	// cleanup, in seconds.
	CleanupDuration prometheus.Histogram
}

// NewCleanupMetrics creates and registers cleanup metrics.
// Uses promauto for automatic registration with the default registry.
func NewCleanupMetrics() *CleanupMetrics {
	return newCleanupMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewCleanupMetricsWithRegistry creates cleanup metrics registered with
// the given registry. Used by tests.
func NewCleanupMetricsWithRegistry(reg prometheus.Registerer) *CleanupMetrics {
	return newCleanupMetrics(promauto.With(reg))
}

func newCleanupMetrics(factory promauto.Factory) *CleanupMetrics {
	return &CleanupMetrics{
		RegionsFreed: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "kiln",
				Subsystem: "cleanup",
				Name:      "regions_freed_total",
				Help:      "Collection-set regions freed and returned to the free list.",
			},
		),
		RegionsRetained: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "kiln",
				Subsystem: "cleanup",
				Name:      "regions_retained_total",
				Help:      "Collection-set regions retained as old after evacuation failure.",
			},
		),
		HumongousReclaimed: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "kiln",
				Subsystem: "cleanup",
				Name:      "humongous_reclaimed_total",
				Help:      "Humongous objects eagerly reclaimed outside marking.",
			},
		),
		CardsRedirtied: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "kiln",
				Subsystem: "cleanup",
				Name:      "cards_redirtied_total",
				Help:      "Card-table entries re-marked dirty after evacuation.",
			},
		),
		BytesFreed: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "kiln",
				Subsystem: "cleanup",
				Name:      "bytes_freed_total",
				Help:      "Bytes returned to the free pool by the cleanup pipeline.",
			},
		),
		CleanupDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "kiln",
				Subsystem: "cleanup",
				Name:      "duration_seconds",
				Help:      "Wall time of the two-phase post-evacuation cleanup.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
			},
		),
	}
}

// AddRegionsFreed adds to the freed-region counter.
func (m *CleanupMetrics) AddRegionsFreed(n int) {
	m.RegionsFreed.Add(float64(n))
}

// AddRegionsRetained adds to the retained-region counter.
func (m *CleanupMetrics) AddRegionsRetained(n int) {
	m.RegionsRetained.Add(float64(n))
}

// AddHumongousReclaimed adds to the humongous-reclaim counter.
func (m *CleanupMetrics) AddHumongousReclaimed(n int) {
	m.HumongousReclaimed.Add(float64(n))
}

// AddCardsRedirtied adds to the redirtied-card counter.
func (m *CleanupMetrics) AddCardsRedirtied(n uint64) {
	m.CardsRedirtied.Add(float64(n))
}

// AddBytesFreed adds to the freed-bytes counter.
func (m *CleanupMetrics) AddBytesFreed(n uint64) {
	m.BytesFreed.Add(float64(n))
}

// ObservePauseCleanup records one cleanup run's duration.
func (m *CleanupMetrics) ObservePauseCleanup(d time.Duration) {
	m.CleanupDuration.Observe(d.Seconds())
}
