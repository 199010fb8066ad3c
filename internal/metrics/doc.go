// Package metrics provides Prometheus metrics for observability.
//
// This package exposes counters and histograms for the cleanup
// pipeline: regions freed and retained per pause, humongous objects
// eagerly reclaimed, cards redirtied, bytes freed, and cleanup wall
// time.
//
// Metrics are exposed via a dedicated HTTP server on /metrics in
// Prometheus format.
//
// Usage:
//
//	cleanupMetrics := metrics.NewCleanupMetrics()
//	env := &cleanup.Env{Metrics: cleanupMetrics, ...}
//
//	metricsServer := metrics.NewServer(":9090")
//	metricsServer.Start()
package metrics
