// Package metrics exposes Prometheus counters for the refresh, queue and
// reconciliation paths. Every method is safe on a nil *Metrics so components
// can run without instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeRetry   = "retry"
	OutcomeSkipped = "skipped"
	OutcomeDropped = "dropped"
)

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	jobs           *prometheus.CounterVec
	cacheRefreshes *prometheus.CounterVec
	reconciled     *prometheus.CounterVec
	betsMigrated   prometheus.Counter
	syncQueueSize  prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matchsync_jobs_total",
			Help: "Job attempts by queue, type and outcome.",
		}, []string{"queue", "type", "outcome"}),
		cacheRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matchsync_cache_refresh_total",
			Help: "Fixture snapshot refresh cycles by outcome.",
		}, []string{"outcome"}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matchsync_reconcile_entries_total",
			Help: "Sync queue entries processed by outcome.",
		}, []string{"outcome"}),
		betsMigrated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matchsync_bets_migrated_total",
			Help: "Bets moved from a superseded match to its replacement.",
		}),
		syncQueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "matchsync_sync_queue_size",
			Help: "Pending entries in the reconciliation sync queue.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobs,
		m.cacheRefreshes,
		m.reconciled,
		m.betsMigrated,
		m.syncQueueSize,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) JobFinished(queue, jobType, outcome string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(queue, jobType, outcome).Inc()
}

func (m *Metrics) CacheRefresh(outcome string) {
	if m == nil {
		return
	}
	m.cacheRefreshes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ReconcileEntry(outcome string) {
	if m == nil {
		return
	}
	m.reconciled.WithLabelValues(outcome).Inc()
}

func (m *Metrics) BetsMigrated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.betsMigrated.Add(float64(n))
}

func (m *Metrics) SetSyncQueueSize(n int) {
	if m == nil {
		return
	}
	m.syncQueueSize.Set(float64(n))
}
