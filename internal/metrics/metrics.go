// Package metrics exposes engine counters through Prometheus. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the graph engine.
type Metrics struct {
	// Document cache
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheRecompute prometheus.Histogram
	fragmentsMemo  prometheus.Counter

	// Materialization
	materializeFailures prometheus.Counter

	// Planning
	planSpecs    prometheus.Histogram
	planWarnings *prometheus.CounterVec

	// Live updates
	reconciliations prometheus.Counter
	cancelled       prometheus.Counter
	affectedQueries prometheus.Histogram
	indexRebuilds   prometheus.Counter

	// Evaluation
	evaluations        *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
}

// New creates the metrics and registers them with reg. A nil reg returns nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	m := &Metrics{
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vaultgraph_cache_hits_total",
			Help: "Document graph lookups served from cache",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vaultgraph_cache_misses_total",
			Help: "Document graph lookups that required a recompute",
		}),
		cacheRecompute: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vaultgraph_cache_recompute_duration_seconds",
			Help:    "Duration of document graph recomputes",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}),
		fragmentsMemo: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vaultgraph_fragment_memo_hits_total",
			Help: "Graph-data fragments reused without re-parsing",
		}),
		materializeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vaultgraph_materialize_failures_total",
			Help: "Graph-data fragments that failed to parse",
		}),
		planSpecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vaultgraph_plan_specs",
			Help:    "Graph load specs per query plan",
			Buckets: []float64{0, 1, 2, 5, 10, 50, 100, 256, 1000},
		}),
		planWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultgraph_plan_warnings_total",
			Help: "Advisory warnings attached to query plans",
		}, []string{"code"}),
		reconciliations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vaultgraph_reconciliations_total",
			Help: "Document reconciliations completed",
		}),
		cancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vaultgraph_reconciliations_cancelled_total",
			Help: "Reconciliations superseded by a newer change",
		}),
		affectedQueries: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vaultgraph_affected_queries",
			Help:    "Queries re-planned per reconciliation",
			Buckets: []float64{0, 1, 2, 5, 10, 50, 100},
		}),
		indexRebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vaultgraph_dependency_index_rebuilds_total",
			Help: "Dependency index rebuilds after a consistency failure",
		}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultgraph_evaluations_total",
			Help: "Query evaluations by outcome",
		}, []string{"outcome"}),
		evaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vaultgraph_evaluation_duration_seconds",
			Help:    "Duration of query evaluations",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		m.cacheHits, m.cacheMisses, m.cacheRecompute, m.fragmentsMemo,
		m.materializeFailures,
		m.planSpecs, m.planWarnings,
		m.reconciliations, m.cancelled, m.affectedQueries, m.indexRebuilds,
		m.evaluations, m.evaluationDuration,
	)
	return m
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.cacheMisses.Inc()
	}
}

func (m *Metrics) Recomputed(d time.Duration, memoHits, failures int) {
	if m == nil {
		return
	}
	m.cacheRecompute.Observe(d.Seconds())
	m.fragmentsMemo.Add(float64(memoHits))
	m.materializeFailures.Add(float64(failures))
}

func (m *Metrics) Planned(specs int, warnings []string) {
	if m == nil {
		return
	}
	m.planSpecs.Observe(float64(specs))
	for _, w := range warnings {
		m.planWarnings.WithLabelValues(w).Inc()
	}
}

func (m *Metrics) Reconciled(affected int) {
	if m == nil {
		return
	}
	m.reconciliations.Inc()
	m.affectedQueries.Observe(float64(affected))
}

func (m *Metrics) ReconcileCancelled() {
	if m != nil {
		m.cancelled.Inc()
	}
}

func (m *Metrics) IndexRebuilt() {
	if m != nil {
		m.indexRebuilds.Inc()
	}
}

// Evaluated records one evaluation; outcome is "ok" or an error kind.
func (m *Metrics) Evaluated(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(outcome).Inc()
	m.evaluationDuration.Observe(d.Seconds())
}
