// Package metrics exposes Prometheus collectors for engine activity:
// commit/compile counts and latencies, compression runs, gc reclamation,
// and hook firings by outcome.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the engine updates. Construct one per
// process with New and share it across tract instances.
type Metrics struct {
	CommitsTotal     prometheus.Counter
	CompilesTotal    prometheus.Counter
	CompileDuration  prometheus.Histogram
	CompressRuns     prometheus.Counter
	GCCommitsRemoved prometheus.Counter
	GCBlobsRemoved   prometheus.Counter
	HookFirings      *prometheus.CounterVec
	OperationErrors  *prometheus.CounterVec
}

// New builds and registers the collectors against reg; pass
// prometheus.DefaultRegisterer for the process-wide registry or a fresh
// *prometheus.Registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CommitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tract", Name: "commits_total",
			Help: "Commits written through Commit and CherryPick, including edits.",
		}),
		CompilesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tract", Name: "compiles_total",
			Help: "Compile calls, cache hits included.",
		}),
		CompileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tract", Name: "compile_duration_seconds",
			Help:    "Wall time of compile calls.",
			Buckets: prometheus.DefBuckets,
		}),
		CompressRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tract", Name: "compress_runs_total",
			Help: "Executed compression operations.",
		}),
		GCCommitsRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tract", Name: "gc_commits_removed_total",
			Help: "Commits deleted by garbage collection.",
		}),
		GCBlobsRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tract", Name: "gc_blobs_removed_total",
			Help: "Blobs deleted by garbage collection.",
		}),
		HookFirings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tract", Name: "hook_firings_total",
			Help: "Hook handler firings by operation and result.",
		}, []string{"operation", "result"}),
		OperationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tract", Name: "operation_errors_total",
			Help: "Errors surfaced at the facade by operation.",
		}, []string{"operation"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.CommitsTotal, m.CompilesTotal, m.CompileDuration,
			m.CompressRuns, m.GCCommitsRemoved, m.GCBlobsRemoved,
			m.HookFirings, m.OperationErrors,
		)
	}
	return m
}

// ObserveCompile records one compile call's duration.
func (m *Metrics) ObserveCompile(start time.Time) {
	if m == nil {
		return
	}
	m.CompilesTotal.Inc()
	m.CompileDuration.Observe(time.Since(start).Seconds())
}

// Nil-safe increment helpers; a tract with no metrics configured calls
// these on a nil receiver.

func (m *Metrics) IncCommits() {
	if m != nil {
		m.CommitsTotal.Inc()
	}
}

func (m *Metrics) IncCompress() {
	if m != nil {
		m.CompressRuns.Inc()
	}
}

func (m *Metrics) AddGCRemoved(commits, blobs int) {
	if m != nil {
		m.GCCommitsRemoved.Add(float64(commits))
		m.GCBlobsRemoved.Add(float64(blobs))
	}
}

func (m *Metrics) IncHookFiring(operation, result string) {
	if m != nil {
		m.HookFirings.WithLabelValues(operation, result).Inc()
	}
}

func (m *Metrics) IncError(operation string) {
	if m != nil {
		m.OperationErrors.WithLabelValues(operation).Inc()
	}
}
