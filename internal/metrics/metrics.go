// Package metrics exposes the counters and histograms named in SPEC_FULL's
// ambient observability stack: sync run counts/durations, bytes published,
// and planner set sizes, all registered against the default Prometheus
// registry via promauto so a single /metrics handler picks them up.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var labels = []string{"repo", "kind"}

var (
	// RunDuration observes how long one Executor.Run took, labeled by
	// outcome so slow failures and slow successes are distinguishable.
	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reposync",
		Subsystem: "executor",
		Name:      "run_duration_seconds",
		Help:      "Duration of one repository synchronization run.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	}, append(append([]string{}, labels...), "result"))

	// RunTotal counts completed runs, labeled by outcome.
	RunTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reposync",
		Subsystem: "executor",
		Name:      "run_total",
		Help:      "Total repository synchronization runs, by outcome.",
	}, append(append([]string{}, labels...), "result"))

	// BytesPublished sums the size of every package and index written to
	// the destination, counted as each write completes, including writes
	// made by a run that later aborts.
	BytesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reposync",
		Subsystem: "executor",
		Name:      "bytes_published_total",
		Help:      "Bytes written to the destination across all publish operations.",
	}, labels)

	// PlanSetSize records the size of each Planner output set on the most
	// recent run, so a dashboard can show added/kept/deleted counts.
	PlanSetSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "reposync",
		Subsystem: "planner",
		Name:      "set_size",
		Help:      "Number of paths in the most recent plan, by set.",
	}, append(append([]string{}, labels...), "set"))
)
