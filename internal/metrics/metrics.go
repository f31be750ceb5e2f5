// Package metrics holds the Prometheus collectors. Labels stay
// low-cardinality: never entry ids, chat ids or targets.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DispatchTicks counts dispatch ticks by outcome:
	// ran, empty, skipped_not_ready, skipped_busy, store_error.
	DispatchTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wasched_dispatch_ticks_total",
			Help: "Dispatch loop ticks partitioned by outcome",
		},
		[]string{"outcome"},
	)

	// DispatchSends counts per-entry results: sent, failed, deduped, mark_failed.
	DispatchSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wasched_dispatch_sends_total",
			Help: "Scheduled entries processed by the dispatch loop",
		},
		[]string{"result"},
	)

	DispatchSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wasched_dispatch_send_duration_seconds",
			Help:    "Latency of a single backend send",
			Buckets: prometheus.DefBuckets,
		},
	)

	DueBacklog = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wasched_dispatch_due_entries",
			Help: "Due entries seen by the last dispatch tick",
		},
	)

	// EntriesCreated is partitioned by source: wizard, command.
	EntriesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wasched_entries_created_total",
			Help: "Scheduled entries created",
		},
		[]string{"source"},
	)

	EntriesCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wasched_entries_cancelled_total",
			Help: "Scheduled entries cancelled by their owner",
		},
	)

	WizardSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wasched_wizard_sessions_active",
			Help: "Conversations currently inside a wizard",
		},
	)

	// Commands counts routed chat requests by route and status (ok, error, denied).
	Commands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wasched_commands_total",
			Help: "Chat commands and callbacks handled",
		},
		[]string{"route", "status"},
	)

	BackendReady = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wasched_backend_ready",
			Help: "1 when the messaging backend reported ready at the last check",
		},
	)
)

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

// SetBackendReady records the latest readiness probe.
func SetBackendReady(v bool) { BackendReady.Set(boolGauge(v)) }
