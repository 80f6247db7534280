package watcher

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RecordsTotal counts telemetry records ingested per device.
	RecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doorguard_records_total",
			Help: "Telemetry records ingested.",
		},
		[]string{"ident"},
	)

	EvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doorguard_evaluations_total",
			Help: "Condition evaluations run.",
		},
		[]string{"ident"},
	)

	// EvaluationsDropped counts ticks skipped because a dispatch was still in flight.
	EvaluationsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doorguard_evaluations_dropped_total",
			Help: "Evaluation ticks dropped while a dispatch was in flight.",
		},
		[]string{"ident"},
	)

	DispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doorguard_dispatch_total",
			Help: "Commands sent to devices.",
		},
		[]string{"command", "result"}, // result: success/failed/unresolved
	)

	DispatchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "doorguard_dispatch_latency_seconds",
			Help:    "Latency of command requests to the telematics provider.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "doorguard_active_sessions",
			Help: "Devices currently being watched.",
		},
	)

	FetchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "doorguard_fetch_errors_total",
			Help: "Failed telemetry fetches.",
		},
		[]string{"ident"},
	)
)

func init() {
	prometheus.MustRegister(RecordsTotal)
	prometheus.MustRegister(EvaluationsTotal)
	prometheus.MustRegister(EvaluationsDropped)
	prometheus.MustRegister(DispatchTotal)
	prometheus.MustRegister(DispatchLatency)
	prometheus.MustRegister(ActiveSessions)
	prometheus.MustRegister(FetchErrors)
}
