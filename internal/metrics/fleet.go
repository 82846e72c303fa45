package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_sync_requests_total",
			Help: "Agent pull requests by resource and outcome (modified, not_modified)",
		},
		[]string{"resource", "outcome"},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_cache_errors_total",
			Help: "KV cache failures that were degraded instead of surfaced, by operation",
		},
		[]string{"op"},
	)

	TrafficBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_traffic_ingested_bytes_total",
			Help: "Traffic bytes reported by agents, by direction",
		},
		[]string{"direction"},
	)

	DevicesKicked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleet_presence_kicked_total",
			Help: "Principals returned in a kick list for exceeding their device limit",
		},
	)

	HealthTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_health_transitions_total",
			Help: "Node status transitions made by the health monitor",
		},
		[]string{"to"},
	)

	Selections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_selections_total",
			Help: "Node selections by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	AggregatedKeys = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_aggregated_keys_total",
			Help: "Counter keys drained into durable buckets, by entity type",
		},
		[]string{"entity"},
	)

	AggregatedBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_aggregated_bytes_total",
			Help: "Bytes drained into durable buckets, by entity type and direction",
		},
		[]string{"entity", "direction"},
	)

	PrunedRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_pruned_rows_total",
			Help: "Rows deleted by the retention job, by table",
		},
		[]string{"table"},
	)

	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_job_runs_total",
			Help: "Scheduled job runs by job and result",
		},
		[]string{"job", "result"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleet_job_duration_seconds",
			Help:    "Scheduled job run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)
)
