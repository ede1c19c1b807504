package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Telemetry ingestion
	PacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokengate_telemetry_packets_total",
			Help: "Telemetry packets received, by source and result",
		},
		[]string{"source", "result"},
	)

	IngestQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tokengate_ingest_queue_depth",
			Help: "Current depth of the telemetry queue",
		},
	)

	IngestQueueCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tokengate_ingest_queue_capacity",
			Help: "Maximum capacity of the telemetry queue",
		},
	)

	// Registry and verification
	ActiveNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tokengate_active_nodes",
			Help: "Nodes seen within the inactivity window",
		},
	)

	NodesEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tokengate_nodes_evicted_total",
			Help: "Nodes evicted for inactivity",
		},
	)

	TokenTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokengate_token_transitions_total",
			Help: "Physical token state transitions",
		},
		[]string{"status"},
	)

	TokensPurged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokengate_tokens_purged_total",
			Help: "Token records removed by cleanup, by pool",
		},
		[]string{"pool"},
	)

	// Gate and transfers
	GateChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokengate_gate_checks_total",
			Help: "Security gate check results",
		},
		[]string{"code", "passed"},
	)

	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokengate_transfers_total",
			Help: "Transfer attempts by outcome",
		},
		[]string{"outcome"},
	)

	LedgerDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tokengate_ledger_duration_seconds",
			Help:    "Duration of ledger transfer calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokengate_ratelimit_hits_total",
			Help: "Transfers rejected by the per-recipient limit",
		},
		[]string{"backend"},
	)

	// Audit
	AuditEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokengate_audit_entries_total",
			Help: "Audit entries written, by sink and result",
		},
		[]string{"sink", "result"},
	)

	AuditDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tokengate_audit_dropped_total",
			Help: "Audit entries dropped because the queue was full",
		},
	)

	// Events
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokengate_events_published_total",
			Help: "Lifecycle events published, by subject and result",
		},
		[]string{"subject", "result"},
	)

	// Market
	MarketHealthScore = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tokengate_market_health_score",
			Help: "Current market health score (0-100)",
		},
	)

	MarketFetchErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tokengate_market_fetch_errors_total",
			Help: "Failed market data fetches",
		},
	)

	// HTTP
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokengate_http_requests_total",
			Help: "HTTP API requests by route and status",
		},
		[]string{"route", "status"},
	)

	// Scheduler
	TaskRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokengate_scheduler_task_runs_total",
			Help: "Scheduled task executions",
		},
		[]string{"task"},
	)
)
