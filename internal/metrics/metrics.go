package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Database
	// ============================================
	DBConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "autopay_db_connection_status",
		Help: "Database connection status (1=healthy, 0=unhealthy)",
	})

	DBConnectionOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "autopay_db_connection_open",
		Help: "Number of open database connections",
	})

	// ============================================
	// Intent lifecycle
	// ============================================
	IntentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopay_intents_created_total",
			Help: "Total number of payment intents created",
		},
		[]string{"method"},
	)

	IntentsReplaced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopay_intents_replaced_total",
			Help: "Total number of pending intents cancelled by a newer request",
		},
		[]string{"method"},
	)

	IntentsCancelled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopay_intents_cancelled_total",
			Help: "Total number of intents cancelled by the user",
		},
		[]string{"method"},
	)

	IntentsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autopay_intents_expired_total",
		Help: "Total number of intents moved to expired by the sweep",
	})

	PendingIntents = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "autopay_pending_intents",
			Help: "Number of active pending intents",
		},
		[]string{"method"},
	)

	// ============================================
	// Matching and credit
	// ============================================
	DepositsMatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopay_deposits_matched_total",
			Help: "Total number of deposits matched to an intent",
		},
		[]string{"source", "lookup"},
	)

	DepositsObserved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopay_deposits_observed_total",
			Help: "Total number of new deposits journaled by polling",
		},
		[]string{"source"},
	)

	VerificationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopay_verification_outcomes_total",
			Help: "verify_now outcomes by method and result kind",
		},
		[]string{"method", "outcome"},
	)

	CreditsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopay_credits_applied_total",
			Help: "Total number of ledger credits written",
		},
		[]string{"method"},
	)

	CreditFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autopay_credit_failures_total",
		Help: "Total number of credit attempts that left the intent matched",
	})

	// ============================================
	// Deposit sources
	// ============================================
	SourceRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autopay_source_request_duration_seconds",
			Help:    "Deposit source API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source", "endpoint"},
	)

	SourceRequestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopay_source_request_errors_total",
			Help: "Total number of failed deposit source API requests",
		},
		[]string{"source", "endpoint"},
	)

	// ============================================
	// Scheduler
	// ============================================
	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopay_job_runs_total",
			Help: "Scheduler job runs by job and result",
		},
		[]string{"job", "result"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autopay_job_duration_seconds",
			Help:    "Scheduler job duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	// ============================================
	// NATS and websocket
	// ============================================
	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "autopay_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopay_events_published_total",
			Help: "Payment events published by transport and result",
		},
		[]string{"transport", "result"},
	)

	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "autopay_websocket_connections",
		Help: "Number of connected websocket clients",
	})

	// ============================================
	// HTTP
	// ============================================
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopay_http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autopay_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)
