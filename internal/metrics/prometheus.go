package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics
var (
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_total",
			Help: "Total number of queue messages processed by outcome",
		},
		[]string{"outcome"}, // delivered, already_delivered, dropped, failed
	)

	ProcessDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_process_duration_seconds",
			Help:    "Duration of a single pipeline pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	FailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_failures_total",
			Help: "Total number of failed pipeline passes by stage and retryability",
		},
		[]string{"stage", "transient"},
	)

	DecryptTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_decrypt_total",
			Help: "Total number of envelope decryptions by algorithm and result",
		},
		[]string{"algorithm", "result"},
	)
)

// Transport metrics
var (
	TransportSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_transport_sends_total",
			Help: "Total number of mail transport sends by transport and result",
		},
		[]string{"transport", "result"}, // sent, transient, permanent
	)

	TransportSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_transport_send_duration_seconds",
			Help:    "Duration of mail transport sends",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"transport"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

// Queue metrics
var (
	ReceiveBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_receive_batch_size",
			Help:    "Number of messages returned per queue receive",
			Buckets: []float64{0, 1, 2, 5, 10},
		},
	)

	ReceiveErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_receive_errors_total",
			Help: "Total number of failed queue receive calls",
		},
	)

	AcksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_acks_total",
			Help: "Total number of queue acknowledgments by result",
		},
		[]string{"result"}, // ok, error
	)

	DeadLetteredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_dead_lettered_total",
			Help: "Total number of permanently failed messages moved to the dead-letter queue",
		},
	)
)

// Dedupe metrics
var (
	DedupeLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_dedupe_lookups_total",
			Help: "Total number of dedupe lookups by result",
		},
		[]string{"result"}, // hit, miss, error
	)

	DedupePurgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_dedupe_purged_total",
			Help: "Total number of expired delivery records purged from the database",
		},
	)
)
