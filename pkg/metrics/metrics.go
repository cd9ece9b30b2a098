package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Slot metrics
	SlotsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "keyguardd_slots_total",
			Help: "Total number of key slots known to the key storage engine",
		},
	)

	OpenContainers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "keyguardd_open_containers",
			Help: "Number of open owner/user containers by kind",
		},
		[]string{"kind"},
	)

	OpenTransactions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "keyguardd_open_transactions",
			Help: "Number of in-flight storage transactions",
		},
	)

	// Security metrics
	SecurityEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyguardd_security_events_total",
			Help: "Total number of security events reported by the key storage engine, by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	AccessViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyguardd_access_violations_total",
			Help: "Total number of access control violations by requested operation",
		},
		[]string{"operation"},
	)

	// Connection metrics
	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "keyguardd_active_connections",
			Help: "Number of currently connected sessions",
		},
	)

	ConnectionsRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "keyguardd_connections_rejected_total",
			Help: "Total number of connections rejected for exceeding the connection limit",
		},
	)

	// RPC metrics
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyguardd_rpc_requests_total",
			Help: "Total number of RPC requests by basic task and outcome",
		},
		[]string{"task", "outcome"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "keyguardd_rpc_request_duration_seconds",
			Help:    "RPC request duration in seconds by basic task",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)

	// Storage operation metrics
	SaveCopyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "keyguardd_save_copy_duration_seconds",
			Help:    "Time taken to complete a SaveCopy call in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ClearDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "keyguardd_clear_duration_seconds",
			Help:    "Time taken to complete a Clear call in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TransactionCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "keyguardd_transaction_commit_duration_seconds",
			Help:    "Time taken to commit a storage transaction in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TransactionsRolledBackTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "keyguardd_transactions_rolled_back_total",
			Help: "Total number of storage transactions that were rolled back",
		},
	)

	// Parser metrics
	DerParseErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyguardd_der_parse_errors_total",
			Help: "Total number of ASN.1/DER parse failures by reason",
		},
		[]string{"reason"},
	)
)

func init() {
	// Register slot and transaction metrics
	prometheus.MustRegister(SlotsTotal)
	prometheus.MustRegister(OpenContainers)
	prometheus.MustRegister(OpenTransactions)

	// Register security metrics
	prometheus.MustRegister(SecurityEventsTotal)
	prometheus.MustRegister(AccessViolationsTotal)

	// Register connection metrics
	prometheus.MustRegister(ActiveConnections)
	prometheus.MustRegister(ConnectionsRejectedTotal)

	// Register RPC metrics
	prometheus.MustRegister(RPCRequestsTotal)
	prometheus.MustRegister(RPCRequestDuration)

	// Register storage operation latency metrics
	prometheus.MustRegister(SaveCopyDuration)
	prometheus.MustRegister(ClearDuration)
	prometheus.MustRegister(TransactionCommitDuration)
	prometheus.MustRegister(TransactionsRolledBackTotal)

	// Register parser metrics
	prometheus.MustRegister(DerParseErrorsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
