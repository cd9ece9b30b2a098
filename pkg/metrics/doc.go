/*
Package metrics provides Prometheus metrics collection and exposition for
keyguardd, plus a small component health tracker exposed over HTTP
alongside the Prometheus scrape endpoint.

# Architecture

All metrics are registered at package init against the default Prometheus
registry and exposed for scraping via Handler(). A Collector polls the key
storage engine on a fixed interval to keep the gauges current; counters and
histograms are updated inline by the broker, the daemon and
SecurityReporter when they observe the corresponding event. The DER parser
packages do not update any metric themselves.

# Metric Categories

Slots: SlotsTotal, OpenTransactions — point-in-time gauges sampled by
Collector. OpenContainers is registered, but no component sets it.

Security: SecurityEventsTotal (by operation, outcome), AccessViolationsTotal
(by operation) — incremented by metrics.SecurityReporter, which implements
keystore.SecurityReporter and is wired in when server.idsmReporting is set.

Connections: ActiveConnections, ConnectionsRejectedTotal — daemon accept
loop occupancy.

RPC: RPCRequestsTotal (by task, outcome), RPCRequestDuration (by task) —
broker dispatch instrumentation.

Storage operations: SaveCopyDuration, ClearDuration,
TransactionCommitDuration, TransactionsRolledBackTotal.

Parser: DerParseErrorsTotal (by reason) — ASN.1/DER decode failures.

# Component health

RegisterComponent/UpdateComponent record whether a named subsystem
("keystore", "broker", "daemon") is healthy; GetHealth/GetReadiness compute
an aggregate status, and HealthHandler/ReadyHandler/LivenessHandler expose
them as HTTP endpoints cmd/keyguardd serves alongside /metrics.

# Usage

	import "github.com/keyguard/keyguardd/pkg/metrics"

	metrics.SlotsTotal.Set(42)
	metrics.SecurityEventsTotal.WithLabelValues("Write", "denied").Inc()

	timer := metrics.NewTimer()
	// ... perform a SaveCopy ...
	timer.ObserveDuration(metrics.SaveCopyDuration)
*/
package metrics
