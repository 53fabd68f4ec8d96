package metrics

import "time"

// MetricsCollector defines the interface for collecting bridge metrics.
//
// Implementations:
//   - PrometheusMetrics: client_golang counters, gauges and histograms on a private registry
//   - NullMetrics: no-op implementation when metrics are disabled
type MetricsCollector interface {
	// ObserveCommand records one RAPI command round trip.
	// result is a rapi.ResultCode string ("OK", "NK", ...) or "FAILURE" for channel errors.
	ObserveCommand(mnemonic, result string, duration time.Duration)

	// IncrementPolls counts a successfully executed poll group
	IncrementPolls(group string)

	// IncrementPollErrors counts a failed poll group
	IncrementPollErrors(group string)

	// IncrementMQTTPublishes increments the counter for successful MQTT publish operations
	IncrementMQTTPublishes()

	// IncrementMQTTErrors increments the counter for failed MQTT publish operations
	IncrementMQTTErrors()

	// IncrementEvents counts an asynchronous controller notification by kind
	IncrementEvents(kind string)

	// SetEVSEStatus sets whether the controller is currently reachable
	SetEVSEStatus(online bool)
}

// Compile-time verification that PrometheusMetrics implements MetricsCollector
var _ MetricsCollector = (*PrometheusMetrics)(nil)
