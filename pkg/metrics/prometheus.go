package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "openevse_bridge"

// NewRegistry creates a private registry with the Go and process collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the /metrics handler for reg
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// PrometheusMetrics tracks bridge metrics with client_golang
type PrometheusMetrics struct {
	commandsTotal   *prometheus.CounterVec   // labels: mnemonic, result
	commandDuration *prometheus.HistogramVec // labels: mnemonic
	pollsTotal      *prometheus.CounterVec   // labels: group, result
	mqttPublishes   prometheus.Counter
	mqttErrors      prometheus.Counter
	eventsTotal     *prometheus.CounterVec // labels: kind
	evseUp          prometheus.Gauge
}

// NewPrometheusMetrics creates the bridge metrics and registers them on reg
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rapi_commands_total",
			Help:      "RAPI commands sent, by mnemonic and result.",
		}, []string{"mnemonic", "result"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rapi_command_duration_seconds",
			Help:      "RAPI command round-trip time.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"mnemonic"}),
		pollsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_groups_total",
			Help:      "Poll group executions, by group and result.",
		}, []string{"group", "result"}),
		mqttPublishes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_publishes_total",
			Help:      "Successful MQTT publish operations.",
		}),
		mqttErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_errors_total",
			Help:      "Failed MQTT publish operations.",
		}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rapi_events_total",
			Help:      "Asynchronous controller notifications, by kind.",
		}, []string{"kind"}),
		evseUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "evse_up",
			Help:      "Whether the controller is answering RAPI commands (1 = online).",
		}),
	}
	reg.MustRegister(
		m.commandsTotal,
		m.commandDuration,
		m.pollsTotal,
		m.mqttPublishes,
		m.mqttErrors,
		m.eventsTotal,
		m.evseUp,
	)
	return m
}

// ObserveCommand records the command result and its latency
func (pm *PrometheusMetrics) ObserveCommand(mnemonic, result string, duration time.Duration) {
	pm.commandsTotal.WithLabelValues(mnemonic, result).Inc()
	pm.commandDuration.WithLabelValues(mnemonic).Observe(duration.Seconds())
}

// IncrementPolls counts a successful poll group
func (pm *PrometheusMetrics) IncrementPolls(group string) {
	pm.pollsTotal.WithLabelValues(group, "ok").Inc()
}

// IncrementPollErrors counts a failed poll group
func (pm *PrometheusMetrics) IncrementPollErrors(group string) {
	pm.pollsTotal.WithLabelValues(group, "error").Inc()
}

// IncrementMQTTPublishes increments the MQTT publish counter
func (pm *PrometheusMetrics) IncrementMQTTPublishes() {
	pm.mqttPublishes.Inc()
}

// IncrementMQTTErrors increments the MQTT error counter
func (pm *PrometheusMetrics) IncrementMQTTErrors() {
	pm.mqttErrors.Inc()
}

// IncrementEvents counts a controller notification
func (pm *PrometheusMetrics) IncrementEvents(kind string) {
	pm.eventsTotal.WithLabelValues(kind).Inc()
}

// SetEVSEStatus sets the controller status (1 = online, 0 = offline)
func (pm *PrometheusMetrics) SetEVSEStatus(online bool) {
	if online {
		pm.evseUp.Set(1)
	} else {
		pm.evseUp.Set(0)
	}
}
