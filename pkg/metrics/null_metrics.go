package metrics

import "time"

// NullMetrics is a no-op implementation of MetricsCollector, used when the
// HTTP endpoint is disabled and nothing would scrape the registry.
type NullMetrics struct{}

// NewNullMetrics creates a new NullMetrics instance
func NewNullMetrics() *NullMetrics {
	return &NullMetrics{}
}

func (nm *NullMetrics) ObserveCommand(mnemonic, result string, duration time.Duration) {}

func (nm *NullMetrics) IncrementPolls(group string) {}

func (nm *NullMetrics) IncrementPollErrors(group string) {}

func (nm *NullMetrics) IncrementMQTTPublishes() {}

func (nm *NullMetrics) IncrementMQTTErrors() {}

func (nm *NullMetrics) IncrementEvents(kind string) {}

func (nm *NullMetrics) SetEVSEStatus(online bool) {}

// Compile-time verification that NullMetrics implements MetricsCollector
var _ MetricsCollector = (*NullMetrics)(nil)
