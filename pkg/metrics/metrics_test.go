package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openevse-mqtt-bridge/pkg/evse"
	"openevse-mqtt-bridge/pkg/rapi"
)

// TestMetricsCollectorInterface verifies both implementations satisfy MetricsCollector
func TestMetricsCollectorInterface(t *testing.T) {
	collectors := map[string]MetricsCollector{
		"PrometheusMetrics": NewPrometheusMetrics(prometheus.NewRegistry()),
		"NullMetrics":       NewNullMetrics(),
	}
	for name, mc := range collectors {
		t.Run(name, func(t *testing.T) {
			mc.ObserveCommand("$GS", "OK", 20*time.Millisecond)
			mc.IncrementPolls("status")
			mc.IncrementPollErrors("energy")
			mc.IncrementMQTTPublishes()
			mc.IncrementMQTTErrors()
			mc.IncrementEvents("state")
			mc.SetEVSEStatus(true)
		})
	}
}

func TestPrometheusMetricsRecording(t *testing.T) {
	reg := prometheus.NewRegistry()
	pm := NewPrometheusMetrics(reg)

	pm.ObserveCommand("$GS", "OK", 10*time.Millisecond)
	pm.ObserveCommand("$GS", "OK", 30*time.Millisecond)
	pm.ObserveCommand("$SC", "NK", 15*time.Millisecond)
	pm.IncrementPolls("status")
	pm.IncrementPollErrors("status")
	pm.IncrementPollErrors("status")
	pm.IncrementMQTTPublishes()
	pm.IncrementMQTTErrors()
	pm.IncrementEvents("boot")
	pm.SetEVSEStatus(true)
	pm.SetEVSEStatus(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(pm.commandsTotal.WithLabelValues("$GS", "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.commandsTotal.WithLabelValues("$SC", "NK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.pollsTotal.WithLabelValues("status", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(pm.pollsTotal.WithLabelValues("status", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.mqttPublishes))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.mqttErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.eventsTotal.WithLabelValues("boot")))
	assert.Equal(t, 0.0, testutil.ToFloat64(pm.evseUp))

	assert.Equal(t, 2, testutil.CollectAndCount(pm.commandDuration))
}

func TestNewRegistryHasRuntimeCollectors(t *testing.T) {
	reg := NewRegistry()
	NewPrometheusMetrics(reg)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["go_goroutines"])
	assert.NotNil(t, Handler(reg))
}

type staticSource struct {
	snap evse.Snapshot
}

func (s staticSource) Snapshot() evse.Snapshot { return s.snap }

func TestEVSECollector(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	snap := evse.Snapshot{
		Version:      rapi.VersionInfo{Firmware: "7.1.3", Protocol: "5.0.1"},
		Status:       rapi.Status{State: rapi.StateCharging},
		Charge:       rapi.ChargeReading{Amps: 16, Volts: 240},
		Energy:       rapi.Energy{SessionWh: 1500, TotalKWh: 812.5},
		Temperatures: rapi.Temperatures{{Celsius: 31.5, Valid: true}, {}, {Celsius: 28, Valid: true}},
		Capacity:     rapi.CurrentCapacity{PilotAmps: 32},
		Faults:       rapi.FaultCounters{GFCI: 2},
		Updated: map[string]time.Time{
			"status":      now,
			"power":       now,
			"energy":      now,
			"temperature": now,
			"capacity":    now,
			"faults":      now,
		},
	}

	c := NewEVSECollector(staticSource{snap}, "garage", time.Minute)
	c.now = func() time.Time { return now.Add(10 * time.Second) }

	expected := `
# HELP openevse_charging_power_watts Charging power derived from current and voltage
# TYPE openevse_charging_power_watts gauge
openevse_charging_power_watts{device_id="garage"} 3840
# HELP openevse_scrape_success Whether fresh controller state was available
# TYPE openevse_scrape_success gauge
openevse_scrape_success{device_id="garage"} 1
# HELP openevse_state Current EVSE state code ($GS)
# TYPE openevse_state gauge
openevse_state{device_id="garage",state="Charging"} 3
# HELP openevse_temperature_celsius Temperature by sensor; absent sensors are not exported
# TYPE openevse_temperature_celsius gauge
openevse_temperature_celsius{device_id="garage",sensor="ds3231"} 31.5
openevse_temperature_celsius{device_id="garage",sensor="tmp007"} 28
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"openevse_charging_power_watts", "openevse_scrape_success", "openevse_state", "openevse_temperature_celsius")
	require.NoError(t, err)

	// info, state, pilot, current, voltage, power, 2x energy, 2x temperature, 3x faults, scrape
	assert.Equal(t, 14, testutil.CollectAndCount(c))
}

func TestEVSECollectorStaleSnapshot(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	snap := evse.Snapshot{Updated: map[string]time.Time{"status": now}}

	c := NewEVSECollector(staticSource{snap}, "garage", time.Minute)
	c.now = func() time.Time { return now.Add(5 * time.Minute) }
	assert.Equal(t, 1, testutil.CollectAndCount(c))

	empty := NewEVSECollector(staticSource{}, "garage", 0)
	assert.Equal(t, 1, testutil.CollectAndCount(empty, "openevse_scrape_success"))
}

func TestPerformanceTracker(t *testing.T) {
	pt := NewPerformanceTracker(time.Hour)
	pt.RecordSuccess()
	pt.RecordSuccess()
	pt.RecordSuccess()
	pt.RecordError("energy")

	stats := pt.GetStats()
	assert.Equal(t, 3, stats.SuccessfulPolls)
	assert.Equal(t, 1, stats.FailedPolls)
	assert.InDelta(t, 75.0, stats.SuccessRate, 1e-9)
	assert.InDelta(t, 25.0, stats.ErrorRate, 1e-9)

	// interval not elapsed: counters survive
	pt.PrintSummaryIfNeeded()
	assert.Equal(t, 4, pt.GetTotalCount())

	pt.Reset()
	assert.Equal(t, 0, pt.GetTotalCount())
	assert.Equal(t, "a=1, b=2", formatGroupCounts(map[string]int{"b": 2, "a": 1}))
}
