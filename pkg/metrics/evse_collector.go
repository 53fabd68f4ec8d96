package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"openevse-mqtt-bridge/pkg/evse"
	"openevse-mqtt-bridge/pkg/rapi"
)

// SnapshotSource provides the latest controller state
type SnapshotSource interface {
	Snapshot() evse.Snapshot
}

// EVSECollector implements prometheus.Collector over the executor snapshot.
// It never talks to the controller itself; scraping only reads cached state.
type EVSECollector struct {
	source   SnapshotSource
	deviceID string
	maxAge   time.Duration
	now      func() time.Time

	info          *prometheus.Desc
	state         *prometheus.Desc
	pilotAmps     *prometheus.Desc
	current       *prometheus.Desc
	voltage       *prometheus.Desc
	power         *prometheus.Desc
	sessionEnergy *prometheus.Desc
	totalEnergy   *prometheus.Desc
	temperature   *prometheus.Desc
	faults        *prometheus.Desc
	scrapeSuccess *prometheus.Desc
}

// NewEVSECollector creates a collector; data older than maxAge is reported
// as a failed scrape
func NewEVSECollector(source SnapshotSource, deviceID string, maxAge time.Duration) *EVSECollector {
	device := []string{"device_id"}
	return &EVSECollector{
		source:   source,
		deviceID: deviceID,
		maxAge:   maxAge,
		now:      time.Now,
		info: prometheus.NewDesc(
			"openevse_info",
			"Controller firmware and RAPI protocol version",
			[]string{"device_id", "firmware", "protocol"},
			nil,
		),
		state: prometheus.NewDesc(
			"openevse_state",
			"Current EVSE state code ($GS)",
			[]string{"device_id", "state"},
			nil,
		),
		pilotAmps: prometheus.NewDesc(
			"openevse_pilot_amps",
			"Advertised pilot current in amps",
			device,
			nil,
		),
		current: prometheus.NewDesc(
			"openevse_charging_current_amps",
			"Measured charging current in amps",
			device,
			nil,
		),
		voltage: prometheus.NewDesc(
			"openevse_voltage_volts",
			"Measured supply voltage in volts",
			device,
			nil,
		),
		power: prometheus.NewDesc(
			"openevse_charging_power_watts",
			"Charging power derived from current and voltage",
			device,
			nil,
		),
		sessionEnergy: prometheus.NewDesc(
			"openevse_session_energy_wh",
			"Energy delivered in the current session in watt-hours",
			device,
			nil,
		),
		totalEnergy: prometheus.NewDesc(
			"openevse_total_energy_kwh",
			"Accumulated energy in kilowatt-hours",
			device,
			nil,
		),
		temperature: prometheus.NewDesc(
			"openevse_temperature_celsius",
			"Temperature by sensor; absent sensors are not exported",
			[]string{"device_id", "sensor"},
			nil,
		),
		faults: prometheus.NewDesc(
			"openevse_faults_total",
			"Fault trip counters by kind",
			[]string{"device_id", "kind"},
			nil,
		),
		scrapeSuccess: prometheus.NewDesc(
			"openevse_scrape_success",
			"Whether fresh controller state was available",
			device,
			nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *EVSECollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.info
	ch <- c.state
	ch <- c.pilotAmps
	ch <- c.current
	ch <- c.voltage
	ch <- c.power
	ch <- c.sessionEnergy
	ch <- c.totalEnergy
	ch <- c.temperature
	ch <- c.faults
	ch <- c.scrapeSuccess
}

// Collect implements prometheus.Collector
func (c *EVSECollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.source.Snapshot()

	last := snap.LastUpdate()
	if last.IsZero() || (c.maxAge > 0 && c.now().Sub(last) > c.maxAge) {
		ch <- prometheus.MustNewConstMetric(c.scrapeSuccess, prometheus.GaugeValue, 0, c.deviceID)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.scrapeSuccess, prometheus.GaugeValue, 1, c.deviceID)

	if snap.Version.Firmware != "" {
		ch <- prometheus.MustNewConstMetric(c.info, prometheus.GaugeValue, 1,
			c.deviceID, snap.Version.Firmware, snap.Version.Protocol)
	}

	if snap.Has("status") {
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue,
			float64(snap.Status.State), c.deviceID, snap.Status.State.String())
	}
	if snap.Has("capacity") {
		ch <- prometheus.MustNewConstMetric(c.pilotAmps, prometheus.GaugeValue, float64(snap.Capacity.PilotAmps), c.deviceID)
	} else if snap.Has("settings") {
		ch <- prometheus.MustNewConstMetric(c.pilotAmps, prometheus.GaugeValue, float64(snap.Settings.PilotAmps), c.deviceID)
	}
	if snap.Has("power") {
		ch <- prometheus.MustNewConstMetric(c.current, prometheus.GaugeValue, snap.Charge.Amps, c.deviceID)
		ch <- prometheus.MustNewConstMetric(c.voltage, prometheus.GaugeValue, snap.Charge.Volts, c.deviceID)
		ch <- prometheus.MustNewConstMetric(c.power, prometheus.GaugeValue, snap.Charge.Watts(), c.deviceID)
	}
	if snap.Has("energy") {
		ch <- prometheus.MustNewConstMetric(c.sessionEnergy, prometheus.GaugeValue, snap.Energy.SessionWh, c.deviceID)
		ch <- prometheus.MustNewConstMetric(c.totalEnergy, prometheus.CounterValue, snap.Energy.TotalKWh, c.deviceID)
	}
	if snap.Has("temperature") {
		for i, t := range snap.Temperatures {
			if t.Valid {
				ch <- prometheus.MustNewConstMetric(c.temperature, prometheus.GaugeValue, t.Celsius,
					c.deviceID, rapi.TemperatureSensor(i).String())
			}
		}
	}
	if snap.Has("faults") {
		ch <- prometheus.MustNewConstMetric(c.faults, prometheus.CounterValue, float64(snap.Faults.GFCI), c.deviceID, "gfci")
		ch <- prometheus.MustNewConstMetric(c.faults, prometheus.CounterValue, float64(snap.Faults.NoGround), c.deviceID, "no_ground")
		ch <- prometheus.MustNewConstMetric(c.faults, prometheus.CounterValue, float64(snap.Faults.StuckRelay), c.deviceID, "stuck_relay")
	}
}
