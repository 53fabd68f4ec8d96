package evse

import (
	"context"
	"fmt"

	"openevse-mqtt-bridge/pkg/rapi"
)

// GroupStrategy is one poll group: a fixed set of RAPI queries and the
// sensors derived from them
type GroupStrategy interface {
	Name() string
	Sensors() []Sensor
	// Poll runs the queries, stores the decoded values in snap and
	// returns the readings to publish
	Poll(ctx context.Context, client *rapi.Client, snap *Snapshot) ([]Reading, error)
}

type pollFunc func(ctx context.Context, client *rapi.Client, snap *Snapshot) ([]Reading, error)

type group struct {
	name    string
	sensors []Sensor
	poll    pollFunc
}

func (g *group) Name() string      { return g.name }
func (g *group) Sensors() []Sensor { return g.sensors }

func (g *group) Poll(ctx context.Context, client *rapi.Client, snap *Snapshot) ([]Reading, error) {
	return g.poll(ctx, client, snap)
}

var (
	sensorState       = Sensor{Key: "state", Name: "State", Text: true, Icon: "mdi:ev-station"}
	sensorStateCode   = Sensor{Key: "state_code", Name: "State Code", Diagnostic: true}
	sensorPilotState  = Sensor{Key: "pilot_state", Name: "Pilot State", Text: true, Diagnostic: true}
	sensorSessionTime = Sensor{Key: "session_time", Name: "Session Time", Unit: "s", DeviceClass: "duration", StateClass: "measurement"}

	sensorCurrent = Sensor{Key: "current", Name: "Charging Current", Unit: "A", DeviceClass: "current", StateClass: "measurement", Precision: 2}
	sensorVoltage = Sensor{Key: "voltage", Name: "Voltage", Unit: "V", DeviceClass: "voltage", StateClass: "measurement", Precision: 1}
	sensorPower   = Sensor{Key: "power", Name: "Charging Power", Unit: "W", DeviceClass: "power", StateClass: "measurement"}

	sensorSessionEnergy = Sensor{Key: "session_energy", Name: "Session Energy", Unit: "Wh", DeviceClass: "energy", StateClass: "total", Precision: 1}
	sensorTotalEnergy   = Sensor{Key: "total_energy", Name: "Total Energy", Unit: "kWh", DeviceClass: "energy", StateClass: "total_increasing", Precision: 3}

	sensorMinCurrent       = Sensor{Key: "min_current", Name: "Minimum Current", Unit: "A", DeviceClass: "current", Diagnostic: true}
	sensorMaxHWCurrent     = Sensor{Key: "max_hw_current", Name: "Hardware Current Limit", Unit: "A", DeviceClass: "current", Diagnostic: true}
	sensorPilotCurrent     = Sensor{Key: "pilot_current", Name: "Pilot Current", Unit: "A", DeviceClass: "current", StateClass: "measurement"}
	sensorMaxConfigCurrent = Sensor{Key: "max_configured_current", Name: "Configured Current Limit", Unit: "A", DeviceClass: "current", Diagnostic: true}
	sensorGFCICount        = Sensor{Key: "gfci_count", Name: "GFCI Trips", StateClass: "total_increasing", Icon: "mdi:alert", Diagnostic: true}
	sensorNoGroundCount    = Sensor{Key: "no_ground_count", Name: "No Ground Trips", StateClass: "total_increasing", Icon: "mdi:alert", Diagnostic: true}
	sensorStuckRelayCount  = Sensor{Key: "stuck_relay_count", Name: "Stuck Relay Trips", StateClass: "total_increasing", Icon: "mdi:alert", Diagnostic: true}
	sensorPilotSetting     = Sensor{Key: "pilot_setting", Name: "Current Setting", Unit: "A", DeviceClass: "current"}
	sensorSettingsFlags    = Sensor{Key: "settings_flags", Name: "Settings Flags", Text: true, Diagnostic: true}
	sensorTimerStart       = Sensor{Key: "timer_start", Name: "Timer Start", Text: true, Icon: "mdi:timer-outline"}
	sensorTimerEnd         = Sensor{Key: "timer_end", Name: "Timer End", Text: true, Icon: "mdi:timer-off-outline"}
)

func temperatureSensor(s rapi.TemperatureSensor) Sensor {
	return Sensor{
		Key:         "temp_" + s.String(),
		Name:        "Temperature " + s.String(),
		Unit:        "°C",
		DeviceClass: "temperature",
		StateClass:  "measurement",
		Precision:   1,
	}
}

// DefaultGroups returns every group the bridge knows, keyed by name
func DefaultGroups() map[string]GroupStrategy {
	groups := []GroupStrategy{
		&group{name: "status", sensors: []Sensor{sensorState, sensorStateCode, sensorPilotState, sensorSessionTime}, poll: pollStatus},
		&group{name: "power", sensors: []Sensor{sensorCurrent, sensorVoltage, sensorPower}, poll: pollPower},
		&group{name: "energy", sensors: []Sensor{sensorSessionEnergy, sensorTotalEnergy}, poll: pollEnergy},
		&group{name: "temperature", sensors: []Sensor{
			temperatureSensor(rapi.SensorDS3231),
			temperatureSensor(rapi.SensorMCP9808),
			temperatureSensor(rapi.SensorTMP007),
		}, poll: pollTemperature},
		&group{name: "capacity", sensors: []Sensor{sensorMinCurrent, sensorMaxHWCurrent, sensorPilotCurrent, sensorMaxConfigCurrent}, poll: pollCapacity},
		&group{name: "faults", sensors: []Sensor{sensorGFCICount, sensorNoGroundCount, sensorStuckRelayCount}, poll: pollFaults},
		&group{name: "settings", sensors: []Sensor{sensorPilotSetting, sensorSettingsFlags, sensorTimerStart, sensorTimerEnd}, poll: pollSettings},
	}

	m := make(map[string]GroupStrategy, len(groups))
	for _, g := range groups {
		m[g.Name()] = g
	}
	return m
}

func pollStatus(ctx context.Context, client *rapi.Client, snap *Snapshot) ([]Reading, error) {
	st, err := client.GetStatus(ctx)
	if err != nil {
		return nil, err
	}
	snap.Status = st

	state := sensorState.text(st.State.String())
	state.Attributes = map[string]interface{}{
		"code":  int(st.State),
		"fault": st.State.IsFault(),
		"flags": st.VFlags.Names(),
	}
	return []Reading{
		state,
		sensorStateCode.value(float64(st.State)),
		sensorPilotState.text(st.PilotState.String()),
		sensorSessionTime.value(st.SessionTime.Seconds()),
	}, nil
}

func pollPower(ctx context.Context, client *rapi.Client, snap *Snapshot) ([]Reading, error) {
	r, err := client.GetChargeCurrentAndVoltage(ctx)
	if err != nil {
		return nil, err
	}
	snap.Charge = r
	return []Reading{
		sensorCurrent.value(r.Amps),
		sensorVoltage.value(r.Volts),
		sensorPower.value(r.Watts()),
	}, nil
}

func pollEnergy(ctx context.Context, client *rapi.Client, snap *Snapshot) ([]Reading, error) {
	e, err := client.GetEnergy(ctx)
	if err != nil {
		return nil, err
	}
	snap.Energy = e
	return []Reading{
		sensorSessionEnergy.value(e.SessionWh),
		sensorTotalEnergy.value(e.TotalKWh),
	}, nil
}

func pollTemperature(ctx context.Context, client *rapi.Client, snap *Snapshot) ([]Reading, error) {
	temps, err := client.GetTemperature(ctx)
	if err != nil {
		return nil, err
	}
	snap.Temperatures = temps

	// absent sensors are not published
	readings := make([]Reading, 0, len(temps))
	for i, t := range temps {
		if t.Valid {
			readings = append(readings, temperatureSensor(rapi.TemperatureSensor(i)).value(t.Celsius))
		}
	}
	return readings, nil
}

func pollCapacity(ctx context.Context, client *rapi.Client, snap *Snapshot) ([]Reading, error) {
	c, err := client.GetCurrentCapacity(ctx)
	if err != nil {
		return nil, err
	}
	snap.Capacity = c
	return []Reading{
		sensorMinCurrent.value(float64(c.MinAmps)),
		sensorMaxHWCurrent.value(float64(c.MaxHardwareAmps)),
		sensorPilotCurrent.value(float64(c.PilotAmps)),
		sensorMaxConfigCurrent.value(float64(c.MaxConfiguredAmps)),
	}, nil
}

func pollFaults(ctx context.Context, client *rapi.Client, snap *Snapshot) ([]Reading, error) {
	f, err := client.GetFaultCounters(ctx)
	if err != nil {
		return nil, err
	}
	snap.Faults = f
	return []Reading{
		sensorGFCICount.value(float64(f.GFCI)),
		sensorNoGroundCount.value(float64(f.NoGround)),
		sensorStuckRelayCount.value(float64(f.StuckRelay)),
	}, nil
}

func pollSettings(ctx context.Context, client *rapi.Client, snap *Snapshot) ([]Reading, error) {
	s, err := client.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	timer, err := client.GetTimer(ctx)
	if err != nil {
		return nil, err
	}
	snap.Settings = s
	snap.Timer = timer

	start, end := "off", "off"
	if timer.Enabled() {
		start = fmt.Sprintf("%02d:%02d", timer.StartHour, timer.StartMinute)
		end = fmt.Sprintf("%02d:%02d", timer.EndHour, timer.EndMinute)
	}
	return []Reading{
		sensorPilotSetting.value(float64(s.PilotAmps)),
		sensorSettingsFlags.text(fmt.Sprintf("0x%04X", s.Flags)),
		sensorTimerStart.text(start),
		sensorTimerEnd.text(end),
	}, nil
}
