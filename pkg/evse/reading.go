package evse

import (
	"strconv"
	"time"

	"openevse-mqtt-bridge/pkg/rapi"
)

// Sensor describes one published value independent of its current state.
// Discovery is built from sensors, state publishing from readings.
type Sensor struct {
	Key         string
	Name        string
	Unit        string
	DeviceClass string
	StateClass  string
	Icon        string
	Precision   int
	Text        bool // state is a string rather than a number
	Diagnostic  bool
}

// Reading is a sensor with its current value
type Reading struct {
	Sensor
	Value      float64
	TextValue  string
	Attributes map[string]interface{}
}

// State formats the reading the way it is published
func (r Reading) State() string {
	if r.Text {
		return r.TextValue
	}
	return strconv.FormatFloat(r.Value, 'f', r.Precision, 64)
}

func (s Sensor) value(v float64) Reading {
	return Reading{Sensor: s, Value: v}
}

func (s Sensor) text(v string) Reading {
	return Reading{Sensor: s, TextValue: v}
}

// Snapshot is the latest decoded controller state across all groups.
// Updated holds the time each group last succeeded.
type Snapshot struct {
	Version      rapi.VersionInfo
	Status       rapi.Status
	Charge       rapi.ChargeReading
	Energy       rapi.Energy
	Temperatures rapi.Temperatures
	Capacity     rapi.CurrentCapacity
	Faults       rapi.FaultCounters
	Settings     rapi.Settings
	Timer        rapi.Timer
	Updated      map[string]time.Time
}

// Has reports whether group has produced data at least once
func (s Snapshot) Has(group string) bool {
	_, ok := s.Updated[group]
	return ok
}

// LastUpdate returns the most recent successful group execution
func (s Snapshot) LastUpdate() time.Time {
	var last time.Time
	for _, t := range s.Updated {
		if t.After(last) {
			last = t
		}
	}
	return last
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.Updated = make(map[string]time.Time, len(s.Updated))
	for k, v := range s.Updated {
		out.Updated[k] = v
	}
	return out
}
