package rapi

import (
	"strings"
	"time"
)

// EVSEState is the controller (or pilot) state reported by $GS and async events
type EVSEState int

const (
	StateInvalid           EVSEState = -1
	StateStarting          EVSEState = 0
	StateNotConnected      EVSEState = 1
	StateConnected         EVSEState = 2
	StateCharging          EVSEState = 3
	StateVentRequired      EVSEState = 4
	StateDiodeCheckFailed  EVSEState = 5
	StateGFIFault          EVSEState = 6
	StateNoEarthGround     EVSEState = 7
	StateStuckRelay        EVSEState = 8
	StateGFISelfTestFailed EVSEState = 9
	StateOverTemperature   EVSEState = 10
	StateOverCurrent       EVSEState = 11
	StateSleeping          EVSEState = 254
	StateDisabled          EVSEState = 255
)

// String returns the display name used on the controller UI
func (s EVSEState) String() string {
	switch s {
	case StateStarting:
		return "Starting"
	case StateNotConnected:
		return "Not Connected"
	case StateConnected:
		return "EV Connected"
	case StateCharging:
		return "Charging"
	case StateVentRequired:
		return "Vent Required"
	case StateDiodeCheckFailed:
		return "Diode Check Failed"
	case StateGFIFault:
		return "GFCI Fault"
	case StateNoEarthGround:
		return "No Earth Ground"
	case StateStuckRelay:
		return "Stuck Relay"
	case StateGFISelfTestFailed:
		return "GFCI Self Test Failed"
	case StateOverTemperature:
		return "Over Temperature"
	case StateOverCurrent:
		return "Over Current"
	case StateSleeping:
		return "Sleeping"
	case StateDisabled:
		return "Disabled"
	default:
		return "Invalid"
	}
}

// IsFault reports whether the state is one of the error states (4..11)
func (s EVSEState) IsFault() bool {
	return s >= StateVentRequired && s <= StateOverCurrent
}

// POSTCode is the power-on self test result carried by the $AB boot event
type POSTCode int

const (
	POSTOk                POSTCode = 0
	POSTNoEarthGround     POSTCode = 7
	POSTStuckRelay        POSTCode = 8
	POSTGFISelfTestFailed POSTCode = 9
)

func (p POSTCode) String() string {
	switch p {
	case POSTOk:
		return "OK"
	case POSTNoEarthGround:
		return "No Earth Ground"
	case POSTStuckRelay:
		return "Stuck Relay"
	case POSTGFISelfTestFailed:
		return "GFCI Self Test Failed"
	default:
		return "Unknown"
	}
}

// VFlags are the controller's volatile status bits. They are not persisted;
// after boot the controller starts with VFlagSessionEnded set (plus
// VFlagAuthLocked on auth-lock builds).
type VFlags uint32

const (
	VFlagAutoSvcLevelSkipped VFlags = 0x0001
	VFlagHardFault           VFlags = 0x0002
	VFlagLimitSleep          VFlags = 0x0004
	VFlagAuthLocked          VFlags = 0x0008
	VFlagAmmeterCal          VFlags = 0x0010
	VFlagNoGroundTripped     VFlags = 0x0020
	VFlagChargingOn          VFlags = 0x0040
	VFlagGFITripped          VFlags = 0x0080
	VFlagEVConnected         VFlags = 0x0100
	VFlagSessionEnded        VFlags = 0x0200
	VFlagEVConnectedPrev     VFlags = 0x0400
	VFlagUIInMenu            VFlags = 0x0800
)

var vflagNames = []struct {
	flag VFlags
	name string
}{
	{VFlagAutoSvcLevelSkipped, "auto_svc_level_skipped"},
	{VFlagHardFault, "hard_fault"},
	{VFlagLimitSleep, "limit_sleep"},
	{VFlagAuthLocked, "auth_locked"},
	{VFlagAmmeterCal, "ammeter_cal"},
	{VFlagNoGroundTripped, "no_ground_tripped"},
	{VFlagChargingOn, "charging_on"},
	{VFlagGFITripped, "gfi_tripped"},
	{VFlagEVConnected, "ev_connected"},
	{VFlagSessionEnded, "session_ended"},
	{VFlagEVConnectedPrev, "ev_connected_prev"},
	{VFlagUIInMenu, "ui_in_menu"},
}

// Has reports whether every bit of flag is set
func (f VFlags) Has(flag VFlags) bool {
	return f&flag == flag
}

// Names returns the names of the set bits in ascending bit order
func (f VFlags) Names() []string {
	names := make([]string, 0, len(vflagNames))
	for _, v := range vflagNames {
		if f.Has(v.flag) {
			names = append(names, v.name)
		}
	}
	return names
}

func (f VFlags) String() string {
	return strings.Join(f.Names(), "|")
}

// WiFiMode is reported by the $WF event
type WiFiMode int

const (
	WiFiModeAP        WiFiMode = 0
	WiFiModeClient    WiFiMode = 1
	WiFiModeAPDefault WiFiMode = 2
)

func (m WiFiMode) String() string {
	switch m {
	case WiFiModeAP:
		return "ap"
	case WiFiModeClient:
		return "client"
	case WiFiModeAPDefault:
		return "ap_default"
	default:
		return "unknown"
	}
}

// LCDColour is the backlight colour accepted by $FB
type LCDColour int

const (
	LCDOff    LCDColour = 0
	LCDRed    LCDColour = 1
	LCDGreen  LCDColour = 2
	LCDYellow LCDColour = 3
	LCDBlue   LCDColour = 4
	LCDViolet LCDColour = 5
	LCDTeal   LCDColour = 6
	LCDWhite  LCDColour = 7
)

var lcdColourNames = map[string]LCDColour{
	"off":    LCDOff,
	"red":    LCDRed,
	"green":  LCDGreen,
	"yellow": LCDYellow,
	"blue":   LCDBlue,
	"violet": LCDViolet,
	"teal":   LCDTeal,
	"white":  LCDWhite,
}

// ParseLCDColour maps a colour name (case-insensitive) to its code
func ParseLCDColour(name string) (LCDColour, bool) {
	c, ok := lcdColourNames[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

// Feature identifies a controller safety/UI feature toggled with $FF
type Feature byte

const (
	FeatureButton           Feature = 'B'
	FeatureDiodeCheck       Feature = 'D'
	FeatureEcho             Feature = 'E' // only meaningful on a serial link
	FeatureGFISelfTest      Feature = 'F'
	FeatureGroundCheck      Feature = 'G'
	FeatureRelayCheck       Feature = 'R'
	FeatureTemperatureCheck Feature = 'T'
	FeatureVentCheck        Feature = 'V'
)

// Valid reports whether f is one of the known feature ids
func (f Feature) Valid() bool {
	switch f {
	case FeatureButton, FeatureDiodeCheck, FeatureEcho, FeatureGFISelfTest,
		FeatureGroundCheck, FeatureRelayCheck, FeatureTemperatureCheck, FeatureVentCheck:
		return true
	}
	return false
}

// ServiceLevel is the J1772 service level set with $SL
type ServiceLevel byte

const (
	ServiceLevel1    ServiceLevel = '1'
	ServiceLevel2    ServiceLevel = '2'
	ServiceLevelAuto ServiceLevel = 'A'
)

// HeartbeatTrigger describes the heartbeat supervision state
type HeartbeatTrigger int

const (
	HeartbeatNeverMissed    HeartbeatTrigger = 0
	HeartbeatMissedAcked    HeartbeatTrigger = 1
	HeartbeatMissedLimiting HeartbeatTrigger = 2
)

func (t HeartbeatTrigger) String() string {
	switch t {
	case HeartbeatNeverMissed:
		return "never_missed"
	case HeartbeatMissedAcked:
		return "missed_acknowledged"
	case HeartbeatMissedLimiting:
		return "missed_limiting"
	default:
		return "unknown"
	}
}

// HeartbeatCookie acknowledges a missed heartbeat pulse ($SY 165)
const HeartbeatCookie = 165

// Status is the decoded $GS reply
type Status struct {
	State       EVSEState
	SessionTime time.Duration
	PilotState  EVSEState
	VFlags      VFlags
}

// VersionInfo carries the raw $GV strings and the negotiated protocol version
type VersionInfo struct {
	Firmware  string
	Protocol  string
	Version   ProtocolVersion
	Connected bool
}

// ChargeReading is the decoded $GG reply
type ChargeReading struct {
	Amps  float64
	Volts float64
}

// Watts is the instantaneous power derived from the reading
func (r ChargeReading) Watts() float64 {
	return r.Amps * r.Volts
}

// TemperatureSensor indexes the three temperature channels of $GP
type TemperatureSensor int

const (
	SensorDS3231 TemperatureSensor = iota
	SensorMCP9808
	SensorTMP007
)

func (s TemperatureSensor) String() string {
	switch s {
	case SensorDS3231:
		return "ds3231"
	case SensorMCP9808:
		return "mcp9808"
	case SensorTMP007:
		return "tmp007"
	default:
		return "unknown"
	}
}

// TemperatureReading is a single sensor value; Valid is false when the
// sensor is not fitted, in which case Celsius is 0.
type TemperatureReading struct {
	Celsius float64
	Valid   bool
}

// Temperatures is the decoded $GP reply, indexed by TemperatureSensor
type Temperatures [3]TemperatureReading

// Energy is the decoded $GU reply
type Energy struct {
	SessionWh float64
	TotalKWh  float64
}

// FaultCounters is the decoded $GF reply
type FaultCounters struct {
	GFCI       int
	NoGround   int
	StuckRelay int
}

// Settings is the decoded $GE reply
type Settings struct {
	PilotAmps int
	Flags     uint32
}

// CurrentCapacity is the decoded $GC reply
type CurrentCapacity struct {
	MinAmps           int
	MaxHardwareAmps   int
	PilotAmps         int
	MaxConfiguredAmps int
}

// CapacityResult is the outcome of $SC. Clamped is set when the controller
// answered NK, i.e. it adjusted the request to its limits.
type CapacityResult struct {
	Amps    int
	Clamped bool
}

// AmmeterSettings is the decoded $GA reply
type AmmeterSettings struct {
	Scale  int
	Offset int
}

// Timer is the decoded $GD reply; all zero means no timer
type Timer struct {
	StartHour   int
	StartMinute int
	EndHour     int
	EndMinute   int
}

// Enabled reports whether a charge timer is configured
func (t Timer) Enabled() bool {
	return t != Timer{}
}

// ClockFields is a broken-down wall clock for $S1
type ClockFields struct {
	Year   int
	Month  time.Month
	Day    int
	Hour   int
	Minute int
	Second int
}

// HeartbeatStatus is the decoded $SY reply
type HeartbeatStatus struct {
	Interval     int
	CurrentLimit int
	Triggered    HeartbeatTrigger
}
