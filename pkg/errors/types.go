package errors

import (
	"fmt"
	"strings"

	"openevse-mqtt-bridge/pkg/rapi"
)

// ErrorSeverity defines the severity level of an error
type ErrorSeverity int

const (
	SeverityInfo ErrorSeverity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

var severityNames = [...]string{"INFO", "WARNING", "ERROR", "CRITICAL"}

func (s ErrorSeverity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return "UNKNOWN"
	}
	return severityNames[s]
}

// Diagnostic codes published on the diagnostic sensor
const (
	CodeConfig     = 1
	CodeChannel    = 2
	CodeRAPI       = 3
	CodeMQTT       = 4
	CodeValidation = 5
	CodeGeneric    = 99
)

// Classified is satisfied by every typed error in this package, including
// through embedding. Handle and GetDiagnosticCode find it with errors.As.
type Classified interface {
	error
	base() *BridgeError
	kind() string
	summary() string
}

// BridgeError carries what every typed error shares
type BridgeError struct {
	Op       string // Operation that failed
	Err      error
	Severity ErrorSeverity
	Code     int // Diagnostic code for MQTT
}

func newBase(op string, err error, severity ErrorSeverity, code int) BridgeError {
	return BridgeError{Op: op, Err: err, Severity: severity, Code: code}
}

func (e *BridgeError) Error() string { return e.render("") }

func (e *BridgeError) Unwrap() error { return e.Err }

func (e *BridgeError) base() *BridgeError { return e }
func (e *BridgeError) kind() string       { return "" }
func (e *BridgeError) summary() string    { return e.Op }

// render builds "[SEVERITY] subject: op: cause", skipping empty parts
func (e *BridgeError) render(subject string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", e.Severity)
	if subject != "" {
		b.WriteString(" " + subject + ":")
	}
	b.WriteString(" " + e.Op)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// ChannelError is a failure of the MQTT command channel to the EVSE:
// no reply, a dropped publish, a closed connection
type ChannelError struct {
	BridgeError
	BaseTopic string
	Mnemonic  string
}

func NewChannelError(op string, err error, baseTopic string) *ChannelError {
	return &ChannelError{
		BridgeError: newBase(op, err, SeverityError, CodeChannel),
		BaseTopic:   baseTopic,
	}
}

func (e *ChannelError) Error() string {
	subject := "EVSE channel " + e.BaseTopic
	if e.Mnemonic != "" {
		subject += " (" + e.Mnemonic + ")"
	}
	return e.render(subject)
}

func (e *ChannelError) kind() string    { return "EVSE Channel" }
func (e *ChannelError) summary() string { return fmt.Sprintf("Channel %s: %s", e.BaseTopic, e.Op) }

// RAPIError is a command the controller answered, but not with OK
type RAPIError struct {
	BridgeError
	DeviceID string
	Mnemonic string
	Result   rapi.ResultCode
}

// NewRAPIError classifies err by its result code. A rejection (NK or an
// unsupported feature) is only a warning.
func NewRAPIError(op string, err error, deviceID, mnemonic string) *RAPIError {
	result := rapi.CodeOf(err)
	severity := SeverityError
	switch result {
	case rapi.ResultNK, rapi.ResultFeatureNotSupported:
		severity = SeverityWarning
	}
	return &RAPIError{
		BridgeError: newBase(op, err, severity, CodeRAPI),
		DeviceID:    deviceID,
		Mnemonic:    mnemonic,
		Result:      result,
	}
}

func (e *RAPIError) Error() string {
	subject := "EVSE"
	if e.DeviceID != "" {
		subject += " '" + e.DeviceID + "'"
	}
	if e.Mnemonic != "" {
		subject += " " + e.Mnemonic
	}
	return e.render(fmt.Sprintf("%s (%s)", subject, e.Result))
}

func (e *RAPIError) kind() string { return "RAPI" }
func (e *RAPIError) summary() string {
	return fmt.Sprintf("EVSE '%s' %s: %s (%s)", e.DeviceID, e.Mnemonic, e.Op, e.Result)
}

// MQTTError is a broker-side failure on the Home Assistant connection
type MQTTError struct {
	BridgeError
	Broker string
	Topic  string
	QoS    byte
}

func NewMQTTError(op string, err error, broker string) *MQTTError {
	return &MQTTError{
		BridgeError: newBase(op, err, SeverityError, CodeMQTT),
		Broker:      broker,
	}
}

func (e *MQTTError) Error() string {
	subject := "MQTT broker '" + e.Broker + "'"
	if e.Topic != "" {
		subject += " (topic: " + e.Topic + ")"
	}
	return e.render(subject)
}

func (e *MQTTError) kind() string    { return "MQTT" }
func (e *MQTTError) summary() string { return fmt.Sprintf("Broker '%s': %s", e.Broker, e.Op) }

// ConfigError is always critical: the bridge cannot start with it
type ConfigError struct {
	BridgeError
	Field string
	Value interface{}
}

func NewConfigError(op string, err error, field string) *ConfigError {
	return &ConfigError{
		BridgeError: newBase(op, err, SeverityCritical, CodeConfig),
		Field:       field,
	}
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return e.render("Configuration")
	}
	return e.render("Configuration field '" + e.Field + "'")
}

func (e *ConfigError) kind() string    { return "Configuration" }
func (e *ConfigError) summary() string { return fmt.Sprintf("Config field '%s': %s", e.Field, e.Op) }

// ValidationError rejects a control payload before anything is sent
type ValidationError struct {
	BridgeError
	Field    string
	Expected interface{}
	Actual   interface{}
}

func NewValidationError(field string, expected, actual interface{}) *ValidationError {
	return &ValidationError{
		BridgeError: newBase("validation", fmt.Errorf("validation failed"), SeverityWarning, CodeValidation),
		Field:       field,
		Expected:    expected,
		Actual:      actual,
	}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] Field '%s': expected %v, got %v",
		e.Severity, e.Field, e.Expected, e.Actual)
}

func (e *ValidationError) kind() string    { return "Validation" }
func (e *ValidationError) summary() string { return fmt.Sprintf("Validation failed for '%s'", e.Field) }
