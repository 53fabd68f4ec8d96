package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"openevse-mqtt-bridge/pkg/rapi"
)

// TestChannelErrorCreation tests creating ChannelError
func TestChannelErrorCreation(t *testing.T) {
	baseErr := fmt.Errorf("reply timeout")
	chErr := NewChannelError("send", baseErr, "openevse")
	chErr.Mnemonic = "$GS"

	if chErr.BaseTopic != "openevse" {
		t.Errorf("Expected BaseTopic 'openevse', got '%s'", chErr.BaseTopic)
	}
	if chErr.Code != CodeChannel {
		t.Errorf("Expected Code %d, got %d", CodeChannel, chErr.Code)
	}

	errMsg := chErr.Error()
	if errMsg == "" {
		t.Error("Expected non-empty error message")
	}
	t.Logf("ChannelError message: %s", errMsg)
}

// TestRAPIErrorSeverity tests that rejections are warnings and failures errors
func TestRAPIErrorSeverity(t *testing.T) {
	nk := NewRAPIError("set_current", fmt.Errorf("$SC: %w", rapi.ErrNK), "openevse", "$SC")
	if nk.Severity != SeverityWarning {
		t.Errorf("Expected SeverityWarning for NK, got %s", nk.Severity)
	}
	if nk.Result != rapi.ResultNK {
		t.Errorf("Expected result NK, got %s", nk.Result)
	}

	invalid := NewRAPIError("poll", rapi.ErrInvalidResponse, "openevse", "$GS")
	if invalid.Severity != SeverityError {
		t.Errorf("Expected SeverityError for invalid response, got %s", invalid.Severity)
	}
	if !errors.Is(invalid, rapi.ErrInvalidResponse) {
		t.Error("Expected RAPIError to unwrap to ErrInvalidResponse")
	}
}

// TestMQTTErrorCreation tests creating MQTTError
func TestMQTTErrorCreation(t *testing.T) {
	baseErr := fmt.Errorf("connection timeout")
	mqttErr := NewMQTTError("connect", baseErr, "localhost:1883")
	mqttErr.Topic = "homeassistant/sensor/test/state"
	mqttErr.QoS = 1

	if mqttErr.Broker != "localhost:1883" {
		t.Errorf("Expected Broker 'localhost:1883', got '%s'", mqttErr.Broker)
	}
	if mqttErr.Topic != "homeassistant/sensor/test/state" {
		t.Errorf("Expected Topic 'homeassistant/sensor/test/state', got '%s'", mqttErr.Topic)
	}
	if mqttErr.QoS != 1 {
		t.Errorf("Expected QoS 1, got %d", mqttErr.QoS)
	}
}

// TestErrorUnwrapping tests error unwrapping
func TestErrorUnwrapping(t *testing.T) {
	baseErr := fmt.Errorf("base error")
	chErr := NewChannelError("test", baseErr, "openevse")

	unwrapped := errors.Unwrap(chErr)
	if unwrapped != baseErr {
		t.Error("Expected to unwrap to base error")
	}
}

// TestWrappedErrorsAreFound tests that typed errors survive fmt wrapping
func TestWrappedErrorsAreFound(t *testing.T) {
	wrapped := fmt.Errorf("poll status: %w", NewRAPIError("poll", rapi.ErrNK, "evse", "$GS"))

	if code := GetDiagnosticCode(wrapped); code != CodeRAPI {
		t.Errorf("Expected code %d, got %d", CodeRAPI, code)
	}
	if !IsRecoverable(wrapped) {
		t.Error("Expected wrapped RAPI error to be recoverable")
	}

	cfg := fmt.Errorf("load: %w", NewConfigError("load", fmt.Errorf("missing"), "mqtt.broker"))
	if IsRecoverable(cfg) {
		t.Error("Expected config error to be unrecoverable")
	}
	if GetDiagnosticCode(fmt.Errorf("plain")) != CodeGeneric {
		t.Error("Expected generic code for untyped error")
	}
}

// TestErrorSeverity tests error severity levels
func TestErrorSeverity(t *testing.T) {
	chErr := NewChannelError("test", fmt.Errorf("test error"), "openevse")
	if chErr.Severity != SeverityError {
		t.Errorf("Expected SeverityError, got %s", chErr.Severity)
	}

	configErr := NewConfigError("test", fmt.Errorf("test error"), "field")
	if configErr.Severity != SeverityCritical {
		t.Errorf("Expected SeverityCritical, got %s", configErr.Severity)
	}

	validationErr := NewValidationError("field", "expected", "actual")
	if validationErr.Severity != SeverityWarning {
		t.Errorf("Expected SeverityWarning, got %s", validationErr.Severity)
	}
}

// TestErrorCodes tests diagnostic error codes
func TestErrorCodes(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{NewConfigError("test", fmt.Errorf("test"), "field"), 1},
		{NewChannelError("test", fmt.Errorf("test"), "openevse"), 2},
		{NewRAPIError("test", rapi.ErrNK, "evse", "$FE"), 3},
		{NewMQTTError("test", fmt.Errorf("test"), "broker"), 4},
		{NewValidationError("current", "integer", "abc"), 5},
		{nil, 0},
	}
	for _, c := range cases {
		if got := GetDiagnosticCode(c.err); got != c.want {
			t.Errorf("GetDiagnosticCode(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

type recordingPublisher struct {
	codes    []int
	messages []string
}

func (p *recordingPublisher) PublishDiagnostic(_ context.Context, code int, message string) error {
	p.codes = append(p.codes, code)
	p.messages = append(p.messages, message)
	return nil
}

// TestHandlerPublishesDiagnostics tests the diagnostic side of Handle
func TestHandlerPublishesDiagnostics(t *testing.T) {
	pub := &recordingPublisher{}
	h := NewErrorHandler(pub)
	ctx := context.Background()

	h.Handle(ctx, nil)
	h.Handle(ctx, NewChannelError("send", fmt.Errorf("timeout"), "openevse"))
	h.Handle(ctx, fmt.Errorf("wrapped: %w", NewMQTTError("publish", fmt.Errorf("x"), "broker:1883")))
	h.Handle(ctx, fmt.Errorf("plain failure"))

	want := []int{CodeChannel, CodeMQTT, CodeGeneric}
	if len(pub.codes) != len(want) {
		t.Fatalf("Expected %d diagnostics, got %d", len(want), len(pub.codes))
	}
	for i := range want {
		if pub.codes[i] != want[i] {
			t.Errorf("diagnostic %d: expected code %d, got %d", i, want[i], pub.codes[i])
		}
	}
	if pub.messages[0] != "Channel openevse: send" {
		t.Errorf("unexpected message %q", pub.messages[0])
	}
}

// TestErrorMessages tests the rendered text of each typed error
func TestErrorMessages(t *testing.T) {
	ch := NewChannelError("send", fmt.Errorf("timeout"), "openevse")
	ch.Mnemonic = "$GS"
	mq := NewMQTTError("publish", fmt.Errorf("broker gone"), "tcp://b:1883")
	mq.Topic = "evse/state"

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"channel", ch, "[ERROR] EVSE channel openevse ($GS): send: timeout"},
		{"rapi", NewRAPIError("set", rapi.ErrNK, "garage", "$SC"), "[WARNING] EVSE 'garage' $SC (NK): set: " + rapi.ErrNK.Error()},
		{"mqtt", mq, "[ERROR] MQTT broker 'tcp://b:1883' (topic: evse/state): publish: broker gone"},
		{"config", NewConfigError("validate", fmt.Errorf("required"), "mqtt.broker"), "[CRITICAL] Configuration field 'mqtt.broker': validate: required"},
		{"validation", NewValidationError("current", "integer", "abc"), "[WARNING] Field 'current': expected integer, got abc"},
		{"bare", &BridgeError{Op: "startup", Severity: SeverityInfo}, "[INFO] startup"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
