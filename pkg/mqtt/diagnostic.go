package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"openevse-mqtt-bridge/pkg/logger"
	"openevse-mqtt-bridge/pkg/topics"
)

// Diagnostic is the payload published on the diagnostic topic
type Diagnostic struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func (p *Publisher) diagnosticConfig(device DeviceInfo) SensorConfig {
	return SensorConfig{
		Name:                "Bridge Diagnostic",
		UniqueID:            topics.BuildDiagnosticUniqueID(p.device.DeviceID),
		StateTopic:          p.haCfg.DiagnosticTopic,
		Device:              device,
		Icon:                "mdi:information-outline",
		ValueTemplate:       "{{ value_json.message }}",
		AvailabilityTopic:   p.haCfg.StatusTopic,
		PayloadAvailable:    payloadOnline,
		PayloadNotAvailable: payloadOffline,
		AttributesTopic:     p.haCfg.DiagnosticTopic,
		EntityCategory:      "diagnostic",
	}
}

// PublishDiagnostic publishes diagnostic information with code and message
func (p *Publisher) PublishDiagnostic(ctx context.Context, code int, message string) error {
	payload, err := json.Marshal(Diagnostic{
		Code:      code,
		Message:   message,
		Timestamp: p.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("error marshaling diagnostic: %w", err)
	}

	logger.LogDebug("🔧 📤 Publishing diagnostic to '%s': %s", p.haCfg.DiagnosticTopic, message)
	return p.publish(ctx, p.haCfg.DiagnosticTopic, 0, false, payload)
}
