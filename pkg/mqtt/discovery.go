package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"openevse-mqtt-bridge/pkg/evse"
	"openevse-mqtt-bridge/pkg/logger"
	"openevse-mqtt-bridge/pkg/topics"
)

// SensorConfig configuration for a Home Assistant sensor
type SensorConfig struct {
	Name                string     `json:"name"`
	UniqueID            string     `json:"unique_id"`
	StateTopic          string     `json:"state_topic"`
	UnitOfMeasurement   string     `json:"unit_of_measurement,omitempty"`
	DeviceClass         string     `json:"device_class,omitempty"`
	StateClass          string     `json:"state_class,omitempty"`
	Icon                string     `json:"icon,omitempty"`
	DisplayPrecision    *int       `json:"suggested_display_precision,omitempty"`
	Device              DeviceInfo `json:"device"`
	ValueTemplate       string     `json:"value_template,omitempty"`
	AvailabilityTopic   string     `json:"availability_topic"`
	PayloadAvailable    string     `json:"payload_available"`
	PayloadNotAvailable string     `json:"payload_not_available"`
	AttributesTopic     string     `json:"json_attributes_topic,omitempty"`
	EntityCategory      string     `json:"entity_category,omitempty"`
}

// DeviceInfo information about the device
type DeviceInfo struct {
	Name         string   `json:"name"`
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

func (p *Publisher) deviceInfo() DeviceInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return DeviceInfo{
		Name:         p.device.Name,
		Identifiers:  []string{p.device.DeviceID},
		Manufacturer: p.device.Manufacturer,
		Model:        p.device.Model,
		SWVersion:    p.firmware,
	}
}

// sensorConfig builds the discovery payload for one sensor
func (p *Publisher) sensorConfig(s evse.Sensor, device DeviceInfo) SensorConfig {
	cfg := SensorConfig{
		Name:                s.Name,
		UniqueID:            topics.BuildUniqueID(p.device.DeviceID, s.Key),
		StateTopic:          topics.BuildStateTopic(p.haCfg.StatePrefix, s.Key),
		UnitOfMeasurement:   s.Unit,
		DeviceClass:         s.DeviceClass,
		StateClass:          s.StateClass,
		Icon:                s.Icon,
		Device:              device,
		AvailabilityTopic:   p.haCfg.StatusTopic,
		PayloadAvailable:    payloadOnline,
		PayloadNotAvailable: payloadOffline,
		AttributesTopic:     topics.BuildAttributesTopic(p.haCfg.StatePrefix, s.Key),
	}
	if !s.Text {
		precision := s.Precision
		cfg.DisplayPrecision = &precision
	}
	if s.Diagnostic {
		cfg.EntityCategory = "diagnostic"
	}
	return cfg
}

// PublishDiscovery publishes retained discovery configs for sensors and the
// bridge diagnostic sensor. Failures are logged; the first one is returned.
func (p *Publisher) PublishDiscovery(ctx context.Context, sensors []evse.Sensor) error {
	device := p.deviceInfo()
	var firstErr error

	for i, s := range sensors {
		if i > 0 && p.discoveryPause > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.discoveryPause):
			}
		}
		if err := p.publishConfig(ctx, topics.BuildDiscoveryTopic(p.haCfg.DiscoveryPrefix, p.device.DeviceID, s.Key), p.sensorConfig(s, device)); err != nil {
			logger.LogError("❌ Error publishing discovery for %s: %v", s.Key, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if err := p.publishConfig(ctx, topics.BuildDiagnosticDiscoveryTopic(p.haCfg.DiscoveryPrefix, p.device.DeviceID), p.diagnosticConfig(device)); err != nil {
		logger.LogError("❌ Error publishing diagnostic discovery: %v", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	if firstErr == nil {
		p.mu.Lock()
		p.lastDiscovery = p.now()
		p.mu.Unlock()
		logger.LogInfo("📡 Published discovery for %d sensors", len(sensors))
	}
	return firstErr
}

// DiscoveryDue reports whether discovery has never succeeded or the
// republish interval has elapsed
func (p *Publisher) DiscoveryDue() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.lastDiscovery.IsZero() {
		return true
	}
	return p.haCfg.RepublishInterval > 0 && p.now().Sub(p.lastDiscovery) >= p.haCfg.RepublishInterval
}

func (p *Publisher) publishConfig(ctx context.Context, topic string, cfg SensorConfig) error {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error serializing discovery for %s: %w", cfg.UniqueID, err)
	}
	logger.LogTrace("📡 Discovery %s", topic)
	return p.publish(ctx, topic, 0, true, payload)
}
