package config

import (
	"fmt"
	"time"
)

// MQTTSettings contains only MQTT-specific configuration
// Used for dependency injection to avoid coupling to full Config
type MQTTSettings struct {
	Broker            string
	Port              int
	Username          string
	Password          string
	ClientID          string
	RetryDelay        int
	KeepAlive         int
	HeartbeatInterval int
}

// NewMQTTSettings extracts MQTT settings from full config
func NewMQTTSettings(cfg *Config) MQTTSettings {
	return MQTTSettings{
		Broker:            cfg.MQTT.Broker,
		Port:              cfg.MQTT.Port,
		Username:          cfg.MQTT.Username,
		Password:          cfg.MQTT.Password,
		ClientID:          cfg.MQTT.ClientID,
		RetryDelay:        cfg.MQTT.RetryDelay,
		KeepAlive:         cfg.MQTT.KeepAlive,
		HeartbeatInterval: cfg.MQTT.HeartbeatInterval,
	}
}

// BrokerURL returns the tcp:// URL of the broker
func (s MQTTSettings) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", s.Broker, s.Port)
}

// ChannelSettings contains the RAPI-over-MQTT channel configuration
type ChannelSettings struct {
	BaseTopic      string
	EventTopic     string
	CommandTimeout time.Duration
	CommandRate    float64
	CommandBurst   int
}

// NewChannelSettings extracts channel settings from full config
func NewChannelSettings(cfg *Config) ChannelSettings {
	return ChannelSettings{
		BaseTopic:      cfg.EVSE.BaseTopic,
		EventTopic:     cfg.EVSE.EventTopic,
		CommandTimeout: time.Duration(cfg.EVSE.CommandTimeout) * time.Millisecond,
		CommandRate:    cfg.EVSE.CommandRate,
		CommandBurst:   cfg.EVSE.CommandBurst,
	}
}

// DeviceSettings identifies the EVSE towards Home Assistant
type DeviceSettings struct {
	DeviceID     string
	Name         string
	Manufacturer string
	Model        string
}

// NewDeviceSettings extracts device identity from full config
func NewDeviceSettings(cfg *Config) DeviceSettings {
	return DeviceSettings{
		DeviceID:     cfg.EVSE.DeviceID,
		Name:         cfg.EVSE.Name,
		Manufacturer: cfg.EVSE.Manufacturer,
		Model:        cfg.EVSE.Model,
	}
}

// PollingSettings contains polling loop configuration
// Used for dependency injection to avoid coupling to full Config
type PollingSettings struct {
	Groups                     map[string]int // Group name -> interval in milliseconds
	PerformanceSummaryInterval int            // Seconds
	ErrorGracePeriod           int            // Seconds
}

// NewPollingSettings extracts polling settings from full config
func NewPollingSettings(cfg *Config) PollingSettings {
	return PollingSettings{
		Groups:                     cfg.EnabledGroups(),
		PerformanceSummaryInterval: 30, // Default 30 seconds
		ErrorGracePeriod:           cfg.EVSE.ErrorGracePeriod,
	}
}

// HeartbeatSettings combines the bridge status heartbeat with RAPI supervision
type HeartbeatSettings struct {
	StatusInterval   time.Duration
	RAPIInterval     int // Seconds, 0 disables
	RAPICurrentLimit int
	AckMissed        bool
}

// NewHeartbeatSettings extracts heartbeat settings from full config
func NewHeartbeatSettings(cfg *Config) HeartbeatSettings {
	return HeartbeatSettings{
		StatusInterval:   time.Duration(cfg.MQTT.HeartbeatInterval) * time.Second,
		RAPIInterval:     cfg.EVSE.Heartbeat.Interval,
		RAPICurrentLimit: cfg.EVSE.Heartbeat.CurrentLimit,
		AckMissed:        cfg.EVSE.Heartbeat.AckMissed,
	}
}

// HomeAssistantSettings contains Home Assistant discovery configuration
// Used for dependency injection to avoid coupling to full Config
type HomeAssistantSettings struct {
	DiscoveryPrefix   string
	StatusTopic       string
	DiagnosticTopic   string
	StatePrefix       string
	RepublishInterval time.Duration
}

// NewHomeAssistantSettings extracts Home Assistant settings from full config
func NewHomeAssistantSettings(cfg *Config) HomeAssistantSettings {
	return HomeAssistantSettings{
		DiscoveryPrefix:   cfg.HomeAssistant.DiscoveryPrefix,
		StatusTopic:       cfg.HomeAssistant.StatusTopic,
		DiagnosticTopic:   cfg.HomeAssistant.DiagnosticTopic,
		StatePrefix:       cfg.HomeAssistant.StatePrefix,
		RepublishInterval: time.Duration(cfg.HomeAssistant.RepublishInterval) * time.Hour,
	}
}

// Location resolves evse.time_zone, falling back to UTC
func (c *Config) Location() *time.Location {
	if c.EVSE.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.EVSE.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}
