package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bridgeerrors "openevse-mqtt-bridge/pkg/errors"
)

const minimalConfig = `
version: "1.0"
mqtt:
  broker: mqtt.local
evse:
  base_topic: openevse/
  device_id: garage
`

func TestLoadConfigFromStringDefaults(t *testing.T) {
	cfg, err := LoadConfigFromString(minimalConfig)
	require.NoError(t, err)

	assert.Equal(t, "1.0", cfg.Version)
	assert.Equal(t, 1883, cfg.MQTT.Port)
	assert.Equal(t, "openevse", cfg.EVSE.BaseTopic)
	assert.Equal(t, "openevse/rapi/event", cfg.EVSE.EventTopic)
	assert.Equal(t, "openevse_bridge/garage", cfg.HomeAssistant.StatePrefix)
	assert.Equal(t, 5000, cfg.EVSE.CommandTimeout)
	assert.Equal(t, "homeassistant", cfg.HomeAssistant.DiscoveryPrefix)
	assert.True(t, cfg.EVSE.Heartbeat.AckMissed)
	assert.Equal(t, 0, cfg.EVSE.Heartbeat.Interval)
	assert.Equal(t, 5, cfg.CircuitBreaker.MaxFailures)

	groups := cfg.EnabledGroups()
	assert.Len(t, groups, len(KnownGroups))
	assert.Equal(t, 5000, groups["status"])
	assert.Equal(t, 30000, groups["energy"])
}

func TestLoadConfigFromStringOverrides(t *testing.T) {
	cfg, err := LoadConfigFromString(`
version: 1.0
mqtt:
  broker: 10.0.0.2
  port: 8883
evse:
  device_id: drive
  command_timeout: 2500
  command_rate: 4
  heartbeat:
    interval: 60
    current_limit: 10
  groups:
    status:
      interval: 1000
    temperature:
      enabled: false
homeassistant:
  state_prefix: evse/drive/
redis:
  enabled: true
  addr: redis:6379
`)
	require.NoError(t, err)

	assert.Equal(t, "1.0", cfg.Version)
	assert.Equal(t, 8883, cfg.MQTT.Port)
	assert.Equal(t, 60, cfg.EVSE.Heartbeat.Interval)
	assert.Equal(t, "evse/drive", cfg.HomeAssistant.StatePrefix)
	assert.True(t, cfg.Redis.Enabled)

	groups := cfg.EnabledGroups()
	assert.Equal(t, 1000, groups["status"])
	assert.NotContains(t, groups, "temperature")
	assert.Contains(t, groups, "power")

	ch := NewChannelSettings(cfg)
	assert.Equal(t, 2500*time.Millisecond, ch.CommandTimeout)
	assert.InDelta(t, 4.0, ch.CommandRate, 1e-9)

	assert.Equal(t, "tcp://10.0.0.2:8883", NewMQTTSettings(cfg).BrokerURL())
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"missing broker", `evse: {device_id: x}`, "mqtt.broker"},
		{"bad device id", "mqtt: {broker: b}\nevse: {device_id: \"a/b\"}", "evse.device_id"},
		{"unknown group", "mqtt: {broker: b}\nevse: {groups: {solar: {interval: 1000}}}", "evse.groups.solar"},
		{"zero interval", "mqtt: {broker: b}\nevse: {groups: {status: {interval: 0}}}", "evse.groups.status.interval"},
		{"heartbeat limit", "mqtt: {broker: b}\nevse: {heartbeat: {interval: 30, current_limit: 0}}", "evse.heartbeat.current_limit"},
		{"redis addr", "mqtt: {broker: b}\nredis: {enabled: true, addr: \"\"}", "redis.addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfigFromString(tt.yaml)
			require.Error(t, err)

			var cfgErr *bridgeerrors.ConfigError
			require.True(t, errors.As(err, &cfgErr), "expected ConfigError, got %T", err)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestIncompatibleVersion(t *testing.T) {
	_, err := LoadConfigFromString("version: \"2.1\"\nmqtt: {broker: b}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "incompatible configuration version")
}

func TestLoadConfigFileWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalConfig), 0600))

	t.Setenv("OPENEVSE_MQTT_BROKER", "broker.from.env")
	t.Setenv("OPENEVSE_EVSE_COMMAND_TIMEOUT", "750")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "broker.from.env", cfg.MQTT.Broker)
	assert.Equal(t, 750, cfg.EVSE.CommandTimeout)
}

func TestLocation(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, time.UTC, cfg.Location())

	cfg.EVSE.TimeZone = "Not/AZone"
	assert.Equal(t, time.UTC, cfg.Location())
}
