package config

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	bridgeerrors "openevse-mqtt-bridge/pkg/errors"
	"openevse-mqtt-bridge/pkg/logger"
)

// Config represents the complete application configuration
type Config struct {
	Version        string               `yaml:"version,omitempty" mapstructure:"version"`
	MQTT           MQTTConfig           `yaml:"mqtt" mapstructure:"mqtt"`
	EVSE           EVSEConfig           `yaml:"evse" mapstructure:"evse"`
	HomeAssistant  HAConfig             `yaml:"homeassistant" mapstructure:"homeassistant"`
	HTTP           HTTPConfig           `yaml:"http" mapstructure:"http"`
	Redis          RedisConfig          `yaml:"redis" mapstructure:"redis"`
	Logging        logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" mapstructure:"circuit_breaker"`
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Broker            string `yaml:"broker" mapstructure:"broker"`
	Port              int    `yaml:"port" mapstructure:"port"`
	Username          string `yaml:"username" mapstructure:"username"`
	Password          string `yaml:"password" mapstructure:"password"`
	ClientID          string `yaml:"client_id" mapstructure:"client_id"`
	RetryDelay        int    `yaml:"retry_delay" mapstructure:"retry_delay"`               // Delay between connection retries in milliseconds
	KeepAlive         int    `yaml:"keep_alive" mapstructure:"keep_alive"`                 // Seconds
	HeartbeatInterval int    `yaml:"heartbeat_interval" mapstructure:"heartbeat_interval"` // Seconds between bridge status heartbeats
}

// EVSEConfig describes the controller and how it is reached over MQTT
type EVSEConfig struct {
	BaseTopic        string                 `yaml:"base_topic" mapstructure:"base_topic"`   // OpenEVSE WiFi MQTT base topic
	EventTopic       string                 `yaml:"event_topic" mapstructure:"event_topic"` // Defaults to <base_topic>/rapi/event
	DeviceID         string                 `yaml:"device_id" mapstructure:"device_id"`
	Name             string                 `yaml:"name" mapstructure:"name"`
	Manufacturer     string                 `yaml:"manufacturer" mapstructure:"manufacturer"`
	Model            string                 `yaml:"model" mapstructure:"model"`
	CommandTimeout   int                    `yaml:"command_timeout" mapstructure:"command_timeout"` // Milliseconds
	CommandRate      float64                `yaml:"command_rate" mapstructure:"command_rate"`       // Commands per second, 0 = unlimited
	CommandBurst     int                    `yaml:"command_burst" mapstructure:"command_burst"`
	ConnectRetry     int                    `yaml:"connect_retry" mapstructure:"connect_retry"` // Milliseconds between RAPI connect attempts
	SaveCurrent      bool                   `yaml:"save_current" mapstructure:"save_current"`   // Persist current set via MQTT in EEPROM
	SyncTime         bool                   `yaml:"sync_time" mapstructure:"sync_time"`         // Set the controller clock after connecting
	TimeZone         string                 `yaml:"time_zone" mapstructure:"time_zone"`
	ErrorGracePeriod int                    `yaml:"error_grace_period" mapstructure:"error_grace_period"` // Seconds before reporting offline
	Heartbeat        HeartbeatConfig        `yaml:"heartbeat" mapstructure:"heartbeat"`
	Groups           map[string]GroupConfig `yaml:"groups" mapstructure:"groups"`
}

// HeartbeatConfig configures RAPI heartbeat supervision ($SY)
type HeartbeatConfig struct {
	Interval     int  `yaml:"interval" mapstructure:"interval"`           // Seconds, 0 disables supervision
	CurrentLimit int  `yaml:"current_limit" mapstructure:"current_limit"` // Amps applied when a pulse is missed
	AckMissed    bool `yaml:"ack_missed" mapstructure:"ack_missed"`
}

// GroupConfig configures one poll group
type GroupConfig struct {
	Interval int   `yaml:"interval" mapstructure:"interval"` // Milliseconds
	Enabled  *bool `yaml:"enabled,omitempty" mapstructure:"enabled"`
}

// IsEnabled returns true unless the group is explicitly disabled
func (g GroupConfig) IsEnabled() bool {
	return g.Enabled == nil || *g.Enabled
}

// HAConfig contains Home Assistant MQTT Discovery settings
type HAConfig struct {
	DiscoveryPrefix   string `yaml:"discovery_prefix" mapstructure:"discovery_prefix"`     // HA MQTT discovery prefix (e.g., "homeassistant")
	StatusTopic       string `yaml:"status_topic" mapstructure:"status_topic"`             // Bridge availability topic
	DiagnosticTopic   string `yaml:"diagnostic_topic" mapstructure:"diagnostic_topic"`     // Bridge diagnostics topic
	StatePrefix       string `yaml:"state_prefix" mapstructure:"state_prefix"`             // Defaults to openevse_bridge/<device_id>
	RepublishInterval int    `yaml:"republish_interval" mapstructure:"republish_interval"` // Hours between forced discovery republishing
}

// HTTPConfig configures the health and metrics endpoint
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Addr    string `yaml:"addr" mapstructure:"addr"`
}

// RedisConfig configures the optional live state store
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	TTL      int    `yaml:"ttl" mapstructure:"ttl"` // Seconds
}

// CircuitBreakerConfig tunes the breaker around the command channel
type CircuitBreakerConfig struct {
	MaxFailures      int `yaml:"max_failures" mapstructure:"max_failures"`
	Timeout          int `yaml:"timeout" mapstructure:"timeout"` // Seconds in open state
	HalfOpenMaxCalls int `yaml:"half_open_max_calls" mapstructure:"half_open_max_calls"`
}

// KnownGroups lists the poll groups the bridge can execute
var KnownGroups = []string{"status", "power", "energy", "temperature", "capacity", "faults", "settings"}

var defaultGroupIntervals = map[string]int{
	"status":      5000,
	"power":       5000,
	"energy":      30000,
	"temperature": 60000,
	"capacity":    300000,
	"faults":      300000,
	"settings":    300000,
}

var searchPaths = []string{
	"/etc/openevse-bridge/config.yaml",
	"/etc/openevse-bridge.yaml",
	"./config.yaml",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("version", CurrentVersion)

	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "openevse-bridge")
	v.SetDefault("mqtt.retry_delay", 5000)
	v.SetDefault("mqtt.keep_alive", 60)
	v.SetDefault("mqtt.heartbeat_interval", 30)

	v.SetDefault("evse.base_topic", "openevse")
	v.SetDefault("evse.device_id", "openevse")
	v.SetDefault("evse.name", "OpenEVSE")
	v.SetDefault("evse.manufacturer", "OpenEVSE")
	v.SetDefault("evse.model", "OpenEVSE")
	v.SetDefault("evse.command_timeout", 5000)
	v.SetDefault("evse.command_rate", 10.0)
	v.SetDefault("evse.command_burst", 1)
	v.SetDefault("evse.connect_retry", 5000)
	v.SetDefault("evse.time_zone", "UTC")
	v.SetDefault("evse.error_grace_period", 15)
	v.SetDefault("evse.heartbeat.current_limit", 6)
	v.SetDefault("evse.heartbeat.ack_missed", true)
	for name, interval := range defaultGroupIntervals {
		v.SetDefault("evse.groups."+name+".interval", interval)
	}

	v.SetDefault("homeassistant.discovery_prefix", "homeassistant")
	v.SetDefault("homeassistant.status_topic", "openevse_bridge/status")
	v.SetDefault("homeassistant.diagnostic_topic", "openevse_bridge/diagnostic")
	v.SetDefault("homeassistant.republish_interval", 24)

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.addr", ":8080")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.ttl", 300)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_age", 30)
	v.SetDefault("logging.max_backups", 7)

	v.SetDefault("circuit_breaker.max_failures", 5)
	v.SetDefault("circuit_breaker.timeout", 30)
	v.SetDefault("circuit_breaker.half_open_max_calls", 3)
}

// LoadConfig loads configuration from the given file, or the first of the
// standard locations that exists. OPENEVSE_* environment variables override
// file values (mqtt.broker -> OPENEVSE_MQTT_BROKER).
func LoadConfig(configPath string) (*Config, error) {
	paths := append([]string{configPath}, searchPaths...)

	var data []byte
	var err error
	var usedPath string

	for _, path := range paths {
		if path == "" {
			continue
		}
		// #nosec G304 - Paths are from a hardcoded list of safe configuration file locations
		data, err = os.ReadFile(path)
		if err == nil {
			usedPath = path
			break
		}
	}

	if err != nil {
		return nil, bridgeerrors.NewConfigError("load",
			fmt.Errorf("cannot read configuration file from any of the locations: %v. Last error: %w", paths, err), "")
	}

	cfg, err := load(data, true)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", usedPath, err)
	}

	logger.LogInfo("✅ Configuration loaded successfully from %s (version: %s)", usedPath, cfg.Version)
	return cfg, nil
}

// LoadConfigFromString loads configuration from a YAML string (for testing).
// Environment overrides are not applied.
func LoadConfigFromString(yamlContent string) (*Config, error) {
	return load([]byte(yamlContent), false)
}

func load(data []byte, useEnv bool) (*Config, error) {
	// First, parse just the version to validate compatibility
	var versionCheck VersionInfo
	if err := yaml.Unmarshal(data, &versionCheck); err != nil {
		return nil, bridgeerrors.NewConfigError("parse", err, "version")
	}
	if versionCheck.Version == "" {
		logger.LogWarn("No 'version' field in configuration, assuming %s", CurrentVersion)
	} else if err := ValidateVersion(versionCheck.Version); err != nil {
		return nil, bridgeerrors.NewConfigError("version", err, "version")
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	if useEnv {
		v.SetEnvPrefix("OPENEVSE")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()
	}

	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, bridgeerrors.NewConfigError("parse", err, "")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, bridgeerrors.NewConfigError("unmarshal", err, "")
	}
	// an unquoted 1.0 reaches viper as a float
	if versionCheck.Version != "" {
		cfg.Version = versionCheck.Version
	}
	cfg.applyDerived()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDerived fills values that default to other settings
func (c *Config) applyDerived() {
	if c.Version == "" {
		c.Version = CurrentVersion
	}
	c.EVSE.BaseTopic = strings.TrimSuffix(c.EVSE.BaseTopic, "/")
	if c.EVSE.EventTopic == "" && c.EVSE.BaseTopic != "" {
		c.EVSE.EventTopic = c.EVSE.BaseTopic + "/rapi/event"
	}
	if c.HomeAssistant.StatePrefix == "" {
		c.HomeAssistant.StatePrefix = "openevse_bridge/" + c.EVSE.DeviceID
	}
	c.HomeAssistant.StatePrefix = strings.TrimSuffix(c.HomeAssistant.StatePrefix, "/")
}

func invalid(field, format string, args ...interface{}) error {
	return bridgeerrors.NewConfigError("validate", fmt.Errorf(format, args...), field)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.MQTT.Broker == "" {
		return invalid("mqtt.broker", "is not specified")
	}
	if c.MQTT.Port <= 0 {
		return invalid("mqtt.port", "must be positive")
	}
	if c.EVSE.BaseTopic == "" {
		return invalid("evse.base_topic", "is not specified")
	}
	if c.EVSE.DeviceID == "" {
		return invalid("evse.device_id", "is not specified")
	}
	if strings.ContainsAny(c.EVSE.DeviceID, "/+# ") {
		return invalid("evse.device_id", "must not contain spaces or MQTT wildcards")
	}
	if c.EVSE.CommandTimeout <= 0 {
		return invalid("evse.command_timeout", "must be positive")
	}
	if c.EVSE.CommandRate < 0 {
		return invalid("evse.command_rate", "must be non-negative")
	}
	if c.EVSE.Heartbeat.Interval < 0 {
		return invalid("evse.heartbeat.interval", "must be non-negative")
	}
	if c.EVSE.Heartbeat.Interval > 0 && c.EVSE.Heartbeat.CurrentLimit <= 0 {
		return invalid("evse.heartbeat.current_limit", "must be positive when heartbeat is enabled")
	}
	if err := validateGroups(c.EVSE.Groups); err != nil {
		return err
	}
	if c.HomeAssistant.StatusTopic == "" {
		return invalid("homeassistant.status_topic", "is not specified")
	}
	if c.HomeAssistant.DiagnosticTopic == "" {
		return invalid("homeassistant.diagnostic_topic", "is not specified")
	}
	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		return invalid("http.addr", "is not specified")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return invalid("redis.addr", "is not specified")
	}
	if c.CircuitBreaker.MaxFailures <= 0 {
		return invalid("circuit_breaker.max_failures", "must be positive")
	}
	return nil
}

func validateGroups(groups map[string]GroupConfig) error {
	enabled := 0
	for _, name := range sortedKeys(groups) {
		g := groups[name]
		if !isKnownGroup(name) {
			return invalid("evse.groups."+name, "unknown group (known: %s)", strings.Join(KnownGroups, ", "))
		}
		if !g.IsEnabled() {
			continue
		}
		if g.Interval <= 0 {
			return invalid("evse.groups."+name+".interval", "must be positive")
		}
		enabled++
	}
	if enabled == 0 {
		return invalid("evse.groups", "at least one poll group must be enabled")
	}
	return nil
}

func isKnownGroup(name string) bool {
	for _, g := range KnownGroups {
		if g == name {
			return true
		}
	}
	return false
}

func sortedKeys(groups map[string]GroupConfig) []string {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EnabledGroups returns the enabled poll groups with their intervals
func (c *Config) EnabledGroups() map[string]int {
	out := make(map[string]int)
	for name, g := range c.EVSE.Groups {
		if g.IsEnabled() {
			out[name] = g.Interval
		}
	}
	return out
}
