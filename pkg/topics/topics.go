package topics

import (
	"fmt"
	"strings"
)

// BuildDiscoveryTopic constructs the discovery config topic for a sensor
// Pattern: {prefix}/sensor/{device_id}/{device_id}_{sensor_key}/config
func BuildDiscoveryTopic(prefix, deviceID, sensorKey string) string {
	return fmt.Sprintf("%s/sensor/%s/%s_%s/config", prefix, deviceID, deviceID, sensorKey)
}

// BuildUniqueID constructs the unique ID for a sensor
// Pattern: {device_id}_{sensor_key}
func BuildUniqueID(deviceID, sensorKey string) string {
	return fmt.Sprintf("%s_%s", deviceID, sensorKey)
}

// BuildStateTopic constructs the state topic for a sensor
// Pattern: {state_prefix}/{sensor_key}
func BuildStateTopic(statePrefix, sensorKey string) string {
	return statePrefix + "/" + sensorKey
}

// BuildAttributesTopic constructs the JSON attributes topic for a sensor
// Pattern: {state_prefix}/{sensor_key}/attributes
func BuildAttributesTopic(statePrefix, sensorKey string) string {
	return BuildStateTopic(statePrefix, sensorKey) + "/attributes"
}

// BuildDiagnosticDiscoveryTopic constructs discovery topic for the bridge diagnostic sensor
// Pattern: {prefix}/sensor/{device_id}/{device_id}_diagnostic/config
func BuildDiagnosticDiscoveryTopic(prefix, deviceID string) string {
	return BuildDiscoveryTopic(prefix, deviceID, "diagnostic")
}

// BuildDiagnosticUniqueID constructs unique ID for the diagnostic sensor
func BuildDiagnosticUniqueID(deviceID string) string {
	return BuildUniqueID(deviceID, "diagnostic")
}

// BuildEventTopic constructs the topic an asynchronous RAPI event is forwarded to
// Pattern: {state_prefix}/event/{kind}
func BuildEventTopic(statePrefix, kind string) string {
	return statePrefix + "/event/" + kind
}

// BuildSetTopic constructs the control topic for a command
// Pattern: {state_prefix}/set/{command}
func BuildSetTopic(statePrefix, command string) string {
	return statePrefix + "/set/" + command
}

// BuildSetWildcard matches every control command topic
func BuildSetWildcard(statePrefix string) string {
	return BuildSetTopic(statePrefix, "+")
}

// BuildResultTopic constructs the topic a control command reports to
// Pattern: {state_prefix}/set/{command}/result
func BuildResultTopic(statePrefix, command string) string {
	return BuildSetTopic(statePrefix, command) + "/result"
}

// ParseSetTopic extracts the command name from a control topic
func ParseSetTopic(statePrefix, topic string) (string, bool) {
	command := strings.TrimPrefix(topic, statePrefix+"/set/")
	if command == topic || command == "" || strings.Contains(command, "/") {
		return "", false
	}
	return command, true
}
