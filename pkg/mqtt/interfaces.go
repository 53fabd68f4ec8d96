package mqtt

import (
	"context"

	"openevse-mqtt-bridge/pkg/evse"
)

// MessageHandler receives messages for a subscribed topic
type MessageHandler func(topic string, payload []byte)

// SensorPublisher publishes Home Assistant discovery and sensor states
type SensorPublisher interface {
	PublishDiscovery(ctx context.Context, sensors []evse.Sensor) error
	PublishReadings(ctx context.Context, readings []evse.Reading) error
	DiscoveryDue() bool
}

// StatusPublisher publishes bridge availability
type StatusPublisher interface {
	PublishStatusOnline(ctx context.Context) error
	PublishStatusOffline(ctx context.Context) error
}

// DiagnosticPublisher publishes diagnostic code/message pairs
type DiagnosticPublisher interface {
	PublishDiagnostic(ctx context.Context, code int, message string) error
}

// MessagePublisher publishes raw payloads (events, command results)
type MessagePublisher interface {
	Publish(ctx context.Context, topic string, retained bool, payload []byte) error
}

// Subscriber registers handlers for inbound topics
type Subscriber interface {
	Subscribe(topic string, handler MessageHandler) error
}

// ConnectionManager controls the broker connection
type ConnectionManager interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
}

// HAPublisher is everything the bridge needs from the broker side
type HAPublisher interface {
	SensorPublisher
	StatusPublisher
	DiagnosticPublisher
	MessagePublisher
	Subscriber
	ConnectionManager
}

var (
	_ HAPublisher = (*Publisher)(nil)
)
