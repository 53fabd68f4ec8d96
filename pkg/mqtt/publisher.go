package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"openevse-mqtt-bridge/pkg/config"
	bridgeerrors "openevse-mqtt-bridge/pkg/errors"
	"openevse-mqtt-bridge/pkg/logger"
	"openevse-mqtt-bridge/pkg/metrics"
)

// ErrNotConnected is returned when publishing without a broker connection
var ErrNotConnected = errors.New("publisher is not connected")

const (
	payloadOnline  = "online"
	payloadOffline = "offline"
)

// Publisher responsible for publishing data to Home Assistant
type Publisher struct {
	client  paho.Client
	mqttCfg config.MQTTSettings
	haCfg   config.HomeAssistantSettings
	device  config.DeviceSettings
	metrics metrics.MetricsCollector

	mu            sync.RWMutex
	firmware      string
	lastDiscovery time.Time
	subs          map[string]MessageHandler

	// pause between discovery messages so the broker is not flooded
	discoveryPause time.Duration
	now            func() time.Time
}

// NewPublisher creates a new publisher for Home Assistant
func NewPublisher(mqttCfg config.MQTTSettings, haCfg config.HomeAssistantSettings, device config.DeviceSettings, m metrics.MetricsCollector) *Publisher {
	p := newPublisher(mqttCfg, haCfg, device, m)

	keepAlive := mqttCfg.KeepAlive
	if keepAlive == 0 {
		keepAlive = 60
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(mqttCfg.BrokerURL())
	opts.SetClientID(fmt.Sprintf("%s_ha_%s", mqttCfg.ClientID, uuid.NewString()[:8]))
	opts.SetUsername(mqttCfg.Username)
	opts.SetPassword(mqttCfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(time.Duration(keepAlive) * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	// control handlers issue RAPI commands and must not block each other
	opts.SetOrderMatters(false)

	// Last Will marks the bridge offline when the connection drops
	opts.SetWill(haCfg.StatusTopic, payloadOffline, 1, true)

	opts.SetOnConnectHandler(func(client paho.Client) {
		logger.LogInfo("HA Publisher connected to MQTT broker")
		if token := client.Publish(haCfg.StatusTopic, 1, true, payloadOnline); token.Wait() && token.Error() != nil {
			logger.LogWarn("Error publishing online status on connect: %v", token.Error())
		}
		p.resubscribe(client)
	})

	opts.SetConnectionLostHandler(func(client paho.Client, err error) {
		logger.LogError("HA Publisher disconnected: %v", err)
	})

	p.client = paho.NewClient(opts)
	return p
}

func newPublisher(mqttCfg config.MQTTSettings, haCfg config.HomeAssistantSettings, device config.DeviceSettings, m metrics.MetricsCollector) *Publisher {
	if m == nil {
		m = metrics.NewNullMetrics()
	}
	return &Publisher{
		mqttCfg:        mqttCfg,
		haCfg:          haCfg,
		device:         device,
		metrics:        m,
		subs:           make(map[string]MessageHandler),
		discoveryPause: 50 * time.Millisecond,
		now:            time.Now,
	}
}

// Connect connects the publisher to the broker, retrying until ctx is done
func (p *Publisher) Connect(ctx context.Context) error {
	retryDelay := time.Duration(p.mqttCfg.RetryDelay) * time.Millisecond
	if retryDelay == 0 {
		retryDelay = 5 * time.Second
	}

	for attempt := 1; ; attempt++ {
		logger.LogDebug("🔄 Attempting to connect HA publisher to MQTT broker (attempt %d)...", attempt)

		token := p.client.Connect()
		if token.Wait() && token.Error() == nil {
			logger.LogInfo("✅ HA Publisher connected to %s after %d attempt(s)", p.mqttCfg.BrokerURL(), attempt)
			return nil
		}

		logger.LogError("❌ HA Publisher connection failed (attempt %d): %v", attempt, token.Error())
		logger.LogInfo("⏳ Retrying in %.0f seconds...", retryDelay.Seconds())

		select {
		case <-ctx.Done():
			return fmt.Errorf("HA publisher connection cancelled: %w", ctx.Err())
		case <-time.After(retryDelay):
		}
	}
}

// Disconnect disconnects the publisher
func (p *Publisher) Disconnect() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}

// IsConnected reports the broker connection state
func (p *Publisher) IsConnected() bool {
	return p.client.IsConnected()
}

// SetFirmware records the controller firmware shown on the HA device
func (p *Publisher) SetFirmware(version string) {
	p.mu.Lock()
	p.firmware = version
	p.mu.Unlock()
}

// Publish sends a raw payload with QoS 1
func (p *Publisher) Publish(ctx context.Context, topic string, retained bool, payload []byte) error {
	return p.publish(ctx, topic, 1, retained, payload)
}

// PublishStatusOnline publishes "online" to the availability topic
func (p *Publisher) PublishStatusOnline(ctx context.Context) error {
	return p.publish(ctx, p.haCfg.StatusTopic, 1, true, payloadOnline)
}

// PublishStatusOffline publishes "offline" to the availability topic
func (p *Publisher) PublishStatusOffline(ctx context.Context) error {
	return p.publish(ctx, p.haCfg.StatusTopic, 1, true, payloadOffline)
}

// Subscribe registers handler for topic; subscriptions are restored on reconnect
func (p *Publisher) Subscribe(topic string, handler MessageHandler) error {
	p.mu.Lock()
	p.subs[topic] = handler
	p.mu.Unlock()

	if !p.client.IsConnected() {
		return nil
	}
	token := p.client.Subscribe(topic, 1, wrap(handler))
	if token.Wait() && token.Error() != nil {
		mqttErr := bridgeerrors.NewMQTTError("subscribe", token.Error(), p.mqttCfg.BrokerURL())
		mqttErr.Topic = topic
		return mqttErr
	}
	logger.LogDebug("📥 Subscribed to %s", topic)
	return nil
}

func (p *Publisher) resubscribe(client paho.Client) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for topic, handler := range p.subs {
		if token := client.Subscribe(topic, 1, wrap(handler)); token.Wait() && token.Error() != nil {
			logger.LogError("❌ Failed to subscribe to %s: %v", topic, token.Error())
		}
	}
}

func wrap(handler MessageHandler) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		handler(msg.Topic(), msg.Payload())
	}
}

func (p *Publisher) publish(ctx context.Context, topic string, qos byte, retained bool, payload interface{}) error {
	fail := func(err error) error {
		p.metrics.IncrementMQTTErrors()
		mqttErr := bridgeerrors.NewMQTTError("publish", err, p.mqttCfg.BrokerURL())
		mqttErr.Topic = topic
		mqttErr.QoS = qos
		return mqttErr
	}

	if !p.client.IsConnected() {
		return fail(ErrNotConnected)
	}

	token := p.client.Publish(topic, qos, retained, payload)
	select {
	case <-ctx.Done():
		return fail(ctx.Err())
	case <-token.Done():
	}
	if err := token.Error(); err != nil {
		return fail(err)
	}

	p.metrics.IncrementMQTTPublishes()
	return nil
}
