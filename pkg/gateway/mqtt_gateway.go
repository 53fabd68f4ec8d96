package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"openevse-mqtt-bridge/pkg/config"
	bridgeerrors "openevse-mqtt-bridge/pkg/errors"
	"openevse-mqtt-bridge/pkg/logger"
	"openevse-mqtt-bridge/pkg/metrics"
	"openevse-mqtt-bridge/pkg/rapi"
)

var (
	// ErrNotConnected is returned when the broker link is down
	ErrNotConnected = errors.New("gateway is not connected")

	// ErrReplyTimeout is returned when no reply arrives in time
	ErrReplyTimeout = errors.New("timeout waiting for reply")
)

const (
	defaultCommandTimeout = 5 * time.Second
	connectWait           = 3 * time.Second
	lateReplyGrace        = 50 * time.Millisecond
)

// MQTTGateway carries RAPI over the OpenEVSE WiFi MQTT bridge: commands are
// published to <base>/rapi/in/$XX with the arguments as payload, replies
// arrive on <base>/rapi/out, and unsolicited lines on the event topic.
type MQTTGateway struct {
	client    mqtt.Client
	mqttCfg   config.MQTTSettings
	cfg       config.ChannelSettings
	metrics   metrics.MetricsCollector
	replies   chan string
	limiter   *rate.Limiter
	mu        sync.RWMutex
	connected bool

	// one command/reply exchange at a time
	commandMutex sync.Mutex

	handlerMu    sync.RWMutex
	eventHandler func(line string)
}

// NewMQTTGateway creates a gateway; call Connect before sending
func NewMQTTGateway(mqttCfg config.MQTTSettings, cfg config.ChannelSettings, m metrics.MetricsCollector) *MQTTGateway {
	g := newGateway(mqttCfg, cfg, m)

	keepAlive := time.Duration(mqttCfg.KeepAlive) * time.Second
	if keepAlive <= 0 {
		keepAlive = 60 * time.Second
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(mqttCfg.BrokerURL())
	opts.SetClientID(fmt.Sprintf("%s_rapi_%s", mqttCfg.ClientID, uuid.NewString()[:8]))
	opts.SetUsername(mqttCfg.Username)
	opts.SetPassword(mqttCfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(keepAlive)
	opts.SetPingTimeout(10 * time.Second)
	// event observers may issue commands; their replies must not queue
	// behind the callback that is waiting for them
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		g.setConnected(true)
		logger.LogInfo("RAPI gateway connected to MQTT broker")
		g.subscribe(client)
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		g.setConnected(false)
		logger.LogError("RAPI gateway disconnected: %v", err)
	})

	g.client = mqtt.NewClient(opts)
	return g
}

func newGateway(mqttCfg config.MQTTSettings, cfg config.ChannelSettings, m metrics.MetricsCollector) *MQTTGateway {
	if m == nil {
		m = metrics.NewNullMetrics()
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.CommandRate > 0 {
		burst := cfg.CommandBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.CommandRate), burst)
	}

	return &MQTTGateway{
		mqttCfg: mqttCfg,
		cfg:     cfg,
		metrics: m,
		replies: make(chan string, 4),
		limiter: limiter,
	}
}

func (g *MQTTGateway) subscribe(client mqtt.Client) {
	topics := []string{replyTopic(g.cfg.BaseTopic)}
	if g.cfg.EventTopic != "" && g.cfg.EventTopic != topics[0] {
		topics = append(topics, g.cfg.EventTopic)
	}
	for _, topic := range topics {
		if token := client.Subscribe(topic, 0, g.onMessage); token.Wait() && token.Error() != nil {
			logger.LogError("Error subscribing to %s: %v", topic, token.Error())
		} else {
			logger.LogInfo("RAPI gateway subscribed to: %s", topic)
		}
	}
}

func (g *MQTTGateway) setConnected(v bool) {
	g.mu.Lock()
	g.connected = v
	g.mu.Unlock()
}

// Connect connects the gateway to the broker with infinite retry
func (g *MQTTGateway) Connect(ctx context.Context) error {
	retryDelay := time.Duration(g.mqttCfg.RetryDelay) * time.Millisecond
	if retryDelay <= 0 {
		retryDelay = 5 * time.Second
	}

	for attempt := 1; ; attempt++ {
		logger.LogDebug("Connecting RAPI gateway to %s (attempt %d)...", g.mqttCfg.BrokerURL(), attempt)

		if token := g.client.Connect(); token.Wait() && token.Error() != nil {
			logger.LogError("RAPI gateway connection failed (attempt %d): %v", attempt, token.Error())
		} else if g.waitConnected(ctx, connectWait) == nil {
			logger.LogInfo("RAPI gateway connected after %d attempt(s)", attempt)
			return nil
		} else {
			logger.LogWarn("RAPI gateway connection establishment timeout (attempt %d)", attempt)
			if g.client.IsConnected() {
				g.client.Disconnect(250)
			}
		}

		logger.LogInfo("Retrying in %.0f seconds...", retryDelay.Seconds())
		select {
		case <-ctx.Done():
			return fmt.Errorf("connection cancelled: %w", ctx.Err())
		case <-time.After(retryDelay):
		}
	}
}

// IsConnected checks if the gateway is connected
func (g *MQTTGateway) IsConnected() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.connected && g.client != nil && g.client.IsConnected()
}

// Disconnect closes the gateway connection
func (g *MQTTGateway) Disconnect() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.connected {
		g.connected = false
		if g.client != nil && g.client.IsConnected() {
			g.client.Disconnect(250)
		}
	}
}

// SetEventHandler implements rapi.Channel
func (g *MQTTGateway) SetEventHandler(handler func(line string)) {
	g.handlerMu.Lock()
	defer g.handlerMu.Unlock()
	g.eventHandler = handler
}

// Send implements rapi.Channel. Failures are returned as *errors.ChannelError.
func (g *MQTTGateway) Send(ctx context.Context, command string) (*rapi.Reply, error) {
	mnemonic := rapi.Mnemonic(command)
	start := time.Now()

	reply, err := g.exchange(ctx, mnemonic, command)
	if err != nil {
		g.metrics.ObserveCommand(mnemonic, rapi.ResultFailure.String(), time.Since(start))
		chErr := bridgeerrors.NewChannelError("send", err, g.cfg.BaseTopic)
		chErr.Mnemonic = mnemonic
		return nil, chErr
	}

	g.metrics.ObserveCommand(mnemonic, reply.Code().String(), time.Since(start))
	return reply, nil
}

func (g *MQTTGateway) exchange(ctx context.Context, mnemonic, command string) (*rapi.Reply, error) {
	g.commandMutex.Lock()
	defer g.commandMutex.Unlock()

	if err := g.waitConnected(ctx, connectWait); err != nil {
		return nil, err
	}

	// a reply that arrived after its command timed out must not answer this one
	g.drainStale("before " + mnemonic)

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("command pacing: %w", err)
	}

	topic := commandTopic(g.cfg.BaseTopic, mnemonic)
	payload := rapi.Args(command)
	logger.LogDebug("RAPI -> %s %q", topic, payload)

	token := g.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(g.cfg.CommandTimeout) {
		return nil, fmt.Errorf("publish to %s: %w", topic, ErrReplyTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("publish to %s: %w", topic, err)
	}

	timer := time.NewTimer(g.cfg.CommandTimeout)
	defer timer.Stop()

	select {
	case line := <-g.replies:
		logger.LogDebug("RAPI <- %s", line)
		return rapi.NewReply(line), nil
	case <-timer.C:
		g.discardLate(mnemonic)
		return nil, fmt.Errorf("%w (%v)", ErrReplyTimeout, g.cfg.CommandTimeout)
	case <-ctx.Done():
		g.discardLate(mnemonic)
		return nil, fmt.Errorf("waiting for reply: %w", ctx.Err())
	}
}

func (g *MQTTGateway) waitConnected(ctx context.Context, maxWait time.Duration) error {
	deadline := time.Now().Add(maxWait)
	for !g.IsConnected() {
		if time.Now().After(deadline) {
			return ErrNotConnected
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return nil
}

func (g *MQTTGateway) drainStale(when string) {
	for {
		select {
		case line := <-g.replies:
			logger.LogWarn("Cleared stale reply %q %s", line, when)
		default:
			return
		}
	}
}

func (g *MQTTGateway) discardLate(mnemonic string) {
	time.Sleep(lateReplyGrace)
	g.drainStale("after " + mnemonic + " timed out")
}

// onMessage routes replies to the waiting command and everything else to
// the event handler
func (g *MQTTGateway) onMessage(_ mqtt.Client, msg mqtt.Message) {
	line := CleanLine(string(msg.Payload()))
	logger.LogTrace("RAPI gateway received on %s: %q", msg.Topic(), line)
	if line == "" {
		return
	}

	if msg.Topic() == replyTopic(g.cfg.BaseTopic) && rapi.IsReplyLine(line) {
		select {
		case g.replies <- line:
		default:
			logger.LogWarn("Reply buffer full, reply ignored: %q", line)
		}
		return
	}

	g.handlerMu.RLock()
	handler := g.eventHandler
	g.handlerMu.RUnlock()
	if handler != nil {
		handler(line)
	}
}

var _ Gateway = (*MQTTGateway)(nil)
