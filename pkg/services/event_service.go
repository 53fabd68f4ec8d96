package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"openevse-mqtt-bridge/pkg/logger"
	"openevse-mqtt-bridge/pkg/metrics"
	"openevse-mqtt-bridge/pkg/mqtt"
	"openevse-mqtt-bridge/pkg/rapi"
	"openevse-mqtt-bridge/pkg/topics"
)

// Event kinds, also the last topic level
const (
	EventState  = "state"
	EventBoot   = "boot"
	EventWiFi   = "wifi"
	EventButton = "button"
)

// StateEventPayload is published for $ST and $AT
type StateEventPayload struct {
	State           string   `json:"state"`
	StateCode       int      `json:"state_code"`
	PilotState      string   `json:"pilot_state,omitempty"`
	CurrentCapacity int      `json:"current_capacity,omitempty"`
	Flags           []string `json:"flags,omitempty"`
	Timestamp       string   `json:"timestamp"`
}

// BootEventPayload is published for $AB
type BootEventPayload struct {
	POST      string `json:"post"`
	POSTCode  int    `json:"post_code"`
	Firmware  string `json:"firmware"`
	Timestamp string `json:"timestamp"`
}

// WiFiEventPayload is published for $WF
type WiFiEventPayload struct {
	Mode      string `json:"mode"`
	ModeCode  int    `json:"mode_code"`
	Timestamp string `json:"timestamp"`
}

// ButtonEventPayload is published for $AN
type ButtonEventPayload struct {
	Press     int    `json:"press"`
	Timestamp string `json:"timestamp"`
}

// EventService forwards asynchronous controller events to MQTT. Observers
// run on the channel's delivery goroutine, so all work is dispatched.
type EventService struct {
	client      *rapi.Client
	channel     rapi.Channel
	publisher   mqtt.MessagePublisher
	metrics     metrics.MetricsCollector
	statePrefix string

	// Trigger requests an immediate poll of a group (scheduler.Trigger)
	Trigger func(group string) bool
	// OnReconnect runs after a boot event renegotiated the protocol version
	OnReconnect func(ctx context.Context, info rapi.VersionInfo)

	mu  sync.RWMutex
	ctx context.Context
	wg  sync.WaitGroup
	now func() time.Time
}

// NewEventService creates the event forwarder
func NewEventService(client *rapi.Client, channel rapi.Channel, publisher mqtt.MessagePublisher, m metrics.MetricsCollector, statePrefix string) *EventService {
	if m == nil {
		m = metrics.NewNullMetrics()
	}
	return &EventService{
		client:      client,
		channel:     channel,
		publisher:   publisher,
		metrics:     m,
		statePrefix: statePrefix,
		now:         time.Now,
	}
}

// Start registers the observers and blocks until ctx is done
func (s *EventService) Start(ctx context.Context) {
	s.Register(ctx)
	<-ctx.Done()
	s.Stop()
}

// Register installs the observers; work they dispatch is bound to ctx
func (s *EventService) Register(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.client.OnState(s.onState)
	s.client.OnBoot(s.onBoot)
	s.client.OnWiFi(s.onWiFi)
	s.client.OnButton(s.onButton)
	logger.LogInfo("📨 Event service listening for controller events")
}

// Stop removes the observers and waits for in-flight work
func (s *EventService) Stop() {
	s.client.OnState(nil)
	s.client.OnBoot(nil)
	s.client.OnWiFi(nil)
	s.client.OnButton(nil)
	s.wg.Wait()
	logger.LogDebug("📨 Event service stopped")
}

func (s *EventService) dispatch(fn func(ctx context.Context)) {
	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(ctx)
	}()
}

func (s *EventService) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

func (s *EventService) onState(ev rapi.StateEvent) {
	payload := StateEventPayload{
		State:           ev.State.String(),
		StateCode:       int(ev.State),
		CurrentCapacity: ev.CurrentCapacity,
		Timestamp:       s.timestamp(),
	}
	if ev.PilotState != rapi.StateInvalid {
		payload.PilotState = ev.PilotState.String()
		payload.Flags = ev.VFlags.Names()
	}
	logger.LogInfo("🔔 EVSE state changed: %s", payload.State)

	s.dispatch(func(ctx context.Context) {
		s.publish(ctx, EventState, payload)
		if s.Trigger != nil {
			s.Trigger("status")
		}
	})
}

func (s *EventService) onBoot(ev rapi.BootEvent) {
	payload := BootEventPayload{
		POST:      ev.POST.String(),
		POSTCode:  int(ev.POST),
		Firmware:  ev.Firmware,
		Timestamp: s.timestamp(),
	}
	logger.LogWarn("🔔 EVSE booted: firmware %s, POST %s", ev.Firmware, payload.POST)

	s.dispatch(func(ctx context.Context) {
		s.publish(ctx, EventBoot, payload)
		s.reconnect(ctx)
	})
}

// reconnect renegotiates the protocol version; new firmware may change it
func (s *EventService) reconnect(ctx context.Context) {
	info, err := s.client.Connect(ctx, s.channel)
	if err != nil {
		logger.LogError("❌ Reconnect after boot failed: %v", err)
		return
	}
	logger.LogInfo("🔌 Reconnected to EVSE: firmware %s, protocol %s", info.Firmware, info.Version)
	if s.OnReconnect != nil {
		s.OnReconnect(ctx, info)
	}
}

func (s *EventService) onWiFi(mode rapi.WiFiMode) {
	payload := WiFiEventPayload{Mode: mode.String(), ModeCode: int(mode), Timestamp: s.timestamp()}
	s.dispatch(func(ctx context.Context) {
		s.publish(ctx, EventWiFi, payload)
	})
}

func (s *EventService) onButton(press int) {
	payload := ButtonEventPayload{Press: press, Timestamp: s.timestamp()}
	s.dispatch(func(ctx context.Context) {
		s.publish(ctx, EventButton, payload)
	})
}

func (s *EventService) publish(ctx context.Context, kind string, payload interface{}) {
	s.metrics.IncrementEvents(kind)

	data, err := json.Marshal(payload)
	if err != nil {
		logger.LogError("❌ Error serializing %s event: %v", kind, err)
		return
	}
	if err := s.publisher.Publish(ctx, topics.BuildEventTopic(s.statePrefix, kind), false, data); err != nil {
		logger.LogError("⚠️ Error publishing %s event: %v", kind, err)
	}
}
